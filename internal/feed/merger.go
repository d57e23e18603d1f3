// Package feed folds snapshot reads and live ledger notifications into one
// ordered, duplicate-free sequence of entries.
//
// A Merger is not safe for concurrent use. It is owned by a single
// execution loop (see package engine) and mutated only through its Apply
// methods, one notification at a time, in arrival order.
package feed

import (
	"sort"

	"github.com/basely/portal/internal/ledger"
	"go.uber.org/zap"
)

// DefaultMaxBufferedLikes bounds the like counts held for unseen indices.
const DefaultMaxBufferedLikes = 4096

// LikeOutcome reports what ApplyLike did.
type LikeOutcome int

const (
	LikeApplied LikeOutcome = iota
	LikeStale
	LikeBuffered
	LikeDropped
)

func (o LikeOutcome) String() string {
	switch o {
	case LikeApplied:
		return "applied"
	case LikeStale:
		return "stale"
	case LikeBuffered:
		return "buffered"
	default:
		return "dropped"
	}
}

// Merger holds the canonical sequence. entries is always sorted by Index and
// present mirrors its index set.
type Merger struct {
	entries    []ledger.Entry
	present    map[uint64]struct{}
	pending    map[uint64]uint64 // likes seen before their entry
	maxPending int
	logger     *zap.Logger
}

// NewMerger creates an empty Merger. maxPending <= 0 uses DefaultMaxBufferedLikes.
func NewMerger(maxPending int, logger *zap.Logger) *Merger {
	if maxPending <= 0 {
		maxPending = DefaultMaxBufferedLikes
	}
	return &Merger{
		present:    make(map[uint64]struct{}),
		pending:    make(map[uint64]uint64),
		maxPending: maxPending,
		logger:     logger,
	}
}

// Len returns the number of entries.
func (m *Merger) Len() int { return len(m.entries) }

// Buffered returns the number of like counts waiting for their entry.
func (m *Merger) Buffered() int { return len(m.pending) }

// Entries returns a copy of the sequence in ascending index order.
func (m *Merger) Entries() []ledger.Entry {
	out := make([]ledger.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Get returns the entry at index.
func (m *Merger) Get(index uint64) (ledger.Entry, bool) {
	if _, ok := m.present[index]; !ok {
		return ledger.Entry{}, false
	}
	return m.entries[m.search(index)], true
}

// Reset drops all state. Used when the ledger context changes.
func (m *Merger) Reset() {
	m.entries = nil
	m.present = make(map[uint64]struct{})
	m.pending = make(map[uint64]uint64)
}

// ApplyNewMessage inserts the entry for ev unless its index is already
// present. It reports whether the sequence changed.
func (m *Merger) ApplyNewMessage(ev ledger.NewMessage) bool {
	return m.insert(ev.Entry())
}

// ApplyLike raises the like count for ev.Index. Counts lower than the one
// already shown are ignored; counts for unseen indices are buffered until
// the entry arrives.
func (m *Merger) ApplyLike(ev ledger.MessageLiked) LikeOutcome {
	if _, ok := m.present[ev.Index]; ok {
		i := m.search(ev.Index)
		if ev.Likes < m.entries[i].Likes {
			return LikeStale
		}
		m.entries[i].Likes = ev.Likes
		return LikeApplied
	}

	if cur, ok := m.pending[ev.Index]; ok {
		if ev.Likes > cur {
			m.pending[ev.Index] = ev.Likes
		}
		return LikeBuffered
	}
	if len(m.pending) >= m.maxPending {
		m.logger.Warn("feed: like buffer full, dropping update",
			zap.Uint64("index", ev.Index),
			zap.Uint64("likes", ev.Likes),
		)
		return LikeDropped
	}
	m.pending[ev.Index] = ev.Likes
	return LikeBuffered
}

// ApplySnapshot merges a snapshot read. Entries already present keep their
// content; their like count becomes the larger of the two. It returns the
// number of entries added.
func (m *Merger) ApplySnapshot(entries []ledger.Entry) int {
	added := 0
	for _, e := range entries {
		if _, ok := m.present[e.Index]; ok {
			i := m.search(e.Index)
			if e.Likes > m.entries[i].Likes {
				m.entries[i].Likes = e.Likes
			}
			continue
		}
		if m.insert(e) {
			added++
		}
	}
	return added
}

// insert places e at its sorted position and folds in any buffered likes.
func (m *Merger) insert(e ledger.Entry) bool {
	if _, ok := m.present[e.Index]; ok {
		return false
	}
	if likes, ok := m.pending[e.Index]; ok {
		if likes > e.Likes {
			e.Likes = likes
		}
		delete(m.pending, e.Index)
	}

	i := m.search(e.Index)
	m.entries = append(m.entries, ledger.Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
	m.present[e.Index] = struct{}{}
	return true
}

// search returns the position of index, or where it would be inserted.
func (m *Merger) search(index uint64) int {
	return sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Index >= index
	})
}
