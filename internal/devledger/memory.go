package devledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory, thread-safe Store. Contents are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	msgs   []ledger.Message
	likers []map[common.Address]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, sender common.Address, text string, timestamp int64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, ledger.Message{Sender: sender, Text: text, Timestamp: timestamp})
	s.likers = append(s.likers, make(map[common.Address]struct{}))
	return uint64(len(s.msgs) - 1), nil
}

// Like implements Store.
func (s *MemoryStore) Like(_ context.Context, index uint64, liker common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= uint64(len(s.msgs)) {
		return 0, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if _, ok := s.likers[index][liker]; ok {
		return 0, ErrAlreadyLiked
	}
	s.likers[index][liker] = struct{}{}
	s.msgs[index].Likes++
	return s.msgs[index].Likes, nil
}

// Total implements Store.
func (s *MemoryStore) Total(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.msgs)), nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(_ context.Context, offset, count uint64) ([]ledger.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := uint64(len(s.msgs))
	if offset >= n {
		return []ledger.Message{}, nil
	}
	end := n
	if count < n-offset {
		end = offset + count
	}
	out := make([]ledger.Message, end-offset)
	copy(out, s.msgs[offset:end])
	return out, nil
}
