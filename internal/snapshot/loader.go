// Package snapshot performs the bulk read of existing ledger entries on
// (re)connect or manual refresh.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/basely/portal/internal/ledger"
	"go.uber.org/zap"
)

// ErrReadFailed wraps any transport error during a snapshot read. The caller
// decides whether to retry.
var ErrReadFailed = errors.New("snapshot read failed")

// Loader reads the full ledger.
type Loader struct {
	// PageSize bounds each getMessages call. Zero reads everything in one call.
	PageSize uint64
	logger   *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(pageSize uint64, logger *zap.Logger) *Loader {
	return &Loader{PageSize: pageSize, logger: logger}
}

// maxPrealloc bounds the slice capacity reserved up front. The count comes
// from the remote ledger and is not trusted for allocation.
const maxPrealloc = 4096

// LoadAll reads the message count and then the messages, tagging each with
// its ledger index. The index is offset+position, which matches the ledger's
// own numbering because the ledger is append-only and zero-based.
func (l *Loader) LoadAll(ctx context.Context, r ledger.Reader) ([]ledger.Entry, error) {
	entries, _, err := l.LoadFrom(ctx, r, 0)
	return entries, err
}

// LoadFrom reads the entries with index >= from. It also returns the total
// the ledger reported, so a caller can continue from there later.
func (l *Loader) LoadFrom(ctx context.Context, r ledger.Reader, from uint64) ([]ledger.Entry, uint64, error) {
	total, err := r.TotalMessages(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if total <= from {
		return []ledger.Entry{}, total, nil
	}
	remaining := total - from

	page := l.PageSize
	if page == 0 || page > remaining {
		page = remaining
	}

	entries := make([]ledger.Entry, 0, min(remaining, maxPrealloc))
	for offset := from; offset < total; offset += page {
		count := min(page, total-offset)
		msgs, err := r.GetMessages(ctx, offset, count)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrReadFailed, err)
		}
		if uint64(len(msgs)) > count {
			msgs = msgs[:count]
		}
		for i, m := range msgs {
			entries = append(entries, ledger.Entry{
				Index:     offset + uint64(i),
				Sender:    m.Sender,
				Text:      m.Text,
				Timestamp: m.Timestamp,
				Likes:     m.Likes,
			})
		}
		if uint64(len(msgs)) < count {
			// The ledger returned a short page; later indices would be
			// mis-tagged if we kept going.
			l.logger.Warn("snapshot: short page",
				zap.Uint64("offset", offset),
				zap.Uint64("requested", count),
				zap.Int("received", len(msgs)),
			)
			break
		}
		if total-offset <= page {
			break
		}
	}

	l.logger.Debug("snapshot loaded",
		zap.Uint64("from", from),
		zap.Uint64("total", total),
		zap.Int("entries", len(entries)),
	)
	return entries, total, nil
}
