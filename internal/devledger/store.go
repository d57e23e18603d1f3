package devledger

import (
	"context"
	"errors"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotFound is returned for an index past the end of the ledger.
	ErrNotFound = errors.New("message not found")

	// ErrAlreadyLiked is returned when an address likes the same message twice.
	ErrAlreadyLiked = errors.New("already liked")
)

// Store is the persistent message list. MemoryStore and PostgresStore
// implement it. Indices are zero-based and dense.
type Store interface {
	// Append stores a message and returns its index.
	Append(ctx context.Context, sender common.Address, text string, timestamp int64) (uint64, error)

	// Like records liker's like on index and returns the new like count.
	Like(ctx context.Context, index uint64, liker common.Address) (uint64, error)

	// Total returns the number of messages.
	Total(ctx context.Context) (uint64, error)

	// Messages returns up to count messages starting at offset.
	Messages(ctx context.Context, offset, count uint64) ([]ledger.Message, error)
}
