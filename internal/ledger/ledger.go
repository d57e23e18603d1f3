// Package ledger defines the client's boundary with the remote message ledger.
//
// The ledger is an append-only contract exposing totalMessages, getMessages,
// postMessage and likeMessage, and emitting NewMessage and MessageLiked
// notifications. Two implementations are provided:
//   - EthLedger: the deployed contract, reached through go-ethereum.
//   - DevnetLedger: the local development ledger served by cmd/devledger.
package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrReverted is returned when the ledger accepted a write for processing but
// refused to apply it (reverted transaction, duplicate like, invalid text).
var ErrReverted = errors.New("ledger rejected the write")

// Reader is the read side of the ledger.
type Reader interface {
	// TotalMessages returns the number of messages on the ledger.
	TotalMessages(ctx context.Context) (uint64, error)

	// GetMessages returns up to count messages starting at offset.
	GetMessages(ctx context.Context, offset, count uint64) ([]Message, error)
}

// Writer submits signed writes. The returned Tx resolves once the write is
// confirmed on the ledger.
type Writer interface {
	PostMessage(ctx context.Context, signer Signer, text string) (Tx, error)
	LikeMessage(ctx context.Context, signer Signer, index uint64) (Tx, error)
}

// Subscriber opens the live notification stream. Events are delivered to sink
// in ledger order until the subscription is cancelled or fails.
type Subscriber interface {
	Subscribe(ctx context.Context, sink chan<- Event) (Subscription, error)
}

// Subscription is an active notification stream.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Ledger is a connection to one ledger endpoint.
type Ledger interface {
	Reader
	Writer
	Subscriber

	// ChainID identifies the network the connection is bound to.
	ChainID() uint64

	Close()
}

// Tx is a submitted write awaiting confirmation.
type Tx interface {
	// ID is the transaction hash or the dev ledger's tx id.
	ID() string

	// Wait blocks until the write is confirmed. It returns ErrReverted when
	// the ledger refused the write.
	Wait(ctx context.Context) error
}

// Signer signs on behalf of one account. It is handed out by the signing agent.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}
