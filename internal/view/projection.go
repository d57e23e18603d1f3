// Package view derives what is rendered from the merged sequence, the
// session's likes and the connection state.
package view

import (
	"time"

	"github.com/basely/portal/internal/ledger"
	"github.com/basely/portal/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
)

// Row is one rendered entry.
type Row struct {
	Index     uint64
	Sender    common.Address
	Text      string
	Timestamp int64
	Likes     uint64
	Liked     bool // liked in this session
	Pending   bool // like awaiting confirmation
	CanLike   bool
}

// Time returns the row timestamp.
func (r Row) Time() time.Time { return time.Unix(r.Timestamp, 0) }

// Project maps entries to rows in the order given. liked holds confirmed
// likes and pending the likes still in flight.
func Project(entries []ledger.Entry, liked, pending map[uint64]bool, state wallet.ConnectionState) []Row {
	rows := make([]Row, 0, len(entries))
	writable := state.CanWrite()
	for _, e := range entries {
		r := Row{
			Index:     e.Index,
			Sender:    e.Sender,
			Text:      e.Text,
			Timestamp: e.Timestamp,
			Likes:     e.Likes,
			Liked:     liked[e.Index],
			Pending:   pending[e.Index],
		}
		r.CanLike = writable && !r.Liked && !r.Pending
		rows = append(rows, r)
	}
	return rows
}

// ShortAddress formats a as 0x1234...abcd.
func ShortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
