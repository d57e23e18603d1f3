package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Wire types shared by DevnetLedger and the dev ledger server.

// ChainInfo is returned by GET /api/v1/chain.
type ChainInfo struct {
	ChainID uint64 `json:"chain_id"`
	Name    string `json:"name"`
}

// TotalResponse is returned by GET /api/v1/messages/total.
type TotalResponse struct {
	Total uint64 `json:"total"`
}

// MessagesResponse is returned by GET /api/v1/messages.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// PostRequest is the body of POST /api/v1/messages.
type PostRequest struct {
	Text      string         `json:"text"`
	Sender    common.Address `json:"sender"`
	Nonce     uint64         `json:"nonce"`     // unix milliseconds, increasing per sender
	Signature string         `json:"signature"` // hex, 65 bytes
}

// LikeRequest is the body of POST /api/v1/messages/:idx/like.
type LikeRequest struct {
	Liker     common.Address `json:"liker"`
	Signature string         `json:"signature"`
}

// Tx status values.
const (
	TxPending   = "pending"
	TxConfirmed = "confirmed"
	TxReverted  = "reverted"
)

// TxStatus describes a dev ledger transaction.
type TxStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Wire event types.
const (
	EventNewMessage   = "NewMessage"
	EventMessageLiked = "MessageLiked"
)

// WireEvent is one frame on the /api/v1/events websocket.
type WireEvent struct {
	Type      string         `json:"type"`
	Sender    common.Address `json:"sender,omitempty"`
	Text      string         `json:"text,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Index     uint64         `json:"index"`
	Liker     common.Address `json:"liker,omitempty"`
	Likes     uint64         `json:"likes,omitempty"`
}

// ToWire encodes ev for the websocket stream.
func ToWire(ev Event) WireEvent {
	switch e := ev.(type) {
	case NewMessage:
		return WireEvent{Type: EventNewMessage, Sender: e.Sender, Text: e.Text, Timestamp: e.Timestamp, Index: e.Index}
	case MessageLiked:
		return WireEvent{Type: EventMessageLiked, Liker: e.Liker, Index: e.Index, Likes: e.Likes}
	}
	return WireEvent{}
}

// Event decodes a wire frame.
func (w WireEvent) Event() (Event, error) {
	switch w.Type {
	case EventNewMessage:
		return NewMessage{Sender: w.Sender, Text: w.Text, Timestamp: w.Timestamp, Index: w.Index}, nil
	case EventMessageLiked:
		return MessageLiked{Liker: w.Liker, Index: w.Index, Likes: w.Likes}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", w.Type)
}
