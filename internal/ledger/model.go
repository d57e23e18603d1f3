package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTextLength is the ledger's limit on message text, in UTF-16 code units.
const MaxTextLength = 280

// Entry is one ledger message as held by the client. Index is assigned by
// the ledger and is the join key between snapshot reads and live events.
type Entry struct {
	Index     uint64         `json:"index"`
	Sender    common.Address `json:"sender"`
	Text      string         `json:"text"`
	Timestamp int64          `json:"timestamp"`
	Likes     uint64         `json:"likes"`
}

// Time returns the entry timestamp as a UTC time.
func (e Entry) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// Message is a single record returned by getMessages. The read does not echo
// indices, so callers must tag positions explicitly.
type Message struct {
	Sender    common.Address `json:"sender"`
	Text      string         `json:"text"`
	Timestamp int64          `json:"timestamp"`
	Likes     uint64         `json:"likes"`
}

// Event is a notification from the ledger's live stream.
type Event interface {
	isEvent()
}

// NewMessage is emitted when a message is appended.
type NewMessage struct {
	Sender    common.Address
	Text      string
	Timestamp int64
	Index     uint64
}

// MessageLiked is emitted when a message's like count changes.
type MessageLiked struct {
	Liker common.Address
	Index uint64
	Likes uint64
}

func (NewMessage) isEvent()   {}
func (MessageLiked) isEvent() {}

// Entry converts the notification into an Entry with zero likes.
func (m NewMessage) Entry() Entry {
	return Entry{
		Index:     m.Index,
		Sender:    m.Sender,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}
