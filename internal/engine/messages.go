package engine

import (
	"context"

	"github.com/basely/portal/internal/ledger"
	"github.com/basely/portal/internal/wallet"
	"github.com/google/uuid"
)

// tag identifies the context generation and reload an async result belongs to.
type tag struct {
	gen uint64
	seq uint64
}

type message interface{ isMessage() }

type cmdMsg struct{ fn func() }

type agentMsg struct{ note wallet.Notification }

type dialedMsg struct {
	tag
	led ledger.Ledger
	err error
}

type snapshotMsg struct {
	tag
	entries []ledger.Entry
	total   uint64
	err     error
}

// tailMsg carries entries appended while the subscription was being set up.
type tailMsg struct {
	tag
	entries []ledger.Entry
	total   uint64
	err     error
}

type subscribedMsg struct {
	tag
	ctx    context.Context
	cancel context.CancelFunc
	sub    ledger.Subscription
	sink   chan ledger.Event
	err    error
}

type eventMsg struct {
	tag
	ev ledger.Event
}

type subErrMsg struct {
	tag
	err error
}

type writeMsg struct {
	tag
	id  uuid.UUID
	err error
}

func (cmdMsg) isMessage()        {}
func (agentMsg) isMessage()      {}
func (dialedMsg) isMessage()     {}
func (snapshotMsg) isMessage()   {}
func (tailMsg) isMessage()       {}
func (subscribedMsg) isMessage() {}
func (eventMsg) isMessage()      {}
func (subErrMsg) isMessage()     {}
func (writeMsg) isMessage()      {}
