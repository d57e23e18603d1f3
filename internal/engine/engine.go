// Package engine owns the client's state and serializes every change to it.
//
// A single goroutine (Run) drains a bounded inbox. Ledger notifications,
// snapshot results, write results, agent notifications and caller commands
// all arrive as messages. Blocking work runs on other goroutines and posts
// its result back tagged with the context generation and reload sequence it
// was started under; results carrying an old tag are dropped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/basely/portal/internal/feed"
	"github.com/basely/portal/internal/ledger"
	"github.com/basely/portal/internal/snapshot"
	"github.com/basely/portal/internal/view"
	"github.com/basely/portal/internal/wallet"
	"github.com/basely/portal/internal/writes"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultInboxSize is used when Config.InboxSize is not set.
const DefaultInboxSize = 256

// ErrStopped is returned by commands issued after Run has returned.
var ErrStopped = errors.New("engine stopped")

var errNetworkChanged = fmt.Errorf("%w: network changed before confirmation", writes.ErrWriteFailed)

// Dialer opens a ledger connection.
type Dialer func(ctx context.Context) (ledger.Ledger, error)

// Config tunes the engine.
type Config struct {
	InboxSize        int    `mapstructure:"inbox_size"`
	PageSize         uint64 `mapstructure:"page_size"`
	MaxBufferedLikes int    `mapstructure:"max_buffered_likes"`
}

// View is what a frontend renders. It is replaced, never mutated, on every
// change.
type View struct {
	Rows       []view.Row
	Status     string
	State      wallet.ConnectionState
	Loading    bool
	Live       bool
	Generation uint64
}

// Engine is the owning process for the entry sequence, pending writes and
// the live subscription.
type Engine struct {
	dial    Dialer
	wallet  *wallet.Context
	loader  *snapshot.Loader
	merger  *feed.Merger
	tracker *writes.Tracker
	logger  *zap.Logger

	inbox   chan message
	stopped chan struct{}
	changes chan struct{}

	// Owned by the Run goroutine.
	ctx       context.Context
	gen       uint64
	seq       uint64
	led       ledger.Ledger
	sub       ledger.Subscription
	subCancel context.CancelFunc
	synced    uint64 // ledger count covered by the last successful read
	loading   bool
	status    string

	mu   sync.RWMutex
	view View
}

// New creates an Engine. Nothing happens until Run is called.
func New(cfg Config, dial Dialer, w *wallet.Context, logger *zap.Logger) *Engine {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	return &Engine{
		dial:    dial,
		wallet:  w,
		loader:  snapshot.NewLoader(cfg.PageSize, logger),
		merger:  feed.NewMerger(cfg.MaxBufferedLikes, logger),
		tracker: writes.NewTracker(logger),
		logger:  logger,
		inbox:   make(chan message, cfg.InboxSize),
		stopped: make(chan struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Run processes messages until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	e.ctx = ctx

	e.wallet.Init(ctx)
	e.gen = e.wallet.Generation()
	if notes := e.wallet.Notifications(); notes != nil {
		go e.forwardAgent(ctx, notes)
	}

	e.reload("start")
	e.checkNetwork()
	e.publish()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case m := <-e.inbox:
			e.handle(m)
			e.publish()
		}
	}
}

// View returns the latest published view.
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// Rows returns the rendered entries.
func (e *Engine) Rows() []view.Row { return e.View().Rows }

// Status returns the current status line.
func (e *Engine) Status() string { return e.View().Status }

// Changes signals after each published change. Signals coalesce.
func (e *Engine) Changes() <-chan struct{} { return e.changes }

// Connect asks the agent for account access.
func (e *Engine) Connect(ctx context.Context) error {
	err := e.wallet.Connect(ctx)
	if derr := e.do(ctx, func() {
		if err != nil {
			e.status = fmt.Sprintf("Failed to connect wallet: %v", err)
			return
		}
		e.status = "Wallet connected"
		e.checkNetwork()
	}); derr != nil {
		return derr
	}
	return err
}

// SwitchNetwork asks the agent to move to the ledger's network. The reload
// follows from the agent's chainChanged notification.
func (e *Engine) SwitchNetwork(ctx context.Context) error {
	err := e.wallet.RequestNetworkSwitch(ctx)
	if err == nil {
		return nil
	}
	if derr := e.do(ctx, func() {
		e.status = fmt.Sprintf("Failed to switch network: %v", err)
	}); derr != nil {
		return derr
	}
	return err
}

// AddNetwork registers the ledger's network with the agent.
func (e *Engine) AddNetwork(ctx context.Context) error {
	err := e.wallet.RequestNetworkAdd(ctx)
	if err == nil {
		return nil
	}
	if derr := e.do(ctx, func() {
		e.status = fmt.Sprintf("Failed to add network: %v", err)
	}); derr != nil {
		return derr
	}
	return err
}

// Refresh re-reads the snapshot and merges it into the current sequence.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.do(ctx, func() { e.reload("manual") })
}

type sendFunc func(ctx context.Context, led ledger.Ledger, s ledger.Signer, a writes.Action) (ledger.Tx, error)

// SubmitPost publishes text and waits for confirmation. If ctx ends first
// the write stays tracked and the returned error is ctx.Err().
func (e *Engine) SubmitPost(ctx context.Context, text string) (writes.Action, error) {
	return e.submit(ctx, writes.Post, func() (writes.Action, error) {
		return e.tracker.BeginPost(text, e.wallet.State(), e.gen)
	}, func(ctx context.Context, led ledger.Ledger, s ledger.Signer, a writes.Action) (ledger.Tx, error) {
		return led.PostMessage(ctx, s, a.Text)
	})
}

// SubmitLike likes the entry at index and waits for confirmation.
func (e *Engine) SubmitLike(ctx context.Context, index uint64) (writes.Action, error) {
	return e.submit(ctx, writes.Like, func() (writes.Action, error) {
		return e.tracker.BeginLike(index, e.wallet.State(), e.gen)
	}, func(ctx context.Context, led ledger.Ledger, s ledger.Signer, a writes.Action) (ledger.Tx, error) {
		return led.LikeMessage(ctx, s, a.Index)
	})
}

func (e *Engine) submit(ctx context.Context, kind writes.Kind, begin func() (writes.Action, error), send sendFunc) (writes.Action, error) {
	var (
		a   writes.Action
		err error
	)
	if derr := e.do(ctx, func() {
		a, err = begin()
		if err != nil {
			RecordWrite(kind.String(), "invalid")
			e.status = err.Error()
			return
		}
		if kind == writes.Post {
			e.status = "Posting..."
		} else {
			e.status = "Liking..."
		}
		e.startWrite(a, send)
	}); derr != nil {
		return writes.Action{}, derr
	}
	if err != nil {
		return writes.Action{}, err
	}

	return e.tracker.Await(ctx, a.ID)
}

// startWrite issues the write on its own goroutine. Runs on the loop.
func (e *Engine) startWrite(a writes.Action, send sendFunc) {
	led := e.led
	signer, err := e.wallet.Signer()
	if err == nil && led == nil {
		err = fmt.Errorf("%w: ledger not connected", writes.ErrWriteFailed)
	}
	if err != nil {
		e.finishWrite(a.ID, writes.Classify(err))
		return
	}

	t := tag{gen: e.gen}
	go func() {
		tx, err := send(e.ctx, led, signer, a)
		if err == nil {
			e.logger.Info("write sent",
				zap.String("id", a.ID.String()),
				zap.Stringer("kind", a.Kind),
				zap.String("tx", tx.ID()),
			)
			err = tx.Wait(e.ctx)
		}
		e.post(e.ctx, writeMsg{tag: t, id: a.ID, err: writes.Classify(err)})
	}()
}

// finishWrite resolves an action. Actions already abandoned are ignored.
func (e *Engine) finishWrite(id uuid.UUID, err error) {
	if err != nil {
		a, ok := e.tracker.Fail(id, err)
		if !ok {
			RecordStale("write")
			return
		}
		outcome := "failed"
		if errors.Is(err, writes.ErrWriteRejected) {
			outcome = "rejected"
		}
		RecordWrite(a.Kind.String(), outcome)
		if a.Kind == writes.Post {
			e.status = fmt.Sprintf("Failed to post message: %v", err)
		} else {
			e.status = fmt.Sprintf("Failed to like message: %v", err)
		}
		e.logger.Warn("write failed", zap.Stringer("kind", a.Kind), zap.Error(err))
		return
	}

	a, ok := e.tracker.Confirm(id)
	if !ok {
		RecordStale("write")
		return
	}
	RecordWrite(a.Kind.String(), "confirmed")
	if a.Kind == writes.Post {
		e.status = "Message posted"
	} else {
		e.status = "Liked"
	}
}

func (e *Engine) handle(m message) {
	switch m := m.(type) {
	case cmdMsg:
		m.fn()
	case agentMsg:
		e.onAgent(m.note)
	case dialedMsg:
		e.onDialed(m)
	case snapshotMsg:
		e.onSnapshot(m)
	case tailMsg:
		e.onTail(m)
	case subscribedMsg:
		e.onSubscribed(m)
	case eventMsg:
		e.onEvent(m)
	case subErrMsg:
		e.onSubErr(m)
	case writeMsg:
		e.finishWrite(m.id, m.err)
	}
}

func (e *Engine) current() tag { return tag{gen: e.gen, seq: e.seq} }

func (e *Engine) stale(t tag) bool { return t != e.current() }

// reload cancels the live subscription and starts reading the snapshot,
// connecting first if needed. The subscription is re-established once the
// snapshot has been applied.
func (e *Engine) reload(reason string) {
	e.seq++
	e.stopSubscription()
	e.loading = true
	e.status = "Loading messages..."
	RecordReload(reason)
	e.logger.Debug("reload",
		zap.String("reason", reason),
		zap.Uint64("generation", e.gen),
		zap.Uint64("seq", e.seq),
	)

	t := e.current()
	if e.led != nil {
		e.loadSnapshot(t)
		return
	}
	go func() {
		led, err := e.dial(e.ctx)
		if !e.post(e.ctx, dialedMsg{tag: t, led: led, err: err}) && led != nil {
			led.Close()
		}
	}()
}

func (e *Engine) onDialed(m dialedMsg) {
	if e.stale(m.tag) {
		RecordStale("dial")
		if m.led != nil {
			m.led.Close()
		}
		return
	}
	if m.err != nil {
		e.loading = false
		e.status = fmt.Sprintf("Failed to connect to ledger: %v", m.err)
		e.logger.Warn("dial ledger", zap.Error(m.err))
		return
	}
	e.led = m.led
	if id, want := m.led.ChainID(), e.wallet.Expected().ChainID; id != want {
		e.logger.Warn("ledger endpoint is on an unexpected chain",
			zap.Uint64("chain_id", id),
			zap.Uint64("expected", want),
		)
	}
	e.loadSnapshot(m.tag)
}

func (e *Engine) loadSnapshot(t tag) {
	led := e.led
	go func() {
		entries, total, err := e.loader.LoadFrom(e.ctx, led, 0)
		e.post(e.ctx, snapshotMsg{tag: t, entries: entries, total: total, err: err})
	}()
}

func (e *Engine) onSnapshot(m snapshotMsg) {
	if e.stale(m.tag) {
		RecordStale("snapshot")
		return
	}
	e.loading = false
	if m.err != nil {
		e.status = fmt.Sprintf("Failed to load messages: %v", m.err)
		e.logger.Warn("snapshot", zap.Error(m.err))
	} else {
		added := e.merger.ApplySnapshot(m.entries)
		e.synced = m.total
		e.status = ""
		e.logger.Info("snapshot applied",
			zap.Int("read", len(m.entries)),
			zap.Int("added", added),
			zap.Int("total", e.merger.Len()),
		)
	}
	e.checkNetwork()
	e.subscribe(m.tag)
}

func (e *Engine) subscribe(t tag) {
	led := e.led
	ctx, cancel := context.WithCancel(e.ctx)
	sink := make(chan ledger.Event, 64)
	go func() {
		sub, err := led.Subscribe(ctx, sink)
		msg := subscribedMsg{tag: t, ctx: ctx, cancel: cancel, sub: sub, sink: sink, err: err}
		if !e.post(e.ctx, msg) {
			cancel()
			if sub != nil {
				sub.Unsubscribe()
			}
		}
	}()
}

func (e *Engine) onSubscribed(m subscribedMsg) {
	if e.stale(m.tag) {
		RecordStale("subscription")
		m.cancel()
		if m.sub != nil {
			go m.sub.Unsubscribe()
		}
		return
	}
	if m.err != nil {
		m.cancel()
		e.status = fmt.Sprintf("Live updates unavailable: %v", m.err)
		e.logger.Warn("subscribe", zap.Error(m.err))
		return
	}
	e.sub = m.sub
	e.subCancel = m.cancel
	go e.forwardEvents(m.ctx, m.tag, m.sink, m.sub)
	e.loadTail(m.tag, e.synced)
}

// loadTail reads whatever was appended between the snapshot and the moment
// the subscription went live. Entries the subscription also delivers merge
// as duplicates.
func (e *Engine) loadTail(t tag, from uint64) {
	led := e.led
	go func() {
		entries, total, err := e.loader.LoadFrom(e.ctx, led, from)
		e.post(e.ctx, tailMsg{tag: t, entries: entries, total: total, err: err})
	}()
}

func (e *Engine) onTail(m tailMsg) {
	if e.stale(m.tag) {
		RecordStale("tail")
		return
	}
	if m.err != nil {
		e.status = fmt.Sprintf("Failed to load messages: %v", m.err)
		e.logger.Warn("catch up after subscribe", zap.Error(m.err))
		return
	}
	added := e.merger.ApplySnapshot(m.entries)
	if m.total > e.synced {
		e.synced = m.total
	}
	if added > 0 {
		e.logger.Info("caught up after subscribe",
			zap.Int("added", added),
			zap.Uint64("total", m.total),
		)
	}
}

func (e *Engine) stopSubscription() {
	if e.subCancel != nil {
		e.subCancel()
		e.subCancel = nil
	}
	if e.sub != nil {
		// Unsubscribe waits for the producer; keep the loop free.
		go e.sub.Unsubscribe()
		e.sub = nil
	}
}

func (e *Engine) forwardEvents(ctx context.Context, t tag, sink <-chan ledger.Event, sub ledger.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sink:
			if !e.post(ctx, eventMsg{tag: t, ev: ev}) {
				return
			}
		case err, ok := <-sub.Err():
			if ok && err != nil {
				e.post(ctx, subErrMsg{tag: t, err: err})
			}
			return
		}
	}
}

func (e *Engine) onEvent(m eventMsg) {
	if e.stale(m.tag) {
		RecordStale("event")
		return
	}
	switch ev := m.ev.(type) {
	case ledger.NewMessage:
		if e.merger.ApplyNewMessage(ev) {
			RecordEvent("new_message", "applied")
		} else {
			RecordEvent("new_message", "duplicate")
		}
	case ledger.MessageLiked:
		RecordEvent("message_liked", e.merger.ApplyLike(ev).String())
	}
}

func (e *Engine) onSubErr(m subErrMsg) {
	if e.stale(m.tag) {
		RecordStale("subscription_error")
		return
	}
	e.stopSubscription()
	e.status = fmt.Sprintf("Live updates stopped: %v", m.err)
	e.logger.Warn("subscription ended", zap.Error(m.err))
}

func (e *Engine) onAgent(n wallet.Notification) {
	switch n.Kind {
	case wallet.AccountsChanged:
		e.wallet.HandleAccountsChanged(e.ctx, n.Accounts)
		if len(n.Accounts) == 0 {
			e.status = "Wallet disconnected"
		} else {
			e.status = "Account changed"
		}
	case wallet.ChainChanged:
		e.onChainChanged(n.ChainID)
	}
}

// onChainChanged invalidates everything issued under the old generation and
// reloads from scratch.
func (e *Engine) onChainChanged(chainID uint64) {
	e.gen = e.wallet.HandleChainChanged(chainID)
	for _, a := range e.tracker.Abandon(errNetworkChanged) {
		RecordWrite(a.Kind.String(), "abandoned")
	}
	e.tracker.ClearConfirmedLikes()
	e.synced = 0
	e.stopSubscription()
	if e.led != nil {
		e.led.Close()
		e.led = nil
	}
	e.merger.Reset()
	e.reload("network_changed")
	e.checkNetwork()
}

func (e *Engine) checkNetwork() {
	if e.wallet.State().Network == wallet.NetworkWrong {
		e.status = fmt.Sprintf("Wrong network: switch to %s", e.wallet.Expected().Name)
	}
}

func (e *Engine) shutdown() {
	e.stopSubscription()
	e.tracker.Abandon(ErrStopped)
	if e.led != nil {
		e.led.Close()
		e.led = nil
	}
}

func (e *Engine) forwardAgent(ctx context.Context, notes <-chan wallet.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			if !e.post(ctx, agentMsg{note: n}) {
				return
			}
		}
	}
}

func (e *Engine) publish() {
	state := e.wallet.State()
	rows := view.Project(e.merger.Entries(), e.tracker.Liked(), e.tracker.InFlight(), state)
	recordSequence(e.merger.Len(), e.merger.Buffered())

	e.mu.Lock()
	e.view = View{
		Rows:       rows,
		Status:     e.status,
		State:      state,
		Loading:    e.loading,
		Live:       e.sub != nil,
		Generation: e.gen,
	}
	e.mu.Unlock()

	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// post delivers m to the loop. It reports false if ctx ended or the engine
// stopped first.
func (e *Engine) post(ctx context.Context, m message) bool {
	select {
	case e.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-e.stopped:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.post(ctx, cmdMsg{fn: func() { defer close(done); fn() }}) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}
