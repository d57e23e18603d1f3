// Package writes tracks posts and likes between submission and confirmation.
package writes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/basely/portal/internal/ledger"
	"github.com/basely/portal/internal/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrValidationFailed is returned before any ledger call when a write
	// cannot be submitted.
	ErrValidationFailed = errors.New("validation failed")

	// ErrWriteFailed means the submission or confirmation failed in transport.
	ErrWriteFailed = errors.New("write failed")

	// ErrWriteRejected means the agent declined to sign or the ledger reverted.
	ErrWriteRejected = errors.New("write rejected")
)

// Kind distinguishes the two write operations.
type Kind int

const (
	Post Kind = iota + 1
	Like
)

func (k Kind) String() string {
	switch k {
	case Post:
		return "post"
	case Like:
		return "like"
	default:
		return "unknown"
	}
}

// Status is the lifecycle position of an action.
type Status int

const (
	Submitted Status = iota + 1
	Confirmed
	Failed
)

func (s Status) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Action is a write the user initiated.
type Action struct {
	ID          uuid.UUID
	Kind        Kind
	Text        string // Post
	Index       uint64 // Like
	Status      Status
	Err         error
	Gen         uint64
	SubmittedAt time.Time
}

// Tracker owns pending actions and the per-session like guard.
type Tracker struct {
	logger *zap.Logger

	mu      sync.Mutex
	actions map[uuid.UUID]*Action
	done    map[uuid.UUID]chan struct{}
	holds   map[uuid.UUID]struct{} // submitter still interested in the outcome
	liked   map[uint64]struct{}
	likes   map[uint64]uuid.UUID // in-flight like per index
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:  logger,
		actions: make(map[uuid.UUID]*Action),
		done:    make(map[uuid.UUID]chan struct{}),
		holds:   make(map[uuid.UUID]struct{}),
		liked:   make(map[uint64]struct{}),
		likes:   make(map[uint64]uuid.UUID),
	}
}

// NormalizeText trims surrounding whitespace and checks the length limit,
// counted in UTF-16 code units.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: message is empty", ErrValidationFailed)
	}
	if n := len(utf16.Encode([]rune(text))); n > ledger.MaxTextLength {
		return "", fmt.Errorf("%w: message is %d characters, limit is %d",
			ErrValidationFailed, n, ledger.MaxTextLength)
	}
	return text, nil
}

func checkState(state wallet.ConnectionState) error {
	if !state.Connected() {
		return fmt.Errorf("%w: no connected account", ErrValidationFailed)
	}
	if state.Network != wallet.NetworkCorrect {
		return fmt.Errorf("%w: wrong network", ErrValidationFailed)
	}
	return nil
}

// BeginPost validates a post and records it as submitted. The returned
// action carries the normalized text.
func (t *Tracker) BeginPost(text string, state wallet.ConnectionState, gen uint64) (Action, error) {
	if err := checkState(state); err != nil {
		return Action{}, err
	}
	text, err := NormalizeText(text)
	if err != nil {
		return Action{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.add(Action{Kind: Post, Text: text, Gen: gen})
	return a, nil
}

// BeginLike validates a like and records it as submitted. The index is
// guarded from the moment of submission.
func (t *Tracker) BeginLike(index uint64, state wallet.ConnectionState, gen uint64) (Action, error) {
	if err := checkState(state); err != nil {
		return Action{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.liked[index]; ok {
		return Action{}, fmt.Errorf("%w: message %d already liked", ErrValidationFailed, index)
	}
	if _, ok := t.likes[index]; ok {
		return Action{}, fmt.Errorf("%w: like for message %d in flight", ErrValidationFailed, index)
	}
	a := t.add(Action{Kind: Like, Index: index, Gen: gen})
	t.likes[index] = a.ID
	return a, nil
}

func (t *Tracker) add(a Action) Action {
	a.ID = uuid.New()
	a.Status = Submitted
	a.SubmittedAt = time.Now()
	t.actions[a.ID] = &a
	t.done[a.ID] = make(chan struct{})
	t.holds[a.ID] = struct{}{}
	t.logger.Debug("write submitted",
		zap.String("id", a.ID.String()),
		zap.Stringer("kind", a.Kind),
	)
	return a
}

// Confirm marks an action confirmed. A confirmed like stays guarded.
func (t *Tracker) Confirm(id uuid.UUID) (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actions[id]
	if !ok || a.Status != Submitted {
		return Action{}, false
	}
	a.Status = Confirmed
	if a.Kind == Like {
		delete(t.likes, a.Index)
		t.liked[a.Index] = struct{}{}
	}
	t.finish(a)
	return *a, true
}

// Fail marks an action failed with err. A failed like releases its guard so
// the user can retry.
func (t *Tracker) Fail(id uuid.UUID, err error) (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actions[id]
	if !ok || a.Status != Submitted {
		return Action{}, false
	}
	t.fail(a, err)
	return *a, true
}

// Abandon fails every in-flight action. Called when the ledger context is
// invalidated underneath them.
func (t *Tracker) Abandon(reason error) []Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Action
	for _, a := range t.actions {
		if a.Status != Submitted {
			continue
		}
		t.fail(a, reason)
		out = append(out, *a)
	}
	return out
}

func (t *Tracker) fail(a *Action, err error) {
	a.Status = Failed
	a.Err = err
	if a.Kind == Like {
		delete(t.likes, a.Index)
	}
	t.logger.Debug("write failed",
		zap.String("id", a.ID.String()),
		zap.Stringer("kind", a.Kind),
		zap.Error(err),
	)
	t.finish(a)
}

// finish releases waiters. The action stays readable while its submitter
// holds it and is dropped otherwise.
func (t *Tracker) finish(a *Action) {
	if ch, ok := t.done[a.ID]; ok {
		close(ch)
		delete(t.done, a.ID)
	}
	if _, held := t.holds[a.ID]; !held {
		delete(t.actions, a.ID)
	}
}

// Await waits for the action to resolve and returns it with its error. It
// releases the submitter's hold, so the action is dropped once resolved. If
// ctx ends first the action stays tracked until it resolves and ctx.Err()
// is returned.
func (t *Tracker) Await(ctx context.Context, id uuid.UUID) (Action, error) {
	defer t.release(id)
	select {
	case <-t.Done(id):
	case <-ctx.Done():
		a, _ := t.Get(id)
		return a, ctx.Err()
	}
	a, ok := t.Get(id)
	if !ok {
		return Action{}, fmt.Errorf("%w: action %s is unknown", ErrWriteFailed, id)
	}
	return a, a.Err
}

func (t *Tracker) release(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.holds, id)
	if a, ok := t.actions[id]; ok && a.Status != Submitted {
		delete(t.actions, id)
	}
}

// Done returns a channel closed when the action resolves. It returns a
// closed channel for unknown or resolved actions.
func (t *Tracker) Done(id uuid.UUID) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.done[id]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Get returns the action with id.
func (t *Tracker) Get(id uuid.UUID) (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actions[id]
	if !ok {
		return Action{}, false
	}
	return *a, true
}

// Forget drops a resolved action.
func (t *Tracker) Forget(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.actions[id]; ok && a.Status != Submitted {
		delete(t.actions, id)
		delete(t.holds, id)
	}
}

// Len returns the number of actions still tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.actions)
}

// ClearConfirmedLikes forgets which indices were liked. Indices only mean
// something within one ledger context.
func (t *Tracker) ClearConfirmedLikes() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.liked = make(map[uint64]struct{})
}

// Liked returns the set of indices liked in this session, confirmed or in flight.
func (t *Tracker) Liked() map[uint64]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64]bool, len(t.liked)+len(t.likes))
	for i := range t.liked {
		out[i] = true
	}
	for i := range t.likes {
		out[i] = true
	}
	return out
}

// Confirmed reports whether a like on index was confirmed this session.
func (t *Tracker) Confirmed(index uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.liked[index]
	return ok
}

// InFlight returns the indices with a like awaiting confirmation.
func (t *Tracker) InFlight() map[uint64]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64]bool, len(t.likes))
	for i := range t.likes {
		out[i] = true
	}
	return out
}

// Pending returns the actions still awaiting confirmation.
func (t *Tracker) Pending() []Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Action
	for _, a := range t.actions {
		if a.Status == Submitted {
			out = append(out, *a)
		}
	}
	return out
}

// Classify maps a ledger or agent error onto the write error kinds.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrWriteRejected), errors.Is(err, ErrWriteFailed), errors.Is(err, ErrValidationFailed):
		return err
	case errors.Is(err, ledger.ErrReverted), errors.Is(err, wallet.ErrUserRejected):
		return fmt.Errorf("%w: %v", ErrWriteRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
}
