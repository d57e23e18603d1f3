package writes_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/basely/portal/internal/ledger"
	"github.com/basely/portal/internal/wallet"
	"github.com/basely/portal/internal/writes"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ready = wallet.ConnectionState{
	Network: wallet.NetworkCorrect,
	ChainID: 84532,
	Account: common.HexToAddress("0x1111111111111111111111111111111111111111"),
}

func newTracker() *writes.Tracker {
	return writes.NewTracker(zap.NewNop())
}

func TestBeginPost_requiresAccount(t *testing.T) {
	tr := newTracker()
	state := ready
	state.Account = common.Address{}

	_, err := tr.BeginPost("hello", state, 1)
	if !errors.Is(err, writes.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if len(tr.Pending()) != 0 {
		t.Error("rejected post must not be tracked")
	}
}

func TestBeginPost_requiresCorrectNetwork(t *testing.T) {
	tr := newTracker()
	state := ready
	state.Network = wallet.NetworkWrong

	if _, err := tr.BeginPost("hello", state, 1); !errors.Is(err, writes.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestBeginPost_textRules(t *testing.T) {
	cases := []struct {
		name string
		text string
		ok   bool
		want string
	}{
		{"trimmed", "  hi there \n", true, "hi there"},
		{"empty", "", false, ""},
		{"whitespace only", " \t\n ", false, ""},
		{"at limit", strings.Repeat("a", 280), true, strings.Repeat("a", 280)},
		{"over limit", strings.Repeat("a", 281), false, ""},
		// U+1F600 is two UTF-16 code units.
		{"surrogate pairs over limit", strings.Repeat("\U0001F600", 141), false, ""},
		{"surrogate pairs at limit", strings.Repeat("\U0001F600", 140), true, strings.Repeat("\U0001F600", 140)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := newTracker().BeginPost(tc.text, ready, 1)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if a.Text != tc.want {
					t.Errorf("text: got %q, want %q", a.Text, tc.want)
				}
				if a.Status != writes.Submitted {
					t.Errorf("status: got %v, want submitted", a.Status)
				}
				return
			}
			if !errors.Is(err, writes.ErrValidationFailed) {
				t.Errorf("expected ErrValidationFailed, got %v", err)
			}
		})
	}
}

func TestPost_confirmLifecycle(t *testing.T) {
	tr := newTracker()
	a, err := tr.BeginPost("hello", ready, 3)
	if err != nil {
		t.Fatalf("BeginPost: %v", err)
	}
	if a.Gen != 3 {
		t.Errorf("gen: got %d, want 3", a.Gen)
	}

	done := tr.Done(a.ID)
	select {
	case <-done:
		t.Fatal("done closed before resolution")
	default:
	}

	got, ok := tr.Confirm(a.ID)
	if !ok || got.Status != writes.Confirmed {
		t.Fatalf("Confirm: got %+v ok=%v", got, ok)
	}
	<-done

	if _, ok := tr.Confirm(a.ID); ok {
		t.Error("second Confirm should be a no-op")
	}
	if _, ok := tr.Fail(a.ID, errors.New("late")); ok {
		t.Error("Fail after Confirm should be a no-op")
	}
}

func TestLike_guardSetAtSubmission(t *testing.T) {
	tr := newTracker()
	if _, err := tr.BeginLike(4, ready, 1); err != nil {
		t.Fatalf("BeginLike: %v", err)
	}
	if !tr.Liked()[4] {
		t.Error("index 4 should be guarded while in flight")
	}
	if _, err := tr.BeginLike(4, ready, 1); !errors.Is(err, writes.ErrValidationFailed) {
		t.Errorf("second like: expected ErrValidationFailed, got %v", err)
	}
}

func TestLike_failureClearsGuard(t *testing.T) {
	tr := newTracker()
	a, _ := tr.BeginLike(4, ready, 1)

	got, ok := tr.Fail(a.ID, writes.ErrWriteRejected)
	if !ok || got.Status != writes.Failed || !errors.Is(got.Err, writes.ErrWriteRejected) {
		t.Fatalf("Fail: got %+v ok=%v", got, ok)
	}
	if tr.Liked()[4] {
		t.Error("guard should clear after a failed like")
	}
	if _, err := tr.BeginLike(4, ready, 1); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestLike_confirmedStaysGuarded(t *testing.T) {
	tr := newTracker()
	a, _ := tr.BeginLike(2, ready, 1)
	tr.Confirm(a.ID)

	if !tr.Confirmed(2) {
		t.Error("expected confirmed like")
	}
	if tr.InFlight()[2] {
		t.Error("confirmed like should not be in flight")
	}
	if _, err := tr.BeginLike(2, ready, 1); !errors.Is(err, writes.ErrValidationFailed) {
		t.Errorf("expected ErrValidationFailed, got %v", err)
	}
}

func TestAbandon_failsInFlight(t *testing.T) {
	tr := newTracker()
	post, _ := tr.BeginPost("hello", ready, 1)
	like, _ := tr.BeginLike(1, ready, 1)
	done, _ := tr.BeginPost("done", ready, 1)
	tr.Confirm(done.ID)

	reason := errors.New("network changed")
	out := tr.Abandon(reason)
	if len(out) != 2 {
		t.Fatalf("abandoned %d actions, want 2", len(out))
	}
	if a, _ := tr.Get(like.ID); a.Status != writes.Failed {
		t.Errorf("like: %+v", a)
	}
	if a, _ := tr.Get(post.ID); a.Status != writes.Failed || !errors.Is(a.Err, reason) {
		t.Errorf("post: %+v", a)
	}
	if a, _ := tr.Get(done.ID); a.Status != writes.Confirmed {
		t.Errorf("confirmed action changed: %+v", a)
	}
	if tr.Liked()[1] {
		t.Error("abandoned like should release its guard")
	}
	if len(tr.Pending()) != 0 {
		t.Error("nothing should be pending after Abandon")
	}
}

func TestForget(t *testing.T) {
	tr := newTracker()
	a, _ := tr.BeginPost("hello", ready, 1)
	tr.Forget(a.ID)
	if _, ok := tr.Get(a.ID); !ok {
		t.Error("pending action must not be forgotten")
	}
	tr.Confirm(a.ID)
	tr.Forget(a.ID)
	if _, ok := tr.Get(a.ID); ok {
		t.Error("resolved action should be forgotten")
	}
	select {
	case <-tr.Done(a.ID):
	default:
		t.Error("Done for unknown action should be closed")
	}
}

func TestAwait_returnsResolvedAndDrops(t *testing.T) {
	tr := newTracker()
	a, _ := tr.BeginPost("hello", ready, 1)
	tr.Confirm(a.ID)

	got, err := tr.Await(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got.Status != writes.Confirmed || got.Text != "hello" {
		t.Errorf("awaited action: %+v", got)
	}
	if n := tr.Len(); n != 0 {
		t.Errorf("tracked after Await: %d", n)
	}
}

func TestAwait_failedReturnsCause(t *testing.T) {
	tr := newTracker()
	a, _ := tr.BeginLike(0, ready, 1)
	tr.Fail(a.ID, ledger.ErrReverted)

	if _, err := tr.Await(context.Background(), a.ID); !errors.Is(err, ledger.ErrReverted) {
		t.Errorf("expected ErrReverted, got %v", err)
	}
	if n := tr.Len(); n != 0 {
		t.Errorf("tracked after Await: %d", n)
	}
}

func TestAwait_cancelledCallerDropsOnResolve(t *testing.T) {
	tr := newTracker()
	post, _ := tr.BeginPost("hello", ready, 1)
	like, _ := tr.BeginLike(2, ready, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, id := range []uuid.UUID{post.ID, like.ID} {
		got, err := tr.Await(ctx, id)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if got.Status != writes.Submitted {
			t.Errorf("status: %v", got.Status)
		}
	}
	if n := tr.Len(); n != 2 {
		t.Fatalf("in-flight actions must stay tracked, have %d", n)
	}
	if !tr.InFlight()[2] {
		t.Error("like guard released before resolution")
	}

	tr.Confirm(post.ID)
	tr.Abandon(errors.New("gone"))
	if n := tr.Len(); n != 0 {
		t.Errorf("tracked after resolution: %d", n)
	}
}

func TestAwait_unknown(t *testing.T) {
	if _, err := newTracker().Await(context.Background(), uuid.New()); !errors.Is(err, writes.ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}

func TestClearConfirmedLikes(t *testing.T) {
	tr := newTracker()
	a, _ := tr.BeginLike(4, ready, 1)
	tr.Confirm(a.ID)
	if !tr.Confirmed(4) {
		t.Fatal("like not confirmed")
	}

	tr.ClearConfirmedLikes()
	if tr.Confirmed(4) || tr.Liked()[4] {
		t.Error("confirmed like survived the clear")
	}
	if _, err := tr.BeginLike(4, ready, 2); err != nil {
		t.Errorf("like after clear: %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{ledger.ErrReverted, writes.ErrWriteRejected},
		{wallet.ErrUserRejected, writes.ErrWriteRejected},
		{errors.New("connection reset"), writes.ErrWriteFailed},
	}
	for _, tc := range cases {
		if got := writes.Classify(tc.in); !errors.Is(got, tc.want) {
			t.Errorf("Classify(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if writes.Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}
