package devledger_test

import (
	"crypto/ecdsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/basely/portal/internal/devledger"
	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const testChainID = 31337

type testSigner struct{ key *ecdsa.PrivateKey }

func newSigner(t *testing.T) testSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return testSigner{key: key}
}

func (s testSigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s testSigner) SignHash(h []byte) ([]byte, error) { return crypto.Sign(h, s.key) }

var nonces ledger.Nonces

func signedPost(t *testing.T, s testSigner, text string) ledger.PostRequest {
	t.Helper()
	return signedPostNonce(t, s, text, nonces.Next())
}

func signedPostNonce(t *testing.T, s testSigner, text string, nonce uint64) ledger.PostRequest {
	t.Helper()
	sig, err := ledger.SignPayload(s, ledger.PostPayload(testChainID, nonce, text))
	if err != nil {
		t.Fatal(err)
	}
	return ledger.PostRequest{Text: text, Sender: s.Address(), Nonce: nonce, Signature: hexutil.Encode(sig)}
}

func signedLike(t *testing.T, s testSigner, index uint64) ledger.LikeRequest {
	t.Helper()
	sig, err := ledger.SignPayload(s, ledger.LikePayload(testChainID, index))
	if err != nil {
		t.Fatal(err)
	}
	return ledger.LikeRequest{Liker: s.Address(), Signature: hexutil.Encode(sig)}
}

func newService(blockTime time.Duration) (*devledger.Service, *devledger.MemoryStore) {
	store := devledger.NewMemoryStore()
	cfg := devledger.Config{ChainID: testChainID, Name: "Localhost", BlockTime: blockTime}
	return devledger.NewService(cfg, store, nil, zap.NewNop()), store
}

func TestService_postConfirmedImmediately(t *testing.T) {
	svc, store := newService(0)
	s := newSigner(t)

	st, err := svc.SubmitPost(ctx, signedPost(t, s, "gm"))
	if err != nil {
		t.Fatalf("SubmitPost: %v", err)
	}
	if st.Status != ledger.TxConfirmed {
		t.Errorf("status: got %q, want confirmed", st.Status)
	}

	msgs, _ := store.Messages(ctx, 0, 10)
	if len(msgs) != 1 || msgs[0].Sender != s.Address() || msgs[0].Text != "gm" {
		t.Errorf("stored: %+v", msgs)
	}

	got, err := svc.Tx(st.ID)
	if err != nil || got.Status != ledger.TxConfirmed {
		t.Errorf("Tx(%s): %+v, %v", st.ID, got, err)
	}
}

func TestService_postRejectsForgedSender(t *testing.T) {
	svc, _ := newService(0)
	req := signedPost(t, newSigner(t), "gm")
	req.Sender = newSigner(t).Address()

	if _, err := svc.SubmitPost(ctx, req); !errors.Is(err, devledger.ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestService_postRejectsSignatureOverOtherText(t *testing.T) {
	svc, _ := newService(0)
	req := signedPost(t, newSigner(t), "gm")
	req.Text = "gn"

	if _, err := svc.SubmitPost(ctx, req); !errors.Is(err, devledger.ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestService_postReplayRejected(t *testing.T) {
	svc, store := newService(0)
	s := newSigner(t)
	req := signedPost(t, s, "gm")

	if _, err := svc.SubmitPost(ctx, req); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := svc.SubmitPost(ctx, req); !errors.Is(err, devledger.ErrStaleNonce) {
		t.Errorf("replayed post: expected ErrStaleNonce, got %v", err)
	}

	older := signedPostNonce(t, s, "gn", req.Nonce-1)
	if _, err := svc.SubmitPost(ctx, older); !errors.Is(err, devledger.ErrStaleNonce) {
		t.Errorf("lower nonce: expected ErrStaleNonce, got %v", err)
	}

	// Nonces are tracked per sender.
	if _, err := svc.SubmitPost(ctx, signedPostNonce(t, newSigner(t), "hi", req.Nonce)); err != nil {
		t.Errorf("other sender with the same nonce: %v", err)
	}

	if n, _ := store.Total(ctx); n != 2 {
		t.Errorf("total: got %d, want 2", n)
	}
}

func TestService_postNonceWindow(t *testing.T) {
	svc, _ := newService(0)
	s := newSigner(t)
	now := time.Now()

	for name, at := range map[string]time.Time{
		"too old":       now.Add(-devledger.NonceWindow - time.Minute),
		"too far ahead": now.Add(devledger.NonceWindow + time.Minute),
		"zero":          time.UnixMilli(0),
	} {
		req := signedPostNonce(t, s, "gm", uint64(at.UnixMilli()))
		if _, err := svc.SubmitPost(ctx, req); !errors.Is(err, devledger.ErrStaleNonce) {
			t.Errorf("%s: expected ErrStaleNonce, got %v", name, err)
		}
	}
}

func TestService_postTextRules(t *testing.T) {
	svc, _ := newService(0)
	s := newSigner(t)
	for _, text := range []string{"", "   ", strings.Repeat("x", 281)} {
		if _, err := svc.SubmitPost(ctx, signedPost(t, s, text)); !errors.Is(err, devledger.ErrInvalidText) {
			t.Errorf("text %q: expected ErrInvalidText, got %v", text, err)
		}
	}
	if _, err := svc.SubmitPost(ctx, signedPost(t, s, strings.Repeat("x", 280))); err != nil {
		t.Errorf("280 characters should be accepted: %v", err)
	}
}

func TestService_secondLikeReverts(t *testing.T) {
	svc, _ := newService(0)
	s := newSigner(t)
	_, _ = svc.SubmitPost(ctx, signedPost(t, s, "gm"))

	first, err := svc.SubmitLike(ctx, 0, signedLike(t, s, 0))
	if err != nil || first.Status != ledger.TxConfirmed {
		t.Fatalf("first like: %+v, %v", first, err)
	}
	second, err := svc.SubmitLike(ctx, 0, signedLike(t, s, 0))
	if err != nil {
		t.Fatalf("second like submission: %v", err)
	}
	if second.Status != ledger.TxReverted || second.Error == "" {
		t.Errorf("second like: %+v", second)
	}
}

func TestService_likeUnknownIndexReverts(t *testing.T) {
	svc, _ := newService(0)
	s := newSigner(t)
	st, err := svc.SubmitLike(ctx, 9, signedLike(t, s, 9))
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != ledger.TxReverted {
		t.Errorf("status: %q", st.Status)
	}
}

func TestService_blockTimeQueuesUntilMined(t *testing.T) {
	svc, store := newService(time.Hour)
	s := newSigner(t)

	a, _ := svc.SubmitPost(ctx, signedPost(t, s, "one"))
	b, _ := svc.SubmitPost(ctx, signedPost(t, s, "two"))
	if a.Status != ledger.TxPending || b.Status != ledger.TxPending {
		t.Fatalf("expected pending, got %q and %q", a.Status, b.Status)
	}
	if a.ID == b.ID {
		t.Error("transaction ids must be unique")
	}
	if n, _ := store.Total(ctx); n != 0 {
		t.Errorf("nothing should execute before mining, total=%d", n)
	}

	if ran := svc.Mine(ctx); ran != 2 {
		t.Errorf("mined %d, want 2", ran)
	}
	msgs, _ := store.Messages(ctx, 0, 10)
	if len(msgs) != 2 || msgs[0].Text != "one" || msgs[1].Text != "two" {
		t.Errorf("execution order: %+v", msgs)
	}
	if st, _ := svc.Tx(b.ID); st.Status != ledger.TxConfirmed {
		t.Errorf("after mining: %q", st.Status)
	}
}

func TestService_unknownTx(t *testing.T) {
	svc, _ := newService(0)
	if _, err := svc.Tx("0x1234"); !errors.Is(err, devledger.ErrTxNotFound) {
		t.Errorf("expected ErrTxNotFound, got %v", err)
	}
}
