package wallet

import (
	"context"
	"testing"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

func newTestAgent(t *testing.T, approve ApproveFunc) *KeyAgent {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return NewKeyAgent(key, BaseSepolia, approve, zap.NewNop())
}

func TestKeyAgent_signerRequiresAuthorization(t *testing.T) {
	a := newTestAgent(t, nil)
	if _, err := a.Signer(context.Background(), a.Address()); err == nil {
		t.Fatal("expected Signer to fail before RequestAccounts")
	}

	accts, err := a.RequestAccounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(accts) != 1 || accts[0] != a.Address() {
		t.Fatalf("unexpected accounts %v", accts)
	}
	if _, err := a.Signer(context.Background(), a.Address()); err != nil {
		t.Fatalf("Signer after authorization: %v", err)
	}
}

func TestKeyAgent_denied(t *testing.T) {
	a := newTestAgent(t, func(context.Context, common.Address) (bool, error) { return false, nil })
	if _, err := a.RequestAccounts(context.Background()); err == nil {
		t.Fatal("expected denial")
	}
}

func TestKeyAgent_switchUnknownNetwork(t *testing.T) {
	a := newTestAgent(t, nil)
	if err := a.SwitchNetwork(context.Background(), 999); err == nil {
		t.Fatal("expected error switching to unknown network")
	}
	id, _ := a.ChainID(context.Background())
	if id != BaseSepolia.ChainID {
		t.Errorf("chain id changed to %d", id)
	}
}

func TestKeyAgent_addNetworkSwitchesAndNotifies(t *testing.T) {
	a := newTestAgent(t, nil)
	if err := a.AddNetwork(context.Background(), Localhost); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-a.Notifications():
		if n.Kind != ChainChanged || n.ChainID != Localhost.ChainID {
			t.Errorf("unexpected notification %+v", n)
		}
	default:
		t.Fatal("expected chainChanged notification")
	}
}

func TestKeyAgent_addInvalidNetwork(t *testing.T) {
	a := newTestAgent(t, nil)
	if err := a.AddNetwork(context.Background(), Network{Name: "broken"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestKeyAgent_signatureRecoversAddress(t *testing.T) {
	a := newTestAgent(t, nil)
	if _, err := a.RequestAccounts(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, err := a.Signer(context.Background(), a.Address())
	if err != nil {
		t.Fatal(err)
	}

	payload := ledger.PostPayload(BaseSepolia.ChainID, 1, "gm")
	sig, err := ledger.SignPayload(s, payload)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ledger.RecoverSigner(payload, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got != a.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), a.Address().Hex())
	}
}

func TestKeyAgent_disconnectNotifiesEmptyAccounts(t *testing.T) {
	a := newTestAgent(t, nil)
	_, _ = a.RequestAccounts(context.Background())
	a.Disconnect()

	n := <-a.Notifications()
	if n.Kind != AccountsChanged || len(n.Accounts) != 0 {
		t.Errorf("unexpected notification %+v", n)
	}
	if _, err := a.Signer(context.Background(), a.Address()); err == nil {
		t.Error("expected Signer to fail after Disconnect")
	}
}
