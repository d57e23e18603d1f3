package wallet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/basely/portal/internal/ledger"
	"github.com/basely/portal/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ── Fake agent ───────────────────────────────────────────────────────────

type fakeAgent struct {
	accounts  []common.Address
	chainID   uint64
	rejectReq bool
	switchErr error
	addErr    error
	events    chan wallet.Notification
}

func newFakeAgent(chainID uint64) *fakeAgent {
	return &fakeAgent{
		accounts: []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000a1")},
		chainID:  chainID,
		events:   make(chan wallet.Notification, 4),
	}
}

func (f *fakeAgent) RequestAccounts(context.Context) ([]common.Address, error) {
	if f.rejectReq {
		return nil, errors.New("user rejected the request")
	}
	return f.accounts, nil
}

func (f *fakeAgent) ChainID(context.Context) (uint64, error) { return f.chainID, nil }

func (f *fakeAgent) SwitchNetwork(_ context.Context, id uint64) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.chainID = id
	return nil
}

func (f *fakeAgent) AddNetwork(context.Context, wallet.Network) error { return f.addErr }

func (f *fakeAgent) Signer(_ context.Context, a common.Address) (ledger.Signer, error) {
	return fakeSigner{a}, nil
}

func (f *fakeAgent) Notifications() <-chan wallet.Notification { return f.events }

type fakeSigner struct{ addr common.Address }

func (s fakeSigner) Address() common.Address         { return s.addr }
func (s fakeSigner) SignHash([]byte) ([]byte, error) { return make([]byte, 65), nil }

var ctx = context.Background()

// ── Tests ────────────────────────────────────────────────────────────────

func TestConnect_noWallet(t *testing.T) {
	c := wallet.NewContext(nil, wallet.BaseSepolia, zap.NewNop())
	if err := c.Connect(ctx); !errors.Is(err, wallet.ErrNoWalletFound) {
		t.Fatalf("expected ErrNoWalletFound, got %v", err)
	}
	if c.State().Connected() {
		t.Error("state should remain disconnected")
	}
}

func TestConnect_userRejected(t *testing.T) {
	agent := newFakeAgent(wallet.BaseSepolia.ChainID)
	agent.rejectReq = true
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())

	if err := c.Connect(ctx); !errors.Is(err, wallet.ErrUserRejected) {
		t.Fatalf("expected ErrUserRejected, got %v", err)
	}
	if c.State().Connected() {
		t.Error("state should remain disconnected")
	}
}

func TestConnect_success(t *testing.T) {
	agent := newFakeAgent(wallet.BaseSepolia.ChainID)
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())
	c.Init(ctx)

	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	st := c.State()
	if st.Account != agent.accounts[0] {
		t.Errorf("account: got %s, want %s", st.Account.Hex(), agent.accounts[0].Hex())
	}
	if st.Network != wallet.NetworkCorrect {
		t.Errorf("network: got %v, want correct", st.Network)
	}
	if !st.CanWrite() {
		t.Error("expected CanWrite on correct network with an account")
	}
	if _, err := c.Signer(); err != nil {
		t.Errorf("Signer(): %v", err)
	}
}

func TestInit_wrongNetwork(t *testing.T) {
	agent := newFakeAgent(1)
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())
	c.Init(ctx)

	if got := c.State().Network; got != wallet.NetworkWrong {
		t.Errorf("network: got %v, want wrong", got)
	}
}

func TestAccountsChanged_emptyDropsAccount(t *testing.T) {
	agent := newFakeAgent(wallet.BaseSepolia.ChainID)
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	gen := c.Generation()

	c.HandleAccountsChanged(ctx, nil)

	if c.State().Connected() {
		t.Error("expected account none after empty accountsChanged")
	}
	if _, err := c.Signer(); err == nil {
		t.Error("expected Signer() to fail without an account")
	}
	if c.Generation() != gen {
		t.Error("account change must not start a new generation")
	}
}

func TestAccountsChanged_newAccount(t *testing.T) {
	agent := newFakeAgent(wallet.BaseSepolia.ChainID)
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	c.HandleAccountsChanged(ctx, []common.Address{other})

	if c.State().Account != other {
		t.Errorf("account: got %s, want %s", c.State().Account.Hex(), other.Hex())
	}
	s, err := c.Signer()
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() != other {
		t.Errorf("signer address: got %s, want %s", s.Address().Hex(), other.Hex())
	}
}

func TestChainChanged_bumpsGeneration(t *testing.T) {
	agent := newFakeAgent(wallet.BaseSepolia.ChainID)
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())
	c.Init(ctx)
	before := c.Generation()

	gen := c.HandleChainChanged(1)
	if gen != before+1 {
		t.Errorf("generation: got %d, want %d", gen, before+1)
	}
	if c.State().Network != wallet.NetworkWrong {
		t.Errorf("network: got %v, want wrong", c.State().Network)
	}

	c.HandleChainChanged(wallet.BaseSepolia.ChainID)
	if c.State().Network != wallet.NetworkCorrect {
		t.Errorf("network: got %v, want correct", c.State().Network)
	}
}

func TestRequestNetworkSwitch_rejectedLeavesState(t *testing.T) {
	agent := newFakeAgent(1)
	agent.switchErr = errors.New("user rejected")
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())
	c.Init(ctx)
	before := c.State()

	if err := c.RequestNetworkSwitch(ctx); !errors.Is(err, wallet.ErrSwitchRejected) {
		t.Fatalf("expected ErrSwitchRejected, got %v", err)
	}
	if c.State() != before {
		t.Errorf("state changed on rejected switch: %+v → %+v", before, c.State())
	}
}

func TestRequestNetworkAdd_failure(t *testing.T) {
	agent := newFakeAgent(1)
	agent.addErr = errors.New("invalid rpc")
	c := wallet.NewContext(agent, wallet.BaseSepolia, zap.NewNop())
	c.Init(ctx)
	before := c.State()

	if err := c.RequestNetworkAdd(ctx); !errors.Is(err, wallet.ErrAddFailed) {
		t.Fatalf("expected ErrAddFailed, got %v", err)
	}
	if c.State() != before {
		t.Error("state changed on failed add")
	}
}
