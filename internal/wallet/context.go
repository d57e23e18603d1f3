package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// NetworkStatus classifies the agent's current network.
type NetworkStatus int

const (
	NetworkUnknown NetworkStatus = iota
	NetworkCorrect
	NetworkWrong
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkCorrect:
		return "correct"
	case NetworkWrong:
		return "wrong"
	default:
		return "unknown"
	}
}

// ConnectionState is the identity the client is currently operating under.
type ConnectionState struct {
	Network NetworkStatus
	ChainID uint64
	Account common.Address // zero value means no account
}

// Connected reports whether an account is authorized.
func (s ConnectionState) Connected() bool {
	return s.Account != (common.Address{})
}

// CanWrite reports whether writes may be submitted.
func (s ConnectionState) CanWrite() bool {
	return s.Connected() && s.Network == NetworkCorrect
}

// Context owns the ConnectionState and the context generation. It is safe
// for concurrent use.
type Context struct {
	agent    Agent
	expected Network
	logger   *zap.Logger

	mu     sync.RWMutex
	state  ConnectionState
	gen    uint64
	signer ledger.Signer
}

// NewContext creates a Context for the expected ledger network. agent may be
// nil when no wallet is available.
func NewContext(agent Agent, expected Network, logger *zap.Logger) *Context {
	return &Context{
		agent:    agent,
		expected: expected,
		logger:   logger,
		gen:      1,
	}
}

// Expected returns the network the ledger lives on.
func (c *Context) Expected() Network { return c.expected }

// HasAgent reports whether a signing agent was injected.
func (c *Context) HasAgent() bool { return c.agent != nil }

// State returns a copy of the current state.
func (c *Context) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Generation returns the current context generation. It increases every time
// the network changes underneath the client.
func (c *Context) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Notifications returns the agent's notification channel, or nil without an agent.
func (c *Context) Notifications() <-chan Notification {
	if c.agent == nil {
		return nil
	}
	return c.agent.Notifications()
}

// Init reads the agent's current network.
func (c *Context) Init(ctx context.Context) {
	if c.agent == nil {
		return
	}
	id, err := c.agent.ChainID(ctx)
	if err != nil {
		c.logger.Warn("wallet: read chain id", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.state.ChainID = id
	c.state.Network = c.classify(id)
	c.mu.Unlock()
}

// Connect requests account access from the agent.
func (c *Context) Connect(ctx context.Context) error {
	if c.agent == nil {
		return ErrNoWalletFound
	}
	accounts, err := c.agent.RequestAccounts(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	if len(accounts) == 0 {
		return ErrUserRejected
	}
	signer, err := c.agent.Signer(ctx, accounts[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	}

	c.mu.Lock()
	c.state.Account = accounts[0]
	c.signer = signer
	c.mu.Unlock()

	c.logger.Info("wallet connected", zap.String("account", accounts[0].Hex()))
	return nil
}

// RequestNetworkSwitch asks the agent to move to the expected network. On
// failure the state is left unchanged.
func (c *Context) RequestNetworkSwitch(ctx context.Context) error {
	if c.agent == nil {
		return ErrNoWalletFound
	}
	if err := c.agent.SwitchNetwork(ctx, c.expected.ChainID); err != nil {
		return fmt.Errorf("%w: %v", ErrSwitchRejected, err)
	}
	return nil
}

// RequestNetworkAdd registers the expected network with the agent. On
// failure the state is left unchanged.
func (c *Context) RequestNetworkAdd(ctx context.Context) error {
	if c.agent == nil {
		return ErrNoWalletFound
	}
	if err := c.agent.AddNetwork(ctx, c.expected); err != nil {
		return fmt.Errorf("%w: %v", ErrAddFailed, err)
	}
	return nil
}

// HandleAccountsChanged applies an accountsChanged notification. An empty
// list drops the account; cached entries are not affected.
func (c *Context) HandleAccountsChanged(ctx context.Context, accounts []common.Address) {
	c.mu.Lock()
	if len(accounts) == 0 {
		c.state.Account = common.Address{}
		c.signer = nil
		c.mu.Unlock()
		c.logger.Info("wallet disconnected")
		return
	}
	if accounts[0] == c.state.Account {
		c.mu.Unlock()
		return
	}
	c.state.Account = accounts[0]
	c.signer = nil
	c.mu.Unlock()

	if c.agent == nil {
		return
	}
	// The new account is already authorized by the agent.
	if signer, err := c.agent.Signer(ctx, accounts[0]); err == nil {
		c.mu.Lock()
		if c.state.Account == accounts[0] {
			c.signer = signer
		}
		c.mu.Unlock()
	} else {
		c.logger.Warn("wallet: signer for new account", zap.Error(err))
	}
	c.logger.Info("wallet account changed", zap.String("account", accounts[0].Hex()))
}

// HandleChainChanged applies a chainChanged notification and starts a new
// generation. Everything issued under the previous generation is stale.
func (c *Context) HandleChainChanged(chainID uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.state.ChainID = chainID
	c.state.Network = c.classify(chainID)
	c.logger.Info("wallet network changed",
		zap.Uint64("chain_id", chainID),
		zap.Stringer("network", c.state.Network),
		zap.Uint64("generation", c.gen),
	)
	return c.gen
}

// Signer returns the signer for the connected account.
func (c *Context) Signer() (ledger.Signer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.signer == nil {
		return nil, fmt.Errorf("%w: no connected account", ErrUserRejected)
	}
	return c.signer, nil
}

func (c *Context) classify(chainID uint64) NetworkStatus {
	if chainID == 0 {
		return NetworkUnknown
	}
	if chainID == c.expected.ChainID {
		return NetworkCorrect
	}
	return NetworkWrong
}
