package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ApproveFunc asks the operator to approve an account request.
type ApproveFunc func(ctx context.Context, account common.Address) (bool, error)

// KeyAgent is a signing agent backed by a single local private key. It keeps
// its own list of known networks and emits the same notifications a browser
// wallet would.
type KeyAgent struct {
	key     *ecdsa.PrivateKey
	address common.Address
	approve ApproveFunc
	logger  *zap.Logger
	events  chan Notification

	mu         sync.Mutex
	networks   map[uint64]Network
	current    uint64
	authorized bool
}

// NewKeyAgent creates an agent on network current. approve may be nil to
// grant account access without asking.
func NewKeyAgent(key *ecdsa.PrivateKey, current Network, approve ApproveFunc, logger *zap.Logger) *KeyAgent {
	return &KeyAgent{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		approve:  approve,
		logger:   logger,
		events:   make(chan Notification, 16),
		networks: map[uint64]Network{current.ChainID: current},
		current:  current.ChainID,
	}
}

// KeyAgentFromHex parses a hex private key (with or without 0x).
func KeyAgentFromHex(hexKey string, current Network, approve ApproveFunc, logger *zap.Logger) (*KeyAgent, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeyAgent(key, current, approve, logger), nil
}

// Address returns the agent's account.
func (a *KeyAgent) Address() common.Address { return a.address }

// RequestAccounts implements Agent.
func (a *KeyAgent) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if a.approve != nil {
		ok, err := a.approve(ctx, a.address)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("user denied account access")
		}
	}
	a.mu.Lock()
	a.authorized = true
	a.mu.Unlock()
	return []common.Address{a.address}, nil
}

// ChainID implements Agent.
func (a *KeyAgent) ChainID(_ context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, nil
}

// SwitchNetwork implements Agent. Only networks the agent knows about can be
// selected.
func (a *KeyAgent) SwitchNetwork(_ context.Context, chainID uint64) error {
	a.mu.Lock()
	if _, ok := a.networks[chainID]; !ok {
		a.mu.Unlock()
		return fmt.Errorf("unrecognized chain id 0x%x", chainID)
	}
	changed := a.current != chainID
	a.current = chainID
	a.mu.Unlock()

	if changed {
		a.emit(Notification{Kind: ChainChanged, ChainID: chainID})
	}
	return nil
}

// AddNetwork implements Agent. Like browser wallets, adding a network also
// switches to it.
func (a *KeyAgent) AddNetwork(ctx context.Context, n Network) error {
	if err := n.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.networks[n.ChainID] = n
	a.mu.Unlock()
	a.logger.Info("agent: network added", zap.String("name", n.Name), zap.String("chain_id", n.HexChainID()))
	return a.SwitchNetwork(ctx, n.ChainID)
}

// Signer implements Agent.
func (a *KeyAgent) Signer(_ context.Context, account common.Address) (ledger.Signer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.authorized {
		return nil, errors.New("account access not granted")
	}
	if account != a.address {
		return nil, fmt.Errorf("unknown account %s", account.Hex())
	}
	return keySigner{key: a.key, address: a.address}, nil
}

// Disconnect revokes account access and notifies listeners with an empty
// account list.
func (a *KeyAgent) Disconnect() {
	a.mu.Lock()
	a.authorized = false
	a.mu.Unlock()
	a.emit(Notification{Kind: AccountsChanged})
}

// Notifications implements Agent.
func (a *KeyAgent) Notifications() <-chan Notification { return a.events }

func (a *KeyAgent) emit(n Notification) {
	select {
	case a.events <- n:
	default:
		a.logger.Warn("agent: notification dropped, listener not draining")
	}
}

type keySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (s keySigner) Address() common.Address { return s.address }

func (s keySigner) SignHash(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, s.key)
}
