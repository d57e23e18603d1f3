// Package wallet tracks which network and which local account the client is
// authorized under.
//
// The signing agent is an injected capability (Agent). The client never
// reaches for a global wallet; a nil Agent means no wallet is installed and
// the client runs read-only.
package wallet

import (
	"context"
	"errors"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNoWalletFound is returned by Connect when no agent is injected.
	ErrNoWalletFound = errors.New("no wallet found")

	// ErrUserRejected is returned when the agent declines an account or signing request.
	ErrUserRejected = errors.New("request rejected by wallet")

	// ErrSwitchRejected is returned when the agent refuses to switch networks.
	ErrSwitchRejected = errors.New("network switch rejected")

	// ErrAddFailed is returned when the agent fails to add a network.
	ErrAddFailed = errors.New("add network failed")
)

// Agent is the external signing agent.
type Agent interface {
	// RequestAccounts asks the operator for account access.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// ChainID returns the network the agent is currently on.
	ChainID(ctx context.Context) (uint64, error)

	// SwitchNetwork asks the agent to move to chainID.
	SwitchNetwork(ctx context.Context, chainID uint64) error

	// AddNetwork registers a network descriptor with the agent.
	AddNetwork(ctx context.Context, n Network) error

	// Signer returns a signer for an authorized account.
	Signer(ctx context.Context, account common.Address) (ledger.Signer, error)

	// Notifications delivers accountsChanged and chainChanged events.
	Notifications() <-chan Notification
}

// NotificationKind distinguishes agent notifications.
type NotificationKind int

const (
	AccountsChanged NotificationKind = iota + 1
	ChainChanged
)

// Notification is an event pushed by the agent.
type Notification struct {
	Kind     NotificationKind
	Accounts []common.Address // AccountsChanged
	ChainID  uint64           // ChainChanged
}
