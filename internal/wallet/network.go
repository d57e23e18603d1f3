package wallet

import "fmt"

// Currency describes a network's native currency.
type Currency struct {
	Name     string `mapstructure:"name" json:"name"`
	Symbol   string `mapstructure:"symbol" json:"symbol"`
	Decimals int    `mapstructure:"decimals" json:"decimals"`
}

// Network is the descriptor handed to the agent by RequestNetworkAdd.
type Network struct {
	ChainID     uint64   `mapstructure:"chain_id" json:"chain_id"`
	Name        string   `mapstructure:"name" json:"name"`
	RPCURL      string   `mapstructure:"rpc_url" json:"rpc_url"`
	ExplorerURL string   `mapstructure:"explorer_url" json:"explorer_url"`
	Currency    Currency `mapstructure:"currency" json:"currency"`
}

// Validate checks the fields an agent needs to add the network.
func (n Network) Validate() error {
	if n.ChainID == 0 {
		return fmt.Errorf("network %q: chain id is required", n.Name)
	}
	if n.RPCURL == "" {
		return fmt.Errorf("network %q: rpc url is required", n.Name)
	}
	return nil
}

// HexChainID renders the chain id the way wallets expect it.
func (n Network) HexChainID() string {
	return fmt.Sprintf("0x%x", n.ChainID)
}

// BaseSepolia is the default ledger network.
var BaseSepolia = Network{
	ChainID:     84532,
	Name:        "Base Sepolia",
	RPCURL:      "https://sepolia.base.org",
	ExplorerURL: "https://sepolia.basescan.org",
	Currency:    Currency{Name: "Ether", Symbol: "ETH", Decimals: 18},
}

// Localhost is the dev ledger network.
var Localhost = Network{
	ChainID:  31337,
	Name:     "Localhost",
	RPCURL:   "http://localhost:8545",
	Currency: Currency{Name: "Ether", Symbol: "ETH", Decimals: 18},
}
