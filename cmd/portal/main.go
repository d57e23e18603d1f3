package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile  string
	logLevel string
	logFile  string

	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Message portal ledger client",
	Long: `portal reads and writes the message ledger.

It loads every message on the ledger, keeps the list current from the
ledger's live events, and posts or likes messages with a local key.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		l, err := newLogger(logLevel, logFile)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default configs/portal.yaml)")
	pf.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	pf.String("backend", "", "ledger backend: ethereum or devnet")
	pf.String("rpc", "", "ethereum JSON-RPC url (ws:// or wss:// for live events)")
	pf.String("contract", "", "message ledger contract address")
	pf.String("devnet", "", "dev ledger url")
	pf.String("key", "", "hex private key (prefer PORTAL_WALLET_PRIVATE_KEY)")
	pf.String("keystore", "", "path to an encrypted keystore file")

	_ = viper.BindPFlag("ledger.backend", pf.Lookup("backend"))
	_ = viper.BindPFlag("ledger.rpc_url", pf.Lookup("rpc"))
	_ = viper.BindPFlag("ledger.contract", pf.Lookup("contract"))
	_ = viper.BindPFlag("ledger.devnet_url", pf.Lookup("devnet"))
	_ = viper.BindPFlag("wallet.private_key", pf.Lookup("key"))
	_ = viper.BindPFlag("wallet.keystore", pf.Lookup("keystore"))

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(likeCmd)
	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("portal")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("configs")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.portal")
		}
	}
	viper.SetEnvPrefix("portal")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ledger.backend", "ethereum")
	viper.SetDefault("ledger.rpc_url", "wss://sepolia.base.org")
	viper.SetDefault("ledger.contract", "")
	viper.SetDefault("ledger.devnet_url", "http://localhost:8545")
	viper.SetDefault("network.chain_id", 84532)
	viper.SetDefault("network.name", "Base Sepolia")
	viper.SetDefault("network.rpc_url", "https://sepolia.base.org")
	viper.SetDefault("network.explorer_url", "https://sepolia.basescan.org")
	viper.SetDefault("network.currency.name", "Ether")
	viper.SetDefault("network.currency.symbol", "ETH")
	viper.SetDefault("network.currency.decimals", 18)
	viper.SetDefault("wallet.private_key", "")
	viper.SetDefault("wallet.keystore", "")
	viper.SetDefault("wallet.keystore_password", "")
	viper.SetDefault("wallet.start_chain_id", 0)
	viper.SetDefault("wallet.auto_approve", false)
	viper.SetDefault("engine.inbox_size", 256)
	viper.SetDefault("engine.page_size", 0)
	viper.SetDefault("engine.max_buffered_likes", 4096)
	viper.SetDefault("metrics.addr", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the portal version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("portal %s\n", version)
	},
}
