package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/basely/portal/internal/engine"
	"github.com/basely/portal/internal/ledger"
	"github.com/basely/portal/internal/wallet"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var errNoKey = errors.New("no key configured: set wallet.private_key or wallet.keystore")

func newLogger(level, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if file != "" {
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{file}
	}
	return cfg.Build()
}

// expectedNetwork is the network the ledger lives on.
func expectedNetwork() (wallet.Network, error) {
	var n wallet.Network
	if err := viper.UnmarshalKey("network", &n); err != nil {
		return wallet.Network{}, fmt.Errorf("network config: %w", err)
	}
	if err := n.Validate(); err != nil {
		return wallet.Network{}, err
	}
	return n, nil
}

func engineConfig() (engine.Config, error) {
	var cfg engine.Config
	if err := viper.UnmarshalKey("engine", &cfg); err != nil {
		return engine.Config{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

func newDialer(logger *zap.Logger) (engine.Dialer, error) {
	switch backend := viper.GetString("ledger.backend"); backend {
	case "ethereum":
		contract := viper.GetString("ledger.contract")
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("ledger.contract %q is not an address", contract)
		}
		rpcURL := viper.GetString("ledger.rpc_url")
		address := common.HexToAddress(contract)
		return func(ctx context.Context) (ledger.Ledger, error) {
			l, err := ledger.DialEthereum(ctx, rpcURL, address, logger)
			if err != nil {
				return nil, err
			}
			return l, nil
		}, nil
	case "devnet":
		base := viper.GetString("ledger.devnet_url")
		return func(ctx context.Context) (ledger.Ledger, error) {
			l, err := ledger.DialDevnet(ctx, base, logger)
			if err != nil {
				return nil, err
			}
			return l, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

// loadKey reads the configured private key, decrypting a keystore file if
// one is set.
func loadKey() (*ecdsa.PrivateKey, error) {
	if hexKey := viper.GetString("wallet.private_key"); hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return key, nil
	}

	path := viper.GetString("wallet.keystore")
	if path == "" {
		return nil, errNoKey
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	password := viper.GetString("wallet.keystore_password")
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, errors.New("keystore password required: set wallet.keystore_password")
		}
		fmt.Fprint(os.Stderr, "Keystore password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		password = string(pw)
	}
	k, err := keystore.DecryptKey(blob, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return k.PrivateKey, nil
}

// newAgent builds the signing agent. It returns a nil agent, not an error,
// when no key is configured so the client can still run read-only.
func newAgent(expected wallet.Network, approve wallet.ApproveFunc, logger *zap.Logger) (*wallet.KeyAgent, error) {
	key, err := loadKey()
	if errors.Is(err, errNoKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	start := expected
	if id := viper.GetUint64("wallet.start_chain_id"); id != 0 && id != expected.ChainID {
		start = wallet.Network{ChainID: id, Name: fmt.Sprintf("Chain %d", id)}
	}
	if viper.GetBool("wallet.auto_approve") {
		approve = nil
	}
	return wallet.NewKeyAgent(key, start, approve, logger), nil
}

// newContext wraps agent, keeping a nil agent as a nil interface.
func newContext(agent *wallet.KeyAgent, expected wallet.Network, logger *zap.Logger) *wallet.Context {
	if agent == nil {
		return wallet.NewContext(nil, expected, logger)
	}
	return wallet.NewContext(agent, expected, logger)
}

// serveMetrics exposes Prometheus metrics on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
}

// waitReady blocks until the engine has finished its first load.
func waitReady(ctx context.Context, e *engine.Engine) (engine.View, error) {
	for {
		v := e.View()
		if v.Generation > 0 && !v.Loading {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return engine.View{}, ctx.Err()
		case <-e.Changes():
		}
	}
}
