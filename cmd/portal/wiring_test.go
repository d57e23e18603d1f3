package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/basely/portal/internal/engine"
	"github.com/basely/portal/internal/view"
	"github.com/basely/portal/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// testKey is the first well-known local development key.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func resetConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestNewDialerRejectsBadConfig(t *testing.T) {
	resetConfig(t)

	viper.Set("ledger.backend", "ethereum")
	viper.Set("ledger.contract", "not-an-address")
	if _, err := newDialer(zap.NewNop()); err == nil {
		t.Fatal("expected error for bad contract address")
	}

	viper.Set("ledger.backend", "carrier-pigeon")
	if _, err := newDialer(zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	viper.Set("ledger.backend", "devnet")
	if _, err := newDialer(zap.NewNop()); err != nil {
		t.Fatalf("devnet dialer: %v", err)
	}
}

func TestExpectedNetworkFromConfig(t *testing.T) {
	resetConfig(t)
	viper.Set("network.chain_id", 31337)
	viper.Set("network.name", "Localhost")
	viper.Set("network.rpc_url", "http://localhost:8545")

	n, err := expectedNetwork()
	if err != nil {
		t.Fatalf("expectedNetwork: %v", err)
	}
	if n.ChainID != 31337 || n.Name != "Localhost" {
		t.Errorf("network = %+v", n)
	}

	viper.Set("network.rpc_url", "")
	if _, err := expectedNetwork(); err == nil {
		t.Error("expected validation error without rpc url")
	}
}

func TestNewAgent(t *testing.T) {
	resetConfig(t)

	agent, err := newAgent(wallet.Localhost, nil, zap.NewNop())
	if err != nil || agent != nil {
		t.Fatalf("no key: agent = %v, err = %v; want nil, nil", agent, err)
	}

	viper.Set("wallet.private_key", "0x"+testKey)
	agent, err = newAgent(wallet.Localhost, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("newAgent: %v", err)
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if agent.Address() != want {
		t.Errorf("address = %s, want %s", agent.Address(), want)
	}
	id, _ := agent.ChainID(context.Background())
	if id != wallet.Localhost.ChainID {
		t.Errorf("agent starts on chain %d, want %d", id, wallet.Localhost.ChainID)
	}

	viper.Set("wallet.start_chain_id", 1)
	agent, err = newAgent(wallet.Localhost, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("newAgent: %v", err)
	}
	if id, _ := agent.ChainID(context.Background()); id != 1 {
		t.Errorf("agent starts on chain %d, want 1", id)
	}
}

func TestNewContextWithoutAgent(t *testing.T) {
	c := newContext(nil, wallet.Localhost, zap.NewNop())
	if c.HasAgent() {
		t.Error("nil agent must not count as a wallet")
	}
}

func TestLoadKeyRejectsGarbage(t *testing.T) {
	resetConfig(t)
	viper.Set("wallet.private_key", "zz")
	if _, err := loadKey(); err == nil {
		t.Error("expected parse error")
	}
}

func TestPromptApprove(t *testing.T) {
	lines := make(chan string, 2)
	approve := promptApprove(lines)
	ctx := context.Background()

	lines <- " Yes "
	ok, err := approve(ctx, common.Address{})
	if err != nil || !ok {
		t.Errorf("yes: ok = %v, err = %v", ok, err)
	}

	lines <- "nope"
	ok, err = approve(ctx, common.Address{})
	if err != nil || ok {
		t.Errorf("nope: ok = %v, err = %v", ok, err)
	}

	close(lines)
	if _, err := approve(ctx, common.Address{}); err == nil {
		t.Error("expected error once stdin is closed")
	}
}

func TestReadLines(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	lines := make(chan string)
	go readLines(ctx, strings.NewReader("post hi\nlike 3\n"), lines)

	var got []string
	for l := range lines {
		got = append(got, l)
	}
	if len(got) != 2 || got[0] != "post hi" || got[1] != "like 3" {
		t.Errorf("lines = %q", got)
	}
}

func TestRenderPlainReportsStatusChanges(t *testing.T) {
	var buf bytes.Buffer
	s := &screen{out: &buf}

	s.render(engine.View{Status: "Loading messages..."})
	s.render(engine.View{Status: "Loading messages..."})
	s.render(engine.View{Status: "Message posted"})

	want := "Loading messages...\nMessage posted\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestRenderTableTail(t *testing.T) {
	var buf bytes.Buffer
	s := &screen{out: &buf, tail: 2, clear: true}

	rows := []view.Row{
		{Index: 0, Text: "first"},
		{Index: 1, Text: "second", Likes: 2, Liked: true},
		{Index: 2, Text: "third", Likes: 1, Pending: true},
	}
	s.render(engine.View{Rows: rows, Live: true, Generation: 1})

	out := buf.String()
	if strings.Contains(out, "first") {
		t.Error("tail should hide the oldest row")
	}
	for _, want := range []string{"second", "2 (liked)", "1 (liking)", "3 messages", "live"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestExecUsage(t *testing.T) {
	var buf bytes.Buffer
	s := &screen{out: &buf}

	if quit := s.exec(context.Background(), nil, nil, "like abc"); quit {
		t.Fatal("like abc should not quit")
	}
	if !strings.Contains(buf.String(), "usage: like <index>") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	s.exec(context.Background(), nil, nil, "disconnect")
	if !strings.Contains(buf.String(), "no wallet configured") {
		t.Errorf("output = %q", buf.String())
	}

	if quit := s.exec(context.Background(), nil, nil, "QUIT"); !quit {
		t.Error("quit should end the session")
	}
}
