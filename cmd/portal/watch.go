package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/basely/portal/internal/engine"
	"github.com/basely/portal/internal/view"
	"github.com/basely/portal/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var watchTail int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the ledger live and post or like interactively",
	Long: `watch loads every message, follows new messages and likes as they
land, and reads commands from stdin:

  post <text>    post a message
  like <index>   like a message
  refresh        reload messages from the ledger
  connect        connect the wallet account
  disconnect     drop the wallet account
  switch         ask the wallet to switch to the ledger network
  add            add the ledger network to the wallet and switch to it
  quit           exit`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchTail, "tail", 20, "number of most recent messages to show (0 for all)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	expected, err := expectedNetwork()
	if err != nil {
		return err
	}
	dial, err := newDialer(logger)
	if err != nil {
		return err
	}
	cfg, err := engineConfig()
	if err != nil {
		return err
	}

	// Stdin is read only after a keystore password prompt has finished.
	lines := make(chan string)
	agent, err := newAgent(expected, promptApprove(lines), logger)
	if err != nil {
		return err
	}
	go readLines(ctx, os.Stdin, lines)

	e := engine.New(cfg, dial, newContext(agent, expected, logger), logger)
	serveMetrics(ctx, viper.GetString("metrics.addr"), logger)

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	out := cmd.OutOrStdout()
	s := &screen{out: out, tail: watchTail, clear: isTerminal(out)}
	s.render(e.View())

	for {
		select {
		case err := <-runErr:
			return err
		case <-e.Changes():
			s.render(e.View())
		case line, ok := <-lines:
			if !ok {
				stop()
				return <-runErr
			}
			if quit := s.exec(ctx, e, agent, line); quit {
				stop()
				return <-runErr
			}
		}
	}
}

type screen struct {
	out   io.Writer
	tail  int
	clear bool
	last  string
}

func (s *screen) render(v engine.View) {
	if !s.clear {
		// Plain output: only report status changes.
		if v.Status != "" && v.Status != s.last {
			fmt.Fprintln(s.out, v.Status)
		}
		s.last = v.Status
		return
	}

	fmt.Fprint(s.out, "\033[H\033[2J")
	fmt.Fprintln(s.out, header(v))

	rows := v.Rows
	if s.tail > 0 && len(rows) > s.tail {
		rows = rows[len(rows)-s.tail:]
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tFROM\tTIME\tLIKES\tMESSAGE")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.Index, view.ShortAddress(r.Sender), r.Time().Format("Jan 2 15:04"), likes(r), r.Text)
	}
	w.Flush()

	if v.Status != "" {
		fmt.Fprintln(s.out, "\n"+v.Status)
	}
	fmt.Fprint(s.out, "> ")
}

func header(v engine.View) string {
	account := "not connected"
	if v.State.Connected() {
		account = view.ShortAddress(v.State.Account)
	}
	live := "offline"
	if v.Live {
		live = "live"
	}
	if v.Loading {
		live = "loading"
	}
	return fmt.Sprintf("account %s | network %s (chain %d) | %s | %d messages",
		account, v.State.Network, v.State.ChainID, live, len(v.Rows))
}

func likes(r view.Row) string {
	switch {
	case r.Pending:
		return fmt.Sprintf("%d (liking)", r.Likes)
	case r.Liked:
		return fmt.Sprintf("%d (liked)", r.Likes)
	default:
		return strconv.FormatUint(r.Likes, 10)
	}
}

// exec runs one command line. Writes run in the background; their outcome
// shows up in the status line.
func (s *screen) exec(ctx context.Context, e *engine.Engine, agent *wallet.KeyAgent, line string) bool {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(verb) {
	case "":
	case "quit", "exit", "q":
		return true
	case "post":
		go func() {
			if _, err := e.SubmitPost(ctx, rest); err != nil {
				logger.Debug("post", zap.Error(err))
			}
		}()
	case "like":
		index, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			s.say("usage: like <index>")
			return false
		}
		go func() {
			if _, err := e.SubmitLike(ctx, index); err != nil {
				logger.Debug("like", zap.Error(err))
			}
		}()
	case "refresh":
		_ = e.Refresh(ctx)
	case "connect":
		_ = e.Connect(ctx)
	case "disconnect":
		if agent == nil {
			s.say("no wallet configured")
			return false
		}
		agent.Disconnect()
	case "switch":
		_ = e.SwitchNetwork(ctx)
	case "add":
		_ = e.AddNetwork(ctx)
	case "help", "?":
		s.say("commands: post <text>, like <index>, refresh, connect, disconnect, switch, add, quit")
	default:
		s.say(fmt.Sprintf("unknown command %q (try help)", verb))
	}
	return false
}

func (s *screen) say(msg string) {
	fmt.Fprintln(s.out, msg)
	if s.clear {
		fmt.Fprint(s.out, "> ")
	}
}

// readLines feeds lines from r to out until EOF or ctx ends, then closes out.
func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// promptApprove asks on stdin before handing the account to the client. It
// runs on the command loop, so it can take the next line itself.
func promptApprove(lines <-chan string) wallet.ApproveFunc {
	return func(ctx context.Context, account common.Address) (bool, error) {
		fmt.Printf("\nAllow portal to use account %s? [y/N]: ", account.Hex())
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return false, io.EOF
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			return answer == "y" || answer == "yes", nil
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
