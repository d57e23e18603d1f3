package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/basely/portal/internal/engine"
	"github.com/basely/portal/internal/wallet"
	"github.com/basely/portal/internal/writes"
	"github.com/spf13/cobra"
)

var writeTimeout time.Duration

var postCmd = &cobra.Command{
	Use:   "post <text>",
	Short: "Post a message and wait for confirmation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withWriter(cmd.Context(), func(ctx context.Context, e *engine.Engine) (writes.Action, error) {
			return e.SubmitPost(ctx, text)
		})
	},
}

var likeCmd = &cobra.Command{
	Use:   "like <index>",
	Short: "Like a message and wait for confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}
		return withWriter(cmd.Context(), func(ctx context.Context, e *engine.Engine) (writes.Action, error) {
			return e.SubmitLike(ctx, index)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{postCmd, likeCmd} {
		c.Flags().DurationVar(&writeTimeout, "timeout", 2*time.Minute, "how long to wait for confirmation")
	}
}

// withWriter starts an engine with the configured key, connects the account
// and runs one write to completion.
func withWriter(parent context.Context, write func(context.Context, *engine.Engine) (writes.Action, error)) error {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()

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
	agent, err := newAgent(expected, nil, logger)
	if err != nil {
		return err
	}
	if agent == nil {
		return errNoKey
	}

	e := engine.New(cfg, dial, wallet.NewContext(agent, expected, logger), logger)
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()
	defer func() {
		cancel()
		<-runErr
	}()

	if _, err := waitReady(ctx, e); err != nil {
		return err
	}
	if err := e.Connect(ctx); err != nil {
		return err
	}
	v := e.View()
	if v.State.Network != wallet.NetworkCorrect {
		return errors.New(v.Status)
	}

	a, err := write(ctx, e)
	if err != nil {
		return err
	}
	fmt.Printf("%s confirmed (%s)\n", a.Kind, a.ID)
	return nil
}
