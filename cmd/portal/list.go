package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/basely/portal/internal/snapshot"
	"github.com/basely/portal/internal/view"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every message on the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		dial, err := newDialer(logger)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		led, err := dial(ctx)
		if err != nil {
			return err
		}
		defer led.Close()

		entries, err := snapshot.NewLoader(viper.GetUint64("engine.page_size"), logger).LoadAll(ctx, led)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tFROM\tTIME\tLIKES\tMESSAGE")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
				e.Index, view.ShortAddress(e.Sender), e.Time().Format(time.RFC3339), e.Likes, e.Text)
		}
		return w.Flush()
	},
}
