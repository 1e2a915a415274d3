package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/rishansujesh/rubber-prices/internal/app"
	"github.com/rishansujesh/rubber-prices/internal/harvest"
	"github.com/rishansujesh/rubber-prices/internal/prices"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "harvest [site]",
		Short: "Harvest rubber prices once",
		Long: `Harvest every site (rubber-india, then sgx-rubber) or just the one named.
Known sites: rubber-india, sgx-rubber, usd-inr.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, "harvest")
			if err != nil {
				return err
			}
			defer a.Close()

			var (
				store harvest.Saver = prices.NewStore(a.DB)
				mem   *prices.MemoryStore
			)
			if dryRun {
				mem = prices.NewMemoryStore()
				store = mem
			}
			runner := a.Runner(store)

			var results []harvest.Result
			if len(args) == 1 {
				res, err := runner.RunTriggered(ctx, args[0], "manual")
				results = append(results, res)
				if errors.Is(err, harvest.ErrUnknownSite) {
					return errors.Wrapf(err, "known sites: rubber-india, sgx-rubber, usd-inr")
				}
				if err != nil {
					return err
				}
			} else {
				results, err = runner.RunAll(ctx)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			for _, res := range results {
				fmt.Fprintln(out, res.String())
			}
			if mem != nil {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(mem.Rows())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and print rows without writing to the database")
	return cmd
}
