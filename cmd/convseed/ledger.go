package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/convseed/internal/config"
	"github.com/joshsymonds/convseed/internal/ledger"
	"github.com/joshsymonds/convseed/internal/report"
)

func newLedgerCmd(opts *options) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ledger [run-id]",
		Short: "Summarize runs recorded in the sqlite ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// only the ledger path matters here, so the rest of the config is not validated
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			path := cfg.Ledger
			if cmd.Flags().Changed("ledger") {
				path = opts.ledger
			}
			if path == "" {
				return fmt.Errorf("no ledger configured (set ledger in %s or pass --ledger)", opts.configPath)
			}

			ctx := cmd.Context()
			led, err := ledger.Open(ctx, path)
			if err != nil {
				return err
			}
			defer func() { _ = led.Close() }()

			var runs []ledger.RunSummary
			if len(args) == 1 {
				sum, err := led.Summary(ctx, args[0])
				if err != nil {
					return err
				}
				runs = []ledger.RunSummary{sum}
			} else if runs, err = led.ListRuns(ctx, limit); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return report.PrintRuns(runs, time.Now(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print summaries as JSON")
	return cmd
}
