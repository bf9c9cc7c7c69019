package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/config"
	"github.com/joshsymonds/convseed/internal/content"
	"github.com/joshsymonds/convseed/internal/ledger"
	"github.com/joshsymonds/convseed/internal/rate"
	"github.com/joshsymonds/convseed/internal/report"
	"github.com/joshsymonds/convseed/internal/runtime"
	"github.com/joshsymonds/convseed/internal/seed"
)

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Seed the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd, opts)
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration, log on and show the user pool without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.dryRun = true
			opts.exit = true
			return runSeed(cmd.Context(), cmd, opts)
		},
	}
}

func newUsersCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List tenant users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logs, err := runtime.NewLoggers(cfg.LogLevel, cfg.SDKLogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logs.App.Sync() }()

			client, err := newClient(cfg, logs)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx := cmd.Context()
			if _, err := client.Logon(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
				return err
			}
			users, err := client.TenantUsers(ctx)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(users)
			case "table":
				return report.PrintUsers(users, cmd.OutOrStdout())
			default:
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

func newClient(cfg *config.Config, logs runtime.Loggers) (circuit.Client, error) {
	client, err := runtime.NewCircuitClient(runtime.Options{
		Domain:       cfg.Domain,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Logger:       logs.SDK,
	})
	if err != nil {
		return nil, fmt.Errorf("create circuit client: %w", err)
	}
	return client, nil
}

func runSeed(ctx context.Context, cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logs, err := runtime.NewLoggers(cfg.LogLevel, cfg.SDKLogLevel)
	if err != nil {
		return err
	}
	logger := logs.App
	defer func() { _ = logger.Sync() }()

	pool, err := content.Load(cfg.ContentPath)
	if err != nil {
		return err
	}
	if err := pool.Validate(); err != nil {
		return err
	}

	client, err := newClient(cfg, logs)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var limiter rate.Limiter = rate.Unlimited{}
	if cfg.RPS > 0 {
		bucket := rate.NewTokenBucket(cfg.RPS, cfg.RPS)
		defer bucket.Stop()
		limiter = bucket
	}

	svc := seed.NewService(client, limiter, logger)
	svc.Pool = pool
	svc.Concurrency = cfg.Concurrency

	if cfg.Ledger != "" {
		led, err := ledger.Open(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		defer func() { _ = led.Close() }()
		svc.Recorder = led
	}

	spec := seed.SpecFromConfig(cfg)
	spec.DryRun = opts.dryRun

	rep, runErr := svc.Run(ctx, spec)
	if err := report.PrintHuman(rep, os.Stdout); err != nil {
		logger.Warn("print report", zap.Error(err))
	}
	if opts.jsonOut != "" {
		if err := report.WriteJSON(rep, opts.jsonOut); err != nil {
			logger.Warn("write json report", zap.Error(err))
		}
	}
	if runErr != nil {
		return fmt.Errorf("seed %s: %w", cfg.Domain, runErr)
	}

	if opts.exit {
		logger.Info("done")
		return nil
	}
	// the event stream stays open until the process is interrupted
	logger.Info("done, press Ctrl-C to exit")
	<-ctx.Done()
	return nil
}
