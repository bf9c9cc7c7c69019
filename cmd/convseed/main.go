package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joshsymonds/convseed/internal/config"
	"github.com/joshsymonds/convseed/internal/runtime"
)

type options struct {
	configPath  string
	concurrency int
	rps         int
	ledger      string
	jsonOut     string
	dryRun      bool
	exit        bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		runtime.DefaultLogger().Error("convseed failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "convseed",
		Short: "Seed a Circuit tenant with demo conversations",
		Long: `convseed logs on as a tenant admin and fills the tenant with demo data:
open and group conversations, posts, replies, likes and flags.

Running without a subcommand is the same as "convseed run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "convseed.yaml", "configuration file (YAML or JSON)")
	pf.IntVar(&opts.concurrency, "concurrency", 0, "max in-flight requests per batch (overrides config)")
	pf.IntVar(&opts.rps, "rps", 0, "max requests per second (overrides config)")
	pf.StringVar(&opts.ledger, "ledger", "", "sqlite ledger path (overrides config)")

	addRunFlags(root, opts)
	root.AddCommand(newRunCmd(opts), newCheckCmd(opts), newUsersCmd(opts), newLedgerCmd(opts))
	return root
}

func addRunFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.BoolVar(&opts.exit, "exit", false, "exit once seeding completes instead of idling until interrupted")
	f.BoolVar(&opts.dryRun, "dry-run", false, "log on and discover users, then log the plan without writing")
	f.StringVar(&opts.jsonOut, "json", "", "write the run report as JSON to this relative path")
}

// loadConfig reads .env, the config file and any flag overrides, then validates.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Concurrency = opts.concurrency
	}
	if flags.Changed("rps") {
		cfg.RPS = opts.rps
	}
	if flags.Changed("ledger") {
		cfg.Ledger = opts.ledger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
