// Package cmd provides CLI commands for ledgerctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logging"
	"github.com/warp/ledger-engine/store/sqlite"
)

// app is the wiring shared by every subcommand.
type app struct {
	store      *sqlite.Store
	registry   *ledger.Registry
	engine     *ledger.Engine
	calculator *ledger.Calculator
	log        zerolog.Logger
}

type rootOptions struct {
	envFile string
	dbPath  string
	debug   bool
}

// NewRootCmd builds the command tree. Each call returns independent
// commands, so tests can run them side by side.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Inspect and maintain the ledger database",
		Long: `ledgerctl works directly against the ledger's SQLite database.

It supports:
- Printing the Chart of Accounts tree
- Showing an account's ledger with running balances
- Reconciling stored balances against posting history
- Auditing the accounting equation per currency
- Seeding a chart of accounts from YAML
- Reversing a posting

Example:
  ledgerctl tree
  ledgerctl ledger coa-1120 --as-of 2025-06-30
  ledgerctl reconcile
  ledgerctl seed --file chart.yaml
  ledgerctl reverse <posting-id>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if opts.dbPath != "" {
				cfg.DBPath = opts.dbPath
			}
			level := cfg.LogLevel
			if opts.debug {
				level = "debug"
			}
			a.log = logging.NewWithWriter(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}, level)

			s, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
			}
			a.store = s
			a.registry = ledger.NewRegistry(s)
			a.engine = ledger.NewEngine(s, a.registry).WithLogger(a.log)
			a.engine.MaxAttempts = cfg.PostMaxAttempts
			a.calculator = ledger.NewCalculator(s)
			a.log.Debug().Str("db", cfg.DBPath).Msg("database opened")
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env", "", "env file (default is .env)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides LEDGER_DB_PATH)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newTreeCmd(a),
		newLedgerCmd(a),
		newReconcileCmd(a),
		newAuditCmd(a),
		newSeedCmd(a),
		newReverseCmd(a),
	)
	return root
}

// Execute runs the CLI. This is called by main.main().
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
