package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/openkey-lms/keyledger/internal/config"
	"github.com/openkey-lms/keyledger/internal/db"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
	sqlitestore "github.com/openkey-lms/keyledger/internal/keyledger/store/sqlite"
)

// rootOptions carries the resolved configuration to every subcommand.
type rootOptions struct {
	cfg config.Config

	dbPath   string
	env      string
	logLevel string
}

// Execute creates the root command tree and runs it.
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "keyledger",
		Short: "Hotel access-credential ledger",
		Long: `keyledger records every key card a front desk issues, checks out or cancels
as an append-only event log, and answers state, conflict and audit queries from it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $KEYLEDGER_DB_PATH or ./data/keyledger.db)")
	cmd.PersistentFlags().StringVar(&opts.env, "env", "", `"dev" or "prod" (default $KEYLEDGER_ENV or dev)`)
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newStateCmd(opts))
	cmd.AddCommand(newReportCmd(opts))

	return cmd
}

// load reads KEYLEDGER_* variables and applies the flags that were set.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = o.dbPath
	}
	if flags.Changed("env") {
		cfg.Env = o.env
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	o.cfg = cfg.Normalize()
	return nil
}

// ledgerDB is an opened and migrated database with its write worker.
type ledgerDB struct {
	conn   *sqlx.DB
	writer *db.Worker
	store  store.Store
}

func (o *rootOptions) openLedger(ctx context.Context) (*ledgerDB, error) {
	conn, err := db.Open(ctx, db.Config{Path: o.cfg.DBPath, Env: o.cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	w := db.NewWorker(conn)
	return &ledgerDB{
		conn:   conn,
		writer: w,
		store:  sqlitestore.New(conn, w),
	}, nil
}

func (l *ledgerDB) Close() {
	l.writer.Close()
	_ = l.conn.Close()
}
