package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openkey-lms/keyledger/internal/db"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the ledger schema",
		Long:  "Apply any pending schema migrations to the ledger database and report the resulting version.",
		Example: `  keyledger migrate --db ./data/keyledger.db
  keyledger migrate --seed-dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := opts.openLedger(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			if seed {
				if opts.cfg.Env == "prod" {
					return fmt.Errorf("refusing to seed demo rooms into a prod ledger")
				}
				if err := db.SeedDev(ctx, l.conn, db.SeedDevOptions{}); err != nil {
					return err
				}
			}

			v, err := db.Version(ctx, l.conn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", opts.cfg.DBPath, v)
			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed-dev", false, "Also insert the demo room registry (dev only)")
	return cmd
}
