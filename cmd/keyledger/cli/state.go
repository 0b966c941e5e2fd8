package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "state <credential-id>",
		Short:   "Show the current lifecycle state of a credential",
		Example: `  keyledger state K-1042`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := opts.openLedger(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			ledger := service.NewLedger(l.store, service.Options{})
			ev, ok, err := ledger.LatestEvent(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "%s: %s (never issued)\n", args[0], credential.StateUnknown)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "credential\t%s\n", ev.CredentialID)
			fmt.Fprintf(tw, "state\t%s\n", ev.State)
			fmt.Fprintf(tw, "kind\t%s\n", ev.Kind)
			fmt.Fprintf(tw, "rooms\t%s\n", ev.Rooms)
			if len(ev.Areas) > 0 {
				fmt.Fprintf(tw, "areas\t%s\n", ev.Areas)
			}
			fmt.Fprintf(tw, "holder\t%s\n", ev.Holder)
			fmt.Fprintf(tw, "issued\t%s by %s\n", credential.FormatDisplay(ev.IssuedAt), ev.Issuer)
			fmt.Fprintf(tw, "valid\t%s .. %s\n", credential.FormatShort(ev.ValidFrom), credential.FormatShort(ev.ValidUntil))
			if !ev.StateChangedAt.IsZero() {
				fmt.Fprintf(tw, "changed\t%s\n", credential.FormatDisplay(ev.StateChangedAt))
			}
			return tw.Flush()
		},
	}
}
