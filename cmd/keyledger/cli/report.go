package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
)

var reportKinds = []string{"creation", "staff-keys", "key-holders", "operators", "all"}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		from, to     string
		issuers      []string
		kinds        []string
		holders      []string
		room         string
		credentialID string
	)

	cmd := &cobra.Command{
		Use:       "report <creation|staff-keys|key-holders|operators|all>",
		Short:     "Print an audit report over a range of issue times",
		ValidArgs: reportKinds,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Example: `  keyledger report creation --from "2024-01-01 00:00" --to "2024-01-08 00:00"
  keyledger report operators --from 2024-01-01T00:00:00Z --issuer frontdesk --issuer nightdesk
  keyledger report all --room 1.2.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := service.ReportFilter{
				Issuers:      issuers,
				Holders:      holders,
				Room:         room,
				CredentialID: credentialID,
			}
			var err error
			if f.From, err = credential.ParseTimestamp(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if f.To, err = credential.ParseTimestamp(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			for _, k := range kinds {
				kind, err := credential.ParseKind(k)
				if err != nil {
					return fmt.Errorf("--kind: %w", err)
				}
				f.Kinds = append(f.Kinds, kind)
			}

			ctx := cmd.Context()
			l, err := opts.openLedger(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			reports := service.NewReports(l.store, func() time.Time { return time.Now().UTC() })
			return runReport(ctx, cmd.OutOrStdout(), reports, args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "Start of the issue-time range (inclusive)")
	flags.StringVar(&to, "to", "", "End of the issue-time range (exclusive)")
	flags.StringSliceVar(&issuers, "issuer", nil, "Issuing operator; repeat to OR")
	flags.StringSliceVar(&kinds, "kind", nil, "Credential kind (guest, staff, empty); repeat to OR")
	flags.StringSliceVar(&holders, "holder", nil, "Holder name; repeat to OR")
	flags.StringVar(&room, "room", "", "Substring of the room scope, e.g. 1.2.")
	flags.StringVar(&credentialID, "credential-id", "", "Restrict to one credential id")

	return cmd
}

func runReport(ctx context.Context, w io.Writer, r *service.Reports, kind string, f service.ReportFilter) error {
	switch kind {
	case "creation":
		rows, err := r.Creation(ctx, f)
		if err != nil {
			return err
		}
		return printCreation(w, rows)
	case "staff-keys":
		rows, err := r.StaffKeys(ctx, f)
		if err != nil {
			return err
		}
		return printStaffKeys(w, rows)
	case "key-holders":
		rows, err := r.KeyHolders(ctx, f)
		if err != nil {
			return err
		}
		return printKeyHolders(w, rows)
	case "operators":
		rows, err := r.Operators(ctx, f)
		if err != nil {
			return err
		}
		return printOperators(w, rows)
	case "all":
		b, err := r.Bundle(ctx, f)
		if err != nil {
			return err
		}
		sections := []struct {
			title string
			print func() error
		}{
			{"Creation", func() error { return printCreation(w, b.Creation) }},
			{"Staff keys", func() error { return printStaffKeys(w, b.StaffKeys) }},
			{"Key holders", func() error { return printKeyHolders(w, b.KeyHolders) }},
			{"Operators", func() error { return printOperators(w, b.Operators) }},
		}
		for i, s := range sections {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "== %s ==\n", s.title)
			if err := s.print(); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown report %q (want one of %s)", kind, strings.Join(reportKinds, ", "))
}

func short(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return credential.FormatShort(t)
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func printCreation(w io.Writer, rows []service.CreationRow) error {
	tw := newTable(w, "KIND", "ID", "ISSUER", "BLDG", "FLOOR", "ROOM", "ISSUED", "RETURNED", "CHECKED OUT", "HOLDER", "STATUS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Kind, r.CredentialID, r.Issuer, r.Building, r.Floor, r.Room,
			short(r.IssuedAt), short(r.ReturnedAt), short(r.CheckedOutAt), r.Holder, r.Status)
	}
	return tw.Flush()
}

func printStaffKeys(w io.Writer, rows []service.StaffKeyRow) error {
	tw := newTable(w, "ID", "ISSUER", "ROOMS", "AREAS", "ISSUED", "VALID UNTIL", "HOLDER", "DEADBOLT", "PASSAGE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
			r.CredentialID, r.Issuer, r.Rooms, r.Areas,
			short(r.IssuedAt), short(r.ValidUntil), r.Holder, r.DeadboltOverride, r.PassageMode)
	}
	return tw.Flush()
}

func printKeyHolders(w io.Writer, rows []service.KeyHolderRow) error {
	tw := newTable(w, "KIND", "ID", "HOLDER", "BLDG", "FLOOR", "ROOM", "ISSUED", "VALID UNTIL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Kind, r.CredentialID, r.Holder, r.Building, r.Floor, r.Room,
			short(r.IssuedAt), short(r.ValidUntil))
	}
	return tw.Flush()
}

func printOperators(w io.Writer, rows []service.OperatorRow) error {
	tw := newTable(w, "ISSUER", "KIND", "ID", "ISSUED", "STATUS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Issuer, r.Kind, r.CredentialID, short(r.IssuedAt), r.Status)
	}
	return tw.Flush()
}
