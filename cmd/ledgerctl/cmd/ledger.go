package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/ledger"
)

func newLedgerCmd(a *app) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "ledger <account-id>",
		Short: "Show an account's postings with running balances",
		Long: `Show every posting leg on an account, newest first, with the running
balance after each one.

Example:
  ledgerctl ledger coa-1120
  ledgerctl ledger coa-1120 --as-of 2025-06-30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ledger.AccountID(args[0])

			var cutoff *time.Time
			if asOf != "" {
				d, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of %q (use YYYY-MM-DD): %w", asOf, err)
				}
				cutoff = &d
			}

			acc, err := a.registry.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows, err := a.calculator.LedgerFor(cmd.Context(), id, cutoff)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (%s, %s)\n", acc.Code, acc.Name, acc.Type, acc.Currency)
			if len(rows) == 0 {
				fmt.Fprintln(out, "(no postings)")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "DATE\tSEQ\tKIND\tDEBIT\tCREDIT\tBALANCE\tDESCRIPTION\tPOSTING\t")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
					r.Date.Format("2006-01-02"), r.Sequence, r.Kind,
					amountCell(r.Debit.StringFixed(2)), amountCell(r.Credit.StringFixed(2)),
					r.RunningBalance.StringFixed(2), r.Description, r.PostingID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "exclude postings dated after this day (YYYY-MM-DD)")
	return cmd
}

func amountCell(s string) string {
	if s == "0.00" {
		return ""
	}
	return s
}
