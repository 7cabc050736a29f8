package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/ledger"
)

// errFindings makes the CLI exit non-zero when a check fails.
var errFindings = errors.New("ledger checks failed")

func newReconcileCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reconcile [account-id]",
		Short: "Compare stored balances with posting history",
		Long: `Replay posting history and compare it with the stored balance, for one
account or for every account. Balances are never modified.

By default only mismatches are listed; use --all to list every account.

Example:
  ledgerctl reconcile
  ledgerctl reconcile coa-1120`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var recs []ledger.Reconciliation
			if len(args) == 1 {
				rec, err := a.calculator.Reconcile(cmd.Context(), ledger.AccountID(args[0]))
				if err != nil {
					return err
				}
				recs = []ledger.Reconciliation{rec}
				all = true
			} else {
				var err error
				recs, err = a.calculator.ReconcileAll(cmd.Context())
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT\tSTORED\tCOMPUTED\tSTATUS")
			mismatches := 0
			for _, r := range recs {
				status := "ok"
				if !r.OK {
					status = "MISMATCH"
					mismatches++
				} else if !all {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.AccountID, r.Stored.String(), r.Computed.String(), status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "%d accounts checked, %d mismatches\n", len(recs), mismatches)
			if mismatches > 0 {
				return errFindings
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "list matching accounts too")
	return cmd
}
