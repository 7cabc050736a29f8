package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check the accounting equation per currency",
		Long: `Sum debit-normal balances (assets, expenses) and credit-normal balances
(liabilities, equity, income) per currency. Each currency must net to zero.

Example:
  ledgerctl audit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks, err := a.calculator.CheckEquation(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(checks) == 0 {
				fmt.Fprintln(out, "(no leaf accounts)")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CURRENCY\tDEBIT-NORMAL\tCREDIT-NORMAL\tDIFFERENCE\tSTATUS")
			failed := 0
			for _, c := range checks {
				status := "ok"
				if !c.OK {
					status = "FAIL"
					failed++
					a.log.Error().
						Str("currency", c.Currency).
						Str("difference", c.Difference.String()).
						Msg("accounting equation does not hold")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Currency,
					c.DebitNormal.StringFixed(2), c.CreditNormal.StringFixed(2), c.Difference.String(), status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return errFindings
			}
			return nil
		},
	}
}
