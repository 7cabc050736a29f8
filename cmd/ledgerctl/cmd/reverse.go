package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/ledger"
)

func newReverseCmd(a *app) *cobra.Command {
	var (
		date        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "reverse <posting-id>",
		Short: "Post the entry that offsets an earlier posting",
		Long: `Post a reversal: every line of the original posting with debit and credit
swapped. The original stays in history. A posting can be reversed once.

Posting ids are shown in the last column of "ledgerctl ledger".

Example:
  ledgerctl reverse 6f1c0c8e-2b9a-4d3e-9d55-0a4f8a7e1b21
  ledgerctl reverse 6f1c0c8e-2b9a-4d3e-9d55-0a4f8a7e1b21 --date 2025-06-30 --description "Duplicate fuel receipt"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := ledger.ReverseInput{Description: description}
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date %q (use YYYY-MM-DD): %w", date, err)
				}
				in.Date = &d
			}

			p, err := a.engine.Reverse(cmd.Context(), ledger.PostingID(args[0]), in)
			if err != nil {
				return err
			}

			a.log.Info().
				Str("posting_id", string(p.ID)).
				Str("reverses_id", string(p.ReversesID)).
				Msg("posting reversed")
			fmt.Fprintf(cmd.OutOrStdout(), "reversal %s posted on %s for %s\n",
				p.ID, p.Date.Format("2006-01-02"), p.ReversesID)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "reversal date (YYYY-MM-DD, default is the original date)")
	cmd.Flags().StringVar(&description, "description", "", `description (default is "Reversal of <id>")`)
	return cmd
}
