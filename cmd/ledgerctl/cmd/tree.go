package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/ledger"
)

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the Chart of Accounts",
		Long: `Print the Chart of Accounts as an indented tree with balances.

Folders are marked with a trailing slash and carry no balance.

Example:
  ledgerctl tree`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			forest, err := a.registry.Tree(cmd.Context())
			if err != nil {
				return err
			}
			if len(forest) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no accounts)")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tACCOUNT\tTYPE\tBALANCE\tID")
			for _, n := range forest {
				printNode(tw, n, 0)
			}
			return tw.Flush()
		},
	}
}

func printNode(w io.Writer, n *ledger.TreeNode, depth int) {
	acc := n.Account
	name := strings.Repeat("  ", depth) + acc.Name
	balance := ""
	if acc.IsFolder {
		name += "/"
	} else {
		balance = acc.Balance.StringFixed(2) + " " + acc.Currency
	}
	if !acc.IsActive {
		name += " (inactive)"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", acc.Code, name, acc.Type, balance, acc.ID)
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}
