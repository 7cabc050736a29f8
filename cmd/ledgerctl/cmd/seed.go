package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/chart"
)

func newSeedCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a chart of accounts",
		Long: `Create the accounts of a YAML chart definition. Accounts whose id already
exists are skipped, so seeding twice is harmless. Without --file the
built-in logistics chart is loaded.

Example:
  ledgerctl seed
  ledgerctl seed --file chart.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				def *chart.Definition
				err error
			)
			if file == "" {
				def, err = chart.Default()
			} else {
				var data []byte
				data, err = os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				def, err = chart.Parse(data)
			}
			if err != nil {
				return err
			}

			result, err := chart.Load(cmd.Context(), a.registry, def)
			if err != nil {
				return err
			}
			a.log.Debug().Int("created", len(result.Created)).Int("skipped", len(result.Skipped)).Msg("chart loaded")
			fmt.Fprintf(cmd.OutOrStdout(), "%d accounts created, %d already present\n", len(result.Created), len(result.Skipped))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML chart definition (default: built-in chart)")
	return cmd
}
