package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the configured sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tMETHOD\tBASE URL")
			for _, p := range appInstance.Dispatcher().Sites() {
				method := string(p.ResolveMethod())
				if method == "" {
					method = "none"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Key, p.DisplayName(), method, p.BaseURL)
			}
			return tw.Flush()
		},
	}
}
