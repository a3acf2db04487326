package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/modeldag/pkg/buildinfo"
)

func (c *CLI) versionCommand() *cobra.Command {
	var modules bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, buildinfo.String())
			if modules {
				for _, m := range buildinfo.Modules() {
					fmt.Fprintln(w, "  "+m)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&modules, "modules", false, "also list compiled-in modules")
	return cmd
}
