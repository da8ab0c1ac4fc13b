package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/spkid/cmd/spkid/internal/build"
	"github.com/haivivi/spkid/pkg/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("format") {
			return cli.Output(cmd.OutOrStdout(), build.Get(), outputFormat())
		}
		fmt.Fprintln(cmd.OutOrStdout(), build.String())
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "  go:     %s\n", build.Get().Go)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
