package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCommand creates the version command.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "spyglass %s\n", Version)
			fmt.Fprintf(out, "  build date: %s\n", BuildDate)
			fmt.Fprintf(out, "  commit:     %s\n", GitCommit)
		},
	}
}
