package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd prints the synapsectl build version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the synapsectl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "synapsectl version %s\n", rootCmd.Version)
		},
	}
}
