package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for synapsectl commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeManifestError indicates the startup manifest failed to load.
	ExitCodeManifestError = 2
)

// rootCmd is the entry point when synapsectl is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "synapsectl",
	Short: "Run and inspect a synapse service-container runtime",
	Long: `synapsectl runs a synapse event loop and DependencyManager from a
service manifest, and lets you inspect the resulting service graph.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected from main at
// build time.
func SetVersion(v string) { rootCmd.Version = v }

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "synapsectl version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
