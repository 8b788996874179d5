package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fnworker",
	Short: "Function execution worker for container and WebAssembly backends",
	Long: `fnworker - Prepare, invoke, inspect and clean up function runtimes.

Runtimes are either containers driven through a Docker-compatible engine
(running an action proxy image) or WASI modules executed in-process. All
backend work is dispatched through a bridge that records every invocation.

Configuration is read from FNWORKER_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
