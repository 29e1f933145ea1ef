// Command opsctl runs server-defined operations from a terminal and serves
// the operations gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/operations/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// Flags shared by every command.
var (
	configPath string
	token      string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "opsctl",
	Short:         "Run server-defined operations",
	Long:          "opsctl runs custom operations against the operations API: confirmation, dispatch, result handling and navigation.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token forwarded to the backend (default $OPERATIONS_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "write structured logs to stdout")

	rootCmd.AddCommand(runCmd, describeCmd, listCmd, serveCmd, auditCmd)
}

func main() {
	observability.Version = version
	observability.Commit = commit

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
