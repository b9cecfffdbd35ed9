// Command lightfold runs the recursive light-client prover: it ingests
// consensus updates, folds them into succinct transition proofs and
// publishes proven checkpoints.
//
// Usage:
//
//	lightfold run --config lightfold.toml
//	lightfold version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "lightfold",
	Short:         "recursive light-client prover",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("lightfold %s (commit %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
