// Command diceconsensus drives local, single-process simulations of the
// round state machine for inspection and regression testing. It is not a
// production transport: peer discovery, GATT/IP framing, and NAT traversal
// remain collaborator concerns per spec section 1's Out-of-scope list. This
// mirrors the teacher's cmd/threshold-cli rootCmd-plus-subcommand wiring,
// narrowed to the dice-consensus domain.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "diceconsensus",
		Short: "Local simulation and inspection tool for the dice consensus core",
		Long: `diceconsensus drives the Commit/Reveal/Propose/Vote/Finalize round state
machine in-process, for local simulation, deterministic scenario replay, and
health inspection. It is a development tool, not a peer transport.`,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
)

// version is overwritten at release-build time via -ldflags; "dev" otherwise.
var version = "dev"

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(scenarioCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
