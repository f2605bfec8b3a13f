// clawdeck is the terminal companion to the dashboard server: it tails
// the live event stream and checks server health from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Overridden by ldflags

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawdeck",
		Short: "ClawDeck - terminal client for the OpenClaw dashboard server",
		Long: `ClawDeck talks to a running dashboard server: it can follow the live
agent event stream in the terminal and report server health.`,
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().String("server", "http://localhost:4300", "dashboard server base URL")

	rootCmd.AddCommand(newTailCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

func serverURL(cmd *cobra.Command) string {
	server, _ := cmd.Flags().GetString("server")
	return server
}
