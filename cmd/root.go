package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "tradereflect",
	Short: "Trade fill ingestion and review engine",
	Long: `TradeReflect polls exchange accounts for newly executed trade fills,
persists them idempotently, and resolves a review for every fill: either a
user-submitted thought enriched by the review generator, or an automatic
review produced when the deadline passes without user input.

The service exposes an HTTP API for account registration, fill retrieval,
and review submission, plus a WebSocket feed of fill and review events.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
