package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/ticketpulse/cmd/ticketpulse/commands"
	"github.com/teranos/ticketpulse/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "ticketpulse",
	Short: "ticketpulse - enriches new service desk tickets with related context",
	Long: `ticketpulse - ticket enhancement service.

For every new ticket event, ticketpulse gathers related context (similar
resolved tickets, knowledge base articles, diagnostics), turns it into a
short enhancement note and posts it back onto the ticket. Every execution
leaves an audit record.

Available commands:
  serve    - Start the ingress server and worker pool
  enhance  - Run one enhancement synchronously
  history  - Inspect execution records
  corpus   - Import resolved tickets and KB articles
  db       - Manage the database
  am       - Show and validate configuration ("I am")
  version  - Show build information

Examples:
  ticketpulse serve                                    # Start on the configured port
  ticketpulse enhance --tenant acme --ticket T-42      # One-off enhancement
  ticketpulse history ls --status failed               # Failed executions
  ticketpulse corpus import seed.yaml                  # Load context corpus`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.EnhanceCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.CorpusCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
