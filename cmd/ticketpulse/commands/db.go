package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/db"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/history"
	"github.com/teranos/ticketpulse/logger"
	"github.com/teranos/ticketpulse/pulse/async"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the ticketpulse database",
	Long: `Manage the SQLite database holding jobs, execution records and the context corpus.

Examples:
  ticketpulse db migrate          # Apply pending migrations
  ticketpulse db stats            # Job and execution counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job and execution counts",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	pending, err := db.PendingMigrations(database)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		pterm.Success.Println("Database schema is up to date")
		return nil
	}
	for _, file := range pending {
		pterm.Info.Printfln("Pending: %s", file)
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		return err
	}
	pterm.Success.Printfln("Applied %d migrations", len(pending))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := async.NewQueue(database).GetStats()
	if err != nil {
		return err
	}

	recorder := history.NewRecorder(history.NewStore(database))
	counts := make(map[history.Status]int, 3)
	for _, s := range []history.Status{history.StatusPending, history.StatusCompleted, history.StatusFailed} {
		_, total, err := recorder.List(cmdContext(cmd), history.Filter{Status: s, Limit: 1})
		if err != nil {
			return errors.Wrapf(err, "failed to count %s executions", s)
		}
		counts[s] = total
	}

	pterm.DefaultSection.Println("Jobs")
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Queued", "Running", "Completed", "Failed", "Cancelled", "Total"},
		{itoa(stats.Queued), itoa(stats.Running), itoa(stats.Completed), itoa(stats.Failed), itoa(stats.Cancelled), itoa(stats.Total)},
	}).Render()

	pterm.DefaultSection.Println("Executions")
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Pending", "Completed", "Failed"},
		{itoa(counts[history.StatusPending]), itoa(counts[history.StatusCompleted]), itoa(counts[history.StatusFailed])},
	}).Render()
	return nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
