package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/history"
	"github.com/teranos/ticketpulse/logger"
)

// HistoryCmd inspects execution records
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: logger.SymClose + " Inspect execution records",
	Long: `Inspect the audit trail of enhancement executions.

Examples:
  ticketpulse history ls                          # Newest 50 executions
  ticketpulse history ls --tenant acme --status failed
  ticketpulse history show <correlation-id>       # One execution
  ticketpulse history stale --older-than 1h       # Executions still pending`,
}

var historyLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List executions, newest first",
	RunE:  runHistoryLs,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <correlation-id>",
	Short: "Show one execution record",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List executions that never reached a terminal state",
	Long: `List records still pending after --older-than. These executions were abandoned
at the hard limit or lost to a crash and need manual reconciliation.`,
	RunE: runHistoryStale,
}

var (
	historyStatus    string
	historyTenant    string
	historyTicket    string
	historyLimit     int
	historyOffset    int
	historyOlderThan time.Duration
	historyJSON      bool
)

func init() {
	historyLsCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status: pending, completed, failed")
	historyLsCmd.Flags().StringVar(&historyTenant, "tenant", "", "Filter by tenant")
	historyLsCmd.Flags().StringVar(&historyTicket, "ticket", "", "Filter by ticket")
	historyLsCmd.Flags().IntVar(&historyLimit, "limit", history.DefaultListLimit, "Maximum records")
	historyLsCmd.Flags().IntVar(&historyOffset, "offset", 0, "Records to skip")

	historyStaleCmd.Flags().DurationVar(&historyOlderThan, "older-than", 0, "Pending age threshold (default: enhancement.stale_after_minutes)")
	historyStaleCmd.Flags().IntVar(&historyLimit, "limit", history.DefaultListLimit, "Maximum records")

	for _, c := range []*cobra.Command{historyLsCmd, historyShowCmd, historyStaleCmd} {
		c.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
		HistoryCmd.AddCommand(c)
	}
}

func openRecorder() (*history.Recorder, func(), error) {
	database, err := openDatabase("")
	if err != nil {
		return nil, nil, err
	}
	return history.NewRecorder(history.NewStore(database)), func() { database.Close() }, nil
}

func runHistoryLs(cmd *cobra.Command, args []string) error {
	filter := history.Filter{
		TenantID: historyTenant,
		TicketID: historyTicket,
		Limit:    historyLimit,
		Offset:   historyOffset,
	}
	switch s := history.Status(historyStatus); s {
	case "":
	case history.StatusPending, history.StatusCompleted, history.StatusFailed:
		filter.Status = s
	default:
		return errors.Newf("invalid status %q (valid: pending, completed, failed)", historyStatus)
	}

	recorder, closeDB, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeDB()

	records, total, err := recorder.List(cmdContext(cmd), filter)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(map[string]interface{}{"executions": records, "total": total})
	}

	renderRecords(records)
	pterm.Info.Printfln("Showing %d of %d executions", len(records), total)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	recorder, closeDB, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeDB()

	rec, err := recorder.Get(cmdContext(cmd), args[0])
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(rec)
	}

	data := pterm.TableData{
		{"Correlation ID", rec.CorrelationID},
		{"Tenant", rec.TenantID},
		{"Ticket", rec.TicketID},
		{"Job", valueOr(rec.JobID, "-")},
		{"Status", string(rec.Status)},
		{"Started", rec.StartedAt.Local().Format(time.RFC3339)},
		{"Context", fmt.Sprintf("%d ok, %d failed", rec.ContextSuccessCount, rec.ContextFailureCount)},
	}
	if rec.CompletedAt != nil {
		data = append(data, []string{"Finished", rec.CompletedAt.Local().Format(time.RFC3339)})
	}
	if rec.ProcessingTimeMS != nil {
		data = append(data, []string{"Processing", (time.Duration(*rec.ProcessingTimeMS) * time.Millisecond).String()})
	}
	if rec.EnhancementSource != nil {
		data = append(data, []string{"Source", string(*rec.EnhancementSource)})
	}
	if rec.ErrorMessage != nil {
		data = append(data, []string{"Error", *rec.ErrorMessage})
	}
	return pterm.DefaultTable.WithData(data).Render()
}

func runHistoryStale(cmd *cobra.Command, args []string) error {
	olderThan := historyOlderThan
	if olderThan <= 0 {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		olderThan = cfg.Enhancement.StaleAfter()
	}

	recorder, closeDB, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeDB()

	records, err := recorder.Stale(cmdContext(cmd), olderThan, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(records)
	}
	if len(records) == 0 {
		pterm.Success.Printfln("No executions pending longer than %s", olderThan)
		return nil
	}

	renderRecords(records)
	pterm.Warning.Printfln("%d executions pending longer than %s", len(records), olderThan)
	return nil
}

func renderRecords(records []*history.Record) {
	data := pterm.TableData{{"Correlation ID", "Tenant", "Ticket", "Status", "Source", "Started", "Took"}}
	for _, rec := range records {
		source := "-"
		if rec.EnhancementSource != nil {
			source = string(*rec.EnhancementSource)
		}
		took := "-"
		if rec.ProcessingTimeMS != nil {
			took = (time.Duration(*rec.ProcessingTimeMS) * time.Millisecond).String()
		}
		data = append(data, []string{
			rec.CorrelationID,
			rec.TenantID,
			rec.TicketID,
			statusStyle(rec.Status).Sprint(rec.Status),
			source,
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			took,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func statusStyle(s history.Status) pterm.Color {
	switch s {
	case history.StatusCompleted:
		return pterm.FgGreen
	case history.StatusFailed:
		return pterm.FgRed
	default:
		return pterm.FgYellow
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(data))
	return nil
}
