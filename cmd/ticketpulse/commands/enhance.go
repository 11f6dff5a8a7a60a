package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
)

// EnhanceCmd runs one enhancement in the foreground, bypassing the queue
var EnhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Run one ticket enhancement synchronously",
	Long: `Run the full pipeline for one ticket in this process: gather context,
synthesize, post the note to ServiceDesk and record the execution.

Use --queue to enqueue the event for a running server instead.

Examples:
  ticketpulse enhance --tenant acme --ticket T-42 --description "VPN drops after sleep"
  ticketpulse enhance --tenant acme --ticket T-42 --queue`,
	RunE: runEnhance,
}

var (
	enhanceTenant      string
	enhanceTicket      string
	enhanceDescription string
	enhanceProvider    string
	enhanceQueue       bool
	enhanceJSON        bool
)

func init() {
	EnhanceCmd.Flags().StringVar(&enhanceTenant, "tenant", "", "Tenant ID (required)")
	EnhanceCmd.Flags().StringVar(&enhanceTicket, "ticket", "", "Ticket ID (required)")
	EnhanceCmd.Flags().StringVar(&enhanceDescription, "description", "", "Ticket description used for context search")
	EnhanceCmd.Flags().StringVar(&enhanceProvider, "provider", "", "Synthesis provider: local, openrouter, auto")
	EnhanceCmd.Flags().BoolVar(&enhanceQueue, "queue", false, "Enqueue instead of running in-process")
	EnhanceCmd.Flags().BoolVar(&enhanceJSON, "json", false, "Print the outcome as JSON")
	_ = EnhanceCmd.MarkFlagRequired("tenant")
	_ = EnhanceCmd.MarkFlagRequired("ticket")
}

func runEnhance(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	rt, err := buildRuntime(cfg, database, enhanceProvider, logger.Logger)
	if err != nil {
		return err
	}

	ev := enhance.Event{
		TenantID:    enhanceTenant,
		TicketID:    enhanceTicket,
		Description: enhanceDescription,
	}

	if enhanceQueue {
		job, err := rt.dispatcher.Submit(ev)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Queued job %s", job.ID)
		return nil
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Enhancing %s/%s", ev.TenantID, ev.TicketID))
	outcome, runErr := rt.task.Run(cmdContext(cmd), ev)
	if runErr != nil {
		spinner.Fail(runErr.Error())
	} else {
		spinner.Success(fmt.Sprintf("Enhanced in %s", outcome.Elapsed.Round(time.Millisecond)))
	}

	if outcome != nil {
		if enhanceJSON {
			data, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal outcome")
			}
			fmt.Println(string(data))
		} else {
			printOutcome(outcome)
		}
	}
	return runErr
}

func printOutcome(out *enhance.Outcome) {
	data := pterm.TableData{
		{"Correlation ID", out.CorrelationID.String()},
		{"State", string(out.State)},
		{"Source", valueOr(string(out.Source), "-")},
		{"Context", fmt.Sprintf("%d ok, %d failed", out.ContextSuccess, out.ContextFailure)},
		{"Elapsed", out.Elapsed.Round(time.Millisecond).String()},
	}
	_ = pterm.DefaultTable.WithData(data).Render()

	if out.Text != "" {
		pterm.DefaultBox.WithTitle("Posted note").Println(out.Text)
	}
}

// cmdContext returns the command context, or Background when RunE is called directly
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
