package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/logger"
	"github.com/teranos/ticketpulse/server"
	"github.com/teranos/ticketpulse/version"
)

// ServeCmd runs the ingress server with the worker pool
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   logger.SymPulse + " Start the ingress server and worker pool",
	Long: `Start the ticketpulse server.

Ticket events POSTed to /api/tickets/events are queued and executed by the
worker pool. Execution records and jobs are served under /api, live job updates
stream on /ws/jobs.

First Ctrl+C drains: new events are refused, running executions get the pool's
stop timeout to finish. A second Ctrl+C exits immediately.`,
	RunE: runServe,
}

var (
	servePort     int
	serveWorkers  int
	serveDBPath   string
	serveProvider string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	ServeCmd.Flags().IntVar(&serveWorkers, "workers", -1, "Worker count, 0 for ingress only (overrides pulse.workers)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Database path (overrides database.path)")
	ServeCmd.Flags().StringVar(&serveProvider, "provider", "", "Synthesis provider: local, openrouter, auto")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	if port == 0 {
		port = am.DefaultServerPort
	}
	workers := cfg.Pulse.Workers
	if serveWorkers >= 0 {
		workers = serveWorkers
	}

	database, err := openDatabase(serveDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.Logger
	rt, err := buildRuntime(cfg, database, serveProvider, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := rt.newWorkerPool(ctx, workers, log)
	srv := server.New(server.Config{
		Port:           port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaleAfter:     cfg.Enhancement.StaleAfter(),
	}, server.Deps{
		Dispatcher: rt.dispatcher,
		Queue:      rt.queue,
		History:    rt.history,
		Pool:       pool,
	}, log)

	printStartupInfo(port, workers, rt)

	if pool != nil {
		pool.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if pool != nil {
			pool.Stop()
		}
		return errors.Wrap(err, "server stopped unexpectedly")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop(context.Background())
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

func printStartupInfo(port, workers int, rt *runtime) {
	info := version.Get()
	pterm.DefaultHeader.WithFullWidth().Println("ticketpulse " + info.Version)

	synthesis := string(rt.provider)
	if workers == 0 {
		synthesis += " (no workers: ingress only)"
	}
	data := pterm.TableData{
		{"Listen", fmt.Sprintf(":%d", port)},
		{"Commit", info.Short()},
		{"Database", rt.cfg.Database.Path},
		{"Workers", fmt.Sprintf("%d", workers)},
		{"Synthesis", synthesis},
		{"ServiceDesk", valueOr(rt.cfg.ServiceDesk.BaseURL, "(per tenant)")},
		{"Diagnostics", valueOr(rt.cfg.Gather.DiagnosticsURL, "(disabled)")},
	}
	_ = pterm.DefaultTable.WithData(data).Render()
	pterm.Println()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
