package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankforge/rsengine/internal/api"
	"github.com/rankforge/rsengine/internal/api/handlers"
	"github.com/rankforge/rsengine/internal/scheduler"
	"github.com/rankforge/rsengine/internal/scheduler/jobs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and scheduler",
	Long: `Starts the REST API server, the websocket status stream and the
background scheduler.

Endpoints:
  GET    /health                                    - Health check
  GET    /ws/pipeline                               - Pipeline status stream
  GET    /api/tickers                               - List tracked tickers
  POST   /api/tickers                               - Track symbols and fetch prices
  GET    /api/scores/{entity_type}/latest           - Latest RS ranking
  GET    /api/scores/{entity_type}/{name}/history   - RS score history
  POST   /api/pipeline/refresh                      - Start the full pipeline
  POST   /api/pipeline/recalculate                  - Rebuild returns and RS
  GET    /api/pipeline/status                       - Pipeline snapshot
  GET    /api/settings                              - Calculation settings
  GET    /api/tasks                                 - Background tasks

Example:
  go run ./cmd/rsengine serve
  go run ./cmd/rsengine serve --port 8080`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API server port (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if servePort != "" {
		a.cfg.Port = servePort
	}

	if err := a.orch.Recover(ctx); err != nil {
		return fmt.Errorf("recover pipeline state: %w", err)
	}

	// Scheduler
	sched := scheduler.New(a.log)
	for _, job := range []scheduler.Job{
		jobs.NewAdvanceJob(a.orch, a.log),
		jobs.NewRefreshJob(a.orch, a.log),
		jobs.NewMaintenanceJob(a.tasks, a.log),
	} {
		if err := sched.AddJob(job); err != nil {
			return fmt.Errorf("add job: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	tickerHandler := handlers.NewTickerHandler(a.tickers, a.prices, a.scores, a.orch, a.log)
	scoreHandler := handlers.NewScoreHandler(a.scores, a.log)
	pipelineHandler := handlers.NewPipelineHandler(a.orch, a.log)
	settingsHandler := handlers.NewSettingsHandler(a.settings, a.log)
	taskHandler := handlers.NewTaskHandler(a.tasks, a.log)

	router := api.NewRouter(tickerHandler, scoreHandler, pipelineHandler, settingsHandler, taskHandler, a.db, a.log)
	server := api.New(a.cfg, a.log, router)

	go func() {
		if err := server.Start(); err != nil {
			a.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("Server running on http://localhost:%s\n", a.cfg.Port)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	return nil
}
