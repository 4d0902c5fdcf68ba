/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the korban installment ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml, KORBAN_* env vars, defaults)
  2. Build the logger
  3. Open the SQLite store
  4. Build the ledger engine from the program configuration
  5. Start the scheduler (integrity scan, optional reminders)
  6. Configure the HTTP router and serve

COMMAND-LINE FLAGS:
  -port    HTTP server port, overrides app.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (http.shutdown_timeout)
  3. Stop the scheduler, waiting for running jobs
  4. Close database connection

EXAMPLES:
  ./server -db="./data/korban.db"
  KORBAN_SCHEDULER_REMINDERS_ENABLED=true KORBAN_SMTP_HOST=mail.example.com \
    KORBAN_SMTP_FROM=bendahari@example.com ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/surau/korban-ledger/api"
	"github.com/surau/korban-ledger/config"
	"github.com/surau/korban-ledger/ledger"
	"github.com/surau/korban-ledger/logger"
	"github.com/surau/korban-ledger/reminder"
	"github.com/surau/korban-ledger/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "korban-ledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.String("port", "", "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *port != "" {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ledgerCfg, err := cfg.Ledger()
	if err != nil {
		return err
	}
	engine := ledger.NewEngine(store, ledgerCfg, log)

	var reminders api.ReminderRunner
	if cfg.Scheduler.RemindersEnabled {
		mailer := reminder.NewSMTPMailer(reminder.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		notifier := reminder.NewNotifier(engine, mailer, cfg.Scheduler.ReminderMinOverdue, log)
		notifier.ProgramName = cfg.Program.Name
		reminders = notifier
	}

	scheduler := api.NewScheduler(engine, reminders, api.SchedulerConfig{
		IntegrityCron: cfg.Scheduler.IntegrityCron,
		ReminderCron:  cfg.Scheduler.ReminderCron,
		JobTimeout:    cfg.Scheduler.JobTimeout,
	}, log)
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	handler := api.NewHandler(engine, store, log)
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      api.NewRouter(handler, cfg.HTTP.CORSAllowOrigins),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("database", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop(ctx)

	log.Info("server stopped")
	return nil
}
