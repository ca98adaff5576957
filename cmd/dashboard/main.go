// Command dashboard serves the library events calendar and map. When
// INGEST_SCHEDULE is set it also runs ingestion on that cron schedule.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/library-events-service/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/library-events-service/internal/adapter/http"
	"github.com/couchcryptid/library-events-service/internal/app"
	"github.com/couchcryptid/library-events-service/internal/config"
	"github.com/couchcryptid/library-events-service/internal/observability"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventLog := csvfile.NewEventLog(cfg.EventLogPath, logger)
	builder := app.NewDashboardBuilder(cfg, eventLog, metrics, logger)
	checkers := []sharedobs.ReadinessChecker{eventLog}

	var (
		ingestion    *app.Ingestion
		stopSchedule func()
	)
	if cfg.IngestSchedule != "" {
		ingestion, err = app.NewIngestion(ctx, cfg, eventLog, metrics, logger)
		if err != nil {
			logger.Error("failed to set up ingestion", "error", err)
			os.Exit(1)
		}
		checkers = append(checkers, ingestion.Queue)

		stopSchedule, err = app.StartSchedule(ctx, cfg.IngestSchedule, ingestion.Ingestor, logger)
		if err != nil {
			logger.Error("failed to schedule ingestion", "error", err)
			_ = ingestion.Close()
			os.Exit(1)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, builder, app.Readiness(checkers...), logger)

	go func() {
		logger.Info("dashboard listening", "addr", cfg.HTTPAddr, "event_log", cfg.EventLogPath)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if stopSchedule != nil {
		stopSchedule()
	}
	if ingestion != nil {
		if err := ingestion.Close(); err != nil {
			logger.Error("ingestion close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
