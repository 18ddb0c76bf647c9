package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/molarplus/golang_services/internal/dispatch_service/app"
	"github.com/molarplus/golang_services/internal/dispatch_service/channel"
	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
	memoryrepo "github.com/molarplus/golang_services/internal/dispatch_service/repository/memory"
	pgrepo "github.com/molarplus/golang_services/internal/dispatch_service/repository/postgres"
	httptransport "github.com/molarplus/golang_services/internal/dispatch_service/transport/http"
	"github.com/molarplus/golang_services/internal/platform/config"
	"github.com/molarplus/golang_services/internal/platform/database"
	"github.com/molarplus/golang_services/internal/platform/logger"
	"github.com/molarplus/golang_services/internal/platform/messagebroker"
)

const serviceName = "dispatch_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Dispatch service starting...", "port", cfg.HTTPPort, "store", cfg.JobStoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Job store.
	var jobRepo domain.JobRepository
	switch cfg.JobStoreDriver {
	case "postgres":
		dbPool, err := database.NewDBPool(rootCtx, cfg.PostgresDSN)
		if err != nil {
			appLogger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		if err := pgrepo.EnsureSchema(rootCtx, dbPool); err != nil {
			appLogger.Error("Failed to ensure dispatch schema", "error", err)
			os.Exit(1)
		}
		jobRepo = pgrepo.NewPgJobRepository(dbPool, appLogger)
		appLogger.Info("Dispatch service connected to PostgreSQL database")
	case "memory":
		jobRepo = memoryrepo.New()
		appLogger.Warn("Using in-memory job store; scheduled jobs will not survive a restart")
	default:
		appLogger.Error("Unknown job store driver", "driver", cfg.JobStoreDriver)
		os.Exit(1)
	}

	// NATS is optional; with no URL configured, lifecycle events are skipped.
	var natsClient *messagebroker.NATSClient
	if cfg.NATSUrl != "" {
		natsClient, err = messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			appLogger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		appLogger.Info("Successfully connected to NATS")
	}
	events := app.NewEventPublisher(natsClient, appLogger)

	// Messaging channel and the paced dispatcher that drives it.
	bridgeClient := channel.NewBridgeClient(appLogger, cfg.ChannelBridgeURL, cfg.ChannelSessionID, nil)
	dispatcher := app.NewPacedDispatcher(jobRepo, bridgeClient, appLogger, 0, cfg.DispatchSendTimeout)

	coordinator := app.NewDispatchCoordinator(jobRepo, dispatcher, events, appLogger)
	scheduler := app.NewScheduler(jobRepo, dispatcher, events, appLogger, app.SchedulerConfig{
		PollingInterval: cfg.SchedulerPollingInterval,
		JobBatchSize:    cfg.SchedulerJobBatchSize,
	})

	// HTTP server.
	validate := validator.New()
	dispatchHandler := httptransport.NewDispatchHandler(coordinator, appLogger, validate)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": serviceName})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1/dispatch", func(dr chi.Router) {
		dispatchHandler.RegisterRoutes(dr)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
		// A bulk dispatch request stays open for the whole paced run, so no
		// server-side write timeout here.
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		appLogger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		appLogger.Info("Shutdown signal received, shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Dispatch service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Dispatch service stopped")
}
