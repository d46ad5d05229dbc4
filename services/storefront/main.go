package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/staybook/internal/apiclient"
	"github.com/diagnosis/staybook/internal/availability"
	"github.com/diagnosis/staybook/internal/booking"
	"github.com/diagnosis/staybook/internal/booking/repository"
	"github.com/diagnosis/staybook/internal/session"
	"github.com/diagnosis/staybook/pkg/cache"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/database"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/pkg/obs"
	"github.com/diagnosis/staybook/services/storefront/internal/handlers"
)

const (
	sweepInterval  = 5 * time.Minute
	sessionMaxIdle = 30 * time.Minute
)

func main() {
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, "storefront", cfg.Tracing)
	if err != nil {
		logger.Error("Failed to initialise tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	// Quote audit log
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Sessions, ledger cache and idempotency keys
	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	ledgerStore := availability.NewRedisStore(rdb, cfg.Ledger.CacheTTL, cfg.Ledger.Dedupe)
	if err := availability.WatchChanges(eventBus, ledgerStore); err != nil {
		logger.Error("Failed to subscribe to availability events", "error", err)
		os.Exit(1)
	}

	transport := apiclient.NewTransport(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	sessions := session.NewManager(
		apiclient.NewAuthClient(transport),
		session.NewRedisStorage(rdb, cfg.Auth.SessionTTL),
		eventBus,
	)
	go sessions.RunSweeper(ctx, sweepInterval, sessionMaxIdle)

	ledger := availability.NewService(ledgerStore, eventBus, cfg.Ledger.Dedupe)
	bookings := booking.NewService(repository.NewQuoteRepository(pool), ledger, eventBus, cfg.Pricing)

	h := handlers.New(sessions, transport, bookings, ledger, cfg)
	router := h.NewRouter(handlers.Stores{
		Idempotency: cache.NewIdempotencyStore(rdb),
		RateCounter: cache.NewRateCounter(rdb),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down storefront...")
		stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Storefront shutdown error", "error", err)
		}
	}()

	logger.Info("Starting storefront", "port", cfg.Server.Port, "upstream", cfg.Upstream.BaseURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Storefront error", "error", err)
		os.Exit(1)
	}
}
