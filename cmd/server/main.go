// Package main is the entry point for the txguard API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"txguard/internal/config"
	"txguard/internal/core/txproxy"
	"txguard/internal/domain/account"
	v1 "txguard/internal/infrastructure/http/v1"
	"txguard/internal/infrastructure/http/v1/handlers"
	"txguard/internal/infrastructure/http/v1/middleware"
	"txguard/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("TXGUARD_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx := context.Background()
	log.Infow("starting txguard server", "env", cfg.App.Env, "driver", cfg.Database.Driver)

	// --- Storage ---
	store, err := openBackend(ctx, cfg.Database)
	if err != nil {
		log.Fatalw("failed to open storage backend", "driver", cfg.Database.Driver, "error", err)
	}
	defer store.close()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := txproxy.NewMetrics(reg)

	// --- Account service ---
	classifier, err := account.Classifier()
	if err != nil {
		log.Fatalw("failed to build method classifier", "error", err)
	}
	accounts, err := account.NewTransactionalService(
		account.NewLedger(store.ledger),
		classifier,
		store.txm,
		txproxy.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatalw("failed to build account service", "error", err)
	}
	log.Infow("account service initialized",
		"transactional_methods", classifier.Marked(reflect.TypeOf((*account.Ledger)(nil))),
	)

	// --- Router ---
	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.Rate, cfg.Server.RateLimit.Burst)
	}

	router := v1.NewRouter(v1.RouterConfig{
		Logger:      log,
		Accounts:    accounts,
		Health:      handlers.NewHealthHandler(cfg.App.Name, cfg.Database.Driver, store.ping),
		Gatherer:    reg,
		Charset:     cfg.Server.Charset,
		MaxWorkers:  cfg.Server.MaxWorkers,
		AcceptCount: cfg.Server.AcceptCount,
		RateLimiter: limiter,
		Development: cfg.IsDevelopment(),
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
