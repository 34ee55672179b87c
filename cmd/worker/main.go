// Package main is the entry point for the txguard outbox worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"txguard/internal/config"
	"txguard/internal/infrastructure/storage/postgres"
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

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting txguard outbox worker")

	if cfg.Database.Driver != config.DriverPgx {
		log.Fatalw("outbox worker requires the pgx driver", "driver", cfg.Database.Driver)
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.DSN)
	poolCfg.ApplicationName = "txguard-worker"
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := pool.EnsureSchema(ctx); err != nil {
			log.Fatalw("failed to ensure schema", "error", err)
		}
	}

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.Database.StatementTimeout
	txManager := postgres.NewTxManager(pool, txOpts)

	worker, err := NewOutboxWorker(txManager, cfg.Outbox, log)
	if err != nil {
		log.Fatalw("failed to build outbox worker", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}
