package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	_ "github.com/lib/pq" // postgres driver for sqlx

	"txguard/internal/config"
	"txguard/internal/core/tx"
	"txguard/internal/domain/account"
	"txguard/internal/infrastructure/http/v1/handlers"
	"txguard/internal/infrastructure/storage/memory"
	"txguard/internal/infrastructure/storage/postgres"
	"txguard/internal/infrastructure/storage/postgres/account_repo"
	"txguard/internal/infrastructure/storage/sqlstore"
)

// backend is a storage driver wired for the account ledger.
type backend struct {
	txm    tx.Manager
	ledger account.LedgerConfig
	ping   handlers.Pinger
	close  func()
}

func openBackend(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return openMemory(), nil
	case config.DriverPgx:
		return openPgx(ctx, cfg)
	case config.DriverSQLX:
		return openSQLX(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openMemory() *backend {
	store := memory.NewStore()
	return &backend{
		txm: memory.NewTxManager(store),
		ledger: account.LedgerConfig{
			Repo:    memory.NewAccountRepo(store),
			Journal: memory.NewJournal(store),
			Events:  memory.NewOutbox(store),
		},
		close: func() {},
	}
}

func openPgx(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DSN)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := pool.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.StatementTimeout
	if level := cfg.IsolationLevel(); level != tx.IsolationDefault {
		txOpts.IsolationLevel = pgx.TxIsoLevel(level)
	}
	txm := postgres.NewTxManager(pool, txOpts)

	audit, err := postgres.NewAuditService(txm, cfg.CompressThreshold)
	if err != nil {
		pool.Close()
		return nil, err
	}

	postgres.LogPoolStats(ctx, pool.Unwrap())
	return &backend{
		txm: txm,
		ledger: account.LedgerConfig{
			Repo:    account_repo.New(txm),
			Journal: audit,
			Events:  postgres.NewOutboxPublisher(txm),
		},
		ping:  handlers.PingFunc(pool.Ping),
		close: pool.Close,
	}, nil
}

func openSQLX(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	db, err := sqlstore.Open(ctx, sqlstore.DBConfig{
		Driver:          "postgres",
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxConns,
		MaxIdleConns:    cfg.MinConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if _, err := db.ExecContext(ctx, postgres.Schema()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	txm := sqlstore.NewTxManager(db, cfg.IsolationLevel())
	return &backend{
		txm: txm,
		ledger: account.LedgerConfig{
			Repo:    sqlstore.NewAccountRepo(txm),
			Journal: sqlstore.NewJournal(txm),
			Events:  sqlstore.NewOutbox(txm),
		},
		ping:  handlers.PingFunc(db.PingContext),
		close: func() { _ = db.Close() },
	}, nil
}
