// Package sqlstore is the database/sql storage backend built on sqlx.
// It speaks to PostgreSQL through lib/pq and mirrors the pgx backend's
// contract: the transaction travels in the context, repositories pick it up.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"txguard/internal/core/id"
	"txguard/internal/core/tx"
	"txguard/pkg/logger"
)

// Compile-time check that TxManager implements tx.Manager interface.
var _ tx.Manager = (*TxManager)(nil)

// DBConfig holds connection pool configuration.
type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open creates a configured *sqlx.DB and verifies the connection.
func Open(ctx context.Context, cfg DBConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// txKey is the context key for active transaction.
type txKey struct{}

// Tx wraps *sqlx.Tx. It is the tx.Handle of this manager.
type Tx struct {
	*sqlx.Tx
	id         id.ID
	started    time.Time
	terminated atomic.Bool
}

// ID implements tx.Handle.
func (t *Tx) ID() id.ID { return t.id }

// TxManager demarcates database/sql transactions.
type TxManager struct {
	db        *sqlx.DB
	isolation sql.IsolationLevel
}

// NewTxManager creates a transaction manager. defaultIsolation applies when
// Begin is called with tx.IsolationDefault.
func NewTxManager(db *sqlx.DB, defaultIsolation tx.IsolationLevel) *TxManager {
	return &TxManager{db: db, isolation: isolation(defaultIsolation)}
}

// Begin starts a transaction and returns a context carrying it.
func (m *TxManager) Begin(ctx context.Context, opts tx.Options) (context.Context, tx.Handle, error) {
	level := m.isolation
	if opts.IsolationLevel != tx.IsolationDefault {
		level = isolation(opts.IsolationLevel)
	}
	sqlTx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: level, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	t := &Tx{Tx: sqlTx, id: id.New(), started: time.Now()}
	return context.WithValue(ctx, txKey{}, t), t, nil
}

// Commit commits the transaction behind h.
func (m *TxManager) Commit(ctx context.Context, h tx.Handle) error {
	t, err := m.terminate(h)
	if err != nil {
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	logger.Debug(ctx, "transaction committed", "tx_id", t.id, "duration", time.Since(t.started))
	return nil
}

// Rollback aborts the transaction behind h.
func (m *TxManager) Rollback(ctx context.Context, h tx.Handle) error {
	t, err := m.terminate(h)
	if err != nil {
		return err
	}
	if err := t.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	logger.Debug(ctx, "transaction rolled back", "tx_id", t.id, "duration", time.Since(t.started))
	return nil
}

func (m *TxManager) terminate(h tx.Handle) (*Tx, error) {
	t, ok := h.(*Tx)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %T", tx.ErrUnknownHandle, h)
	}
	if !t.terminated.CompareAndSwap(false, true) {
		return nil, tx.ErrHandleTerminated
	}
	return t, nil
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// GetQuerier returns the transaction in ctx, or the database handle.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t.Tx
	}
	return m.db
}

func isolation(level tx.IsolationLevel) sql.IsolationLevel {
	switch level {
	case tx.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case tx.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case tx.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
