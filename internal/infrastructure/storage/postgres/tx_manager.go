package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"txguard/internal/core/id"
	"txguard/internal/core/tx"
	"txguard/pkg/logger"
)

var tracer = otel.Tracer("txguard/tx")

// Compile-time check that TxManager implements tx.Manager interface.
var _ tx.Manager = (*TxManager)(nil)

// TxOptions configures transaction behavior.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries (default 30s)
	StatementTimeout time.Duration
}

// DefaultTxOptions returns production-safe defaults.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
	}
}

// SerializableTxOptions for critical operations requiring serializable isolation.
func SerializableTxOptions() TxOptions {
	opts := DefaultTxOptions()
	opts.IsolationLevel = pgx.Serializable
	return opts
}

// TxManager manages database transactions with support for:
// - Explicit Begin/Commit/Rollback demarcation through tx.Handle
// - Statement timeout protection
// - Distributed tracing integration
type TxManager struct {
	pool     *pgxpool.Pool
	defaults TxOptions
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *Pool, defaults TxOptions) *TxManager {
	return NewTxManagerFromRawPool(pool.Pool, defaults)
}

// NewTxManagerFromRawPool creates a new transaction manager from raw pgxpool.Pool.
func NewTxManagerFromRawPool(pool *pgxpool.Pool, defaults TxOptions) *TxManager {
	return &TxManager{pool: pool, defaults: defaults}
}

// txKey is the context key for active transaction.
type txKey struct{}

// Tx wraps pgx.Tx with metadata. It is the tx.Handle of this manager.
type Tx struct {
	pgx.Tx
	id         id.ID
	started    time.Time
	terminated atomic.Bool
}

// ID implements tx.Handle.
func (t *Tx) ID() id.ID { return t.id }

// Begin starts a database transaction. Every call opens a new one, even when
// ctx already carries a transaction.
func (m *TxManager) Begin(ctx context.Context, opts tx.Options) (context.Context, tx.Handle, error) {
	pgOpts := m.resolve(opts)

	ctx, span := tracer.Start(ctx, "tx.begin",
		trace.WithAttributes(
			attribute.String("tx.isolation", string(pgOpts.IsolationLevel)),
			attribute.String("tx.access_mode", string(pgOpts.AccessMode)),
		))
	defer span.End()

	pgTx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgOpts.IsolationLevel,
		AccessMode: pgOpts.AccessMode,
	})
	if err != nil {
		return nil, nil, err
	}

	// Set statement timeout for protection against runaway queries
	if pgOpts.StatementTimeout > 0 {
		_, err = pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", pgOpts.StatementTimeout.Milliseconds()))
		if err != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
			return nil, nil, fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	wrapped := &Tx{Tx: pgTx, id: id.New(), started: time.Now()}
	span.SetAttributes(attribute.String("tx.id", wrapped.id.String()))
	return context.WithValue(ctx, txKey{}, wrapped), wrapped, nil
}

// Commit commits the transaction behind h.
func (m *TxManager) Commit(ctx context.Context, h tx.Handle) error {
	t, err := m.terminate(h)
	if err != nil {
		return err
	}
	if err := t.Commit(ctx); err != nil {
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
	if err := t.Rollback(ctx); err != nil {
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

// resolve overlays per-call options on the manager defaults.
func (m *TxManager) resolve(opts tx.Options) TxOptions {
	resolved := m.defaults
	if opts.IsolationLevel != tx.IsolationDefault {
		resolved.IsolationLevel = pgx.TxIsoLevel(opts.IsolationLevel)
	}
	if opts.ReadOnly {
		resolved.AccessMode = pgx.ReadOnly
	}
	return resolved
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

// Querier is satisfied by both the pool and a transaction.
// This allows repos to work both inside and outside transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns appropriate querier for context.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t.Tx
	}
	return m.pool
}
