// Package tx provides transaction management abstractions.
// This package defines the contract between the transactional interceptor and
// concrete storage backends, following the Dependency Inversion Principle.
package tx

import (
	"context"
	"errors"

	"txguard/internal/core/id"
)

// ErrHandleTerminated is returned by managers when a handle is committed or
// rolled back a second time.
var ErrHandleTerminated = errors.New("transaction handle already terminated")

// ErrUnknownHandle is returned when a handle was not produced by the manager
// it is passed to.
var ErrUnknownHandle = errors.New("transaction handle does not belong to this manager")

// IsolationLevel names the isolation requested from the backend.
// Empty means "backend default".
type IsolationLevel string

const (
	IsolationDefault        IsolationLevel = ""
	IsolationReadCommitted  IsolationLevel = "read committed"
	IsolationRepeatableRead IsolationLevel = "repeatable read"
	IsolationSerializable   IsolationLevel = "serializable"
)

// Options configures a transaction at Begin.
// The interceptor always passes DefaultOptions(); backends may be configured
// with their own defaults.
type Options struct {
	IsolationLevel IsolationLevel
	ReadOnly       bool
}

// DefaultOptions returns the zero configuration: backend default isolation, read-write.
func DefaultOptions() Options {
	return Options{}
}

// Handle is an opaque token for an in-progress transaction.
// It must be passed to exactly one of Commit or Rollback.
type Handle interface {
	// ID identifies the transaction in logs and traces.
	ID() id.ID
}

// Manager defines the contract for transaction demarcation.
//
// Begin returns a derived context carrying the transaction so that repositories
// called with it participate in the same unit of work. Commit and Rollback each
// accept a handle exactly once; implementations must be safe for concurrent use.
type Manager interface {
	Begin(ctx context.Context, opts Options) (context.Context, Handle, error)
	Commit(ctx context.Context, h Handle) error
	Rollback(ctx context.Context, h Handle) error
}
