package txproxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"txguard/internal/core/apperror"
	"txguard/internal/core/tx"
	"txguard/pkg/logger"
)

const tracerName = "txguard/txproxy"

// Phase is the demarcation state of a transactional invocation.
// NotStarted -> Active -> (Committed | RolledBack); no state is revisited.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseActive     Phase = "active"
	PhaseCommitted  Phase = "committed"
	PhaseRolledBack Phase = "rolled_back"
)

// Failure phases reported in TransactionalOperationFailed details.
const (
	failedInExecute = "execute"
	failedInCommit  = "commit"
)

// Invocation is a single call: a method identity and its arguments.
type Invocation struct {
	Method Method
	Args   []any
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithMetrics records transactional outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(ic *Interceptor) {
		ic.metrics = m
	}
}

// WithTracerProvider sets the provider for invocation spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(ic *Interceptor) {
		ic.tracer = tp.Tracer(tracerName)
	}
}

// Interceptor owns one target and brackets its transactional methods with
// begin/commit/rollback. It keeps no state between calls and is safe for
// concurrent use when the target and the manager are.
type Interceptor struct {
	target     reflect.Value
	targetType reflect.Type
	classifier *Classifier
	txm        tx.Manager
	metrics    *Metrics
	tracer     trace.Tracer
}

// New wraps target. The target is never copied or modified.
func New(target any, classifier *Classifier, txm tx.Manager, opts ...Option) (*Interceptor, error) {
	if target == nil {
		return nil, errors.New("txproxy: target is nil")
	}
	if classifier == nil {
		return nil, errors.New("txproxy: classifier is nil")
	}
	if txm == nil {
		return nil, errors.New("txproxy: transaction manager is nil")
	}
	ic := &Interceptor{
		target:     reflect.ValueOf(target),
		targetType: reflect.TypeOf(target),
		classifier: classifier,
		txm:        txm,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(ic)
	}
	return ic, nil
}

// MustNew is like New but panics on a wiring error. Use in composition roots.
func MustNew(target any, classifier *Classifier, txm tx.Manager, opts ...Option) *Interceptor {
	ic, err := New(target, classifier, txm, opts...)
	if err != nil {
		panic(err)
	}
	return ic
}

// TargetType returns the concrete type used for classification.
func (ic *Interceptor) TargetType() reflect.Type {
	return ic.targetType
}

// IsTransactional classifies method against the target's concrete type.
func (ic *Interceptor) IsTransactional(method Method) (bool, error) {
	return ic.classifier.IsTransactional(ic.targetType, method.Name, method.Params)
}

// Invoke calls method on the target by reflection.
//
// When the method's first parameter is a context.Context, the transactional
// path replaces that argument with the context returned by Begin so the target
// runs inside the transaction. An explicit non-nil context argument takes
// precedence over ctx on both paths: the transaction is derived from it.
// Results are returned without the trailing error.
func (ic *Interceptor) Invoke(ctx context.Context, method Method, args ...any) ([]any, error) {
	transactional, err := ic.IsTransactional(method)
	if err != nil {
		return nil, err
	}

	fn := ic.target.MethodByName(method.Name)
	in, err := arguments(ctx, method, fn.Type(), args)
	if err != nil {
		return nil, err
	}

	if !transactional {
		return call(fn, in)
	}
	if method.takesContext() {
		if argCtx, ok := in[0].Interface().(context.Context); ok && argCtx != nil {
			ctx = argCtx
		}
	}

	var results []any
	err = ic.demarcate(ctx, method, func(txCtx context.Context) error {
		if method.takesContext() {
			in[0] = reflect.ValueOf(txCtx)
		}
		var callErr error
		results, callErr = call(fn, in)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// InvokeWith is Invoke for a prepared Invocation.
func (ic *Interceptor) InvokeWith(ctx context.Context, inv Invocation) ([]any, error) {
	return ic.Invoke(ctx, inv.Method, inv.Args...)
}

// Call runs fn as the body of method on ic's target. Hand-written proxies use
// it to delegate each interface method: fn receives the context to pass to the
// target, which carries the transaction when the method is transactional.
func Call[T any](ctx context.Context, ic *Interceptor, method Method, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	transactional, err := ic.IsTransactional(method)
	if err != nil {
		return zero, err
	}
	if !transactional {
		return fn(ctx)
	}

	var out T
	err = ic.demarcate(ctx, method, func(txCtx context.Context) error {
		var callErr error
		out, callErr = fn(txCtx)
		return callErr
	})
	if err != nil {
		return zero, err
	}
	return out, nil
}

// demarcation tracks one transactional invocation through its phases.
type demarcation struct {
	method string
	handle tx.Handle
	phase  Phase

	// terminating is set once commit or rollback has been attempted.
	terminating bool
}

func (d *demarcation) advance(ctx context.Context, to Phase) {
	switch {
	case d.phase == PhaseNotStarted && to == PhaseActive:
	case d.phase == PhaseActive && (to == PhaseCommitted || to == PhaseRolledBack):
	default:
		panic(fmt.Sprintf("txproxy: invalid phase transition %s -> %s for %s", d.phase, to, d.method))
	}
	logger.Debug(ctx, "transaction phase",
		"method", d.method,
		"tx_id", d.handle.ID(),
		"from", d.phase,
		"to", to,
	)
	d.phase = to
}

// demarcate begins a transaction, runs body inside it and terminates the handle
// exactly once: commit on success, rollback on error or panic.
func (ic *Interceptor) demarcate(ctx context.Context, method Method, body func(ctx context.Context) error) (err error) {
	label := ic.label(method)
	started := time.Now()

	ctx, span := ic.tracer.Start(ctx, "txproxy.invoke",
		trace.WithAttributes(
			attribute.String("txproxy.method", label),
			attribute.Bool("txproxy.transactional", true),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	txCtx, handle, err := ic.txm.Begin(ctx, tx.DefaultOptions())
	if err != nil {
		ic.metrics.observe(label, OutcomeBeginFailed, started)
		return fmt.Errorf("begin transaction: %w", err)
	}
	if handle == nil {
		ic.metrics.observe(label, OutcomeBeginFailed, started)
		return errors.New("begin transaction: manager returned a nil handle")
	}

	d := &demarcation{method: label, handle: handle, phase: PhaseNotStarted}
	d.advance(ctx, PhaseActive)
	span.SetAttributes(attribute.String("tx.id", handle.ID().String()))

	defer func() {
		if d.phase != PhaseActive || d.terminating {
			return
		}
		// body panicked or called runtime.Goexit
		r := recover()
		span.SetStatus(codes.Error, "panic")
		if rbErr := ic.txm.Rollback(context.WithoutCancel(ctx), handle); rbErr != nil {
			logger.Error(ctx, "rollback after panic failed", "method", label, "tx_id", handle.ID(), "error", rbErr)
		}
		d.advance(ctx, PhaseRolledBack)
		ic.metrics.observe(label, OutcomePanicked, started)
		if r != nil {
			panic(r)
		}
	}()

	if bodyErr := body(txCtx); bodyErr != nil {
		d.terminating = true
		// Use a non-cancelled context so rollback completes even if the caller's context is done
		rbErr := ic.txm.Rollback(context.WithoutCancel(ctx), handle)
		d.advance(ctx, PhaseRolledBack)
		ic.metrics.observe(label, OutcomeRolledBack, started)

		cause := bodyErr
		if rbErr != nil {
			logger.Error(ctx, "rollback failed", "method", label, "tx_id", handle.ID(), "error", rbErr, "original_error", bodyErr)
			cause = errors.Join(bodyErr, fmt.Errorf("rollback: %w", rbErr))
		}
		return apperror.NewTransactionalOperationFailed(label, failedInExecute, cause, rbErr == nil).
			WithDetail("tx_id", handle.ID().String())
	}

	// The manager owns the handle after a commit attempt; no rollback follows a failed commit.
	d.terminating = true
	commitErr := ic.txm.Commit(ctx, handle)
	d.advance(ctx, PhaseCommitted)
	if commitErr != nil {
		ic.metrics.observe(label, OutcomeCommitFailed, started)
		logger.Error(ctx, "commit failed", "method", label, "tx_id", handle.ID(), "error", commitErr)
		return apperror.NewTransactionalOperationFailed(label, failedInCommit, commitErr, false).
			WithDetail("tx_id", handle.ID().String())
	}
	ic.metrics.observe(label, OutcomeCommitted, started)
	return nil
}

// label names a method as Type.Method for logs, traces and metrics.
func (ic *Interceptor) label(method Method) string {
	return baseType(ic.targetType).Name() + "." + method.Name
}

// arguments converts args to call values for a method of type ft.
func arguments(ctx context.Context, method Method, ft reflect.Type, args []any) ([]reflect.Value, error) {
	if len(args) != len(method.Params) {
		return nil, apperror.NewInvalidInvocation(method.String(),
			fmt.Sprintf("expected %d arguments, got %d", len(method.Params), len(args)))
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		pt := ft.In(i)
		if arg == nil {
			if i == 0 && method.takesContext() {
				in[i] = reflect.ValueOf(ctx)
				continue
			}
			if !nilable(pt) {
				return nil, apperror.NewInvalidInvocation(method.String(),
					fmt.Sprintf("argument %d: nil is not a valid %s", i, pt))
			}
			in[i] = reflect.Zero(pt)
			continue
		}
		v := reflect.ValueOf(arg)
		if !v.Type().AssignableTo(pt) {
			return nil, apperror.NewInvalidInvocation(method.String(),
				fmt.Sprintf("argument %d: %s is not assignable to %s", i, v.Type(), pt))
		}
		in[i] = v
	}
	return in, nil
}

// call invokes fn and splits a trailing error result from the others.
func call(fn reflect.Value, in []reflect.Value) ([]any, error) {
	var out []reflect.Value
	if fn.Type().IsVariadic() {
		out = fn.CallSlice(in)
	} else {
		out = fn.Call(in)
	}

	ft := fn.Type()
	n := len(out)
	var err error
	if n > 0 && ft.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		n--
	}

	results := make([]any, n)
	for i := 0; i < n; i++ {
		results[i] = out[i].Interface()
	}
	return results, err
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	}
	return false
}
