package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"txguard/internal/config"
	"txguard/internal/core/txproxy"
	"txguard/internal/infrastructure/storage/postgres"
	"txguard/pkg/logger"
)

// OutboxWorker drains sys_outbox. Each batch runs in its own transaction,
// opened by an interceptor around the relay.
type OutboxWorker struct {
	relay        *postgres.OutboxRelay
	interceptor  *txproxy.Interceptor
	processBatch txproxy.Method
	cfg          config.OutboxConfig
	log          *logger.Logger
}

// NewOutboxWorker wires a relay over txManager.
func NewOutboxWorker(txManager *postgres.TxManager, cfg config.OutboxConfig, log *logger.Logger) (*OutboxWorker, error) {
	log = log.WithComponent("outbox")
	relay := postgres.NewOutboxRelay(txManager, cfg.BatchSize, logHandler{log: log})

	classifier, err := txproxy.NewBuilder().Declare(relay).Build()
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	ic, err := txproxy.New(relay, classifier, txManager)
	if err != nil {
		return nil, err
	}
	method, ok := txproxy.MethodOf(reflect.TypeOf(relay), "ProcessBatch")
	if !ok {
		return nil, errors.New("outbox relay has no ProcessBatch method")
	}

	return &OutboxWorker{
		relay:        relay,
		interceptor:  ic,
		processBatch: method,
		cfg:          cfg,
		log:          log,
	}, nil
}

// Run polls the outbox until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	dlqTicker := time.NewTicker(w.cfg.DLQInterval)
	defer dlqTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		case <-dlqTicker.C:
			w.moveToDLQ(ctx)
		}
	}
}

func (w *OutboxWorker) drain(ctx context.Context) {
	results, err := w.interceptor.Invoke(ctx, w.processBatch, nil)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Errorw("outbox batch failed", "error", err)
		}
		return
	}
	if n, _ := results[0].(int); n > 0 {
		w.log.Debugw("processed outbox batch", "count", n)
	}
}

func (w *OutboxWorker) moveToDLQ(ctx context.Context) {
	moved, err := w.relay.MoveToDLQ(ctx)
	if err != nil {
		w.log.Errorw("failed to move outbox messages to DLQ", "error", err)
		return
	}
	if moved > 0 {
		w.log.Warnw("moved outbox messages to DLQ", "count", moved)
	}
}

// logHandler delivers outbox messages to the worker log. A broker client
// would replace it.
type logHandler struct {
	log *logger.Logger
}

func (h logHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	h.log.Infow("outbox event",
		"message_id", msg.ID,
		"aggregate_id", msg.AggregateID,
		"event_type", msg.EventType,
		"payload", string(msg.Payload),
	)
	return nil
}
