package txproxy

import (
	"context"
	"sync"

	"txguard/internal/core/id"
	"txguard/internal/core/tx"
)

type fakeHandle struct {
	id id.ID
}

func (h *fakeHandle) ID() id.ID { return h.id }

type fakeTxKey struct{}

func handleFrom(ctx context.Context) *fakeHandle {
	h, _ := ctx.Value(fakeTxKey{}).(*fakeHandle)
	return h
}

// recordingManager counts every call and the terminations of each handle.
type recordingManager struct {
	mu          sync.Mutex
	begins      int
	commits     int
	rollbacks   int
	terminated  map[id.ID]int
	beginErr    error
	commitErr   error
	rollbackErr error
	nilHandle   bool
	lastOptions tx.Options
	lastCtx     context.Context
}

func newRecordingManager() *recordingManager {
	return &recordingManager{terminated: make(map[id.ID]int)}
}

func (m *recordingManager) Begin(ctx context.Context, opts tx.Options) (context.Context, tx.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	m.lastOptions = opts
	m.lastCtx = ctx
	if m.beginErr != nil {
		return nil, nil, m.beginErr
	}
	if m.nilHandle {
		return ctx, nil, nil
	}
	h := &fakeHandle{id: id.New()}
	return context.WithValue(ctx, fakeTxKey{}, h), h, nil
}

func (m *recordingManager) Commit(_ context.Context, h tx.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	m.terminated[h.ID()]++
	return m.commitErr
}

func (m *recordingManager) Rollback(_ context.Context, h tx.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks++
	m.terminated[h.ID()]++
	return m.rollbackErr
}

func (m *recordingManager) counts() (begins, commits, rollbacks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begins, m.commits, m.rollbacks
}
