package sqlstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"txguard/internal/core/tx"
)

func TestIsolationMapping(t *testing.T) {
	tests := []struct {
		in   tx.IsolationLevel
		want sql.IsolationLevel
	}{
		{tx.IsolationDefault, sql.LevelDefault},
		{tx.IsolationReadCommitted, sql.LevelReadCommitted},
		{tx.IsolationRepeatableRead, sql.LevelRepeatableRead},
		{tx.IsolationSerializable, sql.LevelSerializable},
		{tx.IsolationLevel("bogus"), sql.LevelDefault},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, isolation(tt.in))
		})
	}
}

func TestTxManager_RejectsForeignAndTerminatedHandles(t *testing.T) {
	m := NewTxManager(nil, tx.IsolationDefault)

	assert.ErrorIs(t, m.Rollback(context.Background(), nil), tx.ErrUnknownHandle)

	done := &Tx{}
	done.terminated.Store(true)
	assert.ErrorIs(t, m.Commit(context.Background(), done), tx.ErrHandleTerminated)
}

func TestAccountQueries(t *testing.T) {
	query, _, err := builder().
		Select(accountColumns...).
		From(accountsTable).
		Limit(1).
		Suffix("FOR UPDATE").
		ToSql()
	assert.NoError(t, err)
	assert.Equal(t, "SELECT id, owner, balance, version, created_at, updated_at FROM accounts LIMIT 1 FOR UPDATE", query)
}
