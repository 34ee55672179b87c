package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL for accounts, audit and outbox tables.
// It is idempotent and shared with the database/sql backend.
func Schema() string {
	return schemaSQL
}

// EnsureSchema creates missing tables.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
