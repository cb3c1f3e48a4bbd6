package repository

import (
	"context"
	_ "embed"
	"time"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent schema. Statements run in one simple-protocol
// batch, which Postgres executes as a single implicit transaction.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.db.Exec(ctx, schemaSQL)
	return classifyStatement(err)
}
