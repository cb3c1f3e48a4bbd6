package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultTxTimeout = 5 * time.Second
	rollbackTimeout  = 3 * time.Second
)

// Querier is the statement surface shared by a pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store scopes units of work to a single database transaction.
type Store struct {
	db        DB
	txTimeout time.Duration
}

func NewStore(db DB, txTimeout time.Duration) *Store {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &Store{db: db, txTimeout: txTimeout}
}

// WithTransaction runs body inside one transaction. It commits when body
// returns nil and rolls back otherwise; the pooled connection is released on
// every path. Failures come back classified as *ConnectionError,
// *CredentialsError or *SQLError; other errors from body pass through.
func (s *Store) WithTransaction(ctx context.Context, body func(ctx context.Context, q Querier) error) (err error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classifyConnect(err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// ctx may already be cancelled; rollback still needs to reach the server.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.WarnContext(ctx, "Transaction rollback failed", "error", rbErr, "cause", err)
		}
	}()

	if err = body(ctx, tx); err != nil {
		return classifyStatement(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return classifyStatement(err)
	}
	committed = true
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return classifyConnect(err)
}
