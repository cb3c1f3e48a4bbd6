package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB keeps committed rows in memory. Transactions buffer their writes
// and only publish them on Commit.
type fakeDB struct {
	mu sync.Mutex

	users  []map[string]any
	cards  []map[string]any
	nextID int64

	beginErr  error
	failCard  error
	failUser  error
	commitErr error

	begun      int
	committed  int
	rolledBack int
	open       int
}

func newFakeDB() *fakeDB {
	return &fakeDB{nextID: 1}
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	db.begun++
	db.open++
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()

	switch {
	case strings.Contains(sql, "FROM user_details WHERE"):
		key := "username"
		if strings.Contains(sql, "WHERE id") {
			key = "id"
		}
		for _, u := range db.users {
			if u[key] == args[0] {
				return fakeRow{values: []any{
					u["id"], u["first_name"], u["last_name"], u["age"], u["address"], u["gender"],
					u["mobile"], u["email"], u["username"], u["password_hash"], time.Unix(0, 0),
				}}
			}
		}
		return fakeRow{err: pgx.ErrNoRows}
	case strings.Contains(sql, "FROM card_details WHERE uid"):
		for _, c := range db.cards {
			if c["uid"] == args[0] {
				return fakeRow{values: []any{
					c["id"], c["uid"], c["cardholder_name"], c["card_type"], c["card_number"], c["cvv"], c["expiry"],
				}}
			}
		}
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (db *fakeDB) counts() (users, cards int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), len(db.cards)
}

type fakeTx struct {
	pgx.Tx

	db      *fakeDB
	users   []map[string]any
	cards   []map[string]any
	aborted bool
	closed  bool
}

func (tx *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if !strings.HasPrefix(sql, "INSERT INTO user_details") {
		return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
	}
	if tx.db.failUser != nil {
		tx.aborted = true
		return fakeRow{err: tx.db.failUser}
	}
	tx.db.mu.Lock()
	taken := hasUsername(tx.db.users, args[7]) || hasUsername(tx.users, args[7])
	id := tx.db.nextID
	tx.db.nextID++
	tx.db.mu.Unlock()

	if taken {
		tx.aborted = true
		return fakeRow{err: &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}}
	}

	tx.users = append(tx.users, row(userInsertCols, args, id))
	return fakeRow{values: []any{id}}
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if !strings.HasPrefix(sql, "INSERT INTO card_details") {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected statement: %s", sql)
	}
	if tx.db.failCard != nil {
		tx.aborted = true
		return pgconn.CommandTag{}, tx.db.failCard
	}
	tx.db.mu.Lock()
	id := tx.db.nextID
	tx.db.nextID++
	tx.db.mu.Unlock()

	tx.cards = append(tx.cards, row(cardInsertCols, args, id))
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.open--
	if tx.aborted {
		tx.db.rolledBack++
		return pgx.ErrTxCommitRollback
	}
	if tx.db.commitErr != nil {
		tx.db.rolledBack++
		return tx.db.commitErr
	}
	tx.db.users = append(tx.db.users, tx.users...)
	tx.db.cards = append(tx.db.cards, tx.cards...)
	tx.db.committed++
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.open--
	tx.db.rolledBack++
	return nil
}

func hasUsername(rows []map[string]any, username any) bool {
	for _, u := range rows {
		if u["username"] == username {
			return true
		}
	}
	return false
}

func row(cols []string, args []any, id int64) map[string]any {
	m := map[string]any{"id": id}
	for i, c := range cols {
		m[c] = args[i]
	}
	return m
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		if err := assign(d, r.values[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *int64:
		n, ok := v.(int64)
		if !ok {
			return errors.New("not int64")
		}
		*d = n
	case *int:
		n, ok := v.(int)
		if !ok {
			return errors.New("not int")
		}
		*d = n
	case *string:
		s, ok := v.(string)
		if !ok {
			return errors.New("not string")
		}
		*d = s
	case *time.Time:
		t, ok := v.(time.Time)
		if !ok {
			return errors.New("not time")
		}
		*d = t
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}
