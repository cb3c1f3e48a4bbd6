package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/jackc/pgx/v5"
)

type UserRepository interface {
	AddUser(ctx context.Context, user *domain.User, card *domain.PaymentInstrument) (int64, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
	FindPaymentInstrument(ctx context.Context, userID int64) (*domain.PaymentInstrument, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
}

type userRepository struct {
	store *Store
}

func NewUserRepository(store *Store) UserRepository {
	return &userRepository{store: store}
}

const (
	userTable = "user_details"
	cardTable = "card_details"
)

var (
	userInsertCols = []string{"first_name", "last_name", "age", "address", "gender", "mobile", "email", "username", "password_hash"}
	cardInsertCols = []string{"uid", "cardholder_name", "card_type", "card_number", "cvv", "expiry"}
)

const userCols = `id, first_name, last_name, age, address, gender, mobile, email, username, password_hash, created_at`

const cardCols = `id, uid, cardholder_name, card_type, card_number, cvv, expiry`

// prepareInsert builds a positional INSERT. Identifiers come from the
// constants above, never from input.
func prepareInsert(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

var (
	insertUserSQL = prepareInsert(userTable, userInsertCols) + " RETURNING id"
	insertCardSQL = prepareInsert(cardTable, cardInsertCols)
)

// InsertUser writes the profile row and returns its generated id.
func InsertUser(ctx context.Context, q Querier, u *domain.User) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, insertUserSQL,
		u.FirstName, u.LastName, u.Age, u.Address, string(u.Gender), u.Mobile, u.Email, u.Username, u.PasswordHash,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertPaymentInstrument writes the card row linked to userID.
func InsertPaymentInstrument(ctx context.Context, q Querier, c *domain.PaymentInstrument, userID int64) error {
	_, err := q.Exec(ctx, insertCardSQL,
		userID, c.CardholderName, string(c.CardType), c.CardNumber, c.CVV, c.Expiry,
	)
	return err
}

// AddUser stores the profile and its payment instrument atomically. Either
// both rows exist afterwards or neither does.
func (r *userRepository) AddUser(ctx context.Context, user *domain.User, card *domain.PaymentInstrument) (int64, error) {
	var userID int64
	err := r.store.WithTransaction(ctx, func(ctx context.Context, q Querier) error {
		id, err := InsertUser(ctx, q, user)
		if err != nil {
			return err
		}
		if err := InsertPaymentInstrument(ctx, q, card, id); err != nil {
			return err
		}
		userID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (r *userRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM ` + userTable + ` WHERE username = $1 LIMIT 1`
	return r.findUser(ctx, q, username)
}

func (r *userRepository) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM ` + userTable + ` WHERE id = $1`
	return r.findUser(ctx, q, id)
}

// findUser returns nil, nil when no row matches.
func (r *userRepository) findUser(ctx context.Context, q string, arg any) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var (
		u      domain.User
		gender string
	)
	err := r.store.db.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Age, &u.Address, &gender, &u.Mobile, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStatement(err)
	}
	u.Gender = domain.Gender(gender)
	return &u, nil
}

func (r *userRepository) FindPaymentInstrument(ctx context.Context, userID int64) (*domain.PaymentInstrument, error) {
	const q = `SELECT ` + cardCols + ` FROM ` + cardTable + ` WHERE uid = $1 ORDER BY id LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var (
		c        domain.PaymentInstrument
		cardType string
	)
	err := r.store.db.QueryRow(ctx, q, userID).Scan(
		&c.ID, &c.UserID, &c.CardholderName, &cardType, &c.CardNumber, &c.CVV, &c.Expiry,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStatement(err)
	}
	c.CardType = domain.CardType(cardType)
	return &c, nil
}

func (r *userRepository) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	const q = `UPDATE ` + userTable + ` SET password_hash = $2 WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.store.db.Exec(ctx, q, userID, hash)
	if err != nil {
		return classifyStatement(err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
