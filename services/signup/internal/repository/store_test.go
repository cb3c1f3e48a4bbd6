package repository

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreSuite struct {
	suite.Suite
	db    *fakeDB
	store *Store
	repo  UserRepository
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.db = newFakeDB()
	s.store = NewStore(s.db, time.Second)
	s.repo = NewUserRepository(s.store)
}

func testUser(username string) *domain.User {
	return &domain.User{
		FirstName: "John", LastName: "Doe", Age: 30, Address: "1 Main St",
		Gender: domain.GenderMale, Mobile: "5551234567", Email: "john@example.com",
		Username: username, PasswordHash: "$argon2id$v=19$m=65536,t=1,p=2$c2FsdA$ZGlnZXN0",
	}
}

func testCard() *domain.PaymentInstrument {
	return &domain.PaymentInstrument{
		CardholderName: "John Doe", CardType: domain.CardCredit,
		CardNumber: "4111111111111111", CVV: "123",
		Expiry: time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC),
	}
}

func (s *StoreSuite) TestAddUserCommitsBothRows() {
	ctx := context.Background()

	id, err := s.repo.AddUser(ctx, testUser("jdoe.1"), testCard())
	s.Require().NoError(err)
	s.NotZero(id)

	users, cards := s.db.counts()
	s.Equal(1, users)
	s.Equal(1, cards)
	s.Equal(id, s.db.cards[0]["uid"], "card row references the new user id")
	s.Equal(1, s.db.committed)
	s.Zero(s.db.open, "connection released")

	u, err := s.repo.FindUserByUsername(ctx, "jdoe.1")
	s.Require().NoError(err)
	s.Require().NotNil(u)
	s.Equal(id, u.ID)
	s.Equal(domain.GenderMale, u.Gender)

	byID, err := s.repo.FindUserByID(ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(byID)
	s.Equal("jdoe.1", byID.Username)

	card, err := s.repo.FindPaymentInstrument(ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(card)
	s.Equal(domain.CardCredit, card.CardType)
}

func (s *StoreSuite) TestAddUserRollsBackWhenCardInsertFails() {
	s.db.failCard = &pgconn.PgError{Code: "42P01", Message: `relation "card_details" does not exist`}

	_, err := s.repo.AddUser(context.Background(), testUser("jdoe.1"), testCard())

	var sqlErr *SQLError
	s.Require().ErrorAs(err, &sqlErr)
	s.Equal("42P01", sqlErr.Code)

	users, cards := s.db.counts()
	s.Zero(users, "profile row must not survive a failed card insert")
	s.Zero(cards)
	s.Equal(1, s.db.rolledBack)
	s.Zero(s.db.open)
}

func (s *StoreSuite) TestAddUserDuplicateUsername() {
	ctx := context.Background()
	_, err := s.repo.AddUser(ctx, testUser("jdoe.1"), testCard())
	s.Require().NoError(err)

	_, err = s.repo.AddUser(ctx, testUser("jdoe.1"), testCard())
	s.True(IsUniqueViolation(err))

	users, cards := s.db.counts()
	s.Equal(1, users)
	s.Equal(1, cards)
}

func (s *StoreSuite) TestBeginFailureIsConnectionError() {
	s.db.beginErr = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	_, err := s.repo.AddUser(context.Background(), testUser("jdoe.1"), testCard())

	var connErr *ConnectionError
	s.ErrorAs(err, &connErr)
	s.Zero(s.db.begun)
}

func (s *StoreSuite) TestBeginAuthFailureIsCredentialsError() {
	s.db.beginErr = &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}

	err := s.store.WithTransaction(context.Background(), func(context.Context, Querier) error { return nil })

	var credsErr *CredentialsError
	s.ErrorAs(err, &credsErr)
}

func (s *StoreSuite) TestCommitFailureRollsBackAndIsClassified() {
	s.db.commitErr = &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}

	_, err := s.repo.AddUser(context.Background(), testUser("jdoe.1"), testCard())

	var connErr *ConnectionError
	s.ErrorAs(err, &connErr)
	users, _ := s.db.counts()
	s.Zero(users)
	s.Zero(s.db.open)
}

func (s *StoreSuite) TestNonDatabaseErrorPassesThrough() {
	sentinel := errors.New("domain says no")

	err := s.store.WithTransaction(context.Background(), func(context.Context, Querier) error { return sentinel })

	s.Same(sentinel, err)
	s.False(IsInfrastructure(err))
	s.Equal(1, s.db.rolledBack)
}

func (s *StoreSuite) TestFindUserByUsernameAbsent() {
	u, err := s.repo.FindUserByUsername(context.Background(), "ghost")
	s.NoError(err)
	s.Nil(u)

	u, err = s.repo.FindUserByID(context.Background(), 404)
	s.NoError(err)
	s.Nil(u)
}

func TestPrepareInsert(t *testing.T) {
	got := prepareInsert("card_details", []string{"uid", "cvv"})
	assert.Equal(t, "INSERT INTO card_details (uid, cvv) VALUES ($1, $2)", got)
	assert.True(t, strings.HasSuffix(insertUserSQL, "($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id"))
}

func TestClassifyStatement(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want any
	}{
		{"syntax", &pgconn.PgError{Code: "42601"}, &SQLError{}},
		{"unique", &pgconn.PgError{Code: "23505"}, &SQLError{}},
		{"auth", &pgconn.PgError{Code: "28000"}, &CredentialsError{}},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, &ConnectionError{}},
		{"conn failure", &pgconn.PgError{Code: "08006"}, &ConnectionError{}},
		{"network", &net.OpError{Op: "write", Err: errors.New("broken pipe")}, &ConnectionError{}},
	}
	for _, tc := range cases {
		got := classifyStatement(tc.err)
		switch tc.want.(type) {
		case *SQLError:
			var e *SQLError
			assert.ErrorAs(t, got, &e, tc.name)
		case *CredentialsError:
			var e *CredentialsError
			assert.ErrorAs(t, got, &e, tc.name)
		case *ConnectionError:
			var e *ConnectionError
			assert.ErrorAs(t, got, &e, tc.name)
		}
		assert.ErrorIs(t, got, tc.err, "%s keeps the cause", tc.name)
	}

	plain := errors.New("plain")
	assert.Same(t, plain, classifyStatement(plain))
	require.NoError(t, classifyStatement(nil))
}
