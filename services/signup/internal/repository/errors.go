package repository

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ConnectionError means the database could not be reached or the link
// dropped mid-transaction.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("database connection: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// CredentialsError means the server rejected the configured login.
type CredentialsError struct {
	Err error
}

func (e *CredentialsError) Error() string { return fmt.Sprintf("database credentials rejected: %v", e.Err) }
func (e *CredentialsError) Unwrap() error { return e.Err }

// SQLError wraps a statement the server refused. Code is the SQLSTATE.
type SQLError struct {
	Code string
	Err  error
}

func (e *SQLError) Error() string { return fmt.Sprintf("sql error %s: %v", e.Code, e.Err) }
func (e *SQLError) Unwrap() error { return e.Err }

const (
	codeUniqueViolation = "23505"

	classConnection  = "08"
	classInvalidAuth = "28"
	classResources   = "53"
	classOperator    = "57"
)

// IsUniqueViolation reports whether err is a duplicate-key rejection.
func IsUniqueViolation(err error) bool {
	var sqlErr *SQLError
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == codeUniqueViolation
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsInfrastructure reports whether err is one of the classified database
// faults as opposed to a domain or programming error.
func IsInfrastructure(err error) bool {
	var (
		connErr  *ConnectionError
		credsErr *CredentialsError
		sqlErr   *SQLError
	)
	return errors.As(err, &connErr) || errors.As(err, &credsErr) || errors.As(err, &sqlErr)
}

// classifyConnect maps a failure to obtain a transaction. Every such failure
// is a connection problem unless the server said the login was wrong.
func classifyConnect(err error) error {
	if err == nil || IsInfrastructure(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, classInvalidAuth) {
		return &CredentialsError{Err: err}
	}
	return &ConnectionError{Err: err}
}

// classifyStatement maps a failure raised while running statements or
// committing.
func classifyStatement(err error) error {
	if err == nil || IsInfrastructure(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, classInvalidAuth):
			return &CredentialsError{Err: err}
		case strings.HasPrefix(pgErr.Code, classConnection),
			strings.HasPrefix(pgErr.Code, classResources),
			strings.HasPrefix(pgErr.Code, classOperator):
			return &ConnectionError{Err: err}
		default:
			return &SQLError{Code: pgErr.Code, Err: err}
		}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return &ConnectionError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ConnectionError{Err: err}
	}
	return err
}
