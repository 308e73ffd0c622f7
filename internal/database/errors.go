package database

import (
	"errors"
	"fmt"

	"github.com/nfrund/relay/internal/domain"
)

// ErrNotFound is returned when a query that must yield a row yields none.
// It matches domain.ErrNotFound.
var ErrNotFound = fmt.Errorf("record %w", domain.ErrNotFound)

// Error is a storage error with the operation and statement that failed.
type Error struct {
	err   error
	op    string
	query string
}

// NewError wraps err with the operation being performed.
func NewError(err error, op string) *Error {
	return &Error{err: err, op: op}
}

// WithQuery records the failing statement.
func (e *Error) WithQuery(query string) *Error {
	e.query = query
	return e
}

func (e *Error) Error() string {
	msg := e.op
	if e.query != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.query)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
