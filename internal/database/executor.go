package database

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// Query runs a SurrealQL statement and decodes the first statement's rows into T.
//
//	rows, err := Query[messageRow](ctx, db, "SELECT * FROM message WHERE sender_id = $sender", map[string]any{"sender": "alice"})
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, NewError(err, "query").WithQuery(query)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// QueryOne is Query for statements expected to yield at most one row.
// It returns ErrNotFound when there is none.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (T, error) {
	var zero T
	rows, err := Query[T](ctx, db, query, params)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, NewError(ErrNotFound, "query one").WithQuery(query)
	}
	return rows[0], nil
}

// Execute runs a statement whose result is not needed.
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return NewError(err, "execute").WithQuery(query)
	}
	return nil
}

// Ping checks that the connection answers a trivial query.
func Ping(ctx context.Context, db *surrealdb.DB) error {
	if _, err := surrealdb.Query[any](ctx, db, "RETURN true", nil); err != nil {
		return fmt.Errorf("ping surrealdb: %w", err)
	}
	return nil
}
