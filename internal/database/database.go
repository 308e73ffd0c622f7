// Package database connects to SurrealDB and runs typed queries against it.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/nfrund/relay/internal/config"
	"github.com/surrealdb/surrealdb.go"
)

// NewDB connects, signs in and selects the namespace/database, retrying
// transient failures with backoff.
func NewDB(ctx context.Context, cfg config.SurrealConfig) (*surrealdb.DB, error) {
	var db *surrealdb.DB
	err := NewRetryer().Retry(ctx, func() error {
		conn, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Connected to SurrealDB", "url", redactURL(cfg.URL), "ns", cfg.NS, "db", cfg.DB)
	return db, nil
}

func connect(ctx context.Context, cfg config.SurrealConfig) (*surrealdb.DB, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to surrealdb: %w", err)
	}

	if cfg.User != "" {
		authData := &surrealdb.Auth{
			Username: cfg.User,
			Password: cfg.Pass,
		}
		if _, err = db.SignIn(ctx, authData); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if err = db.Use(ctx, cfg.NS, cfg.DB); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/db: %w", err)
	}
	return db, nil
}

// redactURL hides credentials embedded in a connection URL.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return parsed.Redacted()
}
