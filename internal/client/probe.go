package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/nfrund/relay/internal/domain"
)

// Variant names a Transport implementation.
type Variant string

const (
	VariantModern Variant = "modern"
	VariantLegacy Variant = "legacy"
)

// NewTransport builds a Transport of the given variant.
func NewTransport(v Variant, url string) (Transport, error) {
	switch v {
	case VariantModern:
		return NewModernTransport(url), nil
	case VariantLegacy:
		return NewLegacyTransport(url), nil
	default:
		return nil, fmt.Errorf("unknown transport variant %q", v)
	}
}

// Probe opens a throwaway connection per variant, newest first, and returns the
// first whose subprotocol the server negotiates.
func Probe(ctx context.Context, url string) (Variant, error) {
	var errs []error

	conn, err := dialModern(ctx, url)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "probe")
		return VariantModern, nil
	}
	errs = append(errs, err)

	legacy, err := dialLegacy(ctx, url)
	if err == nil {
		_ = (&gorillaWire{conn: legacy}).close()
		return VariantLegacy, nil
	}
	errs = append(errs, err)

	slog.Warn("No transport variant negotiated", "url", url, "error", errors.Join(errs...))
	return "", fmt.Errorf("%w: no transport variant available: %w", domain.ErrConnection, errors.Join(errs...))
}
