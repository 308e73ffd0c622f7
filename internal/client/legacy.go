package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/relay/internal/domain"
)

// SubprotocolLegacy is negotiated by the gorilla/websocket variant.
const SubprotocolLegacy = "relay.v1"

type gorillaWire struct {
	conn *websocket.Conn
}

// read maps ctx onto gorilla's deadline model. Cancellation without a deadline
// is handled by closing the connection.
func (w *gorillaWire) read(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (w *gorillaWire) write(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *gorillaWire) close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}

func dialLegacy(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{SubprotocolLegacy},
		HandshakeTimeout: handshakeLimit,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnection, url, err)
	}
	if conn.Subprotocol() != SubprotocolLegacy {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrConnection, ErrSubprotocol, SubprotocolLegacy)
	}
	return conn, nil
}

// NewLegacyTransport returns a Transport backed by github.com/gorilla/websocket.
func NewLegacyTransport(url string) Transport {
	return newSession("legacy", func(ctx context.Context) (wire, error) {
		conn, err := dialLegacy(ctx, url)
		if err != nil {
			return nil, err
		}
		return &gorillaWire{conn: conn}, nil
	})
}
