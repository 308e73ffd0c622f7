package client

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/nfrund/relay/internal/domain"
)

// SubprotocolModern is negotiated by the coder/websocket variant.
const SubprotocolModern = "relay.v2"

type coderWire struct {
	conn *websocket.Conn
}

func (w *coderWire) read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *coderWire) write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *coderWire) close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

func dialModern(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{SubprotocolModern},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnection, url, err)
	}
	if conn.Subprotocol() != SubprotocolModern {
		conn.CloseNow()
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrConnection, ErrSubprotocol, SubprotocolModern)
	}
	return conn, nil
}

// NewModernTransport returns a Transport backed by github.com/coder/websocket.
func NewModernTransport(url string) Transport {
	return newSession("modern", func(ctx context.Context) (wire, error) {
		conn, err := dialModern(ctx, url)
		if err != nil {
			return nil, err
		}
		return &coderWire{conn: conn}, nil
	})
}
