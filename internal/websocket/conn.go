package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	writeTimeout = 10 * time.Second
	// DefaultSendBuffer is the number of outbound frames queued per connection.
	DefaultSendBuffer = 256
)

var (
	// ErrClosed is returned by Send after Close or Terminate.
	ErrClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the peer is not draining frames.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is one accepted realtime connection. It satisfies presence.Handle: every
// method returns without waiting on the network.
type Conn struct {
	id           string
	ws           *websocket.Conn
	send         chan []byte
	probeTimeout time.Duration
	logger       *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, sendBuffer int, probeTimeout time.Duration) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	id := uuid.NewString()
	return &Conn{
		id:           id,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		probeTimeout: probeTimeout,
		logger:       slog.Default().With("component", "websocket", "conn_id", id),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID identifies the connection in logs.
func (c *Conn) ID() string { return c.id }

// Subprotocol returns the negotiated protocol version.
func (c *Conn) Subprotocol() string { return c.ws.Subprotocol() }

// Send enqueues frame for the write pump.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Probe pings the peer in the background and calls onAnswer on the pong.
func (c *Conn) Probe(onAnswer func()) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
		defer cancel()
		if err := c.ws.Ping(ctx); err != nil {
			c.logger.Debug("Probe unanswered", "error", err)
			return
		}
		onAnswer()
	}()
}

// Close flushes queued frames and performs a normal close handshake.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	return nil
}

// Terminate drops the connection without a close handshake.
func (c *Conn) Terminate() {
	c.closeOnce.Do(func() { close(c.closing) })
	_ = c.ws.CloseNow()
}

// Done is closed once the write pump has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// writePump pumps frames from the send channel to the socket.
func (c *Conn) writePump() {
	defer close(c.done)

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.logger.Error("WebSocket write error", "error", err)
				_ = c.ws.CloseNow()
				return
			}
		case <-c.closing:
			c.flush()
			if err := c.ws.Close(websocket.StatusNormalClosure, "closing"); err != nil && !isClosedErr(err) {
				c.logger.Debug("WebSocket close handshake failed", "error", err)
			}
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
