package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/protocol"
)

// Destinations a session subscribes and publishes to. Inbound frames are routed
// to a destination by their type.
const (
	DestMessages   = "/user/queue/messages"
	DestTyping     = "/user/queue/typing"
	DestAppChat    = "/app/chat"
	DestAppTyping  = "/app/typing"
	destTopicChat  = "/topic/chat/"
	handshakeLimit = 10 * time.Second
	writeTimeout   = 5 * time.Second
)

// DestTopicChat is the broadcast topic scoped to userID.
func DestTopicChat(userID string) string {
	return destTopicChat + userID
}

// FrameHandler receives frames for one destination, on the transport's read goroutine.
type FrameHandler func(protocol.Frame)

// Transport is the subscribe/publish contract shared by the realtime client variants.
type Transport interface {
	// Connect dials the relay and completes the auth handshake for userID.
	Connect(ctx context.Context, userID string) error
	Subscribe(destination string, fn FrameHandler) error
	Publish(ctx context.Context, destination string, frame protocol.Frame) error
	// Deactivate closes the session. It is safe to call more than once.
	Deactivate() error
	// Done is closed once the session has ended for any reason.
	Done() <-chan struct{}
}

// ErrSubprotocol means the server did not negotiate the variant's subprotocol.
var ErrSubprotocol = errors.New("subprotocol not negotiated")

// wire is the minimal socket surface a session needs from a websocket library.
type wire interface {
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, data []byte) error
	close() error
}

// session implements Transport on top of a wire.
type session struct {
	dial   func(ctx context.Context) (wire, error)
	logger *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	w       wire
	userID  string
	subs    map[string]FrameHandler
	backlog map[string][]protocol.Frame
	closed  bool
	done    chan struct{}
	once    sync.Once
	cancel  context.CancelFunc
}

func newSession(variant string, dial func(ctx context.Context) (wire, error)) *session {
	return &session{
		dial:    dial,
		logger:  slog.Default().With("component", "client-transport", "variant", variant),
		subs:    make(map[string]FrameHandler),
		backlog: make(map[string][]protocol.Frame),
		done:    make(chan struct{}),
	}
}

func (s *session) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: %s", domain.ErrAuth, protocol.ErrTextUserRequired)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, handshakeLimit)
		defer cancel()
	}

	w, err := s.dial(ctx)
	if err != nil {
		return err
	}
	if err := s.handshake(ctx, w, userID); err != nil {
		_ = w.close()
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = w.close()
		return fmt.Errorf("%w: deactivated during connect", domain.ErrConnection)
	}
	s.w = w
	s.userID = userID
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(readCtx, w)
	return nil
}

func (s *session) handshake(ctx context.Context, w wire, userID string) error {
	if err := w.write(ctx, protocol.MustEncode(protocol.Auth{UserID: userID})); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	for {
		data, err := w.read(ctx)
		if err != nil {
			return fmt.Errorf("await auth_success: %w", err)
		}
		frame, err := protocol.DecodeServer(data)
		if err != nil {
			s.logger.Warn("Dropping undecodable frame during handshake", "error", err)
			continue
		}
		switch f := frame.(type) {
		case protocol.AuthSuccess:
			return nil
		case protocol.Error:
			return fmt.Errorf("%w: %s", domain.ErrAuth, f.Error)
		default:
			// Frames that race ahead of auth_success are kept for the subscriber.
			s.route(userID, frame)
		}
	}
}

func (s *session) readLoop(ctx context.Context, w wire) {
	defer s.finish()
	for {
		data, err := w.read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Info("Transport closed", "error", err)
			}
			return
		}
		frame, err := protocol.DecodeServer(data)
		if err != nil {
			s.logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		s.mu.Lock()
		userID := s.userID
		s.mu.Unlock()
		s.route(userID, frame)
	}
}

// route hands frame to the subscriber of its destination, or parks it until one subscribes.
func (s *session) route(userID string, frame protocol.Frame) {
	var dest string
	switch frame.(type) {
	case protocol.ChatDelivery, protocol.MessageSent:
		dest = DestMessages
	case protocol.TypingEvent:
		dest = DestTyping
	default:
		dest = DestTopicChat(userID)
	}

	s.mu.Lock()
	fn, ok := s.subs[dest]
	if !ok {
		s.backlog[dest] = append(s.backlog[dest], frame)
	}
	s.mu.Unlock()
	if ok {
		fn(frame)
	}
}

func (s *session) Subscribe(destination string, fn FrameHandler) error {
	s.mu.Lock()
	if s.w == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: subscribe before connect", domain.ErrConnection)
	}
	switch destination {
	case DestMessages, DestTyping, DestTopicChat(s.userID):
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: unknown destination %q", domain.ErrConnection, destination)
	}
	s.subs[destination] = fn
	parked := s.backlog[destination]
	delete(s.backlog, destination)
	s.mu.Unlock()

	for _, frame := range parked {
		fn(frame)
	}
	return nil
}

func (s *session) Publish(ctx context.Context, destination string, frame protocol.Frame) error {
	switch destination {
	case DestAppChat:
		if _, ok := frame.(protocol.ChatRequest); !ok {
			return fmt.Errorf("%w: %s only accepts chat messages", domain.ErrProtocol, destination)
		}
	case DestAppTyping:
		if _, ok := frame.(protocol.TypingRequest); !ok {
			return fmt.Errorf("%w: %s only accepts typing signals", domain.ErrProtocol, destination)
		}
	default:
		return fmt.Errorf("%w: unknown destination %q", domain.ErrProtocol, destination)
	}
	return s.send(ctx, frame)
}

func (s *session) send(ctx context.Context, frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	if w == nil {
		return fmt.Errorf("%w: not connected", domain.ErrConnection)
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: transport closed", domain.ErrConnection)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := w.write(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return nil
}

func (s *session) Deactivate() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w, cancel := s.w, s.cancel
	s.mu.Unlock()

	defer s.finish()
	if w == nil {
		return nil
	}
	// Best effort: lets the relay unregister us before the socket goes away.
	_ = s.send(context.Background(), protocol.Disconnect{})
	cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return w.close()
}

func (s *session) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) Done() <-chan struct{} {
	return s.done
}
