package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/protocol"
)

// DefaultReconnectDelay is the fixed wait between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// State is the connection lifecycle of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Dialer returns a fresh, unconnected Transport for each connect attempt.
type Dialer func(ctx context.Context) (Transport, error)

// UpdateKind says which part of the Manager's view changed.
type UpdateKind int

const (
	UpdateState UpdateKind = iota
	UpdateMessages
	UpdatePresence
	UpdateTyping
	UpdateError
)

// Update is handed to Config.OnUpdate with a snapshot of what changed.
type Update struct {
	Kind     UpdateKind
	State    State
	Messages []domain.ChatMessage
	Online   []string
	Typing   domain.TypingSignal
	Err      error
}

// Config configures a Manager.
type Config struct {
	// ServerURL is the http(s) base URL of the relay.
	ServerURL      string
	ReconnectDelay time.Duration
	SenderName     string
	HTTPClient     *http.Client
	// Dialer defaults to probing ServerURL once and reusing the chosen variant.
	Dialer Dialer
	// OnUpdate runs on the dispatcher goroutine. It must not call back into the
	// Manager's accessors synchronously; the Update carries the changed state.
	OnUpdate func(Update)
}

type pendingSend struct {
	receiverID string
	body       string
}

// Manager keeps one realtime session for a user and merges everything it
// receives into an ordered Buffer.
type Manager struct {
	cfg    Config
	rest   *RESTClient
	dial   Dialer
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	userID    string
	transport Transport
	retry     *time.Timer

	events    chan func()
	quit      chan struct{}
	closeOnce sync.Once

	// Owned by the dispatcher goroutine.
	buffer  *Buffer
	online  map[string]struct{}
	typing  *domain.TypingSignal
	pending []pendingSend
}

// NewManager creates a Manager and starts its dispatcher. Call Close when done.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	dial := cfg.Dialer
	if dial == nil {
		wsURL, err := WebSocketURL(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		dial = ProbingDialer(wsURL)
	}

	m := &Manager{
		cfg:    cfg,
		rest:   NewRESTClient(cfg.ServerURL, cfg.HTTPClient),
		dial:   dial,
		logger: slog.Default().With("component", "connection-manager"),
		events: make(chan func(), 64),
		quit:   make(chan struct{}),
		buffer: NewBuffer(),
		online: make(map[string]struct{}),
	}
	go m.run()
	return m, nil
}

// WebSocketURL derives the realtime endpoint from the server's base URL.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// ProbingDialer probes url on first use and builds every later transport with
// the variant it found.
func ProbingDialer(url string) Dialer {
	var (
		mu      sync.Mutex
		variant Variant
	)
	return func(ctx context.Context) (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		if variant == "" {
			v, err := Probe(ctx, url)
			if err != nil {
				return nil, err
			}
			slog.Info("Transport variant selected", "variant", v, "url", url)
			variant = v
		}
		return NewTransport(variant, url)
	}
}

func (m *Manager) run() {
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) post(fn func()) bool {
	select {
	case m.events <- fn:
		return true
	case <-m.quit:
		return false
	}
}

// call runs fn on the dispatcher and waits for it.
func (m *Manager) call(fn func()) {
	done := make(chan struct{})
	if !m.post(func() {
		defer close(done)
		fn()
	}) {
		return
	}
	select {
	case <-done:
	case <-m.quit:
	}
}

// emit delivers u from outside the dispatcher.
func (m *Manager) emit(u Update) {
	m.post(func() { m.notify(u) })
}

func (m *Manager) notify(u Update) {
	if m.cfg.OnUpdate != nil {
		m.cfg.OnUpdate(u)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// Connect runs the connect sequence for userID. It is a no-op while already
// Connecting or Connected. A failed attempt is retried after ReconnectDelay
// unless the relay rejected the credentials.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: %w: %s", domain.ErrConnection, domain.ErrAuth, protocol.ErrTextUserRequired)
	}

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	m.gen++
	gen := m.gen
	m.userID = userID
	m.state = Connecting
	m.mu.Unlock()

	m.emit(Update{Kind: UpdateState, State: Connecting})
	err := m.connect(ctx, gen, userID)
	if err != nil && !errors.Is(err, domain.ErrAuth) {
		m.mu.Lock()
		if m.gen == gen && m.state == Disconnected {
			m.scheduleRetryLocked(gen)
		}
		m.mu.Unlock()
		m.logger.Warn("Connect failed, retrying", "user_id", userID, "delay", m.cfg.ReconnectDelay, "error", err)
	}
	return err
}

func (m *Manager) connect(ctx context.Context, gen uint64, userID string) error {
	t, err := m.dial(ctx)
	if err == nil {
		err = t.Connect(ctx, userID)
		if err == nil {
			err = m.subscribe(t, gen, userID)
		}
		if err != nil {
			_ = t.Deactivate()
		}
	}
	if err != nil {
		m.mu.Lock()
		settled := m.gen == gen
		if settled {
			m.state = Disconnected
		}
		m.mu.Unlock()
		if settled {
			m.emit(Update{Kind: UpdateState, State: Disconnected, Err: err})
		}
		if errors.Is(err, domain.ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect was called while this attempt was in flight.
		m.mu.Unlock()
		_ = t.Deactivate()
		return fmt.Errorf("%w: disconnected while connecting", domain.ErrConnection)
	}
	m.transport = t
	m.state = Connected
	m.mu.Unlock()

	m.logger.Info("Connected", "user_id", userID)
	m.emit(Update{Kind: UpdateState, State: Connected})
	go m.watch(t, gen)
	return nil
}

func (m *Manager) subscribe(t Transport, gen uint64, userID string) error {
	subs := []struct {
		dest string
		fn   func(protocol.Frame)
	}{
		{DestMessages, m.onMessageQueue},
		{DestTyping, m.onTyping},
		{DestTopicChat(userID), m.onTopic},
	}
	for _, s := range subs {
		fn := s.fn
		err := t.Subscribe(s.dest, func(f protocol.Frame) {
			m.post(func() {
				if m.current(gen) {
					fn(f)
				}
			})
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s.dest, err)
		}
	}
	return nil
}

// watch turns an unexpected end of t into Disconnected plus a retry.
func (m *Manager) watch(t Transport, gen uint64) {
	<-t.Done()

	m.mu.Lock()
	if m.gen != gen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	m.state = Disconnected
	m.transport = nil
	userID := m.userID
	m.scheduleRetryLocked(gen)
	m.mu.Unlock()

	_ = t.Deactivate()
	m.logger.Warn("Connection lost, retrying", "user_id", userID, "delay", m.cfg.ReconnectDelay)
	m.emit(Update{Kind: UpdateState, State: Disconnected})
	m.post(func() {
		if n := len(m.pending); n > 0 {
			m.logger.Warn("Dropping unacknowledged messages", "count", n)
			m.pending = nil
		}
	})
}

func (m *Manager) scheduleRetryLocked(gen uint64) {
	m.stopRetryLocked()
	m.retry = time.AfterFunc(m.cfg.ReconnectDelay, func() { m.reconnect(gen) })
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != Disconnected || m.userID == "" {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.gen++
	next := m.gen
	userID := m.userID
	m.state = Connecting
	m.mu.Unlock()

	m.emit(Update{Kind: UpdateState, State: Connecting})
	ctx, cancel := context.WithTimeout(context.Background(), handshakeLimit)
	defer cancel()
	if err := m.connect(ctx, next, userID); err != nil {
		m.logger.Warn("Reconnect failed", "user_id", userID, "error", err)
		m.mu.Lock()
		if m.gen == next && m.state == Disconnected {
			m.scheduleRetryLocked(next)
		}
		m.mu.Unlock()
	}
}

// Disconnect ends the session and clears all local state. It never blocks on
// the network for long and is safe to call in any state, any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopRetryLocked()
	t := m.transport
	m.transport = nil
	was := m.state
	m.state = Disconnected
	m.userID = ""
	m.mu.Unlock()

	if t != nil {
		if err := t.Deactivate(); err != nil {
			m.logger.Debug("Transport deactivate failed", "error", err)
		}
	}
	m.post(func() {
		m.buffer.Clear()
		m.typing = nil
		m.online = make(map[string]struct{})
		m.pending = nil
		if was != Disconnected {
			m.notify(Update{Kind: UpdateState, State: Disconnected})
		}
	})
}

// Close disconnects and stops the dispatcher. The Manager is unusable afterwards.
func (m *Manager) Close() {
	m.Disconnect()
	m.call(func() {})
	m.closeOnce.Do(func() { close(m.quit) })
}

// SendMessage hands body to the relay when connected and to the REST store
// otherwise. Relayed messages are stored once the relay acknowledges them.
// It returns before delivery; outcomes arrive as updates.
func (m *Manager) SendMessage(ctx context.Context, receiverID, body string) error {
	if receiverID == "" || body == "" {
		return fmt.Errorf("%w: %s", domain.ErrProtocol, protocol.ErrTextInvalidChat)
	}
	m.mu.Lock()
	userID, t, gen := m.userID, m.transport, m.gen
	connected := m.state == Connected
	m.mu.Unlock()
	if userID == "" {
		return fmt.Errorf("%w: no user, call Connect first", domain.ErrConnection)
	}

	ctx = context.WithoutCancel(ctx)
	req := protocol.ChatRequest{
		SenderID:   userID,
		ReceiverID: receiverID,
		Message:    body,
		SenderName: m.cfg.SenderName,
	}
	m.post(func() {
		if connected && m.current(gen) {
			err := t.Publish(ctx, DestAppChat, req)
			if err == nil {
				m.pending = append(m.pending, pendingSend{receiverID: receiverID, body: body})
				return
			}
			m.logger.Warn("Publish failed, using REST fallback", "error", err)
		}
		m.submit(ctx, SendRequest{
			SenderID:   userID,
			ReceiverID: receiverID,
			Message:    body,
			SenderName: m.cfg.SenderName,
		})
	})
	return nil
}

// submit posts req to the REST store in the background and merges the stored copy.
func (m *Manager) submit(ctx context.Context, req SendRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		msg, err := m.rest.Send(ctx, req)
		m.post(func() {
			if err != nil {
				m.logger.Error("REST fallback failed", "receiver_id", req.ReceiverID, "error", err)
				m.notify(Update{Kind: UpdateError, Err: err})
				return
			}
			if m.UserID() != req.SenderID {
				return
			}
			m.insert(msg)
		})
	}()
}

// SendTyping publishes a typing signal. Typing is realtime only.
func (m *Manager) SendTyping(ctx context.Context, receiverID string, isTyping bool) error {
	m.mu.Lock()
	userID, t := m.userID, m.transport
	connected := m.state == Connected
	m.mu.Unlock()
	if !connected || t == nil {
		return fmt.Errorf("%w: not connected", domain.ErrConnection)
	}
	return t.Publish(ctx, DestAppTyping, protocol.TypingRequest{
		SenderID:   userID,
		ReceiverID: receiverID,
		IsTyping:   protocol.FlexBool(isTyping),
	})
}

// LoadHistory replaces the buffer with the recent conversation with peer.
func (m *Manager) LoadHistory(ctx context.Context, peer string) error {
	userID := m.UserID()
	if userID == "" {
		return fmt.Errorf("%w: no user, call Connect first", domain.ErrConnection)
	}
	msgs, err := m.rest.Recent(ctx, userID, peer)
	if err != nil {
		return err
	}
	m.call(func() {
		m.buffer.Replace(msgs)
		m.notify(Update{Kind: UpdateMessages, Messages: m.buffer.Messages()})
	})
	return nil
}

func (m *Manager) insert(msg domain.ChatMessage) {
	before := m.buffer.Len()
	msgs := m.buffer.Insert(msg)
	if len(msgs) != before {
		m.notify(Update{Kind: UpdateMessages, Messages: msgs})
	}
}

func (m *Manager) onMessageQueue(f protocol.Frame) {
	switch f := f.(type) {
	case protocol.ChatDelivery:
		m.insert(f.ChatMessage())
	case protocol.MessageSent:
		if len(m.pending) == 0 {
			m.logger.Warn("Acknowledgement without pending message", "message_id", f.MessageID)
			return
		}
		p := m.pending[0]
		m.pending = m.pending[1:]
		msg := domain.ChatMessage{
			ID:         f.MessageID,
			SenderID:   m.UserID(),
			ReceiverID: p.receiverID,
			Body:       p.body,
			Timestamp:  f.Timestamp,
		}
		m.insert(msg)
		if !f.Sent {
			m.logger.Info("Receiver offline, message kept in the store", "message_id", msg.ID, "receiver_id", msg.ReceiverID)
		}
		// The relay does not persist. The stamped copy goes to the store
		// whether or not it was delivered.
		ts := msg.Timestamp
		m.submit(context.Background(), SendRequest{
			ID:         msg.ID,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Message:    msg.Body,
			SenderName: m.cfg.SenderName,
			Timestamp:  &ts,
		})
	}
}

func (m *Manager) onTyping(f protocol.Frame) {
	ev, ok := f.(protocol.TypingEvent)
	if !ok {
		return
	}
	m.typing = &domain.TypingSignal{
		SenderID:   ev.SenderID,
		ReceiverID: m.UserID(),
		IsTyping:   ev.IsTyping,
		Timestamp:  ev.Timestamp,
	}
	m.notify(Update{Kind: UpdateTyping, Typing: *m.typing})
}

func (m *Manager) onTopic(f protocol.Frame) {
	switch f := f.(type) {
	case protocol.UserConnected:
		m.online[f.UserID] = struct{}{}
	case protocol.UserDisconnected:
		delete(m.online, f.UserID)
	case protocol.OnlineUsers:
		m.online = make(map[string]struct{}, len(f.Users))
		for _, u := range f.Users {
			m.online[u] = struct{}{}
		}
	case protocol.Error:
		err := fmt.Errorf("%w: %s", domain.ErrProtocol, f.Error)
		m.logger.Warn("Relay reported an error", "error", f.Error)
		if f.Error == protocol.ErrTextInvalidChat && len(m.pending) > 0 {
			m.pending = m.pending[1:]
		}
		m.notify(Update{Kind: UpdateError, Err: err})
		return
	default:
		return
	}
	m.notify(Update{Kind: UpdatePresence, Online: m.onlineList()})
}

func (m *Manager) onlineList() []string {
	users := make([]string, 0, len(m.online))
	for u := range m.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UserID returns the user the manager is bound to, or "" after Disconnect.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Messages returns a snapshot of the buffered conversation.
func (m *Manager) Messages() []domain.ChatMessage {
	var msgs []domain.ChatMessage
	m.call(func() { msgs = m.buffer.Messages() })
	return msgs
}

// Online returns the users the relay reported as online, sorted.
func (m *Manager) Online() []string {
	var users []string
	m.call(func() { users = m.onlineList() })
	return users
}

// Typing returns the latest typing signal received, if any.
func (m *Manager) Typing() (domain.TypingSignal, bool) {
	var (
		sig domain.TypingSignal
		ok  bool
	)
	m.call(func() {
		if m.typing != nil {
			sig, ok = *m.typing, true
		}
	})
	return sig, ok
}
