// Package notify fires the out-of-band notification for chat messages.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/domain"
)

// DefaultTimeout bounds a single notification call.
const DefaultTimeout = 5 * time.Second

// Notifier is what the router depends on.
type Notifier interface {
	Notify(n domain.Notification)
}

// Trigger posts notifications to a fixed endpoint on background goroutines.
// Failures are logged and never reach the caller.
type Trigger struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	shutdown bool
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Trigger) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Trigger) {
		t.client = c
	}
}

// New creates a trigger for endpoint. An empty endpoint disables notifications.
func New(endpoint string, opts ...Option) *Trigger {
	t := &Trigger{
		endpoint: endpoint,
		timeout:  DefaultTimeout,
		client:   &http.Client{},
		logger:   slog.Default().With("component", "notify"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enabled reports whether an endpoint is configured.
func (t *Trigger) Enabled() bool {
	return t.endpoint != ""
}

// Notify schedules one notification call and returns immediately.
func (t *Trigger) Notify(n domain.Notification) {
	if !t.Enabled() {
		return
	}

	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		t.logger.Warn("Notification dropped after shutdown", "receiver_id", n.ReceiverID)
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.Send(ctx, n); err != nil {
			t.logger.Error("Failed to trigger notification",
				"sender_id", n.SenderID,
				"receiver_id", n.ReceiverID,
				"error", err)
			return
		}
		t.logger.Debug("Notification triggered", "receiver_id", n.ReceiverID)
	}()
}

// Send performs one notification call synchronously.
func (t *Trigger) Send(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrNotification, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrNotification, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotification, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: endpoint returned %d", domain.ErrNotification, resp.StatusCode)
	}
	return nil
}

// Shutdown stops accepting notifications and waits for in-flight calls or ctx.
func (t *Trigger) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
