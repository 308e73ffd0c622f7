package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the time between liveness sweeps.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat evicts connections that fail to answer a probe before the next sweep.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a monitor over registry. A non-positive interval uses the default.
func NewHeartbeat(registry *Registry, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		registry: registry,
		interval: interval,
		logger:   slog.Default().With("component", "heartbeat"),
	}
}

// Start launches the sweep loop. Calling Start on a running monitor does nothing.
func (m *Heartbeat) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	m.logger.Info("Heartbeat started", "interval", m.interval)
}

// Stop cancels the loop and waits for it to exit. It is safe to call more than once.
func (m *Heartbeat) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("Heartbeat stopped")
}

func (m *Heartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one liveness pass. A connection that has not answered the probe
// sent by the previous sweep is unregistered and terminated; every other
// connection is marked unanswered and probed again.
func (m *Heartbeat) Sweep() {
	var evicted int
	for _, h := range m.registry.Handles() {
		wasAlive, ok := m.registry.arm(h)
		if !ok {
			continue
		}
		if !wasAlive {
			if userID, ok := m.registry.Unregister(h); ok {
				m.logger.Info("Evicting unresponsive connection", "user_id", userID)
			}
			h.Terminate()
			evicted++
			continue
		}
		h.Probe(func() { m.registry.MarkAlive(h) })
	}
	if evicted > 0 {
		m.logger.Debug("Heartbeat sweep finished", "evicted", evicted, "online", m.registry.Len())
	}
}
