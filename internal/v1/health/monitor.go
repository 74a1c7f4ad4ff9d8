// monitor.go implements the per-connection half of the Health Monitor (C8):
// a single background loop that periodically pings every connection, marks
// unresponsive ones stale, and periodically revalidates tokens, asking the
// Connection Registry to detach any connection that fails either check.
//
// Grounded on the cancellation discipline exercised by
// internal/v1/room/goleak_test.go (TestMain + goleak.VerifyTestMain): a
// long-lived background task must respond to ctx.Done() within one
// suspension point and leave no goroutine behind, which this package's own
// tests verify the same way.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/ports"

	"go.uber.org/zap"
)

// Pinger is the subset of a connection's transport the monitor needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MonitoredConnection is one connection under health supervision.
type MonitoredConnection struct {
	ConnID   domain.ConnID
	PlayerID domain.PlayerID
	Token    string
	Transport Pinger
}

// Registry is the subset of presence.Registry the monitor needs to list
// and detach connections.
type Registry interface {
	IterConnections() []MonitoredConnection
	DetachConnection(ctx context.Context, conn MonitoredConnection, reason string)
}

// Monitor runs the background ping/pong and token-revalidation loop.
type Monitor struct {
	registry  Registry
	validator ports.TokenValidator

	pingInterval     time.Duration
	pongTimeout      time.Duration
	staleStrikes     int
	revalidationEvery time.Duration

	mu      sync.Mutex
	strikes map[domain.ConnID]int
}

// Config configures a Monitor's intervals, matching spec.md's
// health.ping_interval_ms / health.pong_timeout_ms / health.stale_strikes.
type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	StaleStrikes      int
	RevalidationEvery time.Duration
}

// New constructs a Monitor.
func New(registry Registry, validator ports.TokenValidator, cfg Config) *Monitor {
	return &Monitor{
		registry:          registry,
		validator:         validator,
		pingInterval:      cfg.PingInterval,
		pongTimeout:       cfg.PongTimeout,
		staleStrikes:      cfg.StaleStrikes,
		revalidationEvery: cfg.RevalidationEvery,
		strikes:           make(map[domain.ConnID]int),
	}
}

// Run blocks, driving the ping and revalidation loops until ctx is
// cancelled. In-flight pings are abandoned on cancellation.
func (m *Monitor) Run(ctx context.Context) {
	pingTicker := time.NewTicker(m.pingInterval)
	defer pingTicker.Stop()
	revalTicker := time.NewTicker(m.revalidationEvery)
	defer revalTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			m.sweepPing(ctx)
		case <-revalTicker.C:
			m.sweepRevalidate(ctx)
		}
	}
}

func (m *Monitor) sweepPing(ctx context.Context) {
	for _, conn := range m.registry.IterConnections() {
		pingCtx, cancel := context.WithTimeout(ctx, m.pongTimeout)
		err := conn.Transport.Ping(pingCtx)
		cancel()

		m.mu.Lock()
		if err != nil {
			m.strikes[conn.ConnID]++
			strikes := m.strikes[conn.ConnID]
			m.mu.Unlock()
			if strikes >= m.staleStrikes {
				logging.Warn(ctx, "connection exceeded stale-ping strikes, detaching",
					zap.String("conn_id", string(conn.ConnID)), zap.Int("strikes", strikes))
				m.registry.DetachConnection(ctx, conn, "stale_connection")
				m.clearStrikes(conn.ConnID)
			}
			continue
		}
		m.strikes[conn.ConnID] = 0
		m.mu.Unlock()
	}
}

func (m *Monitor) sweepRevalidate(ctx context.Context) {
	for _, conn := range m.registry.IterConnections() {
		if _, err := m.validator.ValidateToken(ctx, conn.Token); err != nil {
			logging.Warn(ctx, "token revalidation failed, detaching",
				zap.String("conn_id", string(conn.ConnID)), zap.Error(err))
			m.registry.DetachConnection(ctx, conn, "auth_revoked")
			m.clearStrikes(conn.ConnID)
		}
	}
}

func (m *Monitor) clearStrikes(id domain.ConnID) {
	m.mu.Lock()
	delete(m.strikes, id)
	m.mu.Unlock()
}
