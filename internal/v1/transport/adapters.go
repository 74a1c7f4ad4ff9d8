// adapters.go bridges presence.Registry's connection shape to the narrower
// views that the Cleaner (C16) and Health Monitor (C8) each declare for
// themselves, so neither package needs to import presence or transport
// directly.
package transport

import (
	"context"

	"github.com/mythosmud/realtimecore/internal/v1/cleaner"
	"github.com/mythosmud/realtimecore/internal/v1/health"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
)

// CleanerRegistry adapts *presence.Registry to cleaner.Registry.
type CleanerRegistry struct {
	*presence.Registry
}

// NewCleanerRegistry wraps reg for use as a cleaner.Registry.
func NewCleanerRegistry(reg *presence.Registry) CleanerRegistry {
	return CleanerRegistry{Registry: reg}
}

// IterAll satisfies cleaner.Registry.
func (a CleanerRegistry) IterAll() []cleaner.Connection {
	conns := a.Registry.IterAll()
	out := make([]cleaner.Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, cleaner.Connection{ID: c.ID, PlayerID: c.PlayerID, RoomID: c.RoomID})
	}
	return out
}

// HealthRegistry adapts *presence.Registry to health.Registry.
type HealthRegistry struct {
	*presence.Registry
}

// NewHealthRegistry wraps reg for use as a health.Registry.
func NewHealthRegistry(reg *presence.Registry) HealthRegistry {
	return HealthRegistry{Registry: reg}
}

// IterConnections satisfies health.Registry. Connections whose transport
// does not implement health.Pinger (should not happen in production,
// since transport.Connection always does) are skipped.
func (a HealthRegistry) IterConnections() []health.MonitoredConnection {
	conns := a.Registry.IterAll()
	out := make([]health.MonitoredConnection, 0, len(conns))
	for _, c := range conns {
		pinger, ok := c.Transport.(health.Pinger)
		if !ok {
			continue
		}
		token := ""
		if tc, ok := c.Transport.(*Connection); ok {
			token = tc.Token
		}
		out = append(out, health.MonitoredConnection{
			ConnID:    c.ID,
			PlayerID:  c.PlayerID,
			Token:     token,
			Transport: pinger,
		})
	}
	return out
}

// DetachConnection satisfies health.Registry.
func (a HealthRegistry) DetachConnection(ctx context.Context, conn health.MonitoredConnection, reason string) {
	_ = reason
	a.Registry.Detach(ctx, conn.PlayerID, conn.ConnID)
}
