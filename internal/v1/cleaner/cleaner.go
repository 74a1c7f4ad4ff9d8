// Package cleaner implements the Cleaner (C16): periodic and on-demand
// sweeps that reap ghost presence records, orphaned room occupants, and
// dead transports, plus an optional DLQ drain.
//
// Grounded on internal/v1/session/hub.go's pendingRoomCleanups grace-period
// timer (a delayed cleanup pass per room is the prior art here) and
// generalized into a scheduled, repo-wide sweep over the whole Connection
// Registry rather than one timer per room.
package cleaner

import (
	"context"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/dlq"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/metrics"

	"go.uber.org/zap"
)

// TransportProbe reports whether a connection's transport is still open.
type TransportProbe func(domain.ConnID) bool

// Registry is the subset of presence.Registry the cleaner needs.
type Registry interface {
	IterAll() []Connection
	RoomOccupants(room domain.RoomID) []domain.PlayerID
	RoomSnapshot() map[domain.RoomID][]domain.PlayerID
	PruneRoomOccupant(room domain.RoomID, player domain.PlayerID) bool
	ReapGhosts(ctx context.Context) int
	Detach(ctx context.Context, playerID domain.PlayerID, connID domain.ConnID)
}

// Connection is the minimal view of a presence connection the cleaner
// needs; presence.Connection satisfies this via an adapter in the
// transport wiring layer.
type Connection struct {
	ID       domain.ConnID
	PlayerID domain.PlayerID
	RoomID   domain.RoomID
}

// Broker is the subset of internal/v1/broker.Client the DLQ-drain sweep
// needs to retry dead-lettered publishes.
type Broker interface {
	Publish(ctx context.Context, subj string, payload []byte) error
	BreakerOpen() bool
}

// Cleaner runs the periodic and on-demand sweeps.
type Cleaner struct {
	registry  Registry
	transport TransportProbe
	dead      *dlq.Store
	broker    Broker
	interval  time.Duration
}

// New constructs a Cleaner. dead and broker may be nil to disable the
// optional DLQ-drain sweep.
func New(registry Registry, transport TransportProbe, dead *dlq.Store, broker Broker, interval time.Duration) *Cleaner {
	return &Cleaner{registry: registry, transport: transport, dead: dead, broker: broker, interval: interval}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one on-demand pass over every check.
func (c *Cleaner) Sweep(ctx context.Context) {
	deadTransports := c.sweepDeadTransports(ctx)
	metrics.CleanerSweeps.WithLabelValues("dead_transport").Add(float64(deadTransports))

	orphans := c.sweepOrphanedRoomOccupants(ctx)
	metrics.CleanerSweeps.WithLabelValues("orphaned_room_occupant").Add(float64(orphans))

	ghosts := c.registry.ReapGhosts(ctx)
	metrics.CleanerSweeps.WithLabelValues("ghost_player").Add(float64(ghosts))

	if c.dead != nil && c.broker != nil {
		drained := c.sweepDLQ(ctx)
		metrics.CleanerSweeps.WithLabelValues("dlq_drained").Add(float64(drained))
	}
}

// sweepDeadTransports detaches any connection whose transport reports
// closed but is still present in the registry.
func (c *Cleaner) sweepDeadTransports(ctx context.Context) int {
	n := 0
	for _, conn := range c.registry.IterAll() {
		if c.transport != nil && !c.transport(conn.ID) {
			logging.Info(ctx, "cleaner: detaching dead transport", zap.String("conn_id", string(conn.ID)))
			c.registry.Detach(ctx, conn.PlayerID, conn.ID)
			n++
		}
	}
	return n
}

// sweepOrphanedRoomOccupants prunes room-index entries for players with no
// live connections anywhere, reconciling drift against the players map so
// the "union of all room sets equals online players" invariant keeps
// holding even if some future code path updates one side without the other.
func (c *Cleaner) sweepOrphanedRoomOccupants(ctx context.Context) int {
	n := 0
	for room, occupants := range c.registry.RoomSnapshot() {
		for _, player := range occupants {
			if c.registry.PruneRoomOccupant(room, player) {
				logging.Info(ctx, "cleaner: pruned orphaned room occupant",
					zap.String("room_id", string(room)), zap.String("player_id", string(player)))
				n++
			}
		}
	}
	return n
}

// sweepDLQ replays dead-lettered publishes through the normal broker path,
// respecting current breaker state: if the breaker is open, the sweep
// skips this cycle entirely rather than re-accumulating failures.
func (c *Cleaner) sweepDLQ(ctx context.Context) int {
	if c.broker.BreakerOpen() {
		return 0
	}
	records, err := c.dead.Drain()
	if err != nil {
		logging.Warn(ctx, "cleaner: dlq drain failed", zap.Error(err))
		return 0
	}
	replayed := 0
	for _, r := range records {
		if err := c.broker.Publish(ctx, r.OriginalSubject, r.Payload); err != nil {
			_ = c.dead.Write(r)
			continue
		}
		replayed++
	}
	return replayed
}
