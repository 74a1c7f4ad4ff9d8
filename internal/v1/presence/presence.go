// Package presence implements the Connection Registry (C7): the source of
// truth for who is connected, from where, and to which room.
//
// Grounded on internal/v1/session/hub.go's room map + mutex shape, but
// spec.md demands read-mostly access with per-player write serialization
// rather than one global mutex guarding everything (§5 "writes to the same
// player_id are serialized; writes to different players proceed in
// parallel"). This package therefore stripes its player-write lock instead
// of one global `sync.Mutex` guarding everything, and keeps the room index in
// its own read-biased `sync.RWMutex` map, matching the resource policy in
// spec.md §5 rather than one coarse global lock.
package presence

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/set"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/eventbus"
	"github.com/mythosmud/realtimecore/internal/v1/metrics"
)

const stripeCount = 64

// Transport is the minimal surface the registry needs from a connection's
// transport to detach it; the real implementation lives in
// internal/v1/transport.
type Transport interface {
	Close() error
}

// Connection is one attached connection record.
type Connection struct {
	ID          domain.ConnID
	PlayerID    domain.PlayerID
	DisplayName string
	RoomID      domain.RoomID
	Transport   Transport
	ConnectedAt time.Time
	seq         int64 // per-connection monotonic wire sequence counter
}

// NextSequence returns the next per-connection wire sequence number.
func (c *Connection) NextSequence() domain.SequenceNo {
	c.seq++
	return domain.SequenceNo(c.seq)
}

type playerRecord struct {
	connections map[domain.ConnID]*Connection
	graceTimer  *time.Timer
}

// RoomSubscriptionHooks lets a collaborator react to a room gaining its
// first local occupant or losing its last, driving the Broker → Wire
// Forwarder's dynamic per-room broker subscriptions (spec.md §4.15's
// "combat.{room_id}" subject, subscribed only while the room has local
// occupants).
type RoomSubscriptionHooks struct {
	OnFirstOccupant func(ctx context.Context, room domain.RoomID)
	OnEmptied       func(room domain.RoomID)
}

// Registry is the concurrency-safe presence store.
type Registry struct {
	bus *eventbus.Bus

	stripes [stripeCount]sync.Mutex
	players map[domain.PlayerID]*playerRecord
	playersMu sync.RWMutex // guards the players map's key set only

	roomsMu sync.RWMutex
	rooms   map[domain.RoomID]set.Set[domain.PlayerID]

	hooksMu sync.RWMutex
	hooks   RoomSubscriptionHooks

	gracePeriod time.Duration
}

// NewRegistry constructs an empty Registry. gracePeriod is how long a
// player with zero live connections is kept present before player_left
// fires, mirroring a per-room pendingRoomCleanups grace timer.
func NewRegistry(bus *eventbus.Bus, gracePeriod time.Duration) *Registry {
	return &Registry{
		bus:         bus,
		players:     make(map[domain.PlayerID]*playerRecord),
		rooms:       make(map[domain.RoomID]set.Set[domain.PlayerID]),
		gracePeriod: gracePeriod,
	}
}

// SetRoomHooks installs the room-occupancy transition hooks. Intended to be
// called once at startup, after the Registry and its collaborators (e.g.
// the forwarder.Forwarder whose SubscribeRoom/UnsubscribeRoom it drives)
// are both constructed.
func (r *Registry) SetRoomHooks(h RoomSubscriptionHooks) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = h
}

func (r *Registry) roomHooks() RoomSubscriptionHooks {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()
	return r.hooks
}

func (r *Registry) stripe(p domain.PlayerID) *sync.Mutex {
	h := fnv32(string(p))
	return &r.stripes[h%stripeCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Attach registers a new connection for player, allocating the player
// record on first connect and emitting player_entered. Concurrent Attach
// calls for distinct players run without contending on each other's lock.
func (r *Registry) Attach(ctx context.Context, playerID domain.PlayerID, displayName string, connID domain.ConnID, roomID domain.RoomID, tr Transport) *Connection {
	stripe := r.stripe(playerID)
	stripe.Lock()
	defer stripe.Unlock()

	r.playersMu.Lock()
	rec, ok := r.players[playerID]
	if !ok {
		rec = &playerRecord{connections: make(map[domain.ConnID]*Connection)}
		r.players[playerID] = rec
	}
	r.playersMu.Unlock()

	firstConnection := len(rec.connections) == 0
	if rec.graceTimer != nil {
		rec.graceTimer.Stop()
		rec.graceTimer = nil
	}

	conn := &Connection{ID: connID, PlayerID: playerID, DisplayName: displayName, RoomID: roomID, Transport: tr, ConnectedAt: time.Now()}
	rec.connections[connID] = conn
	r.addToRoom(ctx, roomID, playerID)

	metrics.IncConnection()

	if firstConnection {
		r.bus.Publish(ctx, domain.Event{
			Kind:      domain.KindPlayerEntered,
			Timestamp: time.Now().UTC(),
			PlayerID:  playerID,
			RoomID:    roomID,
			Payload:   domain.PlayerEnteredPayload{PlayerID: playerID, DisplayName: displayName, RoomID: roomID},
		})
	}
	return conn
}

// Detach removes a connection. If it was the player's last connection, a
// grace timer starts; on expiry without a reconnect, player_left fires.
func (r *Registry) Detach(ctx context.Context, playerID domain.PlayerID, connID domain.ConnID) {
	stripe := r.stripe(playerID)
	stripe.Lock()

	r.playersMu.RLock()
	rec, ok := r.players[playerID]
	r.playersMu.RUnlock()
	if !ok {
		stripe.Unlock()
		return
	}

	conn, existed := rec.connections[connID]
	if !existed {
		stripe.Unlock()
		return
	}
	delete(rec.connections, connID)
	r.removeFromRoom(conn.RoomID, playerID)
	metrics.DecConnection()

	lastConnection := len(rec.connections) == 0
	displayName := conn.DisplayName
	if !lastConnection || r.gracePeriod <= 0 {
		if lastConnection {
			r.finalizeLeave(ctx, playerID, displayName)
		}
		stripe.Unlock()
		return
	}

	rec.graceTimer = time.AfterFunc(r.gracePeriod, func() {
		s := r.stripe(playerID)
		s.Lock()
		defer s.Unlock()
		r.playersMu.RLock()
		rec2, ok := r.players[playerID]
		r.playersMu.RUnlock()
		if !ok || len(rec2.connections) != 0 {
			return
		}
		r.finalizeLeaveLocked(playerID)
		r.bus.Publish(context.Background(), domain.Event{
			Kind:      domain.KindPlayerLeft,
			Timestamp: time.Now().UTC(),
			PlayerID:  playerID,
			Payload:   domain.PlayerLeftPayload{PlayerID: playerID, DisplayName: displayName},
		})
	})
	stripe.Unlock()
}

func (r *Registry) finalizeLeave(ctx context.Context, playerID domain.PlayerID, displayName string) {
	r.finalizeLeaveLocked(playerID)
	r.bus.Publish(ctx, domain.Event{
		Kind:      domain.KindPlayerLeft,
		Timestamp: time.Now().UTC(),
		PlayerID:  playerID,
		Payload:   domain.PlayerLeftPayload{PlayerID: playerID, DisplayName: displayName},
	})
}

func (r *Registry) finalizeLeaveLocked(playerID domain.PlayerID) {
	r.playersMu.Lock()
	delete(r.players, playerID)
	r.playersMu.Unlock()
}

// Move transitions playerID's room index entry atomically and emits
// room_updated. It does not touch the connection's RoomID field directly —
// callers own that via the Connection they hold.
func (r *Registry) Move(ctx context.Context, playerID domain.PlayerID, from, to domain.RoomID) {
	stripe := r.stripe(playerID)
	stripe.Lock()
	r.removeFromRoom(from, playerID)
	r.addToRoom(ctx, to, playerID)
	stripe.Unlock()

	r.bus.Publish(ctx, domain.Event{
		Kind:      domain.KindRoomUpdated,
		Timestamp: time.Now().UTC(),
		PlayerID:  playerID,
		RoomID:    to,
		Payload:   domain.RoomUpdatedPayload{RoomID: to, PlayerID: playerID, FromRoomID: from},
	})
}

func (r *Registry) addToRoom(ctx context.Context, room domain.RoomID, player domain.PlayerID) {
	if room == "" {
		return
	}
	r.roomsMu.Lock()
	occupants, ok := r.rooms[room]
	if !ok {
		occupants = set.New[domain.PlayerID]()
		r.rooms[room] = occupants
	}
	occupants.Insert(player)
	metrics.RoomOccupants.WithLabelValues(string(room)).Set(float64(occupants.Len()))
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.roomsMu.Unlock()

	if !ok {
		if hooks := r.roomHooks(); hooks.OnFirstOccupant != nil {
			hooks.OnFirstOccupant(ctx, room)
		}
	}
}

func (r *Registry) removeFromRoom(room domain.RoomID, player domain.PlayerID) {
	if room == "" {
		return
	}
	r.roomsMu.Lock()
	occupants, ok := r.rooms[room]
	if !ok {
		r.roomsMu.Unlock()
		return
	}
	occupants.Delete(player)
	emptied := occupants.Len() == 0
	if emptied {
		delete(r.rooms, room)
		metrics.RoomOccupants.DeleteLabelValues(string(room))
	} else {
		metrics.RoomOccupants.WithLabelValues(string(room)).Set(float64(occupants.Len()))
	}
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.roomsMu.Unlock()

	if emptied {
		if hooks := r.roomHooks(); hooks.OnEmptied != nil {
			hooks.OnEmptied(room)
		}
	}
}

// LookupByPlayer returns a snapshot of a player's live connections.
func (r *Registry) LookupByPlayer(playerID domain.PlayerID) []*Connection {
	r.playersMu.RLock()
	rec, ok := r.players[playerID]
	r.playersMu.RUnlock()
	if !ok {
		return nil
	}
	stripe := r.stripe(playerID)
	stripe.Lock()
	defer stripe.Unlock()
	out := make([]*Connection, 0, len(rec.connections))
	for _, c := range rec.connections {
		out = append(out, c)
	}
	return out
}

// IterAll returns a snapshot of every live connection across every player,
// for use by background sweepers (Health Monitor C8, Cleaner C16).
func (r *Registry) IterAll() []*Connection {
	r.playersMu.RLock()
	recs := make([]*playerRecord, 0, len(r.players))
	for _, rec := range r.players {
		recs = append(recs, rec)
	}
	r.playersMu.RUnlock()

	out := make([]*Connection, 0, len(recs))
	for _, rec := range recs {
		for _, c := range rec.connections {
			out = append(out, c)
		}
	}
	return out
}

// RoomOccupants returns a snapshot of a room's occupant player ids.
func (r *Registry) RoomOccupants(room domain.RoomID) []domain.PlayerID {
	r.roomsMu.RLock()
	defer r.roomsMu.RUnlock()
	occupants, ok := r.rooms[room]
	if !ok {
		return nil
	}
	return occupants.UnsortedList()
}

// RoomSnapshot returns a point-in-time copy of every room's occupant list,
// for the Cleaner's orphaned-room-occupant reconciliation sweep.
func (r *Registry) RoomSnapshot() map[domain.RoomID][]domain.PlayerID {
	r.roomsMu.RLock()
	defer r.roomsMu.RUnlock()
	out := make(map[domain.RoomID][]domain.PlayerID, len(r.rooms))
	for room, occupants := range r.rooms {
		out[room] = occupants.UnsortedList()
	}
	return out
}

// PruneRoomOccupant removes player from room's occupant set if player
// currently has no live connections anywhere. It reports whether an
// orphaned entry was actually removed: the room index should never
// disagree with the players map by construction, but this lets the
// Cleaner (C16) defend the invariant against drift instead of merely
// assuming it holds.
func (r *Registry) PruneRoomOccupant(room domain.RoomID, player domain.PlayerID) bool {
	stripe := r.stripe(player)
	stripe.Lock()
	defer stripe.Unlock()

	r.playersMu.RLock()
	rec, ok := r.players[player]
	r.playersMu.RUnlock()
	if ok && len(rec.connections) > 0 {
		return false
	}
	r.removeFromRoom(room, player)
	return true
}

// ReapGhosts removes any player record left with zero live connections and
// no pending grace timer, a state Attach/Detach/the grace timer should
// never leave behind on their own. It is the sweep-based backstop for
// spec.md §4.16's ghost-player category, complementing the per-connection
// grace timer that handles the common case. Returns the number reaped.
func (r *Registry) ReapGhosts(ctx context.Context) int {
	r.playersMu.RLock()
	ids := make([]domain.PlayerID, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	r.playersMu.RUnlock()

	reaped := 0
	for _, id := range ids {
		stripe := r.stripe(id)
		stripe.Lock()
		r.playersMu.RLock()
		rec, ok := r.players[id]
		r.playersMu.RUnlock()
		if !ok || len(rec.connections) != 0 || rec.graceTimer != nil {
			stripe.Unlock()
			continue
		}
		r.finalizeLeaveLocked(id)
		stripe.Unlock()
		reaped++
		r.bus.Publish(ctx, domain.Event{
			Kind:      domain.KindPlayerLeft,
			Timestamp: time.Now().UTC(),
			PlayerID:  id,
			Payload:   domain.PlayerLeftPayload{PlayerID: id},
		})
	}
	return reaped
}

// IterOnline returns a snapshot of every online player id.
func (r *Registry) IterOnline() []domain.PlayerID {
	r.playersMu.RLock()
	defer r.playersMu.RUnlock()
	out := make([]domain.PlayerID, 0, len(r.players))
	for p := range r.players {
		out = append(out, p)
	}
	return out
}

// Online reports whether playerID currently has at least one connection.
func (r *Registry) Online(playerID domain.PlayerID) bool {
	r.playersMu.RLock()
	rec, ok := r.players[playerID]
	r.playersMu.RUnlock()
	if !ok {
		return false
	}
	stripe := r.stripe(playerID)
	stripe.Lock()
	defer stripe.Unlock()
	return len(rec.connections) > 0
}
