// Package delivery implements the Personal Sender (C9) and Broadcaster
// (C10): translating one domain event per viewer connection and enqueuing
// it onto that connection's bounded outbound queue without letting a slow
// client stall any other client.
//
// Grounded on internal/v1/session/client.go's `send chan []byte` +
// non-blocking `select/default` enqueue (sendProto) for the drop-oldest
// path, generalized per spec.md §4.9 to a second, blocking-with-timeout
// path for critical events, and on internal/v1/session/room.go's
// broadcast/broadcastWithOptions loop for the Broadcaster's recipient
// fan-out, generalized from an unbounded goroutine-per-recipient
// loop to a concurrency-capped fan-out (spec.md §4.10 default cap 64).
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/metrics"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
	"github.com/mythosmud/realtimecore/internal/v1/wire"

	"go.uber.org/zap"
)

// Outcome describes what happened to one send attempt.
type Outcome int

const (
	Delivered Outcome = iota
	DroppedFull
	DetachedOnTimeout
	OfflinePlayer
)

// Result is returned by Send for a single connection.
type Result struct {
	ConnID  domain.ConnID
	Outcome Outcome
	Err     error
}

// BlockTimeout bounds how long a critical-event send blocks on a full
// queue before the connection is detached, per spec.md §4.9.
const BlockTimeout = 2 * time.Second

// Outbox is the per-connection bounded outbound queue plus its writer.
// internal/v1/transport owns the goroutine that drains Frames to the wire;
// this package only ever enqueues.
type Outbox interface {
	Enqueue(frame []byte) bool                 // non-blocking; false if frame was not enqueued
	EnqueueBlocking(ctx context.Context, frame []byte) bool // true if enqueued before ctx/timeout
	Detach()
}

// Registry is the subset of presence.Registry the delivery layer needs.
type Registry interface {
	LookupByPlayer(playerID domain.PlayerID) []*presence.Connection
	RoomOccupants(room domain.RoomID) []domain.PlayerID
	IterOnline() []domain.PlayerID
}

// OutboxLookup resolves a connection id to its Outbox.
type OutboxLookup func(domain.ConnID) (Outbox, bool)

// Sender is the Personal Sender (C9).
type Sender struct {
	registry Registry
	outboxes OutboxLookup
}

// NewSender constructs a Sender.
func NewSender(registry Registry, outboxes OutboxLookup) *Sender {
	return &Sender{registry: registry, outboxes: outboxes}
}

// Send delivers evt to every live connection of playerID, shaping the
// payload per-connection via the wire translator and applying the
// criticality-driven backpressure policy.
func (s *Sender) Send(ctx context.Context, playerID domain.PlayerID, evt domain.Event) []Result {
	conns := s.registry.LookupByPlayer(playerID)
	if len(conns) == 0 {
		return []Result{{Outcome: OfflinePlayer}}
	}

	results := make([]Result, 0, len(conns))
	for _, conn := range conns {
		results = append(results, s.sendToConnection(ctx, conn, evt))
	}
	return results
}

// SendToConnection delivers evt directly to one known connection, used by
// the Broker → Wire Forwarder (C15) which resolves recipients itself.
func (s *Sender) SendToConnection(ctx context.Context, conn *presence.Connection, evt domain.Event) Result {
	return s.sendToConnection(ctx, conn, evt)
}

func (s *Sender) sendToConnection(ctx context.Context, conn *presence.Connection, evt domain.Event) Result {
	frame, ok, err := wire.Translate(evt, wire.Viewer{PlayerID: conn.PlayerID, NextSeq: conn.NextSequence})
	if err != nil {
		return Result{ConnID: conn.ID, Outcome: DroppedFull, Err: err}
	}
	if !ok {
		return Result{ConnID: conn.ID, Outcome: Delivered} // intentional no-op for this viewer
	}
	encoded, err := wire.Encode(frame)
	if err != nil {
		return Result{ConnID: conn.ID, Outcome: DroppedFull, Err: err}
	}

	outbox, ok := s.outboxes(conn.ID)
	if !ok {
		return Result{ConnID: conn.ID, Outcome: OfflinePlayer}
	}

	if evt.Kind.Criticality() == domain.Critical {
		timeoutCtx, cancel := context.WithTimeout(ctx, BlockTimeout)
		defer cancel()
		if outbox.EnqueueBlocking(timeoutCtx, encoded) {
			return Result{ConnID: conn.ID, Outcome: Delivered}
		}
		logging.Warn(ctx, "critical send timed out, detaching connection",
			zap.String("event_type", string(evt.Kind)), zap.String("conn_id", string(conn.ID)))
		outbox.Detach()
		return Result{ConnID: conn.ID, Outcome: DetachedOnTimeout}
	}

	if outbox.Enqueue(encoded) {
		return Result{ConnID: conn.ID, Outcome: Delivered}
	}
	metrics.DroppedFrames.WithLabelValues(string(evt.Kind)).Inc()
	return Result{ConnID: conn.ID, Outcome: DroppedFull}
}

// FanoutCap bounds how many recipient sends a single broadcast runs
// concurrently (spec.md §4.10 default 64).
const FanoutCap = 64

// Tally aggregates broadcast outcomes.
type Tally struct {
	Attempted, Delivered, Dropped, Errored int
}

// Broadcaster is the Broadcaster (C10).
type Broadcaster struct {
	registry Registry
	sender   *Sender
	cap      int
}

// NewBroadcaster constructs a Broadcaster with the default fan-out cap.
func NewBroadcaster(registry Registry, sender *Sender) *Broadcaster {
	return &Broadcaster{registry: registry, sender: sender, cap: FanoutCap}
}

// BroadcastToRoom delivers evt to every occupant of room except those in
// exclude, bounded by the fan-out concurrency cap. Recipients are resolved
// once at call time; sends to a given recipient preserve their order
// relative to each other because they run sequentially within that
// recipient's own goroutine slot.
func (b *Broadcaster) BroadcastToRoom(ctx context.Context, room domain.RoomID, evt domain.Event, exclude domain.PlayerID) Tally {
	recipients := b.registry.RoomOccupants(room)
	metrics.BroadcastFanoutSize.WithLabelValues("room").Observe(float64(len(recipients)))
	return b.fanout(ctx, recipients, evt, exclude)
}

// BroadcastGlobal delivers evt to every online player except those in
// exclude.
func (b *Broadcaster) BroadcastGlobal(ctx context.Context, evt domain.Event, exclude domain.PlayerID) Tally {
	recipients := b.registry.IterOnline()
	metrics.BroadcastFanoutSize.WithLabelValues("global").Observe(float64(len(recipients)))
	return b.fanout(ctx, recipients, evt, exclude)
}

func (b *Broadcaster) fanout(ctx context.Context, recipients []domain.PlayerID, evt domain.Event, exclude domain.PlayerID) Tally {
	sem := make(chan struct{}, b.cap)
	var mu sync.Mutex
	var wg sync.WaitGroup
	tally := Tally{}

	for _, p := range recipients {
		if p == exclude {
			continue
		}
		tally.Attempted++
		wg.Add(1)
		sem <- struct{}{}
		go func(p domain.PlayerID) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					tally.Errored++
					mu.Unlock()
					logging.Error(ctx, "broadcast recipient send panicked", zap.Any("panic", r))
				}
			}()

			results := b.sender.Send(ctx, p, evt)
			mu.Lock()
			for _, res := range results {
				switch res.Outcome {
				case Delivered:
					tally.Delivered++
				case OfflinePlayer, DroppedFull, DetachedOnTimeout:
					tally.Dropped++
				}
				if res.Err != nil {
					tally.Errored++
				}
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return tally
}
