// Package forwarder implements the Broker → Wire Forwarder (C15): it
// subscribes to every broker subject relevant to this node, decodes and
// validates each frame, resolves the local recipient set, filters through
// the Mute Store (C12), and calls the Personal Sender (C9).
//
// Grounded on internal/v1/bus/redis.go's subscribe/dispatch loop,
// generalized from a single fixed room-event subscription to the dynamic,
// per-local-occupancy subject set spec.md §4.15 describes ("chat.*",
// "combat.{room_id}" for rooms with local occupants, "system.*").
package forwarder

import (
	"context"
	"sync"

	"github.com/mythosmud/realtimecore/internal/v1/delivery"
	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/dlq"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/mute"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
	"github.com/mythosmud/realtimecore/internal/v1/wire"

	"go.uber.org/zap"
)

// Broker is the subset of internal/v1/broker.Client the forwarder needs.
type Broker interface {
	Subscribe(ctx context.Context, subjectPattern string, handler func(ctx context.Context, subj string, payload []byte)) (func() error, error)
}

// Registry resolves local recipients.
type Registry interface {
	RoomOccupants(room domain.RoomID) []domain.PlayerID
	IterOnline() []domain.PlayerID
	LookupByPlayer(playerID domain.PlayerID) []*presence.Connection
}

// ChannelPolicy resolves a chat channel's self-echo policy (spec.md §9 Open
// Question 3), satisfied by internal/v1/chat.Router.
type ChannelPolicy interface {
	SelfEcho(channelID string) bool
}

// Forwarder owns the node's broker subscriptions.
type Forwarder struct {
	broker   Broker
	registry Registry
	mutes    *mute.Store
	sender   *delivery.Sender
	dead     *dlq.Store
	channels ChannelPolicy

	mu            sync.Mutex
	unsubscribers map[string]func() error
}

// New constructs a Forwarder.
func New(broker Broker, registry Registry, mutes *mute.Store, sender *delivery.Sender, dead *dlq.Store, channels ChannelPolicy) *Forwarder {
	return &Forwarder{
		broker:        broker,
		registry:      registry,
		mutes:         mutes,
		sender:        sender,
		dead:          dead,
		channels:      channels,
		unsubscribers: make(map[string]func() error),
	}
}

// SubscribeStatic subscribes to the node-wide, always-relevant subjects
// (chat.*, system.*) once at startup.
func (f *Forwarder) SubscribeStatic(ctx context.Context) error {
	for _, pattern := range []string{"chat.*", "system.*"} {
		if err := f.subscribe(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeRoom adds a combat subscription for a room that just gained its
// first local occupant; called by the Connection Registry's Attach path.
func (f *Forwarder) SubscribeRoom(ctx context.Context, room domain.RoomID) error {
	return f.subscribe(ctx, "combat."+string(room))
}

// UnsubscribeRoom tears down a room's combat subscription once it has no
// more local occupants.
func (f *Forwarder) UnsubscribeRoom(room domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subj := "combat." + string(room)
	if unsub, ok := f.unsubscribers[subj]; ok {
		_ = unsub()
		delete(f.unsubscribers, subj)
	}
}

func (f *Forwarder) subscribe(ctx context.Context, pattern string) error {
	f.mu.Lock()
	if _, exists := f.unsubscribers[pattern]; exists {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	unsub, err := f.broker.Subscribe(ctx, pattern, f.handle)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.unsubscribers[pattern] = unsub
	f.mu.Unlock()
	return nil
}

// Close tears down every active subscription.
func (f *Forwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, unsub := range f.unsubscribers {
		_ = unsub()
	}
	f.unsubscribers = make(map[string]func() error)
}

func (f *Forwarder) handle(ctx context.Context, subj string, payload []byte) {
	evt, err := wire.DecodeEvent(payload)
	if err != nil {
		logging.Warn(ctx, "forwarder: malformed frame, dead-lettering", zap.String("subject", subj), zap.Error(err))
		if f.dead != nil {
			_ = f.dead.Write(dlq.Record{OriginalSubject: subj, Payload: payload, LastError: err.Error(), AttemptCount: 1})
		}
		return
	}

	recipients := f.localRecipients(evt)
	if len(recipients) == 0 {
		return
	}

	_ = f.mutes.LoadBatch(ctx, recipients)

	for _, playerID := range recipients {
		if evt.Kind == domain.KindChatMessage || evt.Kind == domain.KindWhisper {
			if payload, ok := evt.Payload.(domain.ChatMessagePayload); ok {
				if playerID == payload.SenderID && f.channels != nil && !f.channels.SelfEcho(payload.ChannelID) {
					continue
				}
				if muted, _ := f.mutes.IsMuted(ctx, playerID, payload.SenderID); muted {
					continue
				}
				if muted, _ := f.mutes.ChannelMuted(ctx, playerID, payload.ChannelID); muted {
					continue
				}
			}
		}
		for _, conn := range f.registry.LookupByPlayer(playerID) {
			f.sender.SendToConnection(ctx, conn, evt)
		}
	}
}

func (f *Forwarder) localRecipients(evt domain.Event) []domain.PlayerID {
	switch evt.Kind {
	case domain.KindWhisper:
		if p, ok := evt.Payload.(domain.ChatMessagePayload); ok && p.TargetID != "" {
			return []domain.PlayerID{p.TargetID}
		}
		return nil
	case domain.KindChatMessage:
		if p, ok := evt.Payload.(domain.ChatMessagePayload); ok {
			if evt.RoomID != "" {
				return f.registry.RoomOccupants(evt.RoomID)
			}
			_ = p
			return f.registry.IterOnline()
		}
		return nil
	case domain.KindSystemNotice:
		return f.registry.IterOnline()
	case domain.KindCombatEvent, domain.KindNPCEvent, domain.KindRoomUpdated:
		if evt.RoomID != "" {
			return f.registry.RoomOccupants(evt.RoomID)
		}
		return nil
	default:
		return f.registry.IterOnline()
	}
}
