// Package chat implements the Chat Router (C13): the integration point for
// every player-authored message, resolving a channel scope to a recipient
// set and orchestrating rate limiting (C11), mute evaluation deferral,
// broker publish (C2), and the local Event Bus (C6).
//
// Grounded on internal/v1/session/room.go's router/broadcast methods (the
// permission-checked, scope-resolving dispatch over an incoming message)
// generalized from a fixed room-only scope to the channel-kind
// table in spec.md §4.13 (room/subzone/global/whisper/system), and on
// chat_helpers.go's buildChatEvent for constructing the outgoing event.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/eventbus"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
	"github.com/mythosmud/realtimecore/internal/v1/ratelimit"
	"github.com/mythosmud/realtimecore/internal/v1/subject"
	"github.com/mythosmud/realtimecore/internal/v1/wire"
)

// Scope identifies a channel's recipient-resolution rule.
type Scope int

const (
	ScopeRoom Scope = iota
	ScopeSubzone
	ScopeGlobal
	ScopeWhisper
	ScopeSystem
)

// ChannelDescriptor configures one chat channel.
type ChannelDescriptor struct {
	ID          string
	Scope       Scope
	MaxLength   int
	AdminOnly   bool
	SelfEcho    bool // spec.md §9 Open Question 3: explicit per-channel policy
	SubjectKind subject.Kind
}

// Broker is the subset of internal/v1/broker.Client the router needs.
type Broker interface {
	Publish(ctx context.Context, subj string, payload []byte) error
}

// RateChecker is the subset of internal/v1/ratelimit.Limiter the router needs.
type RateChecker interface {
	Check(ctx context.Context, playerID, channelKind string) (ratelimit.Decision, error)
}

// PresenceSource resolves room/subzone occupants and admin status.
type PresenceSource interface {
	RoomOccupants(room domain.RoomID) []domain.PlayerID
	LookupByPlayer(playerID domain.PlayerID) []*presence.Connection
}

// RoomResolver resolves a sub-zone's member rooms, e.g. from persistence.
type RoomResolver func(ctx context.Context, subzone domain.SubzoneID) ([]domain.RoomID, error)

// NameResolver looks up a player by display name (case-insensitive), for
// whisper targeting.
type NameResolver func(ctx context.Context, name string) (domain.PlayerID, bool)

// Router is the Chat Router (C13).
type Router struct {
	channels     map[string]ChannelDescriptor
	broker       Broker
	rates        RateChecker
	registry     *subject.Registry
	bus          *eventbus.Bus
	presence     PresenceSource
	resolveZone  RoomResolver
	resolveName  NameResolver
}

// Config wires a Router's collaborators.
type Config struct {
	Broker       Broker
	Rates        RateChecker
	Registry     *subject.Registry
	Bus          *eventbus.Bus
	Presence     PresenceSource
	ResolveZone  RoomResolver
	ResolveName  NameResolver
}

// New constructs a Router with the given channel catalog.
func New(channels []ChannelDescriptor, cfg Config) *Router {
	m := make(map[string]ChannelDescriptor, len(channels))
	for _, c := range channels {
		m[c.ID] = c
	}
	return &Router{
		channels:    m,
		broker:      cfg.Broker,
		rates:       cfg.Rates,
		registry:    cfg.Registry,
		bus:         cfg.Bus,
		presence:    cfg.Presence,
		resolveZone: cfg.ResolveZone,
		resolveName: cfg.ResolveName,
	}
}

// Incoming is one player-authored message submitted to a channel.
type Incoming struct {
	SenderID     domain.PlayerID
	SenderName   string
	SenderRoom   domain.RoomID
	SenderZone   domain.SubzoneID
	SenderAdmin  bool
	ChannelID    string
	Body         string
	TargetName   string // whisper only
}

// Outcome reports what happened to a submitted message.
type Outcome struct {
	Published  bool
	RetryAfter time.Duration
	DenyReason string // "rate_limited" | "target_not_found" | "unauthorized" | "invalid_body"
}

// Submit runs the full chat-router pipeline for an incoming message:
// validate, rate-limit, resolve scope, publish.
func (r *Router) Submit(ctx context.Context, in Incoming) (Outcome, error) {
	channel, ok := r.channels[in.ChannelID]
	if !ok {
		return Outcome{DenyReason: "unauthorized"}, domain.ErrUnknownChannel
	}

	body := strings.TrimSpace(in.Body)
	if body == "" || (channel.MaxLength > 0 && len(body) > channel.MaxLength) {
		return Outcome{DenyReason: "invalid_body"}, domain.NewValidationError("body", "empty or exceeds channel max length")
	}

	if channel.AdminOnly && !in.SenderAdmin {
		return Outcome{DenyReason: "unauthorized"}, nil
	}

	decision, err := r.rates.Check(ctx, string(in.SenderID), in.ChannelID)
	if err != nil {
		return Outcome{}, err
	}
	if !decision.Allowed {
		return Outcome{DenyReason: "rate_limited", RetryAfter: decision.RetryAfter}, nil
	}

	var targetID domain.PlayerID
	if channel.Scope == ScopeWhisper {
		id, found := r.resolveName(ctx, in.TargetName)
		if !found {
			return Outcome{DenyReason: "target_not_found"}, nil
		}
		targetID = id
	}

	evt, subj, err := r.buildEvent(channel, in, targetID)
	if err != nil {
		return Outcome{}, err
	}

	encoded, err := wire.EncodeEvent(evt)
	if err != nil {
		return Outcome{}, fmt.Errorf("chat: encode event: %w", err)
	}
	if err := r.broker.Publish(ctx, subj, encoded); err != nil {
		return Outcome{}, fmt.Errorf("chat: publish: %w", err)
	}

	// Local consumers (logging, audit) observe the message without waiting
	// for a broker round trip, per spec.md §4.13 step 4. Actual delivery to
	// recipients — including those on this same node — runs entirely
	// through the broker round trip the Broker → Wire Forwarder (C15)
	// subscribes to, so bus subscribers here must not also deliver.
	r.bus.Publish(ctx, evt)

	return Outcome{Published: true}, nil
}

// SelfEcho reports whether channelID's policy includes the sender among its
// own recipients. An unregistered channel id defaults to true so a
// configuration gap never silently suppresses delivery to the sender.
func (r *Router) SelfEcho(channelID string) bool {
	c, ok := r.channels[channelID]
	if !ok {
		return true
	}
	return c.SelfEcho
}

func (r *Router) buildEvent(channel ChannelDescriptor, in Incoming, targetID domain.PlayerID) (domain.Event, string, error) {
	kind := domain.KindChatMessage
	var roomID domain.RoomID
	var subj string
	var err error

	switch channel.Scope {
	case ScopeRoom:
		roomID = in.SenderRoom
		subj, err = r.registry.Build(channel.SubjectKind, string(in.SenderRoom))
	case ScopeSubzone:
		subj, err = r.registry.Build(channel.SubjectKind, string(in.SenderZone))
	case ScopeGlobal:
		subj, err = r.registry.Build(channel.SubjectKind)
	case ScopeWhisper:
		kind = domain.KindWhisper
		subj, err = r.registry.Build(channel.SubjectKind, string(targetID))
	case ScopeSystem:
		subj, err = r.registry.Build(channel.SubjectKind)
	}
	if err != nil {
		return domain.Event{}, "", err
	}

	payload := domain.ChatMessagePayload{
		ChannelID:  channel.ID,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		Body:       in.Body,
		TargetID:   targetID,
	}

	return domain.Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		PlayerID:  in.SenderID,
		RoomID:    roomID,
		Payload:   payload,
	}, subj, nil
}
