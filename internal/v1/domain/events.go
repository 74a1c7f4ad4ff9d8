// Package domain - events.go
//
// This file defines the tagged domain event set that flows from game logic
// through the Event Bus (internal/v1/eventbus) to the delivery layer
// (internal/v1/delivery, internal/v1/wire). Every event kind carries a typed
// payload struct instead of a map[string]any, so a misspelled payload field
// is a compile error rather than a silent no-op at delivery time.
package domain

import "time"

// Kind identifies the type of a domain event. The set is closed: every
// value here must be handled by Criticality() and by the wire translator's
// switch in internal/v1/wire.
type Kind string

const (
	KindPlayerEntered   Kind = "player_entered"
	KindPlayerLeft      Kind = "player_left"
	KindRoomUpdated     Kind = "room_updated"
	KindChatMessage     Kind = "chat_message"
	KindWhisper         Kind = "whisper"
	KindCombatEvent     Kind = "combat_event"
	KindNPCEvent        Kind = "npc_event"
	KindPlayerHPUpdated Kind = "player_hp_updated"
	KindGameTick        Kind = "game_tick"
	KindHeartbeat       Kind = "heartbeat"
	KindError           Kind = "error"
	KindSystemNotice    Kind = "system_notice"
)

// Criticality reports whether a connection's outbound queue must prefer
// blocking (with a timeout) over dropping when delivering this event kind.
// This is spec.md Open Question 2 made concrete: every event kind is
// classified here, explicitly, rather than inferred from a naming
// convention. Unknown kinds default to non-critical (drop-oldest) since an
// unclassified event is never worth stalling a connection's writer.
func (k Kind) Criticality() Criticality {
	switch k {
	case KindPlayerHPUpdated, KindCombatEvent:
		return Critical
	case KindHeartbeat, KindGameTick:
		return NonCritical
	default:
		return NonCritical
	}
}

// Criticality controls the outbound-queue backpressure policy for an event
// (spec.md §4.9).
type Criticality int

const (
	NonCritical Criticality = iota // drop-oldest on a full queue
	Critical                       // block with timeout, then detach
)

// PlayerID, RoomID and SubzoneID are opaque string identifiers. Distinct
// types prevent a room id from being passed where a player id is expected.
type (
	PlayerID   string
	RoomID     string
	SubzoneID  string
	ConnID     string
	SessionID  string
	SequenceNo int64
)

// Event is an immutable, tagged domain record. Once handed to the Event Bus
// it is shared across every handler invoked for it; handlers must treat
// Payload as read-only.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  SequenceNo `json:"sequence,omitempty"`
	PlayerID  PlayerID  `json:"playerId,omitempty"` // empty if not player-scoped
	RoomID    RoomID    `json:"roomId,omitempty"`    // empty if not room-scoped
	Payload   any       `json:"payload"`             // one of the *Payload structs below
}

// PlayerEnteredPayload is the payload for KindPlayerEntered.
type PlayerEnteredPayload struct {
	PlayerID    PlayerID `json:"playerId"`
	DisplayName string   `json:"displayName"`
	RoomID      RoomID   `json:"roomId"`
}

// PlayerLeftPayload is the payload for KindPlayerLeft.
type PlayerLeftPayload struct {
	PlayerID    PlayerID `json:"playerId"`
	DisplayName string   `json:"displayName"`
}

// RoomUpdatedPayload is the payload for KindRoomUpdated.
type RoomUpdatedPayload struct {
	RoomID     RoomID     `json:"roomId"`
	PlayerID   PlayerID   `json:"playerId"`
	FromRoomID RoomID     `json:"fromRoomId,omitempty"`
	Occupants  []PlayerID `json:"occupants,omitempty"`
}

// ChatMessagePayload is the payload for KindChatMessage and KindWhisper.
type ChatMessagePayload struct {
	ChannelID  string   `json:"channelId"`
	SenderID   PlayerID `json:"senderId"`
	SenderName string   `json:"senderName"`
	Body       string   `json:"body"`
	TargetID   PlayerID `json:"targetId,omitempty"` // whisper only
}

// CombatEventPayload is the payload for KindCombatEvent. HiddenRolls is
// stripped by the wire translator for viewers other than the combatants.
type CombatEventPayload struct {
	RoomID      RoomID         `json:"roomId"`
	AttackerID  PlayerID       `json:"attackerId"`
	DefenderID  PlayerID       `json:"defenderId"`
	Action      string         `json:"action"`
	Damage      int            `json:"damage"`
	HiddenRolls map[string]int `json:"hiddenRolls,omitempty"`
}

// NPCEventPayload is the payload for KindNPCEvent.
type NPCEventPayload struct {
	RoomID string `json:"roomId"`
	NPCID  string `json:"npcId"`
	Action string `json:"action"`
}

// PlayerHPUpdatedPayload is the payload for KindPlayerHPUpdated.
type PlayerHPUpdatedPayload struct {
	PlayerID PlayerID `json:"playerId"`
	HP       int      `json:"hp"`
	MaxHP    int      `json:"maxHp"`
}

// GameTickPayload is the payload for KindGameTick.
type GameTickPayload struct {
	Tick int64 `json:"tick"`
}

// ErrorPayload is the payload for KindError, sent directly to a single
// connection via the Personal Sender (spec.md §7).
type ErrorPayload struct {
	ErrorKind string `json:"kind"`
	Message   string `json:"message"`
}

// SystemNoticePayload is the payload for KindSystemNotice.
type SystemNoticePayload struct {
	Message string `json:"message"`
}
