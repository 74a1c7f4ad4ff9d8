// Package wire implements the Event → Wire Translator (C14): a pure
// function turning a domain.Event plus a viewing connection into the
// client-facing JSON frame (spec.md §6), or a drop decision.
//
// Grounded on internal/v1/session/chat_helpers.go's pure-function style
// (buildChatEvent/shouldStoreChatInHistory/chatInfoFromEvent: small,
// side-effect-free transforms over one event), generalized from a single
// chat-event shape to the full domain.Kind set and from a protobuf-backed
// struct to a JSON wire-frame envelope.
package wire

import (
	"encoding/json"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
)

// MaxFrameSize is the wire-frame size ceiling (64 KiB).
const MaxFrameSize = 64 * 1024

// Frame is the JSON envelope sent to clients.
type Frame struct {
	EventType      string          `json:"event_type"`
	Timestamp      string          `json:"timestamp"`
	SequenceNumber int64           `json:"sequence_number"`
	PlayerID       string          `json:"player_id,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// Viewer is the minimal subset of a connection the translator needs.
type Viewer struct {
	PlayerID domain.PlayerID
	NextSeq  func() domain.SequenceNo
}

// dropSentinel is the zero Frame Translate returns alongside ok=false (or an
// error) when the event yields no frame for this viewer.
var dropSentinel = Frame{}

// Translate converts evt into a wire Frame for viewer, or reports ok=false
// when the event should be dropped for this viewer. Combat hidden rolls
// are stripped for anyone but the two combatants.
func Translate(evt domain.Event, viewer Viewer) (Frame, bool, error) {
	data := evt.Payload

	switch p := evt.Payload.(type) {
	case domain.CombatEventPayload:
		if viewer.PlayerID != p.AttackerID && viewer.PlayerID != p.DefenderID {
			p.HiddenRolls = nil
		}
		data = p
	case domain.GameTickPayload:
		// Tick events are a server-internal pacing signal; clients never
		// see them directly.
		return dropSentinel, false, nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return dropSentinel, false, err
	}

	f := Frame{
		EventType:      string(evt.Kind),
		Timestamp:      evt.Timestamp.UTC().Format(time.RFC3339Nano),
		SequenceNumber: int64(viewer.NextSeq()),
		PlayerID:       string(evt.PlayerID),
		RoomID:         string(evt.RoomID),
		Data:           payload,
	}

	encoded, err := json.Marshal(f)
	if err != nil {
		return dropSentinel, false, err
	}
	if len(encoded) > MaxFrameSize {
		f.Data = json.RawMessage(`{"truncated":true}`)
	}
	return f, true, nil
}

// Encode marshals a Frame to its wire bytes.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// envelope is the broker-transport encoding of a domain.Event: the typed
// Payload is marshaled to a json.RawMessage on the way out and matched
// back to its concrete struct by Kind on the way in, since domain.Event's
// in-process Payload field is `any` and carries no type information of its
// own once serialized.
type envelope struct {
	Kind      domain.Kind       `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Sequence  domain.SequenceNo `json:"sequence,omitempty"`
	PlayerID  domain.PlayerID   `json:"playerId,omitempty"`
	RoomID    domain.RoomID     `json:"roomId,omitempty"`
	Payload   json.RawMessage   `json:"payload"`
}

// EncodeEvent serializes evt for transport over the broker (C2).
func EncodeEvent(evt domain.Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp,
		Sequence:  evt.Sequence,
		PlayerID:  evt.PlayerID,
		RoomID:    evt.RoomID,
		Payload:   payload,
	})
}

// DecodeEvent reconstructs a domain.Event from broker transport bytes,
// resolving Payload to its concrete *Payload struct based on Kind.
func DecodeEvent(data []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Event{}, err
	}

	evt := domain.Event{
		Kind:      env.Kind,
		Timestamp: env.Timestamp,
		Sequence:  env.Sequence,
		PlayerID:  env.PlayerID,
		RoomID:    env.RoomID,
	}

	var err error
	switch env.Kind {
	case domain.KindChatMessage, domain.KindWhisper:
		var p domain.ChatMessagePayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	case domain.KindPlayerEntered:
		var p domain.PlayerEnteredPayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	case domain.KindPlayerLeft:
		var p domain.PlayerLeftPayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	case domain.KindRoomUpdated:
		var p domain.RoomUpdatedPayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	case domain.KindCombatEvent:
		var p domain.CombatEventPayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	case domain.KindNPCEvent:
		var p domain.NPCEventPayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	case domain.KindPlayerHPUpdated:
		var p domain.PlayerHPUpdatedPayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	case domain.KindSystemNotice:
		var p domain.SystemNoticePayload
		err = json.Unmarshal(env.Payload, &p)
		evt.Payload = p
	default:
		evt.Payload = env.Payload
	}
	if err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}
