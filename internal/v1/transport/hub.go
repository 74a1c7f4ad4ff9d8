// hub.go implements the WebSocket handshake and per-connection command
// dispatch: the outer edge that turns an HTTP upgrade request into an
// attached presence.Connection, and turns inbound client→server command
// frames into calls against the Chat Router (C13) and other subsystems.
//
// Grounded on this repository's original ServeWs (token extraction,
// websocket.Upgrader, client registration) generalized from video-room
// signaling commands to the {command, args[], timestamp} frame format in
// spec.md §6, and rewired to presence.Registry/chat.Router/delivery.Sender
// in place of the original Room/Hub broadcast methods.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mythosmud/realtimecore/internal/v1/chat"
	"github.com/mythosmud/realtimecore/internal/v1/delivery"
	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/ports"
	"github.com/mythosmud/realtimecore/internal/v1/presence"

	"go.uber.org/zap"
)

// MaxCommandFrameSize is the maximum size of a client→server command
// frame (spec.md §6): "Maximum 10 KiB; rejected otherwise."
const MaxCommandFrameSize = 10 * 1024

// CommandFrame is one client→server message per spec.md §6.
type CommandFrame struct {
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub owns the websocket upgrader and wires an attached connection to the
// rest of the system.
type Hub struct {
	upgrader  websocket.Upgrader
	registry  *presence.Registry
	validator ports.TokenValidator
	router    *chat.Router
	sender    *delivery.Sender
	queueSize int

	conns *connIndex
}

// Config wires a Hub's collaborators and tunables.
type Config struct {
	Registry      *presence.Registry
	Validator     ports.TokenValidator
	ChatRouter    *chat.Router
	Sender        *delivery.Sender
	OutboundQueue int
	CheckOrigin   func(*http.Request) bool
}

// NewHub constructs a Hub.
func NewHub(cfg Config) *Hub {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		registry:  cfg.Registry,
		validator: cfg.Validator,
		router:    cfg.ChatRouter,
		sender:    cfg.Sender,
		queueSize: cfg.OutboundQueue,
		conns:     newConnIndex(),
	}
}

// OutboxLookup adapts the Hub's connection index to delivery.OutboxLookup.
func (h *Hub) OutboxLookup(id domain.ConnID) (delivery.Outbox, bool) {
	c, ok := h.conns.get(id)
	return c, ok
}

// TransportProbe adapts the Hub's connection index to cleaner.TransportProbe.
func (h *Hub) TransportProbe(id domain.ConnID) bool {
	c, ok := h.conns.get(id)
	if !ok {
		return false
	}
	return c.Open()
}

// ServeWs upgrades an HTTP request to a WebSocket connection, authenticates
// it, attaches it to the Connection Registry, and runs its read/write
// pumps until the connection closes.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := extractToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	identity, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		logging.Warn(ctx, "websocket auth rejected", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	connID := domain.ConnID(uuid.NewString())
	tc := NewConnection(connID, identity.PlayerID, token, conn, h.queueSize)
	h.conns.put(tc)

	roomID := domain.RoomID(r.URL.Query().Get("room_id"))
	h.registry.Attach(ctx, identity.PlayerID, identity.DisplayName, connID, roomID, tc)

	go tc.WritePump()
	tc.ReadPump(ctx, func(ctx context.Context, data []byte) {
		h.handleCommand(ctx, identity, connID, data)
	}, func() {
		h.conns.remove(connID)
		h.registry.Detach(context.Background(), identity.PlayerID, connID)
	})
}

func (h *Hub) handleCommand(ctx context.Context, identity ports.PlayerIdentity, connID domain.ConnID, data []byte) {
	if len(data) > MaxCommandFrameSize {
		logging.Warn(ctx, "command frame too large, dropping", zap.Int("size", len(data)))
		return
	}

	var frame CommandFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logging.Warn(ctx, "malformed command frame", zap.Error(err))
		return
	}

	switch frame.Command {
	case "chat":
		h.handleChat(ctx, identity, frame)
	case "ping":
		// client-initiated keepalive; the write pump's own ping/pong cycle
		// already covers liveness, so there is nothing further to do here.
	default:
		logging.Warn(ctx, "unknown command", zap.String("command", frame.Command), zap.String("conn_id", string(connID)))
	}
}

func (h *Hub) handleChat(ctx context.Context, identity ports.PlayerIdentity, frame CommandFrame) {
	if len(frame.Args) < 2 {
		return
	}
	channelID, body := frame.Args[0], frame.Args[1]
	var targetName string
	if len(frame.Args) >= 3 {
		targetName = frame.Args[2]
	}

	conns := h.registry.LookupByPlayer(identity.PlayerID)
	var room domain.RoomID
	if len(conns) > 0 {
		room = conns[0].RoomID
	}

	outcome, err := h.router.Submit(ctx, chat.Incoming{
		SenderID:    identity.PlayerID,
		SenderName:  identity.DisplayName,
		SenderRoom:  room,
		SenderAdmin: identity.IsAdmin,
		ChannelID:   channelID,
		Body:        body,
		TargetName:  targetName,
	})
	if err != nil {
		logging.Warn(ctx, "chat submit failed", zap.Error(err), zap.String("channel", channelID))
		return
	}
	if !outcome.Published && outcome.DenyReason != "" {
		logging.Info(ctx, "chat submit denied", zap.String("reason", outcome.DenyReason), zap.String("channel", channelID))
		h.sendChatDenied(ctx, identity.PlayerID, outcome)
	}
}

// sendChatDenied delivers a private error frame to the submitting player for
// a denied chat.submit, per spec.md §4.13 step 2.
func (h *Hub) sendChatDenied(ctx context.Context, playerID domain.PlayerID, outcome chat.Outcome) {
	msg := outcome.DenyReason
	if outcome.DenyReason == "rate_limited" && outcome.RetryAfter > 0 {
		msg = "rate_limited: retry after " + outcome.RetryAfter.String()
	}
	h.sender.Send(ctx, playerID, domain.Event{
		Kind:      domain.KindError,
		Timestamp: time.Now().UTC(),
		PlayerID:  playerID,
		Payload:   domain.ErrorPayload{ErrorKind: outcome.DenyReason, Message: msg},
	})
}

func extractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
