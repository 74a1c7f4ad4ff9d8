package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mythosmud/realtimecore/internal/v1/chat"
	"github.com/mythosmud/realtimecore/internal/v1/delivery"
	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/eventbus"
	"github.com/mythosmud/realtimecore/internal/v1/ports"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
	"github.com/mythosmud/realtimecore/internal/v1/ratelimit"
	"github.com/mythosmud/realtimecore/internal/v1/subject"
)

type fakeValidator struct{ valid map[string]ports.PlayerIdentity }

func (v *fakeValidator) ValidateToken(ctx context.Context, token string) (ports.PlayerIdentity, error) {
	id, ok := v.valid[token]
	if !ok {
		return ports.PlayerIdentity{}, domain.ErrTokenInvalid
	}
	return id, nil
}

type fakeChatBroker struct{ published []string }

func (b *fakeChatBroker) Publish(ctx context.Context, subj string, payload []byte) error {
	b.published = append(b.published, subj)
	return nil
}

type allowAllRates struct{}

func (allowAllRates) Check(ctx context.Context, playerID, channelKind string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true}, nil
}

func newTestHub(t *testing.T, validTokens map[string]ports.PlayerIdentity) (*Hub, *presence.Registry) {
	bus := eventbus.New()
	registry := presence.NewRegistry(bus, time.Minute)
	broker := &fakeChatBroker{}
	router := chat.New([]chat.ChannelDescriptor{
		{ID: "room", Scope: chat.ScopeRoom, MaxLength: 200, SubjectKind: subject.KindChatRoom},
	}, chat.Config{
		Broker:   broker,
		Rates:    allowAllRates{},
		Registry: subject.NewRegistry(false),
		Bus:      bus,
		Presence: registry,
		ResolveName: func(ctx context.Context, name string) (domain.PlayerID, bool) { return "", false },
	})

	sender := delivery.NewSender(registry, nil)

	h := NewHub(Config{
		Registry:      registry,
		Validator:     &fakeValidator{valid: validTokens},
		ChatRouter:    router,
		Sender:        sender,
		OutboundQueue: 8,
	})
	return h, registry
}

func TestExtractToken_PrefersQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	if got := extractToken(r); got != "abc" {
		t.Fatalf("expected query token to win, got %q", got)
	}
}

func TestExtractToken_FallsBackToBearerHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	if got := extractToken(r); got != "xyz" {
		t.Fatalf("expected bearer token, got %q", got)
	}
}

func TestExtractToken_ReturnsEmptyWhenMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if got := extractToken(r); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestServeWs_RejectsMissingToken(t *testing.T) {
	h, _ := newTestHub(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestServeWs_RejectsInvalidToken(t *testing.T) {
	h, _ := newTestHub(t, map[string]ports.PlayerIdentity{})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?token=bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestServeWs_UpgradesAndAttachesConnection(t *testing.T) {
	h, registry := newTestHub(t, map[string]ports.PlayerIdentity{"good": {PlayerID: "p1", DisplayName: "Alice"}})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=good&room_id=room-1"
	parsed, _ := url.Parse(wsURL)
	conn, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	if len(registry.LookupByPlayer("p1")) != 1 {
		t.Fatal("expected the connection to be attached to the registry")
	}
}

func TestHandleCommand_DropsOversizedFrame(t *testing.T) {
	h, _ := newTestHub(t, nil)
	oversized := make([]byte, MaxCommandFrameSize+1)
	h.handleCommand(context.Background(), ports.PlayerIdentity{PlayerID: "p1"}, "c1", oversized)
}

func TestHandleCommand_IgnoresUnknownCommand(t *testing.T) {
	h, _ := newTestHub(t, nil)
	h.handleCommand(context.Background(), ports.PlayerIdentity{PlayerID: "p1"}, "c1", []byte(`{"command":"dance","args":[]}`))
}

func TestHandleChat_IgnoresFrameWithTooFewArgs(t *testing.T) {
	h, _ := newTestHub(t, nil)
	h.handleChat(context.Background(), ports.PlayerIdentity{PlayerID: "p1"}, CommandFrame{Command: "chat", Args: []string{"room"}})
}
