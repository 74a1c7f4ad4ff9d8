package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/delivery"
	"github.com/mythosmud/realtimecore/internal/v1/dlq"
	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/mute"
	"github.com/mythosmud/realtimecore/internal/v1/ports"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
	"github.com/mythosmud/realtimecore/internal/v1/wire"
)

type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, subj string, payload []byte)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]func(ctx context.Context, subj string, payload []byte))}
}

func (b *fakeBroker) Subscribe(ctx context.Context, pattern string, handler func(ctx context.Context, subj string, payload []byte)) (func() error, error) {
	b.mu.Lock()
	b.handlers[pattern] = handler
	b.mu.Unlock()
	return func() error {
		b.mu.Lock()
		delete(b.handlers, pattern)
		b.mu.Unlock()
		return nil
	}, nil
}

func (b *fakeBroker) deliver(subj, pattern string, payload []byte) {
	b.mu.Lock()
	h := b.handlers[pattern]
	b.mu.Unlock()
	if h != nil {
		h(context.Background(), subj, payload)
	}
}

type fakeRegistry struct {
	occupants map[domain.RoomID][]domain.PlayerID
	online    []domain.PlayerID
	conns     map[domain.PlayerID][]*presence.Connection
}

func (r *fakeRegistry) RoomOccupants(room domain.RoomID) []domain.PlayerID { return r.occupants[room] }
func (r *fakeRegistry) IterOnline() []domain.PlayerID                     { return r.online }
func (r *fakeRegistry) LookupByPlayer(p domain.PlayerID) []*presence.Connection {
	return r.conns[p]
}

type fakeOutbox struct {
	mu        sync.Mutex
	delivered int
}

func (o *fakeOutbox) Enqueue(frame []byte) bool { o.mu.Lock(); defer o.mu.Unlock(); o.delivered++; return true }
func (o *fakeOutbox) EnqueueBlocking(ctx context.Context, frame []byte) bool {
	return o.Enqueue(frame)
}
func (o *fakeOutbox) Detach() {}

type fakeMuteSource struct {
	mutedSenders map[domain.PlayerID]domain.PlayerID // receiver -> muted sender
}

func (s *fakeMuteSource) LoadMutes(ctx context.Context, receivers []domain.PlayerID) (map[domain.PlayerID]ports.MuteSet, error) {
	out := make(map[domain.PlayerID]ports.MuteSet, len(receivers))
	for _, r := range receivers {
		set := ports.MuteSet{MutedSenders: map[domain.PlayerID]struct{}{}}
		if sender, ok := s.mutedSenders[r]; ok {
			set.MutedSenders[sender] = struct{}{}
		}
		out[r] = set
	}
	return out, nil
}

type fakeChannelPolicy struct {
	selfEcho map[string]bool // channel id -> self-echo; missing defaults to true
}

func (p fakeChannelPolicy) SelfEcho(channelID string) bool {
	if p.selfEcho == nil {
		return true
	}
	v, ok := p.selfEcho[channelID]
	if !ok {
		return true
	}
	return v
}

func newTestForwarder(registry Registry, muteSrc *fakeMuteSource, outboxes map[domain.ConnID]*fakeOutbox) (*Forwarder, *fakeBroker) {
	broker := newFakeBroker()
	muteStore := mute.New(muteSrc, 32, time.Minute)
	sender := delivery.NewSender(nil, func(id domain.ConnID) (delivery.Outbox, bool) {
		ob, ok := outboxes[id]
		return ob, ok
	})
	return New(broker, registry, muteStore, sender, nil, fakeChannelPolicy{}), broker
}

func TestForwarder_DeliversChatMessageToRoomOccupants(t *testing.T) {
	c1 := &presence.Connection{ID: "c1", PlayerID: "p1"}
	registry := &fakeRegistry{
		occupants: map[domain.RoomID][]domain.PlayerID{"room-1": {"p1"}},
		conns:     map[domain.PlayerID][]*presence.Connection{"p1": {c1}},
	}
	outboxes := map[domain.ConnID]*fakeOutbox{"c1": {}}
	f, broker := newTestForwarder(registry, &fakeMuteSource{}, outboxes)

	if err := f.SubscribeStatic(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt := domain.Event{Kind: domain.KindChatMessage, RoomID: "room-1", Payload: domain.ChatMessagePayload{ChannelID: "room", SenderID: "p2", Body: "hi"}}
	encoded, err := wire.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	broker.deliver("chat.say.room-1", "chat.*", encoded)

	if outboxes["c1"].delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", outboxes["c1"].delivered)
	}
}

func TestForwarder_FiltersMutedSender(t *testing.T) {
	c1 := &presence.Connection{ID: "c1", PlayerID: "p1"}
	registry := &fakeRegistry{
		occupants: map[domain.RoomID][]domain.PlayerID{"room-1": {"p1"}},
		conns:     map[domain.PlayerID][]*presence.Connection{"p1": {c1}},
	}
	outboxes := map[domain.ConnID]*fakeOutbox{"c1": {}}
	muteSrc := &fakeMuteSource{mutedSenders: map[domain.PlayerID]domain.PlayerID{"p1": "p2"}}
	f, broker := newTestForwarder(registry, muteSrc, outboxes)

	_ = f.SubscribeStatic(context.Background())

	evt := domain.Event{Kind: domain.KindChatMessage, RoomID: "room-1", Payload: domain.ChatMessagePayload{ChannelID: "room", SenderID: "p2", Body: "hi"}}
	encoded, _ := wire.EncodeEvent(evt)
	broker.deliver("chat.say.room-1", "chat.*", encoded)

	if outboxes["c1"].delivered != 0 {
		t.Fatalf("expected delivery suppressed by mute, got %d", outboxes["c1"].delivered)
	}
}

func TestForwarder_MalformedFrameIsDeadLettered(t *testing.T) {
	registry := &fakeRegistry{}
	broker := newFakeBroker()
	deadPath := t.TempDir() + "/dlq.jsonl"
	dead, err := dlq.Open(deadPath)
	if err != nil {
		t.Fatalf("open dlq: %v", err)
	}
	defer dead.Close()

	muteStore := mute.New(&fakeMuteSource{}, 8, time.Minute)
	sender := delivery.NewSender(nil, func(domain.ConnID) (delivery.Outbox, bool) { return nil, false })
	f := New(broker, registry, muteStore, sender, dead, fakeChannelPolicy{})

	_ = f.SubscribeStatic(context.Background())
	broker.deliver("chat.say.room-1", "chat.*", []byte("not json"))

	records, err := dead.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 dead-lettered record, got %d", len(records))
	}
}

func TestForwarder_SuppressesSelfEchoWhenChannelPolicyDisallows(t *testing.T) {
	c1 := &presence.Connection{ID: "c1", PlayerID: "p1"}
	registry := &fakeRegistry{
		occupants: map[domain.RoomID][]domain.PlayerID{"room-1": {"p1"}},
		conns:     map[domain.PlayerID][]*presence.Connection{"p1": {c1}},
	}
	outboxes := map[domain.ConnID]*fakeOutbox{"c1": {}}
	broker := newFakeBroker()
	muteStore := mute.New(&fakeMuteSource{}, 32, time.Minute)
	sender := delivery.NewSender(nil, func(id domain.ConnID) (delivery.Outbox, bool) {
		ob, ok := outboxes[id]
		return ob, ok
	})
	f := New(broker, registry, muteStore, sender, nil, fakeChannelPolicy{selfEcho: map[string]bool{"room": false}})

	if err := f.SubscribeStatic(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt := domain.Event{Kind: domain.KindChatMessage, RoomID: "room-1", Payload: domain.ChatMessagePayload{ChannelID: "room", SenderID: "p1", Body: "hi"}}
	encoded, err := wire.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	broker.deliver("chat.say.room-1", "chat.*", encoded)

	if outboxes["c1"].delivered != 0 {
		t.Fatalf("expected self-echo suppressed for sender, got %d deliveries", outboxes["c1"].delivered)
	}
}

func TestForwarder_SubscribeRoomThenUnsubscribeRoomRemovesHandler(t *testing.T) {
	registry := &fakeRegistry{}
	f, broker := newTestForwarder(registry, &fakeMuteSource{}, map[domain.ConnID]*fakeOutbox{})

	if err := f.SubscribeRoom(context.Background(), "room-9"); err != nil {
		t.Fatalf("subscribe room: %v", err)
	}
	broker.mu.Lock()
	_, ok := broker.handlers["combat.room-9"]
	broker.mu.Unlock()
	if !ok {
		t.Fatal("expected a combat subscription to be registered")
	}

	f.UnsubscribeRoom("room-9")
	broker.mu.Lock()
	_, ok = broker.handlers["combat.room-9"]
	broker.mu.Unlock()
	if ok {
		t.Fatal("expected the combat subscription to be removed")
	}
}
