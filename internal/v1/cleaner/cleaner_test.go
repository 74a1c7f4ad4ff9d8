package cleaner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/dlq"
	"github.com/mythosmud/realtimecore/internal/v1/domain"
)

type fakeRegistry struct {
	mu       sync.Mutex
	conns    []Connection
	detached []domain.ConnID

	rooms      map[domain.RoomID][]domain.PlayerID
	onlineSet  map[domain.PlayerID]bool
	pruned     []domain.PlayerID
	ghostReaps int
}

func (r *fakeRegistry) IterAll() []Connection { r.mu.Lock(); defer r.mu.Unlock(); return r.conns }
func (r *fakeRegistry) RoomOccupants(domain.RoomID) []domain.PlayerID { return nil }
func (r *fakeRegistry) Detach(ctx context.Context, playerID domain.PlayerID, connID domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, connID)
}

func (r *fakeRegistry) RoomSnapshot() map[domain.RoomID][]domain.PlayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.RoomID][]domain.PlayerID, len(r.rooms))
	for room, occupants := range r.rooms {
		out[room] = append([]domain.PlayerID(nil), occupants...)
	}
	return out
}

func (r *fakeRegistry) PruneRoomOccupant(room domain.RoomID, player domain.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onlineSet[player] {
		return false
	}
	r.pruned = append(r.pruned, player)
	return true
}

func (r *fakeRegistry) ReapGhosts(ctx context.Context) int {
	return r.ghostReaps
}

type fakeBroker struct {
	open       bool
	published  []string
	failNext   bool
}

func (b *fakeBroker) Publish(ctx context.Context, subj string, payload []byte) error {
	if b.failNext {
		b.failNext = false
		return assertErr
	}
	b.published = append(b.published, subj)
	return nil
}
func (b *fakeBroker) BreakerOpen() bool { return b.open }

var assertErr = errString("publish failed")

type errString string

func (e errString) Error() string { return string(e) }

func TestSweep_DetachesConnectionsWithDeadTransport(t *testing.T) {
	reg := &fakeRegistry{conns: []Connection{{ID: "c1", PlayerID: "p1"}, {ID: "c2", PlayerID: "p2"}}}
	probe := func(id domain.ConnID) bool { return id != "c1" } // c1 reports dead

	c := New(reg, probe, nil, nil, time.Hour)
	c.Sweep(context.Background())

	if len(reg.detached) != 1 || reg.detached[0] != "c1" {
		t.Fatalf("expected c1 detached, got %v", reg.detached)
	}
}

func TestSweep_PrunesOrphanedRoomOccupants(t *testing.T) {
	reg := &fakeRegistry{
		rooms:     map[domain.RoomID][]domain.PlayerID{"room-1": {"p1", "p2"}},
		onlineSet: map[domain.PlayerID]bool{"p1": true},
	}

	c := New(reg, func(domain.ConnID) bool { return true }, nil, nil, time.Hour)
	c.Sweep(context.Background())

	if len(reg.pruned) != 1 || reg.pruned[0] != "p2" {
		t.Fatalf("expected only offline occupant p2 pruned, got %v", reg.pruned)
	}
}

func TestSweep_SkipsDLQDrainWhenBreakerOpen(t *testing.T) {
	reg := &fakeRegistry{}
	path := t.TempDir() + "/dlq.jsonl"
	dead, err := dlq.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dead.Close()
	_ = dead.Write(dlq.Record{OriginalSubject: "chat.global"})

	broker := &fakeBroker{open: true}
	c := New(reg, func(domain.ConnID) bool { return true }, dead, broker, time.Hour)
	c.Sweep(context.Background())

	records, _ := dead.Drain()
	if len(records) != 1 {
		t.Fatalf("expected record to remain undrained while breaker is open, got %d", len(records))
	}
}

func TestSweep_ReplaysDLQRecordsWhenBreakerClosed(t *testing.T) {
	reg := &fakeRegistry{}
	path := t.TempDir() + "/dlq.jsonl"
	dead, err := dlq.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dead.Close()
	_ = dead.Write(dlq.Record{OriginalSubject: "chat.global"})

	broker := &fakeBroker{open: false}
	c := New(reg, func(domain.ConnID) bool { return true }, dead, broker, time.Hour)
	c.Sweep(context.Background())

	if len(broker.published) != 1 || broker.published[0] != "chat.global" {
		t.Fatalf("expected replay to publish chat.global, got %v", broker.published)
	}
	records, _ := dead.Drain()
	if len(records) != 0 {
		t.Fatalf("expected queue drained after successful replay, got %d", len(records))
	}
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	reg := &fakeRegistry{}
	c := New(reg, func(domain.ConnID) bool { return true }, nil, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
