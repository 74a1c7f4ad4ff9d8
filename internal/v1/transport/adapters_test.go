package transport

import (
	"context"
	"testing"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/eventbus"
	"github.com/mythosmud/realtimecore/internal/v1/presence"
)

func TestCleanerRegistry_IterAllMapsPresenceConnections(t *testing.T) {
	registry := presence.NewRegistry(eventbus.New(), time.Minute)
	fw := newFakeWSConn()
	conn := NewConnection("c1", "p1", "tok", fw, 4)
	registry.Attach(context.Background(), "p1", "Alice", "c1", "room-1", conn)

	adapter := NewCleanerRegistry(registry)
	all := adapter.IterAll()
	if len(all) != 1 || all[0].ID != "c1" || all[0].RoomID != "room-1" {
		t.Fatalf("unexpected mapped connections: %+v", all)
	}
}

func TestHealthRegistry_IterConnectionsCarriesTokenAndPinger(t *testing.T) {
	registry := presence.NewRegistry(eventbus.New(), time.Minute)
	fw := newFakeWSConn()
	conn := NewConnection("c1", "p1", "secret-token", fw, 4)
	registry.Attach(context.Background(), "p1", "Alice", "c1", "room-1", conn)

	adapter := NewHealthRegistry(registry)
	all := adapter.IterConnections()
	if len(all) != 1 {
		t.Fatalf("expected 1 monitored connection, got %d", len(all))
	}
	if all[0].Token != "secret-token" {
		t.Fatalf("expected token carried through, got %q", all[0].Token)
	}
	if err := all[0].Transport.Ping(context.Background()); err != nil {
		t.Fatalf("expected a live ping to succeed: %v", err)
	}
}

func TestHealthRegistry_DetachConnectionRemovesFromRegistry(t *testing.T) {
	registry := presence.NewRegistry(eventbus.New(), time.Minute)
	fw := newFakeWSConn()
	conn := NewConnection("c1", "p1", "tok", fw, 4)
	registry.Attach(context.Background(), "p1", "Alice", "c1", "room-1", conn)

	adapter := NewHealthRegistry(registry)
	monitored := adapter.IterConnections()[0]
	adapter.DetachConnection(context.Background(), monitored, "stale_connection")

	if len(registry.LookupByPlayer("p1")) != 0 {
		t.Fatal("expected the connection to be detached from the registry")
	}
}
