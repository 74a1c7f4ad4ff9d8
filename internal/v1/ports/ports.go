// Package ports defines the narrow interfaces this module uses to reach
// its external collaborators (persistence, authentication) per spec.md §6
// "Explicitly out of scope ... accessed through the interfaces in §6".
// Concrete adapters live outside this module; test doubles implement these
// directly, matching a TokenValidator/BusService/SFUProvider-style
// interface-at-the-boundary style (internal/v1/session/hub.go).
package ports

import (
	"context"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
)

// TokenValidator validates an inbound authentication token and returns the
// identity it asserts. Grounded on internal/v1/auth/validator.go's
// Validator.ValidateToken contract.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (PlayerIdentity, error)
}

// PlayerIdentity is the identity a validated token asserts.
type PlayerIdentity struct {
	PlayerID    domain.PlayerID
	DisplayName string
	IsAdmin     bool
}

// MuteSource is the persistence-side query surface for mute relationships
// and channel mutes, batched for the broadcast path (spec.md §4.12
// "batch loading is mandatory for broadcast paths").
type MuteSource interface {
	// LoadMutes returns, for each requested receiver, the set of sender ids
	// they have muted and the set of channel ids they have muted.
	LoadMutes(ctx context.Context, receivers []domain.PlayerID) (map[domain.PlayerID]MuteSet, error)
}

// MuteSet is one player's mute configuration.
type MuteSet struct {
	MutedSenders  map[domain.PlayerID]struct{}
	MutedChannels map[string]struct{}
}

// RoomSource resolves a room's sub-zone membership for subzone-scoped chat,
// and display names for wire translation.
type RoomSource interface {
	SubzoneRooms(ctx context.Context, subzone domain.SubzoneID) ([]domain.RoomID, error)
	DisplayName(ctx context.Context, player domain.PlayerID) (string, error)
}

// Clock abstracts time for deterministic tests of TTL-sensitive components.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
