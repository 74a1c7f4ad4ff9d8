// Package mute implements the Mute Store (C12): per-player mute lists
// cached with a TTL, batch-loaded for broadcast paths, with concurrent
// cache misses for the same key coalesced into one fetch.
//
// Grounded on webitel-im-delivery-service's PeerEnricher
// (internal/service/peer_enricher.go): identical cache-aside shape — check
// cache, on miss fetch and populate — generalized from a single-peer LRU to
// an expirable TTL cache (github.com/hashicorp/golang-lru/v2/expirable, since
// mute entries must age out on their own rather than only under LRU
// eviction pressure) and from ad-hoc per-call locking to
// golang.org/x/sync/singleflight for request coalescing, both already
// direct dependencies of the webitel example's go.mod.
package mute

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/metrics"
	"github.com/mythosmud/realtimecore/internal/v1/ports"
)

// Store is the TTL-cached mute lookup.
type Store struct {
	cache  *lru.LRU[domain.PlayerID, ports.MuteSet]
	source ports.MuteSource
	group  singleflight.Group
}

// New constructs a Store with the given cache size and TTL (the gateway
// passes config's MUTE_CACHE_TTL_MS, default 5 minutes).
func New(source ports.MuteSource, size int, ttl time.Duration) *Store {
	return &Store{
		cache:  lru.NewLRU[domain.PlayerID, ports.MuteSet](size, nil, ttl),
		source: source,
	}
}

// IsMuted reports whether receiver has muted sender.
func (s *Store) IsMuted(ctx context.Context, receiver, sender domain.PlayerID) (bool, error) {
	set, err := s.get(ctx, receiver)
	if err != nil {
		return false, err
	}
	_, muted := set.MutedSenders[sender]
	return muted, nil
}

// ChannelMuted reports whether receiver has muted channelID.
func (s *Store) ChannelMuted(ctx context.Context, receiver domain.PlayerID, channelID string) (bool, error) {
	set, err := s.get(ctx, receiver)
	if err != nil {
		return false, err
	}
	_, muted := set.MutedChannels[channelID]
	return muted, nil
}

// LoadBatch primes the cache for every id in players in a single fetch,
// avoiding N individual lookups on the broadcast path.
func (s *Store) LoadBatch(ctx context.Context, players []domain.PlayerID) error {
	missing := make([]domain.PlayerID, 0, len(players))
	for _, p := range players {
		if _, ok := s.cache.Get(p); !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	loaded, err := s.source.LoadMutes(ctx, missing)
	if err != nil {
		return err
	}
	for p, set := range loaded {
		s.cache.Add(p, set)
	}
	return nil
}

func (s *Store) get(ctx context.Context, receiver domain.PlayerID) (ports.MuteSet, error) {
	if set, ok := s.cache.Get(receiver); ok {
		metrics.MuteCacheHits.Inc()
		return set, nil
	}
	metrics.MuteCacheMisses.Inc()

	v, err, _ := s.group.Do(string(receiver), func() (interface{}, error) {
		loaded, err := s.source.LoadMutes(ctx, []domain.PlayerID{receiver})
		if err != nil {
			return ports.MuteSet{}, err
		}
		set := loaded[receiver]
		s.cache.Add(receiver, set)
		return set, nil
	})
	if err != nil {
		return ports.MuteSet{}, err
	}
	return v.(ports.MuteSet), nil
}
