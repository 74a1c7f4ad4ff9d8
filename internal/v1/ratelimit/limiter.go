// Package ratelimit implements the Rate Limiter (C11): a sliding-window
// quota per player, per channel, evaluated at publish time.
//
// Grounded on internal/v1/ratelimit/limiter.go's store-selection and rate
// parsing (limiter.NewRateFromFormatted, Redis store when available,
// in-memory store otherwise) — generalized from a fixed set of
// HTTP-endpoint limiters (apiGlobal/apiRooms/...) to one limiter per
// registered channel kind, keyed by "{player_id}:{channel_id}" instead of
// by client IP/gin route, since spec.md's rate limiting is a chat-delivery
// concern, not an HTTP ingress concern.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/metrics"

	"go.uber.org/zap"
)

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter enforces per-player, per-channel sliding-window quotas.
type Limiter struct {
	store       limiter.Store
	mu          sync.Mutex
	byChannel   map[string]*limiter.Limiter
	defaultRate limiter.Rate
}

// Config configures channel-specific rates; a channel kind not present
// here falls back to DefaultFormatted.
type Config struct {
	DefaultFormatted string            // e.g. "20-M" (20 per minute)
	PerChannel       map[string]string // channel kind -> formatted rate
}

// New builds a Limiter. redisClient nil selects an in-memory store,
// matching the common dev-mode fallback of an in-memory store.
func New(cfg Config, redisClient *redis.Client) (*Limiter, error) {
	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "ratelimit:v1:"})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store")
	}

	defaultRate, err := limiter.NewRateFromFormatted(cfg.DefaultFormatted)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: default rate: %w", err)
	}

	l := &Limiter{store: store, byChannel: make(map[string]*limiter.Limiter), defaultRate: defaultRate}
	for kind, formatted := range cfg.PerChannel {
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: rate for %s: %w", kind, err)
		}
		l.byChannel[kind] = limiter.New(store, rate)
	}
	return l, nil
}

// Check evaluates the sliding window for (playerID, channelKind) and
// reports whether the next event is allowed.
func (l *Limiter) Check(ctx context.Context, playerID, channelKind string) (Decision, error) {
	inst := l.limiterFor(channelKind)

	key := playerID + ":" + channelKind
	res, err := inst.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err), zap.String("key", key))
		return Decision{Allowed: true}, nil // fail open: availability over strict enforcement
	}

	metrics.RateLimitRequests.WithLabelValues(channelKind).Inc()
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues(channelKind, "window_exceeded").Inc()
		retryAfter := time.Until(time.Unix(res.Reset, 0))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true}, nil
}

// limiterFor returns the limiter.Limiter registered for channelKind, lazily
// creating one from defaultRate on first use. Concurrent chat submissions
// across every channel call Check simultaneously, so the lazy-populate path
// is guarded the same way presence.Registry and eventbus.Bus guard their
// shared maps.
func (l *Limiter) limiterFor(channelKind string) *limiter.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.byChannel[channelKind]
	if !ok {
		inst = limiter.New(l.store, l.defaultRate)
		l.byChannel[channelKind] = inst
	}
	return inst
}
