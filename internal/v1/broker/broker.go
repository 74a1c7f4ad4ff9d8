// Package broker implements the Message Broker Client (C2): a Redis-backed
// pub/sub client wrapped in a circuit breaker (C4, internal/v1/breaker) and
// retry policy (C3, internal/v1/retry), with optional subject validation
// against the Subject Registry (C1, internal/v1/subject) and dead-letter
// fallback (C5, internal/v1/dlq) when a publish exhausts both.
//
// Grounded on internal/v1/bus/redis.go: same redis.NewClient pool settings,
// same Ping-on-construct health check, same gobreaker.Execute wrapping
// pattern around every Redis call — generalized from one hard-coded
// "redis" breaker name to a named Breaker built through
// internal/v1/breaker, and from a fixed room/event schema to arbitrary
// dot-hierarchical subjects.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mythosmud/realtimecore/internal/v1/breaker"
	"github.com/mythosmud/realtimecore/internal/v1/dlq"
	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/metrics"
	"github.com/mythosmud/realtimecore/internal/v1/retry"
	"github.com/mythosmud/realtimecore/internal/v1/subject"

	"go.uber.org/zap"
)

// Handler processes one inbound broker message. Per spec.md §4.2,
// invocations for a single subscription are never reordered.
type Handler func(ctx context.Context, subj string, payload []byte)

// Client is the broker-facing pub/sub client.
type Client struct {
	rdb      *redis.Client
	cb       *breaker.Breaker
	retry    retry.Policy
	registry *subject.Registry
	dead     *dlq.Store // optional; nil disables dead-lettering
}

// Config configures a new Client.
type Config struct {
	Addr             string
	Password         string
	HealthTimeout    time.Duration
	BreakerThreshold uint32
	BreakerOpenFor   time.Duration
	Registry         *subject.Registry
	DeadLetter       *dlq.Store
}

// New dials Redis, verifies connectivity with a bounded Ping, and wires a
// named circuit breaker around every subsequent call.
func New(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("broker: connect: %w", err)
	}

	cb := breaker.New(breaker.Settings{
		Name:             "broker",
		MaxRequests:      5,
		Interval:         1 * time.Minute,
		Timeout:          cfg.BreakerOpenFor,
		FailureThreshold: cfg.BreakerThreshold,
	})

	logging.Info(ctx, "broker connected", zap.String("addr", cfg.Addr))
	return &Client{rdb: rdb, cb: cb, retry: retry.DefaultPolicy(), registry: cfg.Registry, dead: cfg.DeadLetter}, nil
}

// Publish sends payload on subj, validating against the Subject Registry
// when configured, retrying transient failures, and dead-lettering the
// message when retry is exhausted or the breaker is open.
func (c *Client) Publish(ctx context.Context, subj string, payload []byte) error {
	if c.registry != nil && !c.registry.Validate(subj) {
		if c.registry.Strict() {
			return domain.ErrInvalidSubject
		}
		logging.Warn(ctx, "publishing to unregistered subject", zap.String("subject", subj))
	}

	start := time.Now()
	_, err := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return breaker.Execute(c.cb, func() (struct{}, error) {
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return struct{}{}, c.rdb.Publish(pubCtx, subj, payload).Err()
		})
	})
	metrics.BrokerOperationDuration.WithLabelValues("publish").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BrokerOperationsTotal.WithLabelValues("publish", "error").Inc()
		if c.dead != nil {
			_ = c.dead.Write(dlq.Record{
				OriginalSubject: subj,
				Payload:         payload,
				FirstAttemptAt:  start,
				LastError:       err.Error(),
				AttemptCount:    int(c.retry.MaxTries),
			})
		}
		if breaker.IsOpenError(err) {
			return domain.ErrBrokerOpen
		}
		return fmt.Errorf("broker: publish %s: %w", subj, err)
	}
	metrics.BrokerOperationsTotal.WithLabelValues("publish", "ok").Inc()
	return nil
}

// Subscribe subscribes to subjectPattern (a concrete subject or a `*`/`>`
// wildcard pattern translated to a Redis glob) and invokes handler for
// every message received, on a single goroutine dedicated to this
// subscription so delivery order is preserved per spec.md §4.2.
func (c *Client) Subscribe(ctx context.Context, subjectPattern string, handler Handler) (func() error, error) {
	pattern := subject.ToRedisPattern(subjectPattern)
	ps := c.rdb.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broker: subscribe %s: %w", subjectPattern, err)
	}

	ch := ps.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(ctx, msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	return ps.Close, nil
}

// Ping reports whether the broker connection is healthy, used by the
// Health Monitor (C8).
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// BreakerOpen reports whether the broker's circuit breaker is tripped.
func (c *Client) BreakerOpen() bool {
	return c.cb.Open()
}
