// Package eventbus implements the in-process Event Bus (C6): publish is
// synchronous up to the registration-map lookup, then dispatches to every
// matching handler concurrently, awaiting all of them before returning so a
// publisher knows when propagation has completed. A panic or error inside
// one handler never stops another handler's delivery.
//
// Grounded on a room broadcast style (internal/v1/session/room.go
// broadcast/broadcastWithOptions: iterate recipients, fire each send on its
// own path, never let one failure block the others) generalized from a
// fixed set of role-keyed client maps to an arbitrary handler registry keyed
// by domain.Kind, plus the wildcard subscription spec.md requires.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/logging"

	"go.uber.org/zap"
)

// Handler processes one domain event. A non-nil error is logged with event
// context and counted; it never reaches the publisher.
type Handler func(ctx context.Context, evt domain.Event) error

// Wildcard subscribes a handler to every event kind.
const Wildcard domain.Kind = "*"

type subscription struct {
	id      int
	handler Handler
	timeout time.Duration // 0 means unlimited
}

// Bus is the in-process publish/subscribe registry.
type Bus struct {
	mu       sync.RWMutex
	subs     map[domain.Kind][]subscription
	nextID   int
	sequence map[domain.Kind]int64 // per-kind counter map; Publish does not update it
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[domain.Kind][]subscription),
		sequence: make(map[domain.Kind]int64),
	}
}

// Handle is an opaque subscription handle returned by Subscribe, usable
// with Unsubscribe.
type Handle struct {
	kind domain.Kind
	id   int
}

// Subscribe registers handler for kind (or Wildcard for every kind).
// timeout bounds a single dispatch of handler; zero means unlimited.
func (b *Bus) Subscribe(kind domain.Kind, handler Handler, timeout time.Duration) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: handler, timeout: timeout})
	return Handle{kind: kind, id: id}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[h.kind]
	for i, s := range subs {
		if s.id == h.id {
			b.subs[h.kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches evt to every handler registered for evt.Kind plus
// every wildcard handler, concurrently, and blocks until all of them
// return. Callers that publish from a single goroutine get in-order
// delivery to each handler for free, since Publish doesn't return to the
// caller until the current dispatch's handlers have all returned.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) {
	b.mu.RLock()
	handlers := make([]subscription, 0, len(b.subs[evt.Kind])+len(b.subs[Wildcard]))
	handlers = append(handlers, b.subs[evt.Kind]...)
	handlers = append(handlers, b.subs[Wildcard]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, s := range handlers {
		go func(s subscription) {
			defer wg.Done()
			dispatchCtx := ctx
			var cancel context.CancelFunc
			if s.timeout > 0 {
				dispatchCtx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			defer func() {
				if r := recover(); r != nil {
					logging.Error(dispatchCtx, "event bus handler panicked",
						zap.String("event_type", string(evt.Kind)), zap.Any("panic", r))
				}
			}()
			if err := s.handler(dispatchCtx, evt); err != nil {
				logging.Warn(dispatchCtx, "event bus handler error",
					zap.String("event_type", string(evt.Kind)), zap.Error(err))
			}
		}(s)
	}
	wg.Wait()
}
