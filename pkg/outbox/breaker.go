package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dcbhq/dcb/pkg/dcb"
)

// breakerRegistry hands out one named circuit breaker per publisher, created
// lazily on first use, so a publisher's failures don't need a breaker
// wired in ahead of time by the caller.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker[any])}
}

func (r *breakerRegistry) forPublisher(name string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "outbox-" + name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	r.breakers[name] = cb
	return cb
}

// publishThroughBreaker calls publisher.PublishBatch guarded by its named
// circuit breaker; an open breaker fails fast without invoking the
// publisher, so a downed destination doesn't pile up blocked calls.
func (r *breakerRegistry) publishThroughBreaker(ctx context.Context, publisher Publisher, events []dcb.Event) error {
	cb := r.forPublisher(publisher.Name())
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, publisher.PublishBatch(ctx, events)
	})
	if err != nil {
		return fmt.Errorf("outbox: publish via %q: %w", publisher.Name(), err)
	}
	return nil
}
