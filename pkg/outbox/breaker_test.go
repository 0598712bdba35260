package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbhq/dcb/pkg/dcb"
)

type fakePublisher struct {
	name string
	mode PublisherMode
	err  error
	n    int
}

func (p *fakePublisher) Name() string     { return p.name }
func (p *fakePublisher) Mode() PublisherMode { return p.mode }
func (p *fakePublisher) PublishBatch(ctx context.Context, events []dcb.Event) error {
	p.n++
	return p.err
}

func TestBreakerRegistry_ReusesBreakerPerPublisher(t *testing.T) {
	r := newBreakerRegistry()
	a := r.forPublisher("kafka")
	b := r.forPublisher("kafka")
	assert.Same(t, a, b)
}

func TestBreakerRegistry_DistinctPublishersGetDistinctBreakers(t *testing.T) {
	r := newBreakerRegistry()
	a := r.forPublisher("kafka")
	b := r.forPublisher("webhook")
	assert.NotSame(t, a, b)
}

func TestPublishThroughBreaker_PropagatesPublisherError(t *testing.T) {
	r := newBreakerRegistry()
	pub := &fakePublisher{name: "kafka", err: errors.New("broker unreachable")}

	err := r.publishThroughBreaker(context.Background(), pub, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.Equal(t, 1, pub.n)
}

func TestPublishThroughBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	r := newBreakerRegistry()
	pub := &fakePublisher{name: "flaky", err: errors.New("boom")}

	for i := 0; i < 5; i++ {
		_ = r.publishThroughBreaker(context.Background(), pub, nil)
	}
	callsBeforeOpen := pub.n

	// The breaker is now open; further calls must fail fast without
	// reaching the publisher.
	err := r.publishThroughBreaker(context.Background(), pub, nil)
	require.Error(t, err)
	assert.Equal(t, callsBeforeOpen, pub.n)
}
