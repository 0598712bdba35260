package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbhq/dcb/pkg/dcb"
)

func newTestProcessor(publishers ...Publisher) *Processor {
	return NewProcessor(nil, OutboxConfig{
		InstanceID: "test-instance",
	}, publishers, NoopMetrics{})
}

func TestPublish_BatchModeSendsOneCall(t *testing.T) {
	pub := &fakePublisher{name: "kafka", mode: ModeBatch}
	p := newTestProcessor(pub)

	events := []dcb.Event{{Type: "A"}, {Type: "B"}, {Type: "C"}}
	require.NoError(t, p.publish(context.Background(), pub, events))
	assert.Equal(t, 1, pub.n)
}

func TestPublish_IndividualModeSendsOneCallPerEvent(t *testing.T) {
	pub := &fakePublisher{name: "webhook", mode: ModeIndividual}
	p := newTestProcessor(pub)

	events := []dcb.Event{{Type: "A"}, {Type: "B"}, {Type: "C"}}
	require.NoError(t, p.publish(context.Background(), pub, events))
	assert.Equal(t, 3, pub.n)
}

func TestPublish_IndividualModeStopsAtFirstFailure(t *testing.T) {
	callCount := 0
	pub := &countingFailOnSecondPublisher{mode: ModeIndividual, calls: &callCount}
	p := newTestProcessor(pub)

	events := []dcb.Event{{Type: "A"}, {Type: "B"}, {Type: "C"}}
	err := p.publish(context.Background(), pub, events)
	require.Error(t, err)
	assert.Equal(t, 2, callCount)
}

func TestNewProcessor_FillsDefaultInstanceID(t *testing.T) {
	p := NewProcessor(nil, OutboxConfig{}, nil, nil)
	assert.NotEmpty(t, p.config.InstanceID)
}

func TestNewProcessor_DefaultsToNoopMetrics(t *testing.T) {
	p := NewProcessor(nil, OutboxConfig{}, nil, nil)
	assert.IsType(t, NoopMetrics{}, p.metrics)
}

func TestStopThenWait_ReturnsWithoutHanging(t *testing.T) {
	p := newTestProcessor()
	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	p.Stop()
	<-done
	p.Wait()
}

type countingFailOnSecondPublisher struct {
	mode  PublisherMode
	calls *int
}

func (p *countingFailOnSecondPublisher) Name() string        { return "flaky" }
func (p *countingFailOnSecondPublisher) Mode() PublisherMode { return p.mode }
func (p *countingFailOnSecondPublisher) PublishBatch(ctx context.Context, events []dcb.Event) error {
	*p.calls++
	if *p.calls == 2 {
		return assert.AnError
	}
	return nil
}
