package outbox

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dcbhq/dcb/pkg/dcb"
)

var pkgLogger = log.New(os.Stderr, "outbox: ", log.LstdFlags)

// Processor drives the outbox's ticker-based processing cycle: for every
// configured topic and registered publisher, it claims leadership, fetches
// the next batch beyond the pair's last published position, and publishes
// it, tracking progress in outbox_topic_progress.
type Processor struct {
	pool       *pgxpool.Pool
	store      *progressStore
	breakers   *breakerRegistry
	metrics    MetricsSink
	config     OutboxConfig
	publishers map[string]Publisher

	mu      sync.Mutex
	leases  map[string]*leaseHolder
	stopped chan struct{}
	done    chan struct{}
}

// NewProcessor builds a Processor from a pool, configuration, and the set of
// registered publishers. An empty InstanceID is filled in with a generated
// one.
func NewProcessor(pool *pgxpool.Pool, config OutboxConfig, publishers []Publisher, metrics MetricsSink) *Processor {
	if config.InstanceID == "" {
		config.InstanceID = defaultInstanceID()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	byName := make(map[string]Publisher, len(publishers))
	for _, p := range publishers {
		byName[p.Name()] = p
	}
	return &Processor{
		pool:       pool,
		store:      newProgressStore(pool),
		breakers:   newBreakerRegistry(),
		metrics:    metrics,
		config:     config,
		publishers: byName,
		leases:     make(map[string]*leaseHolder),
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the polling loop in the calling goroutine; callers that
// want it backgrounded should `go processor.Start(ctx)`. Start returns when
// ctx is cancelled or Stop is called, after releasing every held lease.
func (p *Processor) Start(ctx context.Context) {
	defer close(p.done)
	defer p.releaseAll(context.Background())

	if !p.config.Enabled {
		return
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		p.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case <-ticker.C:
		}
	}
}

// Stop signals the processor to exit its loop; callers should still wait on
// Wait() to know leases have been released.
func (p *Processor) Stop() {
	select {
	case <-p.stopped:
	default:
		close(p.stopped)
	}
}

// Wait blocks until Start has returned.
func (p *Processor) Wait() {
	<-p.done
}

func (p *Processor) releaseAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, holder := range p.leases {
		holder.release(ctx)
		delete(p.leases, key)
	}
}

// runCycle processes every configured (topic, publisher) pair once.
func (p *Processor) runCycle(ctx context.Context) {
	for topicName, topicConfig := range p.config.Topics {
		for publisherName, publisher := range p.publishers {
			if err := p.processPair(ctx, topicName, topicConfig, publisherName, publisher); err != nil && !errors.Is(err, context.Canceled) {
				pkgLogger.Printf("pair %s/%s: %v", topicName, publisherName, err)
			}
		}
	}
}

func (p *Processor) processPair(ctx context.Context, topic string, topicConfig TopicConfig, publisherName string, publisher Publisher) error {
	key := leaseKey(p.config.LockStrategy, topic, publisherName)
	if !p.holdsLease(ctx, key) {
		return nil
	}

	progress, err := p.store.fetchOrInsert(ctx, topic, publisherName)
	if err != nil {
		return err
	}
	if progress.Status == StatusPaused || progress.Status == StatusFailed {
		return nil
	}

	events, newPosition, err := p.store.fetchBatch(ctx, progress.LastPosition, p.config.BatchSize, topicConfig)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		if newPosition > progress.LastPosition {
			// Nothing matched the topic filter, but positions were scanned —
			// advance past them so the next cycle doesn't rescan the same gap.
			return p.store.advance(ctx, topic, publisherName, newPosition)
		}
		return nil
	}

	start := time.Now()
	var publishErr error
	lastPublished := progress.LastPosition
	if publisher.Mode() == ModeIndividual {
		for _, event := range events {
			if publishErr = p.publish(ctx, publisher, []dcb.Event{event}); publishErr != nil {
				break
			}
			lastPublished = event.Position
		}
	} else {
		publishErr = p.publish(ctx, publisher, events)
	}
	if publishErr != nil {
		if lastPublished > progress.LastPosition {
			if advErr := p.store.advance(ctx, topic, publisherName, lastPublished); advErr != nil {
				return advErr
			}
		}
		p.metrics.BatchFailed(topic, publisherName, len(events))
		errorCount := progress.ErrorCount + 1
		if recErr := p.store.recordFailure(ctx, topic, publisherName, errorCount, p.config.MaxRetries, publishErr.Error()); recErr != nil {
			return recErr
		}
		if errorCount >= p.config.MaxRetries {
			p.metrics.PairFailed(topic, publisherName)
		}
		return publishErr
	}

	p.metrics.BatchPublished(topic, publisherName, len(events), time.Since(start))
	return p.store.advance(ctx, topic, publisherName, newPosition)
}

// publish delivers events according to publisher.Mode(): BATCH hands the
// whole slice to one PublishBatch call; INDIVIDUAL calls PublishBatch once
// per event and stops at the first failure, so the next cycle resumes from
// the last event that actually succeeded rather than skipping ahead.
func (p *Processor) publish(ctx context.Context, publisher Publisher, events []dcb.Event) error {
	if publisher.Mode() == ModeBatch {
		return p.breakers.publishThroughBreaker(ctx, publisher, events)
	}

	for _, event := range events {
		if err := p.breakers.publishThroughBreaker(ctx, publisher, []dcb.Event{event}); err != nil {
			return err
		}
	}
	return nil
}

// holdsLease reports whether this processor currently holds (or just
// acquired) the advisory lock for key, attempting acquisition if it doesn't
// already hold one.
func (p *Processor) holdsLease(ctx context.Context, key string) bool {
	p.mu.Lock()
	if _, ok := p.leases[key]; ok {
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	holder, err := tryAcquire(ctx, p.pool, key)
	if err != nil {
		pkgLogger.Printf("lease %q: %v", key, err)
		return false
	}
	if holder == nil {
		return false
	}

	p.mu.Lock()
	p.leases[key] = holder
	p.mu.Unlock()
	return true
}
