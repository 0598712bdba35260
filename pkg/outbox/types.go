// Package outbox drains the event log's tail and delivers it to external
// publishers (message brokers, webhooks, search indexers) at-least-once per
// publisher, tracking progress per (topic, publisher) pair in Postgres. An
// event can be delivered again if recording progress fails after a publish,
// so publishers must tolerate duplicates.
package outbox

import (
	"context"
	"time"

	"github.com/dcbhq/dcb/pkg/dcb"
)

// Status is the lifecycle state of one (topic, publisher) progress row.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusPaused Status = "PAUSED"
	StatusFailed Status = "FAILED"
)

// LockStrategy selects how leader election partitions coordination keys
// across a fleet of outbox processor instances.
type LockStrategy int

const (
	// LockGlobal elects a single leader for the whole outbox across every
	// topic/publisher pair, via one advisory lock key.
	LockGlobal LockStrategy = iota
	// LockPerTopicPublisher elects a leader independently for each
	// (topic, publisher) pair, via one advisory lock key per pair — letting
	// different instances drive different topics concurrently.
	LockPerTopicPublisher
)

func (s LockStrategy) String() string {
	switch s {
	case LockGlobal:
		return "GLOBAL"
	case LockPerTopicPublisher:
		return "PER_TOPIC_PUBLISHER"
	default:
		return "UNKNOWN"
	}
}

// TopicConfig is the routing filter for one topic: an event matches the
// topic when requiredTags (every key present) and exactTags (every key/value
// pair present) both hold, and — if anyOfTags is non-empty — at least one of
// its keys is present on the event. An empty TopicConfig matches every
// event in the log.
type TopicConfig struct {
	RequiredTags []string
	AnyOfTags    []string
	ExactTags    map[string]string
}

// matches reports whether event's tags satisfy this topic's filter.
func (tc TopicConfig) matches(tags []dcb.Tag) bool {
	byKey := make(map[string]string, len(tags))
	pairs := make(map[[2]string]bool, len(tags))
	for _, t := range tags {
		byKey[t.GetKey()] = t.GetValue()
		pairs[[2]string{t.GetKey(), t.GetValue()}] = true
	}

	for _, key := range tc.RequiredTags {
		if _, ok := byKey[key]; !ok {
			return false
		}
	}

	if len(tc.AnyOfTags) > 0 {
		found := false
		for _, key := range tc.AnyOfTags {
			if _, ok := byKey[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for key, value := range tc.ExactTags {
		if !pairs[[2]string{key, value}] {
			return false
		}
	}

	return true
}

// PublisherMode determines whether a Publisher receives a whole matching
// batch in one call, or one call per event.
type PublisherMode int

const (
	ModeBatch PublisherMode = iota
	ModeIndividual
)

func (m PublisherMode) String() string {
	switch m {
	case ModeBatch:
		return "BATCH"
	case ModeIndividual:
		return "INDIVIDUAL"
	default:
		return "UNKNOWN"
	}
}

// Publisher delivers published events for one named destination (a Kafka
// topic, a webhook endpoint, a search index). Name identifies the publisher
// for progress tracking, circuit breaking, and metrics labels.
type Publisher interface {
	Name() string
	Mode() PublisherMode
	PublishBatch(ctx context.Context, events []dcb.Event) error
}

// OutboxConfig configures the outbox processor.
type OutboxConfig struct {
	Enabled      bool
	LockStrategy LockStrategy
	BatchSize    int
	MaxRetries   int
	PollInterval time.Duration
	Topics       map[string]TopicConfig
	InstanceID   string
}

// Progress is one (topic, publisher) row's tracked state.
type Progress struct {
	Topic           string
	Publisher       string
	LastPosition    int64
	Status          Status
	ErrorCount      int
	LastError       string
	LeaderInstance  string
	LeaderHeartbeat time.Time
	LastPublishedAt time.Time
	UpdatedAt       time.Time
	CreatedAt       time.Time
}
