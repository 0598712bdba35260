package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dcbhq/dcb/pkg/dcb"
)

// progressStore wraps the progress-tracking CRUD and the tag-filtered batch
// read the processor needs each cycle. It reads events directly off the pool
// (not through dcb.EventStore.Query) with a plain scan by raw position range,
// which is cheaper than a tag-predicate query over the whole log; no rows are
// locked or claimed, and the topic filter is evaluated in Go once the rows
// are in memory.
type progressStore struct {
	pool *pgxpool.Pool
}

func newProgressStore(pool *pgxpool.Pool) *progressStore {
	return &progressStore{pool: pool}
}

// fetchOrInsert returns the progress row for (topic, publisher), inserting a
// fresh ACTIVE row at lastPosition=0 the first time this pair is observed.
func (s *progressStore) fetchOrInsert(ctx context.Context, topic, publisher string) (Progress, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO outbox_topic_progress (topic, publisher)
		VALUES ($1, $2)
		ON CONFLICT (topic, publisher) DO UPDATE SET topic = EXCLUDED.topic
		RETURNING topic, publisher, last_position, status, error_count,
		          COALESCE(last_error, ''), COALESCE(leader_instance, ''),
		          leader_heartbeat, last_published_at, updated_at, created_at
	`, topic, publisher)

	var p Progress
	var status string
	var leaderHeartbeat, lastPublishedAt *time.Time
	if err := row.Scan(&p.Topic, &p.Publisher, &p.LastPosition, &status, &p.ErrorCount,
		&p.LastError, &p.LeaderInstance, &leaderHeartbeat, &lastPublishedAt, &p.UpdatedAt, &p.CreatedAt); err != nil {
		return Progress{}, fmt.Errorf("outbox: fetchOrInsert(%s,%s): %w", topic, publisher, err)
	}
	p.Status = Status(status)
	if leaderHeartbeat != nil {
		p.LeaderHeartbeat = *leaderHeartbeat
	}
	if lastPublishedAt != nil {
		p.LastPublishedAt = *lastPublishedAt
	}
	return p, nil
}

// advance records a successful publish: lastPosition moves forward and the
// error counters reset.
func (s *progressStore) advance(ctx context.Context, topic, publisher string, newPosition int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_topic_progress
		SET last_position = $3, error_count = 0, last_error = NULL,
		    last_published_at = now(), updated_at = now()
		WHERE topic = $1 AND publisher = $2
	`, topic, publisher, newPosition)
	if err != nil {
		return fmt.Errorf("outbox: advance(%s,%s): %w", topic, publisher, err)
	}
	return nil
}

// recordFailure increments the error counter and stores the failure reason,
// transitioning to FAILED once errorCount reaches maxRetries.
func (s *progressStore) recordFailure(ctx context.Context, topic, publisher string, errorCount int, maxRetries int, lastErr string) error {
	status := StatusActive
	if errorCount >= maxRetries {
		status = StatusFailed
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_topic_progress
		SET error_count = $3, last_error = $4, status = $5, updated_at = now()
		WHERE topic = $1 AND publisher = $2
	`, topic, publisher, errorCount, lastErr, string(status))
	if err != nil {
		return fmt.Errorf("outbox: recordFailure(%s,%s): %w", topic, publisher, err)
	}
	return nil
}

// setStatus transitions a pair's status directly — used by manual
// pause/resume and by FAILED->ACTIVE reset, which also zeroes the counters.
func (s *progressStore) setStatus(ctx context.Context, topic, publisher string, status Status, resetCounters bool) error {
	if resetCounters {
		_, err := s.pool.Exec(ctx, `
			UPDATE outbox_topic_progress
			SET status = $3, error_count = 0, last_error = NULL, updated_at = now()
			WHERE topic = $1 AND publisher = $2
		`, topic, publisher, string(status))
		if err != nil {
			return fmt.Errorf("outbox: setStatus(%s,%s): %w", topic, publisher, err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_topic_progress SET status = $3, updated_at = now()
		WHERE topic = $1 AND publisher = $2
	`, topic, publisher, string(status))
	if err != nil {
		return fmt.Errorf("outbox: setStatus(%s,%s): %w", topic, publisher, err)
	}
	return nil
}

// fetchBatch reads up to batchSize events with position > lastPosition,
// ascending, in a read-only read-committed transaction, then filters them in Go against
// topic's tag predicate. The store's own type decoding (ParseTagsArray) is
// reused so the outbox sees the same Tag/Event shapes the rest of the
// package does.
func (s *progressStore) fetchBatch(ctx context.Context, lastPosition int64, batchSize int, topic TopicConfig) ([]dcb.Event, int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, lastPosition, fmt.Errorf("outbox: fetchBatch begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT type, tags, data, transaction_id, position, occurred_at
		FROM events
		WHERE position > $1
		ORDER BY position ASC
		LIMIT $2
	`, lastPosition, batchSize)
	if err != nil {
		return nil, lastPosition, fmt.Errorf("outbox: fetchBatch: %w", err)
	}
	defer rows.Close()

	var matched []dcb.Event
	maxPosition := lastPosition
	for rows.Next() {
		var eventType string
		var tagArray []string
		var data []byte
		var txID uint64
		var position int64
		var occurredAt time.Time
		if err := rows.Scan(&eventType, &tagArray, &data, &txID, &position, &occurredAt); err != nil {
			return nil, lastPosition, fmt.Errorf("outbox: fetchBatch scan: %w", err)
		}
		if position > maxPosition {
			maxPosition = position
		}
		tags := dcb.ParseTagsArray(tagArray)
		if !topic.matches(tags) {
			continue
		}
		matched = append(matched, dcb.Event{
			Type:          eventType,
			Tags:          tags,
			Data:          data,
			TransactionID: txID,
			Position:      position,
			OccurredAt:    occurredAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, lastPosition, fmt.Errorf("outbox: fetchBatch iteration: %w", err)
	}

	return matched, maxPosition, nil
}
