package dcb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// eventStore is the sole EventStore implementation: a thin wrapper over a
// pgxpool.Pool plus the configuration that tunes batch size, timeouts, and
// the default append isolation level.
type eventStore struct {
	pool   *pgxpool.Pool
	config EventStoreConfig
}

func (es *eventStore) GetConfig() EventStoreConfig {
	return es.config
}

func (es *eventStore) GetPool() *pgxpool.Pool {
	return es.pool
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, letting query
// logic run either against the pool directly or inside a caller's
// transaction (the latter used by the command executor's transactional
// store view, see command.go).
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Query reads events matching query, optionally after a cursor, ordered by
// (transaction_id, position) ascending. after == nil reads from the start of
// the log.
func (es *eventStore) Query(ctx context.Context, query Query, after *Cursor) ([]Event, error) {
	queryCtx, cancel := es.withTimeout(ctx, es.config.QueryTimeout)
	defer cancel()
	return es.queryWith(queryCtx, es.pool, query, after)
}

// queryWith runs a Query against an arbitrary pgxQuerier (pool or tx).
func (es *eventStore) queryWith(ctx context.Context, q pgxQuerier, query Query, after *Cursor) ([]Event, error) {
	if query == nil {
		return nil, &ValidationError{
			EventStoreError: EventStoreError{Op: "Query", Err: fmt.Errorf("query cannot be nil")},
			Field:           "query",
			Value:           "nil",
		}
	}
	if err := validateQueryTags(query); err != nil {
		return nil, err
	}

	sqlQuery, args, err := es.buildReadQuerySQL(query, after, nil)
	if err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "Query", Err: fmt.Errorf("failed to build query: %w", err)},
			Resource:        "database",
		}
	}

	rows, err := q.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "Query", Err: fmt.Errorf("query failed: %w", err)},
			Resource:        "database",
		}
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var row rowEvent
		if err := rows.Scan(&row.Type, &row.Tags, &row.Data, &row.TransactionID, &row.Position, &row.OccurredAt); err != nil {
			return nil, &PersistenceError{
				EventStoreError: EventStoreError{Op: "Query", Err: fmt.Errorf("failed to scan row: %w", err)},
				Resource:        "database",
			}
		}
		events = append(events, convertRowToEvent(row))
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "Query", Err: fmt.Errorf("row iteration failed: %w", err)},
			Resource:        "database",
		}
	}

	return events, nil
}

// QueryStream is the channel-based streaming variant of Query, for result
// sets too large to hold comfortably in memory.
func (es *eventStore) QueryStream(ctx context.Context, query Query, after *Cursor) (<-chan Event, error) {
	if query == nil {
		return nil, &ValidationError{
			EventStoreError: EventStoreError{Op: "QueryStream", Err: fmt.Errorf("query cannot be nil")},
			Field:           "query",
			Value:           "nil",
		}
	}
	if err := validateQueryTags(query); err != nil {
		return nil, err
	}

	sqlQuery, args, err := es.buildReadQuerySQL(query, after, nil)
	if err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "QueryStream", Err: fmt.Errorf("failed to build query: %w", err)},
			Resource:        "database",
		}
	}

	queryCtx, cancel := es.withTimeout(ctx, es.config.QueryTimeout)

	rows, err := es.pool.Query(queryCtx, sqlQuery, args...)
	if err != nil {
		cancel()
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "QueryStream", Err: fmt.Errorf("query failed: %w", err)},
			Resource:        "database",
		}
	}

	out := make(chan Event, es.config.StreamBuffer)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger().Printf("QueryStream panic recovered: %v", r)
			}
			rows.Close()
			close(out)
			cancel()
		}()

		for rows.Next() {
			select {
			case <-queryCtx.Done():
				return
			default:
			}

			var row rowEvent
			if err := rows.Scan(&row.Type, &row.Tags, &row.Data, &row.TransactionID, &row.Position, &row.OccurredAt); err != nil {
				logger().Printf("QueryStream scan error: %v", err)
				return
			}

			select {
			case out <- convertRowToEvent(row):
			case <-queryCtx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil {
			logger().Printf("QueryStream row iteration error: %v", err)
		}
	}()

	return out, nil
}
