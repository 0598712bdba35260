package dcb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// withTimeout creates a new context with timeout, respecting caller's timeout if set.
// If caller provides context with deadline: use caller's timeout.
// If caller provides context without deadline: use default from config.
func (es *eventStore) withTimeout(ctx context.Context, defaultTimeoutMs int) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(context.Background(), deadline)
	}
	return context.WithTimeout(context.Background(), time.Duration(defaultTimeoutMs)*time.Millisecond)
}

// Append appends events to the store without any consistency/concurrency
// checks, sharing a single transaction_id. Use this only when there are no
// business rules that depend on the prior state of the log.
func (es *eventStore) Append(ctx context.Context, events []InputEvent) ([]Event, error) {
	if len(events) == 0 {
		return []Event{}, nil
	}

	appendCtx, cancel := es.withTimeout(ctx, es.config.AppendTimeout)
	defer cancel()

	tx, err := es.pool.BeginTx(appendCtx, pgx.TxOptions{
		IsoLevel: toPgxIsoLevel(es.config.DefaultAppendIsolation),
	})
	if err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "append", Err: fmt.Errorf("failed to begin transaction: %w", err)},
			Resource:        "database",
		}
	}
	defer tx.Rollback(ctx)

	appended, err := es.appendInTx(appendCtx, tx, events, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "append", Err: fmt.Errorf("failed to commit transaction: %w", err)},
			Resource:        "database",
		}
	}

	return appended, nil
}

// AppendIf appends events to the store subject to a DCB AppendCondition: the
// append is evaluated and committed under the same row locks, so a
// concurrent writer cannot slip an event in between the check and the write.
func (es *eventStore) AppendIf(ctx context.Context, events []InputEvent, condition AppendCondition) ([]Event, error) {
	if len(events) == 0 {
		return []Event{}, nil
	}
	if condition == nil {
		return nil, &ValidationError{
			EventStoreError: EventStoreError{Op: "appendIf", Err: fmt.Errorf("condition cannot be nil")},
			Field:           "condition",
			Value:           "nil",
		}
	}

	appendCtx, cancel := es.withTimeout(ctx, es.config.AppendTimeout)
	defer cancel()

	tx, err := es.pool.BeginTx(appendCtx, pgx.TxOptions{
		IsoLevel: toPgxIsoLevel(es.config.DefaultAppendIsolation),
	})
	if err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "appendIf", Err: fmt.Errorf("failed to begin transaction: %w", err)},
			Resource:        "database",
		}
	}
	defer tx.Rollback(ctx)

	appended, err := es.appendInTx(appendCtx, tx, events, condition)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "appendIf", Err: fmt.Errorf("failed to commit transaction: %w", err)},
			Resource:        "database",
		}
	}

	return appended, nil
}

// encodeTagsArrayLiteral encodes tag strings (already "key=value") as a
// Postgres TEXT[] array literal, sorted so that tag order never affects the
// stored representation or a later tags @> predicate match.
func encodeTagsArrayLiteral(tags []string) string {
	if len(tags) == 0 {
		return "{}"
	}
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)

	quoted := make([]string, len(sorted))
	for i, t := range sorted {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// toPgxIsoLevel maps our IsolationLevel enum to pgx's.
func toPgxIsoLevel(level IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case IsolationLevelReadCommitted:
		return pgx.ReadCommitted
	case IsolationLevelRepeatableRead:
		return pgx.RepeatableRead
	case IsolationLevelSerializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}

// concurrencyDetail is the structured payload the append_events_with_condition
// PL/pgSQL function attaches (as JSON in the DETAIL field) to a DCB01
// exception, so the Go layer can classify stale vs duplicate without
// string-matching the message.
type concurrencyDetail struct {
	Kind             string `json:"kind"`
	ExpectedPosition int64  `json:"expected_position"`
	ActualPosition   int64  `json:"actual_position"`
}

// appendInTx appends events within an existing transaction. When condition is
// non-nil, the append is routed through append_events_with_condition, which
// evaluates stateChanged/alreadyExists under row locks and raises a DCB01
// exception on violation; nil routes through the unconditional
// append_events_batch. Both functions return one row per inserted event,
// carrying the position/transaction_id/occurred_at assigned by the database.
func (es *eventStore) appendInTx(ctx context.Context, tx pgx.Tx, events []InputEvent, condition AppendCondition) ([]Event, error) {
	if len(events) == 0 {
		return []Event{}, nil
	}
	if err := es.validateBatchSize(events, "appendInTx"); err != nil {
		return nil, err
	}
	for i, event := range events {
		if err := validateEvent(event, i); err != nil {
			return nil, err
		}
	}

	types := make([]string, len(events))
	tagArrays := make([]string, len(events))
	data := make([][]byte, len(events))

	for i, event := range events {
		types[i] = event.GetType()
		data[i] = event.GetData()
		tagArrays[i] = encodeTagsArrayLiteral(TagsToArray(event.GetTags()))
	}

	var rows pgx.Rows
	var err error
	if condition != nil {
		conditionJSON, marshalErr := json.Marshal(condition)
		if marshalErr != nil {
			return nil, &PersistenceError{
				EventStoreError: EventStoreError{Op: "appendInTx", Err: fmt.Errorf("failed to marshal condition: %w", marshalErr)},
				Resource:        "json",
			}
		}
		rows, err = tx.Query(ctx, `
			SELECT position, transaction_id, occurred_at
			FROM append_events_with_condition($1, $2, $3, $4::jsonb)
		`, types, tagArrays, data, conditionJSON)
	} else {
		rows, err = tx.Query(ctx, `
			SELECT position, transaction_id, occurred_at
			FROM append_events_batch($1, $2, $3)
		`, types, tagArrays, data)
	}

	if err != nil {
		if ce := classifyConcurrencyError(err); ce != nil {
			return nil, ce
		}
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "appendInTx", Err: fmt.Errorf("failed to append events: %w", err)},
			Resource:        "database",
		}
	}
	defer rows.Close()

	appended := make([]Event, 0, len(events))
	i := 0
	for rows.Next() {
		var position int64
		var txID uint64
		var occurredAt time.Time
		if err := rows.Scan(&position, &txID, &occurredAt); err != nil {
			return nil, &PersistenceError{
				EventStoreError: EventStoreError{Op: "appendInTx", Err: fmt.Errorf("failed to scan append result: %w", err)},
				Resource:        "database",
			}
		}
		appended = append(appended, Event{
			Type:          events[i].GetType(),
			Tags:          events[i].GetTags(),
			Data:          events[i].GetData(),
			TransactionID: txID,
			Position:      position,
			OccurredAt:    occurredAt,
		})
		i++
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{
			EventStoreError: EventStoreError{Op: "appendInTx", Err: fmt.Errorf("failed reading append result: %w", err)},
			Resource:        "database",
		}
	}

	return appended, nil
}

// classifyConcurrencyError inspects a Postgres error for the DCB01 code this
// store's append functions raise on a violated AppendCondition, returning a
// *ConcurrencyError with Kind populated from the exception's DETAIL payload.
// Returns nil if err is not a DCB01 violation.
func classifyConcurrencyError(err error) *ConcurrencyError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "DCB01" {
		return nil
	}

	ce := &ConcurrencyError{
		EventStoreError: EventStoreError{Op: "appendInTx", Err: fmt.Errorf("append condition violated: %s", pgErr.Message)},
		Kind:            ConcurrencyStale,
	}

	var detail concurrencyDetail
	if pgErr.Detail != "" && json.Unmarshal([]byte(pgErr.Detail), &detail) == nil {
		if detail.Kind == ConcurrencyDuplicate.String() {
			ce.Kind = ConcurrencyDuplicate
		}
		ce.ExpectedPosition = detail.ExpectedPosition
		ce.ActualPosition = detail.ActualPosition
	}
	return ce
}

// isConcurrencyError reports whether err is a DCB01 concurrency violation
// raised by the append SQL functions.
func isConcurrencyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "DCB01"
}
