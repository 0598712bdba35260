package dcb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errStreamingNotSupportedInTx = errors.New("streaming operations are not supported on a command handler's transactional store view")

// txEventStore is the transactional view of the store a CommandHandler
// receives: reads and appends run against the same pgx.Tx the executor
// opened for this command, so a handler's decision and its write are
// isolated from any concurrent command.
type txEventStore struct {
	parent *eventStore
	tx     pgx.Tx
}

func (t *txEventStore) GetConfig() EventStoreConfig {
	return t.parent.config
}

func (t *txEventStore) GetPool() *pgxpool.Pool {
	return t.parent.pool
}

func (t *txEventStore) Query(ctx context.Context, query Query, after *Cursor) ([]Event, error) {
	return t.parent.queryWith(ctx, t.tx, query, after)
}

// QueryStream is not supported on a transactional view: a handler runs
// inside one request/response cycle and streaming's own goroutine would
// outlive the transaction. Handlers needing large scans should use Query
// with an explicit cursor loop instead.
func (t *txEventStore) QueryStream(ctx context.Context, query Query, after *Cursor) (<-chan Event, error) {
	return nil, &ConfigurationError{
		EventStoreError: EventStoreError{Op: "QueryStream", Err: errStreamingNotSupportedInTx},
	}
}

func (t *txEventStore) Append(ctx context.Context, events []InputEvent) ([]Event, error) {
	return t.parent.appendInTx(ctx, t.tx, events, nil)
}

func (t *txEventStore) AppendIf(ctx context.Context, events []InputEvent, condition AppendCondition) ([]Event, error) {
	return t.parent.appendInTx(ctx, t.tx, events, condition)
}

func (t *txEventStore) Project(ctx context.Context, projectors []StateProjector, after *Cursor) (map[string]any, AppendCondition, error) {
	combined := t.parent.combineProjectorQueries(projectors)
	return t.parent.projectWith(ctx, t.tx, combined, projectors, after)
}

func (t *txEventStore) ProjectStream(ctx context.Context, projectors []StateProjector, after *Cursor) (<-chan map[string]any, <-chan AppendCondition, error) {
	return nil, nil, &ConfigurationError{
		EventStoreError: EventStoreError{Op: "ProjectStream", Err: errStreamingNotSupportedInTx},
	}
}
