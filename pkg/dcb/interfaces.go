package dcb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// =============================================================================
// CORE ABSTRACTIONS
// =============================================================================

// EventStore is the core interface for appending and reading events, and for
// folding them into decision state through a Projector.
type EventStore interface {
	// Query reads events matching the query with optional cursor.
	// after == nil: query from beginning of the log.
	Query(ctx context.Context, query Query, after *Cursor) ([]Event, error)

	// QueryStream streams events matching the query through a channel,
	// for large result sets.
	QueryStream(ctx context.Context, query Query, after *Cursor) (<-chan Event, error)

	// Append unconditionally appends events, sharing one transaction_id.
	Append(ctx context.Context, events []InputEvent) ([]Event, error)

	// AppendIf appends events only if condition holds under the same
	// predicate lock as the append (see AppendCondition).
	AppendIf(ctx context.Context, events []InputEvent, condition AppendCondition) ([]Event, error)

	// Project folds events matching the projectors' combined query into
	// decision state, returning the final states and an AppendCondition
	// whose afterCursor is the end of the scan.
	Project(ctx context.Context, projectors []StateProjector, after *Cursor) (map[string]any, AppendCondition, error)

	// ProjectStream is the channel-based streaming variant of Project.
	ProjectStream(ctx context.Context, projectors []StateProjector, after *Cursor) (<-chan map[string]any, <-chan AppendCondition, error)

	// GetConfig returns the store's configuration.
	GetConfig() EventStoreConfig

	// GetPool exposes the underlying pgxpool.Pool for advanced use
	// (integration tests, the outbox's own read path). Application code
	// driving business logic should not need it.
	GetPool() *pgxpool.Pool
}

// CommandHandler decides what events (if any) a command produces, given a
// transactional view of the store. Handlers must not call AppendIf
// themselves — the executor applies the condition after Handle returns.
type CommandHandler interface {
	Handle(ctx context.Context, store EventStore, command Command) (CommandResult, error)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, store EventStore, command Command) (CommandResult, error)

func (f CommandHandlerFunc) Handle(ctx context.Context, store EventStore, command Command) (CommandResult, error) {
	return f(ctx, store, command)
}

// CommandResult is what a handler returns: either new events under a
// condition, or an idempotency signal when Events is empty.
type CommandResult struct {
	Events            []InputEvent
	Condition         AppendCondition
	IdempotencyReason string
}

// Query represents a composite query with multiple QueryItems combined with
// OR logic. Opaque: construct only through NewQuery* / QueryBuilder.
type Query interface {
	isQuery()
	GetItems() []QueryItem
}

// AppendCondition represents the DCB optimistic-concurrency condition:
// (afterCursor, stateChanged query, alreadyExists query?). Opaque: construct
// only through NewAppendCondition / the builder helpers.
type AppendCondition interface {
	isAppendCondition()
	setAfterCursor(after *Cursor)
	getStateChanged() Query
	getAlreadyExists() Query
	getAfterCursor() *Cursor
}

// InputEvent is an event awaiting append. Opaque: construct only through
// NewInputEvent / EventBuilder.
type InputEvent interface {
	isInputEvent()
	GetType() string
	GetTags() []Tag
	GetData() []byte
}

// Command is a request to the Command Executor to produce events.
type Command interface {
	GetType() string
	GetData() []byte
	GetMetadata() map[string]interface{}
}

// Tag is a (key, value) pair used to categorize events. Opaque: construct
// only through NewTag/NewTags.
type Tag interface {
	isTag()
	GetKey() string
	GetValue() string
}

// QueryItem is one atomic (eventTypes, tagPredicates) condition, AND'd
// internally, OR'd against sibling items in a Query. Opaque: construct only
// through NewQueryItem / QueryBuilder.
type QueryItem interface {
	isQueryItem()
	GetEventTypes() []string
	GetTags() []Tag
}

// =============================================================================
// CONCRETE TYPES
// =============================================================================

// Event is a durably stored event as read back from the log.
type Event struct {
	Type          string    `json:"type"`
	Tags          []Tag     `json:"tags"`
	Data          []byte    `json:"data"`
	TransactionID uint64    `json:"transaction_id"`
	Position      int64     `json:"position"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Cursor identifies a point in the log: (position, occurred_at,
// transaction_id). Two cursors are equal when all three fields match. The
// zero value means "from the beginning." Queries return events strictly
// after a given cursor.
type Cursor struct {
	TransactionID uint64    `json:"transaction_id"`
	Position      int64     `json:"position"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// IsZero reports whether c is the "from start" cursor.
func (c Cursor) IsZero() bool {
	return c.Position == 0 && c.TransactionID == 0
}

// StateProjector folds matching events into a typed state value.
type StateProjector struct {
	ID           string
	Query        Query
	InitialState any
	TransitionFn func(state any, event Event) any
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// IsolationLevel is a type-safe enum over the Postgres isolation levels this
// store supports for append transactions.
type IsolationLevel int

const (
	IsolationLevelReadCommitted IsolationLevel = iota
	IsolationLevelRepeatableRead
	IsolationLevelSerializable
)

func (l IsolationLevel) String() string {
	switch l {
	case IsolationLevelReadCommitted:
		return "READ_COMMITTED"
	case IsolationLevelRepeatableRead:
		return "REPEATABLE_READ"
	case IsolationLevelSerializable:
		return "SERIALIZABLE"
	default:
		return "UNKNOWN"
	}
}

func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch s {
	case "READ_COMMITTED":
		return IsolationLevelReadCommitted, nil
	case "REPEATABLE_READ":
		return IsolationLevelRepeatableRead, nil
	case "SERIALIZABLE":
		return IsolationLevelSerializable, nil
	default:
		return IsolationLevelReadCommitted, fmt.Errorf("invalid isolation level: %s", s)
	}
}

// EventStoreConfig configures EventStore behavior.
type EventStoreConfig struct {
	MaxBatchSize           int
	StreamBuffer           int            // channel buffer size for streaming operations
	DefaultAppendIsolation IsolationLevel // isolation level for append transactions
	QueryTimeout           int            // milliseconds
	AppendTimeout          int            // milliseconds
	PersistCommands        bool           // write a commands row alongside every executed command
}

// =============================================================================
// INTERNAL IMPLEMENTATIONS
// =============================================================================

type inputEvent struct {
	eventType string
	tags      []Tag
	data      []byte
}

func (e *inputEvent) isInputEvent()   {}
func (e *inputEvent) GetType() string { return e.eventType }
func (e *inputEvent) GetTags() []Tag  { return e.tags }
func (e *inputEvent) GetData() []byte { return e.data }

type tag struct {
	key   string
	value string
}

func (t *tag) isTag()           {}
func (t *tag) GetKey() string   { return t.key }
func (t *tag) GetValue() string { return t.value }

// MarshalJSON ensures Tag marshals as {"key":..., "value":...}.
func (t *tag) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}{Key: t.key, Value: t.value})
}

type command struct {
	commandType string
	data        []byte
	metadata    map[string]interface{}
}

func (c *command) GetType() string                     { return c.commandType }
func (c *command) GetData() []byte                     { return c.data }
func (c *command) GetMetadata() map[string]interface{} { return c.metadata }

type query struct {
	Items []QueryItem `json:"items"`
}

func (q *query) isQuery()            {}
func (q *query) GetItems() []QueryItem { return q.Items }

type queryItem struct {
	EventTypes []string `json:"event_types"`
	Tags       []Tag    `json:"tags"`
}

func (qi *queryItem) isQueryItem()             {}
func (qi *queryItem) GetEventTypes() []string  { return qi.EventTypes }
func (qi *queryItem) GetTags() []Tag           { return qi.Tags }

// appendCondition generalizes the teacher's single-query form to the two
// queries the specification requires: stateChanged (staleness) and
// alreadyExists (idempotency/duplicate detection).
type appendCondition struct {
	StateChanged  *query  `json:"state_changed"`
	AlreadyExists *query  `json:"already_exists"`
	AfterCursor   *Cursor `json:"after_cursor"`
}

func (ac *appendCondition) isAppendCondition() {}

func (ac *appendCondition) setAfterCursor(after *Cursor) {
	ac.AfterCursor = after
}

func (ac *appendCondition) getStateChanged() Query {
	if ac.StateChanged == nil {
		return nil
	}
	return ac.StateChanged
}

func (ac *appendCondition) getAlreadyExists() Query {
	if ac.AlreadyExists == nil {
		return nil
	}
	return ac.AlreadyExists
}

func (ac *appendCondition) getAfterCursor() *Cursor {
	return ac.AfterCursor
}
