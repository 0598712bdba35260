package dcb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ExecutionResultKind distinguishes a command that produced new events from
// one that was recognized as a replay and produced none.
type ExecutionResultKind int

const (
	ExecutionCreated ExecutionResultKind = iota
	ExecutionIdempotent
)

// ExecutionResult is what Execute returns on success. Kind tells the caller
// whether the handler's events were appended (Created, EventCount is how many;
// 0 when the handler returned no events and no idempotency reason) or the
// command was a no-op replay (Idempotent, Reason explains why).
type ExecutionResult struct {
	Kind       ExecutionResultKind
	EventCount int
	Reason     string
}

// Created reports a command that appended n new events.
func Created(n int) ExecutionResult {
	return ExecutionResult{Kind: ExecutionCreated, EventCount: n}
}

// Idempotent reports a command recognized as already applied; reason
// explains why (e.g. "DUPLICATE_OPERATION").
func Idempotent(reason string) ExecutionResult {
	return ExecutionResult{Kind: ExecutionIdempotent, Reason: reason}
}

func (r ExecutionResult) String() string {
	if r.Kind == ExecutionIdempotent {
		return fmt.Sprintf("Idempotent(%s)", r.Reason)
	}
	return fmt.Sprintf("Created(%d)", r.EventCount)
}

// Registration binds a command type name to the handler that decides what
// events it produces.
type Registration struct {
	CommandType string
	Handler     CommandHandler
}

// CommandExecutor dispatches commands to their registered handler inside a
// transactional envelope: open tx, run handler, validate its result, append
// under its condition, optionally persist the command row, commit.
type CommandExecutor interface {
	Execute(ctx context.Context, command Command) (ExecutionResult, error)
}

// commandExecutor is the sole CommandExecutor implementation. Its registry
// is built once at construction time from an explicit registration list —
// no reflection, no per-call handler passing.
type commandExecutor struct {
	store    *eventStore
	handlers map[string]CommandHandler
}

// NewCommandExecutor builds a CommandExecutor from an explicit registration
// list. Construction fails with a ConfigurationError on a duplicate command
// type, an empty command type string, or a nil handler. An empty
// registrations list is not fatal — it is logged as a warning, since a
// caller may register handlers it loads dynamically immediately after.
func NewCommandExecutor(store EventStore, registrations ...Registration) (CommandExecutor, error) {
	es, ok := store.(*eventStore)
	if !ok {
		return nil, &ConfigurationError{
			EventStoreError: EventStoreError{Op: "NewCommandExecutor", Err: fmt.Errorf("store must be produced by NewEventStore/NewEventStoreWithConfig")},
		}
	}

	if len(registrations) == 0 {
		logger().Printf("NewCommandExecutor: no command registrations supplied")
	}

	handlers := make(map[string]CommandHandler, len(registrations))
	for _, reg := range registrations {
		if reg.CommandType == "" {
			return nil, &ConfigurationError{
				EventStoreError: EventStoreError{Op: "NewCommandExecutor", Err: fmt.Errorf("registration has empty command type")},
			}
		}
		if reg.Handler == nil {
			return nil, &ConfigurationError{
				EventStoreError: EventStoreError{Op: "NewCommandExecutor", Err: fmt.Errorf("registration for %q has nil handler", reg.CommandType)},
			}
		}
		if _, exists := handlers[reg.CommandType]; exists {
			return nil, &ConfigurationError{
				EventStoreError: EventStoreError{Op: "NewCommandExecutor", Err: fmt.Errorf("duplicate registration for command type %q", reg.CommandType)},
			}
		}
		handlers[reg.CommandType] = reg.Handler
	}

	return &commandExecutor{store: es, handlers: handlers}, nil
}

// Execute runs the registered handler for command.GetType() inside a single
// transaction: the handler's events are appended under its returned
// condition, and a ConcurrencyError{Kind: Duplicate} is reclassified as an
// Idempotent result rather than propagated, since it means another
// transaction already produced the same effect.
func (ce *commandExecutor) Execute(ctx context.Context, command Command) (ExecutionResult, error) {
	if command == nil {
		return ExecutionResult{}, &InvalidCommandError{
			EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("command cannot be nil")},
		}
	}

	commandType := command.GetType()
	if commandType == "" {
		return ExecutionResult{}, &InvalidCommandError{
			EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("command type cannot be empty")},
		}
	}

	handler, ok := ce.handlers[commandType]
	if !ok {
		return ExecutionResult{}, &InvalidCommandError{
			EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("no handler for command type %q", commandType)},
			CommandType:     commandType,
		}
	}

	appendCtx, cancel := ce.store.withTimeout(ctx, ce.store.config.AppendTimeout)
	defer cancel()

	tx, err := ce.store.pool.BeginTx(appendCtx, pgx.TxOptions{
		IsoLevel: toPgxIsoLevel(ce.store.config.DefaultAppendIsolation),
	})
	if err != nil {
		return ExecutionResult{}, &PersistenceError{
			EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("failed to begin transaction: %w", err)},
			Resource:        "database",
		}
	}
	defer tx.Rollback(ctx)

	view := &txEventStore{parent: ce.store, tx: tx}

	result, err := handler.Handle(appendCtx, view, command)
	if err != nil {
		return ExecutionResult{}, err
	}

	if result.Events == nil {
		return ExecutionResult{}, &InvalidCommandError{
			EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("handler returned a nil events slice")},
			CommandType:     commandType,
		}
	}

	if len(result.Events) == 0 && result.IdempotencyReason != "" {
		// Nothing changed; commit the empty transaction and report the no-op.
		if err := tx.Commit(ctx); err != nil {
			return ExecutionResult{}, &PersistenceError{
				EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("failed to commit transaction: %w", err)},
				Resource:        "database",
			}
		}
		return Idempotent(result.IdempotencyReason), nil
	}

	var metadataJSON []byte
	if ce.store.config.PersistCommands {
		var marshalErr error
		metadataJSON, marshalErr = json.Marshal(command.GetMetadata())
		if marshalErr != nil {
			return ExecutionResult{}, &InvalidCommandError{
				EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("failed to marshal command metadata: %w", marshalErr)},
				CommandType:     commandType,
			}
		}
	}

	condition := result.Condition
	var appended []Event
	if condition != nil {
		appended, err = ce.store.appendInTx(appendCtx, tx, result.Events, condition)
	} else {
		appended, err = ce.store.appendInTx(appendCtx, tx, result.Events, nil)
	}
	if err != nil {
		if IsDuplicateConcurrencyError(err) {
			// Reclassify: another transaction already produced this effect,
			// so from the caller's perspective this command is a no-op.
			// The append failed, so there is nothing to commit — roll back.
			return Idempotent("DUPLICATE_OPERATION"), nil
		}
		return ExecutionResult{}, err
	}

	if ce.store.config.PersistCommands {
		if _, err := tx.Exec(appendCtx, `
			INSERT INTO commands (transaction_id, type, data, metadata)
			VALUES (pg_current_xact_id(), $1, $2, $3)
		`, commandType, command.GetData(), metadataJSON); err != nil {
			return ExecutionResult{}, &PersistenceError{
				EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("failed to persist command: %w", err)},
				Resource:        "database",
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ExecutionResult{}, &PersistenceError{
			EventStoreError: EventStoreError{Op: "Execute", Err: fmt.Errorf("failed to commit transaction: %w", err)},
			Resource:        "database",
		}
	}

	return Created(len(appended)), nil
}
