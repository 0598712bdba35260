// Command dcbd runs the DCB event store's server-side components: it opens
// the event store, constructs a command executor with no registered handlers
// as a startup check, and runs the outbox processor. It owns no HTTP surface of its own —
// embedding applications drive dcb.EventStore and dcb.CommandExecutor
// directly; this binary exists to host the outbox's background polling
// loop against a configured Postgres database.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcbhq/dcb/pkg/dcb"
	"github.com/dcbhq/dcb/pkg/outbox"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stderr)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		envOr("DB_USER", "dcb"),
		envOr("DB_PASSWORD", "dcb"),
		envOr("DB_HOST", "localhost"),
		envOr("DB_PORT", "5432"),
		envOr("DB_NAME", "dcb"),
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Fatalf("parse database config: %v", err)
	}
	poolConfig.MaxConns = int32(envIntOr("DB_MAX_CONNS", 20))
	poolConfig.MinConns = int32(envIntOr("DB_MIN_CONNS", 5))
	poolConfig.MaxConnLifetime = 10 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	var pool *pgxpool.Pool
	const maxRetries = 30
	const retryDelay = 2 * time.Second
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			break
		}
		log.Printf("connect to database (attempt %d/%d): %v", attempt, maxRetries, err)
		if attempt < maxRetries {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		log.Fatalf("failed to connect to database after %d attempts: %v", maxRetries, err)
	}
	defer pool.Close()

	store, err := dcb.NewEventStoreWithConfig(ctx, pool, dcb.EventStoreConfig{
		MaxBatchSize:           envIntOr("MAX_BATCH_SIZE", 1000),
		StreamBuffer:           envIntOr("STREAM_BUFFER", 1000),
		DefaultAppendIsolation: dcb.IsolationLevelReadCommitted,
		QueryTimeout:           envIntOr("QUERY_TIMEOUT_MS", 15000),
		AppendTimeout:          envIntOr("APPEND_TIMEOUT_MS", 10000),
		PersistCommands:        os.Getenv("PERSIST_COMMANDS") == "true",
	})
	if err != nil {
		log.Fatalf("failed to initialize event store: %v", err)
	}
	log.Printf("event store ready (pool: %d-%d connections)", poolConfig.MinConns, poolConfig.MaxConns)

	// The command executor is constructed here so the process fails fast on
	// a misconfigured registration list, but this binary registers no
	// handlers of its own — embedding applications register their
	// domain-specific handlers against the same dcb.EventStore and run their
	// own executor. This demonstrates the no-op construction path.
	if _, err := dcb.NewCommandExecutor(store); err != nil {
		log.Fatalf("failed to construct command executor: %v", err)
	}

	outboxConfig := outbox.OutboxConfig{
		Enabled:      os.Getenv("OUTBOX_ENABLED") == "true",
		LockStrategy: outbox.LockPerTopicPublisher,
		BatchSize:    envIntOr("OUTBOX_BATCH_SIZE", 200),
		MaxRetries:   envIntOr("OUTBOX_MAX_RETRIES", 5),
		PollInterval: time.Duration(envIntOr("OUTBOX_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		Topics:       map[string]outbox.TopicConfig{},
		InstanceID:   os.Getenv("OUTBOX_INSTANCE_ID"),
	}

	metrics := outbox.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	processor := outbox.NewProcessor(pool, outboxConfig, nil, metrics)

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Start(ctx)
	}()

	log.Printf("dcbd running (outbox enabled: %v)", outboxConfig.Enabled)
	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	processor.Stop()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("shutdown timed out waiting for outbox processor")
	}
}
