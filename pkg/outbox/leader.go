package outbox

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// leaseKey returns the coordination key this LockStrategy uses for pair
// (topic, publisher): one shared key under LockGlobal, one key per pair
// under LockPerTopicPublisher.
func leaseKey(strategy LockStrategy, topic, publisher string) string {
	if strategy == LockGlobal {
		return "dcb-outbox-global"
	}
	return "dcb-outbox-" + topic + "-" + publisher
}

// advisoryLockID hashes a textual key into the int64 pg_try_advisory_lock
// expects, using FNV-64a computed locally (not the server's hashtext()), so
// callers can log/compare the id without a round trip.
func advisoryLockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// leaseHolder holds one pg_try_advisory_lock for as long as this process
// remains leader for its key, on a dedicated connection checked out of the
// pool — advisory locks are session-scoped, so the lock lives and dies with
// that connection.
type leaseHolder struct {
	key  string
	conn *pgxpool.Conn
}

// tryAcquire attempts to become leader for key. A nil, nil return means the
// lock is currently held elsewhere; the caller should retry next cycle.
func tryAcquire(ctx context.Context, pool *pgxpool.Pool, key string) (*leaseHolder, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: acquire connection for lease %q: %w", key, err)
	}

	var acquired bool
	id := advisoryLockID(key)
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("outbox: pg_try_advisory_lock(%q): %w", key, err)
	}
	if !acquired {
		conn.Release()
		return nil, nil
	}

	return &leaseHolder{key: key, conn: conn}, nil
}

// release drops leadership: unlock then return the connection to the pool.
// Closing the connection also drops the lock, so release is best-effort —
// a caller shutting down under a deadline can just let the pool close it.
func (h *leaseHolder) release(ctx context.Context) {
	if h == nil || h.conn == nil {
		return
	}
	id := advisoryLockID(h.key)
	_, _ = h.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, id)
	h.conn.Release()
}
