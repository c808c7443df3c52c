package postgres

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

// Compile-time check that ScopeLocker implements engine.ScopeLocker.
var _ engine.ScopeLocker = (*ScopeLocker)(nil)

// retryInterval is the poll period while waiting for a held lock.
const retryInterval = 250 * time.Millisecond

// ScopeLocker serializes batch application per scope with PostgreSQL
// session-level advisory locks. The lock key is the hash of the scope name,
// so disjoint scopes never contend. The lock lives on a dedicated pooled
// connection held until release, which keeps it independent of the writer's
// sub-transactions.
type ScopeLocker struct {
	pool *pgxpool.Pool
}

// NewScopeLocker creates the advisory locker.
func NewScopeLocker(pool *Pool) *ScopeLocker {
	return &ScopeLocker{pool: pool.Pool}
}

// Acquire takes the advisory lock for scope, polling until timeout. On
// success the returned release unlocks and returns the connection to the
// pool; it must be called exactly once.
func (l *ScopeLocker) Acquire(ctx context.Context, scope string, timeout time.Duration) (func(), error) {
	key := lockKey(scope)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, apperror.NewStore(err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var locked bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
			conn.Release()
			return nil, apperror.NewStore(err)
		}
		if locked {
			break
		}
		if time.Now().After(deadline) {
			conn.Release()
			return nil, apperror.NewScopeConflict(scope)
		}

		select {
		case <-ctx.Done():
			conn.Release()
			return nil, apperror.NewScopeConflict(scope).WithCause(ctx.Err())
		case <-time.After(retryInterval):
		}
	}

	release := func() {
		// Unlock on a background context; the batch may have failed with a
		// cancelled one. Dropping the connection would release the lock
		// anyway, unlocking explicitly keeps the connection reusable.
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			logger.Error(context.Background(), "advisory unlock failed", "scope", scope, "error", err)
		}
		conn.Release()
	}
	return release, nil
}

// lockKey hashes the scope name into the advisory lock keyspace.
func lockKey(scope string) int64 {
	return int64(xxhash.Sum64String("scd:" + scope))
}
