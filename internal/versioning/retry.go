package versioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const defaultRetryAttempts = 3

// retryablePgCode reports whether a PostgreSQL error is worth retrying:
// unique violations on the shadow primary key from two sessions writing the
// same identity, and serialization failures.
func retryablePgCode(code string) bool {
	return code == "23505" || code == "40001"
}

// RunWithRetry re-runs fn when it fails with a contention error, up to
// attempts tries. Once the budget is spent the last error is wrapped in a
// ConcurrentUpdateError so callers can decide to retry the whole
// transaction.
func RunWithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	var last error
	for i := 0; i < attempts; i++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(last, &pgErr) || !retryablePgCode(pgErr.Code) {
			return last
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %w", &ConcurrentUpdateError{Attempts: attempts}, last)
}
