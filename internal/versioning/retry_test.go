package versioning

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRunWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := RunWithRetry(context.Background(), 3, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return &pgconn.PgError{Code: "23505"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestRunWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := RunWithRetry(context.Background(), 3, func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !IsConcurrentUpdate(err) {
		t.Errorf("expected a concurrent update error, got %v", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Errorf("the last cause must stay reachable, got %v", err)
	}
}

func TestRunWithRetryPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RunWithRetry(context.Background(), 3, func(ctx context.Context) error {
		calls++
		return boom
	})
	if calls != 1 {
		t.Errorf("non-retryable errors must not be retried, got %d attempts", calls)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected the original error, got %v", err)
	}
}
