package versioning

import (
	"errors"
	"fmt"
)

// ErrNotVersioned is returned when a history or navigation API is invoked
// for an entity type that was never registered for tracking.
var ErrNotVersioned = errors.New("entity type is not versioned")

// ErrNoTransaction is returned when version rows are requested before the
// unit of work has allocated a transaction.
var ErrNoTransaction = errors.New("no current transaction")

// ConfigError reports a registry misconfiguration detected at build time,
// before any writes are attempted.
type ConfigError struct {
	Entity string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("versioning config error for entity %q: %s", e.Entity, e.Reason)
}

// ConcurrentUpdateError reports that the retry budget for a contended
// version-row upsert was exhausted. Callers may retry the whole transaction.
type ConcurrentUpdateError struct {
	Attempts int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("concurrent version update: gave up after %d attempts", e.Attempts)
}

// IsConcurrentUpdate reports whether err wraps a ConcurrentUpdateError.
func IsConcurrentUpdate(err error) bool {
	var target *ConcurrentUpdateError
	return errors.As(err, &target)
}
