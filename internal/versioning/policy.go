package versioning

import "context"

// PolicyDecision tells the unit of work what to persist for one flush cycle.
type PolicyDecision struct {
	// Record controls whether version rows are written at all. A refusal
	// drops every pending change of the cycle, membership edits included.
	Record bool
	// RecordRemoteAddr controls whether the owning transaction may keep the
	// caller's network address. One refusal strips it for the whole
	// transaction.
	RecordRemoteAddr bool
}

// TrackingPolicy is consulted once per flush cycle, before any version row
// is written. Hosts that base the decision on a committed value can still
// record the transition that disables recording itself. A non-nil error
// aborts the flush before anything is written.
type TrackingPolicy func(ctx context.Context) (PolicyDecision, error)

// RecordAll is the default policy: every flush is versioned, remote
// addresses included.
func RecordAll(ctx context.Context) (PolicyDecision, error) {
	return PolicyDecision{Record: true, RecordRemoteAddr: true}, nil
}
