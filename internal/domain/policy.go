package domain

import (
	"context"

	"github.com/fairshare-app/fairshare/internal/store"
	"github.com/fairshare-app/fairshare/internal/versioning"
)

// ProjectScope yields the project governing the current request, when there
// is one. Writes outside any project scope, project creation included, fall
// back to the default logging mode.
type ProjectScope func(ctx context.Context) (*Project, bool)

// HistoryPolicy builds the tracking policy enforcing a project's logging
// preference. Decisions look at both the pending and the committed value of
// the preference: the transaction that turns recording off is itself still
// recorded, and likewise the one that stops IP collection still carries the
// address.
func HistoryPolicy(sess *store.Session, scope ProjectScope) versioning.TrackingPolicy {
	return func(ctx context.Context) (versioning.PolicyDecision, error) {
		project, ok := scope(ctx)
		if !ok {
			return versioning.PolicyDecision{
				Record:           DefaultLoggingMode.RecordsHistory(),
				RecordRemoteAddr: DefaultLoggingMode.RecordsIP(),
			}, nil
		}

		current := project.LoggingPreference
		previous := current
		if old, ok := sess.CommittedField(project.EntityName(), project.EntityKey(), "logging_preference"); ok {
			if mode, ok := old.(int16); ok {
				previous = LoggingMode(mode)
			}
		}

		return versioning.PolicyDecision{
			Record:           current.RecordsHistory() || previous.RecordsHistory(),
			RecordRemoteAddr: current.RecordsIP() || previous.RecordsIP(),
		}, nil
	}
}
