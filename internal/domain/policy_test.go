package domain

import (
	"context"
	"testing"

	"github.com/fairshare-app/fairshare/internal/store"
	"github.com/fairshare-app/fairshare/internal/versioning"
)

func scopeOf(p *Project) ProjectScope {
	return func(ctx context.Context) (*Project, bool) {
		return p, p != nil
	}
}

func decide(t *testing.T, sess *store.Session, p *Project) versioning.PolicyDecision {
	t.Helper()
	policy := HistoryPolicy(sess, scopeOf(p))
	decision, err := policy(context.Background())
	if err != nil {
		t.Fatalf("policy failed: %v", err)
	}
	return decision
}

func TestHistoryPolicyWithoutScopeUsesDefault(t *testing.T) {
	sess := store.NewSession(nil, nil, nil)
	decision := decide(t, sess, nil)
	if !decision.Record {
		t.Errorf("writes outside a project scope must be recorded by default")
	}
	if decision.RecordRemoteAddr {
		t.Errorf("the default mode must not store addresses")
	}
}

func TestHistoryPolicyModes(t *testing.T) {
	tests := []struct {
		name       string
		committed  LoggingMode
		current    LoggingMode
		record     bool
		recordAddr bool
	}{
		{"stays disabled", LoggingDisabled, LoggingDisabled, false, false},
		{"stays enabled", LoggingEnabled, LoggingEnabled, true, false},
		{"stays record_ip", LoggingRecordIP, LoggingRecordIP, true, true},
		{"turning recording off is itself recorded", LoggingEnabled, LoggingDisabled, true, false},
		{"turning recording on is recorded", LoggingDisabled, LoggingEnabled, true, false},
		{"dropping ip collection still carries the address", LoggingRecordIP, LoggingEnabled, true, true},
		{"enabling ip collection carries the address", LoggingEnabled, LoggingRecordIP, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sess := store.NewSession(nil, nil, nil)
			project := &Project{ID: "trip", Name: "Trip", LoggingPreference: tc.committed}
			sess.Attach(project)
			project.LoggingPreference = tc.current

			decision := decide(t, sess, project)
			if decision.Record != tc.record {
				t.Errorf("Record = %v, expected %v", decision.Record, tc.record)
			}
			if decision.RecordRemoteAddr != tc.recordAddr {
				t.Errorf("RecordRemoteAddr = %v, expected %v", decision.RecordRemoteAddr, tc.recordAddr)
			}
		})
	}
}

func TestHistoryPolicyUnloadedProjectUsesCurrentValue(t *testing.T) {
	sess := store.NewSession(nil, nil, nil)
	project := &Project{ID: "fresh", LoggingPreference: LoggingDisabled}

	decision := decide(t, sess, project)
	if decision.Record {
		t.Errorf("without a committed snapshot the pending preference decides")
	}
}
