package history

import (
	"context"
	"testing"
	"time"

	"github.com/fairshare-app/fairshare/internal/repository"
	"github.com/fairshare-app/fairshare/internal/versioning"
)

type fakeHistoryRepo struct {
	records     []repository.HistoryRecord
	owerChanges map[int64]versioning.MembershipChange
	purged      []string
	stripped    []string
}

func (f *fakeHistoryRepo) ProjectHistory(ctx context.Context, projectID string) ([]repository.HistoryRecord, error) {
	return f.records, nil
}

func (f *fakeHistoryRepo) BillOwerChanges(ctx context.Context, billID, txID int64) (versioning.MembershipChange, error) {
	return f.owerChanges[txID], nil
}

func (f *fakeHistoryRepo) Purge(ctx context.Context, projectID string) error {
	f.purged = append(f.purged, projectID)
	return nil
}

func (f *fakeHistoryRepo) StripRemoteAddrs(ctx context.Context, projectID string) error {
	f.stripped = append(f.stripped, projectID)
	return nil
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(entity string, key versioning.Key, txID int64, op versioning.OperationType, fields map[string]any) repository.HistoryRecord {
	return repository.HistoryRecord{
		Version: &versioning.Version{
			Entity:        entity,
			Key:           key,
			TransactionID: txID,
			Operation:     op,
			Fields:        fields,
		},
		Tx: versioning.TransactionRecord{
			ID:       txID,
			IssuedAt: baseTime.Add(time.Duration(txID) * time.Minute),
		},
	}
}

func projectFixture() *fakeHistoryRepo {
	return &fakeHistoryRepo{
		records: []repository.HistoryRecord{
			record("Project", versioning.Key{"id": "trip"}, 1, versioning.OpInsert,
				map[string]any{"id": "trip", "name": "Trip", "password": "hash-1"}),
			record("Project", versioning.Key{"id": "trip"}, 2, versioning.OpUpdate,
				map[string]any{"id": "trip", "name": "Journey", "password": "hash-2"}),
			record("Member", versioning.Key{"id": int64(1)}, 1, versioning.OpInsert,
				map[string]any{"id": int64(1), "name": "rita"}),
			record("Member", versioning.Key{"id": int64(2)}, 1, versioning.OpInsert,
				map[string]any{"id": int64(2), "name": "zoe"}),
			record("Bill", versioning.Key{"id": int64(9)}, 3, versioning.OpInsert,
				map[string]any{"id": int64(9), "what": "fuel", "payer_id": int64(1), "amount": 10.0, "converted_amount": 10.0}),
			record("Bill", versioning.Key{"id": int64(9)}, 5, versioning.OpUpdate,
				map[string]any{"id": int64(9), "what": "fuel", "payer_id": int64(2), "amount": 20.0, "converted_amount": 20.0}),
		},
		owerChanges: map[int64]versioning.MembershipChange{
			5: {Added: []int64{2}, Removed: []int64{1}},
		},
	}
}

func entriesByProp(entries []Entry, prop string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.PropChanged == prop {
			out = append(out, e)
		}
	}
	return out
}

func TestProjectHistoryFieldEntries(t *testing.T) {
	svc := NewService(projectFixture(), nil)
	entries, err := svc.ProjectHistory(context.Background(), "trip", true)
	if err != nil {
		t.Fatalf("failed to build history: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected history entries")
	}

	// Newest first.
	for i := 1; i < len(entries); i++ {
		if entries[i].Time.After(entries[i-1].Time) {
			t.Fatalf("entries out of order at %d", i)
		}
	}

	renames := entriesByProp(entries, "name")
	if len(renames) != 1 {
		t.Fatalf("expected one rename entry, got %d", len(renames))
	}
	if renames[0].ValBefore != "Trip" || renames[0].ValAfter != "Journey" {
		t.Errorf("unexpected rename values: %v -> %v", renames[0].ValBefore, renames[0].ValAfter)
	}
	if renames[0].ObjectDesc != "Trip" {
		t.Errorf("simultaneous entries must read under the old name, got %q", renames[0].ObjectDesc)
	}
}

func TestProjectHistoryPasswordBlanked(t *testing.T) {
	svc := NewService(projectFixture(), nil)
	entries, err := svc.ProjectHistory(context.Background(), "trip", true)
	if err != nil {
		t.Fatalf("failed to build history: %v", err)
	}
	passwords := entriesByProp(entries, "password")
	if len(passwords) != 1 {
		t.Fatalf("expected the password change to be listed, got %d", len(passwords))
	}
	if passwords[0].ValBefore != nil || passwords[0].ValAfter != nil {
		t.Errorf("password values must be blanked, got %v -> %v", passwords[0].ValBefore, passwords[0].ValAfter)
	}
}

func TestProjectHistoryHumanizesPayerAndOwers(t *testing.T) {
	svc := NewService(projectFixture(), nil)
	entries, err := svc.ProjectHistory(context.Background(), "trip", true)
	if err != nil {
		t.Fatalf("failed to build history: %v", err)
	}

	payers := entriesByProp(entries, "payer")
	if len(payers) != 1 {
		t.Fatalf("expected a humanized payer entry, got %d", len(payers))
	}
	if payers[0].ValBefore != "rita" || payers[0].ValAfter != "zoe" {
		t.Errorf("unexpected payer names: %v -> %v", payers[0].ValBefore, payers[0].ValAfter)
	}

	added := entriesByProp(entries, "owers_added")
	if len(added) != 1 {
		t.Fatalf("expected an owers_added entry")
	}
	names, ok := added[0].ValAfter.([]any)
	if !ok || len(names) != 1 || names[0] != "zoe" {
		t.Errorf("unexpected added owers: %v", added[0].ValAfter)
	}

	removed := entriesByProp(entries, "owers_removed")
	if len(removed) != 1 {
		t.Fatalf("expected an owers_removed entry")
	}
	names, ok = removed[0].ValAfter.([]any)
	if !ok || len(names) != 1 || names[0] != "rita" {
		t.Errorf("unexpected removed owers: %v", removed[0].ValAfter)
	}
}

func TestProjectHistoryCollapsesConvertedAmount(t *testing.T) {
	svc := NewService(projectFixture(), nil)
	entries, err := svc.ProjectHistory(context.Background(), "trip", true)
	if err != nil {
		t.Fatalf("failed to build history: %v", err)
	}
	if got := entriesByProp(entries, "converted_amount"); len(got) != 0 {
		t.Errorf("a mirrored converted_amount change must collapse, got %d entries", len(got))
	}
	if got := entriesByProp(entries, "amount"); len(got) != 1 {
		t.Errorf("expected the amount change, got %d entries", len(got))
	}
}

func TestProjectHistoryWithoutHumanization(t *testing.T) {
	svc := NewService(projectFixture(), nil)
	entries, err := svc.ProjectHistory(context.Background(), "trip", false)
	if err != nil {
		t.Fatalf("failed to build history: %v", err)
	}
	raw := entriesByProp(entries, "payer_id")
	if len(raw) != 1 {
		t.Fatalf("expected a raw payer_id entry, got %d", len(raw))
	}
	ids, ok := entriesByProp(entries, "owers_added")[0].ValAfter.([]any)
	if !ok || ids[0] != int64(2) {
		t.Errorf("expected raw member ids, got %v", ids)
	}
}

func TestProjectHistoryEmpty(t *testing.T) {
	svc := NewService(&fakeHistoryRepo{}, nil)
	entries, err := svc.ProjectHistory(context.Background(), "silent", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestPurgeAndStripDelegate(t *testing.T) {
	repo := &fakeHistoryRepo{}
	svc := NewService(repo, nil)

	if err := svc.Purge(context.Background(), "trip"); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if err := svc.StripRemoteAddrs(context.Background(), "trip"); err != nil {
		t.Fatalf("strip failed: %v", err)
	}
	if len(repo.purged) != 1 || repo.purged[0] != "trip" {
		t.Errorf("expected purge delegation, got %v", repo.purged)
	}
	if len(repo.stripped) != 1 || repo.stripped[0] != "trip" {
		t.Errorf("expected strip delegation, got %v", repo.stripped)
	}
}
