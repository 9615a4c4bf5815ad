package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fairshare-app/fairshare/internal/repository"
	"github.com/fairshare-app/fairshare/internal/versioning"
)

// Service assembles the displayable history of a project from the recorded
// version rows.
type Service struct {
	repo   repository.HistoryRepository
	logger *slog.Logger
}

func NewService(repo repository.HistoryRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

type versionChain struct {
	records []repository.HistoryRecord
}

func (c *versionChain) previousOf(i int) *versioning.Version {
	if i <= 0 {
		return nil
	}
	return c.records[i-1].Version
}

// ProjectHistory returns a project's history entries, newest first. With
// humanize set, member ids in payer and ower changes are replaced by the
// member names current at that point of history.
func (s *Service) ProjectHistory(ctx context.Context, projectID string, humanize bool) ([]Entry, error) {
	records, err := s.repo.ProjectHistory(ctx, projectID)
	if err != nil {
		return nil, err
	}

	chains := map[string]*versionChain{}
	var chainOrder []string
	for _, rec := range records {
		id := fmt.Sprintf("%s/%v", rec.Version.Entity, rec.Version.Key["id"])
		chain, ok := chains[id]
		if !ok {
			chain = &versionChain{}
			chains[id] = chain
			chainOrder = append(chainOrder, id)
		}
		chain.records = append(chain.records, rec)
	}
	for _, chain := range chains {
		sort.Slice(chain.records, func(i, j int) bool {
			return chain.records[i].Version.TransactionID < chain.records[j].Version.TransactionID
		})
	}

	names := newMemberNames(records)

	var entries []Entry
	for _, id := range chainOrder {
		chain := chains[id]
		for i, rec := range chain.records {
			chainEntries, err := s.describeVersion(ctx, rec, chain.previousOf(i), names, humanize)
			if err != nil {
				return nil, err
			}
			entries = append(entries, chainEntries...)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti, si := sortKey(entries[i])
		tj, sj := sortKey(entries[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return si > sj
	})
	return entries, nil
}

func (s *Service) describeVersion(ctx context.Context, rec repository.HistoryRecord, prev *versioning.Version, names *memberNames, humanize bool) ([]Entry, error) {
	v := rec.Version
	described := v
	if prev != nil {
		// Simultaneous entries should read under the old name.
		described = prev
	}
	common := Entry{
		Time:       rec.Tx.IssuedAt,
		Operation:  v.Operation,
		OpName:     v.Operation.String(),
		ObjectType: objectType(v.Entity),
		ObjectDesc: describe(described),
		RemoteAddr: rec.Tx.RemoteAddr,
	}

	if v.Operation != versioning.OpUpdate {
		return []Entry{common}, nil
	}
	if prev == nil {
		// The previous version was not recorded; the field-level diff is
		// unknowable.
		return []Entry{common}, nil
	}

	changes := diffFields(prev, v)
	if v.Entity == "Bill" {
		changes = collapseConvertedAmount(changes)
	}

	var entries []Entry
	for _, ch := range changes {
		entry := common
		entry.PropChanged = ch.name
		entry.ValBefore = ch.before
		entry.ValAfter = ch.after

		if ch.name == "password" {
			// The hash is both sensitive and unreadable; the fact of the
			// change is the information.
			entry.ValBefore = nil
			entry.ValAfter = nil
		}
		if humanize && ch.name == "payer_id" {
			entry.PropChanged = "payer"
			entry.ValBefore = names.at(asID(ch.before), prev.TransactionID)
			entry.ValAfter = names.at(asID(ch.after), v.TransactionID)
		}
		entries = append(entries, entry)
	}

	if v.Entity == "Bill" {
		owers, err := s.repo.BillOwerChanges(ctx, asID(v.Key["id"]), v.TransactionID)
		if err != nil {
			return nil, err
		}
		if len(owers.Added) > 0 {
			entry := common
			entry.PropChanged = "owers_added"
			entry.ValAfter = names.all(owers.Added, v.TransactionID, humanize)
			entries = append(entries, entry)
		}
		if len(owers.Removed) > 0 {
			entry := common
			entry.PropChanged = "owers_removed"
			entry.ValAfter = names.all(owers.Removed, prev.TransactionID, humanize)
			entries = append(entries, entry)
		}
	}

	if len(entries) == 0 {
		return nil, nil
	}
	return entries, nil
}

// Purge erases all recorded history of a project.
func (s *Service) Purge(ctx context.Context, projectID string) error {
	if err := s.repo.Purge(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("history purged", "project", projectID)
	return nil
}

// StripRemoteAddrs redacts the recorded origin addresses of a project.
func (s *Service) StripRemoteAddrs(ctx context.Context, projectID string) error {
	if err := s.repo.StripRemoteAddrs(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("history ip addresses removed", "project", projectID)
	return nil
}

func objectType(entity string) string {
	switch entity {
	case "Project":
		return "project"
	case "Member":
		return "member"
	case "Bill":
		return "bill"
	}
	return entity
}

// describe renders a version the way the live object would describe itself.
func describe(v *versioning.Version) string {
	switch v.Entity {
	case "Bill":
		return fmt.Sprintf("%v", v.Fields["what"])
	default:
		return fmt.Sprintf("%v", v.Fields["name"])
	}
}

type fieldChange struct {
	name          string
	before, after any
}

func diffFields(prev, v *versioning.Version) []fieldChange {
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		if name == "id" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var changes []fieldChange
	for _, name := range names {
		before, after := prev.Fields[name], v.Fields[name]
		if equal(before, after) {
			continue
		}
		changes = append(changes, fieldChange{name: name, before: before, after: after})
	}
	return changes
}

// collapseConvertedAmount drops the converted_amount change when it mirrors
// the amount change exactly; with matching currencies the two are the same
// edit.
func collapseConvertedAmount(changes []fieldChange) []fieldChange {
	var amount, converted *fieldChange
	idx := -1
	for i := range changes {
		switch changes[i].name {
		case "amount":
			amount = &changes[i]
		case "converted_amount":
			converted = &changes[i]
			idx = i
		}
	}
	if amount == nil || converted == nil {
		return changes
	}
	if equal(amount.before, converted.before) && equal(amount.after, converted.after) {
		return append(changes[:idx], changes[idx+1:]...)
	}
	return changes
}

func equal(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asID(value any) int64 {
	switch n := value.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// memberNames answers "what was member N called as of transaction T" from
// the member versions already loaded for the project.
type memberNames struct {
	byMember map[int64][]repository.HistoryRecord
}

func newMemberNames(records []repository.HistoryRecord) *memberNames {
	names := &memberNames{byMember: map[int64][]repository.HistoryRecord{}}
	for _, rec := range records {
		if rec.Version.Entity != "Member" {
			continue
		}
		id := asID(rec.Version.Key["id"])
		names.byMember[id] = append(names.byMember[id], rec)
	}
	for _, recs := range names.byMember {
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].Version.TransactionID < recs[j].Version.TransactionID
		})
	}
	return names
}

func (n *memberNames) at(id, txID int64) any {
	recs := n.byMember[id]
	var name any
	for _, rec := range recs {
		if rec.Version.TransactionID > txID {
			break
		}
		name = rec.Version.Fields["name"]
	}
	if name == nil {
		return id
	}
	return name
}

func (n *memberNames) all(ids []int64, txID int64, humanize bool) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if humanize {
			out = append(out, n.at(id, txID))
		} else {
			out = append(out, id)
		}
	}
	return out
}
