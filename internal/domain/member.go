package domain

import (
	"github.com/fairshare-app/fairshare/internal/versioning"
)

// Member is a participant of a project. Members are deactivated rather than
// deleted once they appear on a bill, so weights and balances stay
// reconstructible.
type Member struct {
	ID        int64   `json:"id"`
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Activated bool    `json:"activated"`
}

func (m *Member) EntityName() string { return "Member" }

func (m *Member) EntityKey() versioning.Key {
	return versioning.Key{"id": m.ID}
}

func (m *Member) FieldValues() map[string]any {
	return map[string]any{
		"id":         m.ID,
		"project_id": m.ProjectID,
		"name":       m.Name,
		"weight":     m.Weight,
		"activated":  m.Activated,
	}
}
