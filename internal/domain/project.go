package domain

import (
	"github.com/fairshare-app/fairshare/internal/versioning"
)

// Project is a shared-expense group. Its identifier is a caller-chosen slug,
// not a generated number.
type Project struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Password          string      `json:"-"`
	ContactEmail      string      `json:"contact_email"`
	DefaultCurrency   string      `json:"default_currency"`
	LoggingPreference LoggingMode `json:"logging_preference"`
}

func (p *Project) EntityName() string { return "Project" }

func (p *Project) EntityKey() versioning.Key {
	return versioning.Key{"id": p.ID}
}

func (p *Project) FieldValues() map[string]any {
	return map[string]any{
		"id":                 p.ID,
		"name":               p.Name,
		"password":           p.Password,
		"contact_email":      p.ContactEmail,
		"default_currency":   p.DefaultCurrency,
		"logging_preference": int16(p.LoggingPreference),
	}
}
