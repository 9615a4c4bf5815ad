package history

import (
	"time"

	"github.com/guregu/null/v5"

	"github.com/fairshare-app/fairshare/internal/versioning"
)

// Entry is one displayable history event. An UPDATE that touched several
// fields yields one entry per field so each line reads as a single change.
type Entry struct {
	Time       time.Time                `json:"time"`
	Operation  versioning.OperationType `json:"-"`
	OpName     string                   `json:"operation"`
	ObjectType string                   `json:"object_type"`
	ObjectDesc string                   `json:"object_desc"`
	RemoteAddr null.String              `json:"ip,omitzero"`

	PropChanged string `json:"prop_changed,omitempty"`
	ValBefore   any    `json:"val_before,omitempty"`
	ValAfter    any    `json:"val_after,omitempty"`
}

// sortKey orders entries newest first. Renames within the same instant
// surface ahead of the other entries, which all read under the old name.
func sortKey(e Entry) (time.Time, int) {
	second := 0
	if e.PropChanged == "name" || e.PropChanged == "what" {
		second = 1
	}
	return e.Time, second
}
