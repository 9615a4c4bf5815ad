package export

import (
	"testing"
)

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "fuel", "fuel"},
		{"number", 12.5, "12.5"},
		{"list joined", []any{"rita", "zoe"}, "rita, zoe"},
		{"empty list", []any{}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatCell(tc.value); got != tc.want {
				t.Errorf("formatCell(%v) = %q, expected %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestProjectIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/exports/projects/trip/history.xlsx", "trip"},
		{"/exports/projects/history.xlsx", "projects"},
		{"/history.xlsx", ""},
		{"no-slash", ""},
	}

	for _, tc := range tests {
		if got := projectIDFromPath(tc.path); got != tc.want {
			t.Errorf("projectIDFromPath(%q) = %q, expected %q", tc.path, got, tc.want)
		}
	}
}
