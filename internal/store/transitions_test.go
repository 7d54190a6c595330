package store

import (
	"testing"

	"autoshop/workshop-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		want   bool
	}{
		{"claim", models.StatusPending, true},
		{"claim", models.StatusInProgress, true},
		{"claim", models.StatusCompleted, false},
		{"claim", models.StatusCancelled, false},
		{"complete", models.StatusInProgress, true},
		{"complete", models.StatusPending, false},
		{"cancel", models.StatusPending, true},
		{"cancel", models.StatusInProgress, true},
		{"cancel", models.StatusCompleted, false},
		{"quality_submit", models.StatusCompleted, true},
		{"quality_submit", models.StatusInProgress, false},
		{"quality_reject", models.StatusCompleted, true},
		{"quality_reject", models.StatusPending, false},
		{"unknown", models.StatusPending, false},
	}

	for _, tc := range cases {
		if got := ValidTransition(tc.action, tc.from); got != tc.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tc.action, tc.from, got, tc.want)
		}
	}
}
