package triage

import (
	"testing"

	"github.com/ehr/patientflow/internal/platform/apperr"
)

func TestRank(t *testing.T) {
	tests := []struct {
		label string
		want  int
	}{
		{"emergency", 1},
		{"Very Urgent", 2},
		{"very-urgent", 2},
		{"URGENT", 3},
		{"standard", 4},
		{"routine", 4},
		{" non_urgent ", 5},
	}
	for _, tt := range tests {
		got, err := Rank(tt.label)
		if err != nil {
			t.Errorf("Rank(%q): unexpected error %v", tt.label, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Rank(%q) = %d, want %d", tt.label, got, tt.want)
		}
	}
}

func TestRank_Unknown(t *testing.T) {
	_, err := Rank("whenever")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCategories_InRankOrder(t *testing.T) {
	cats := Categories()
	if len(cats) != 6 {
		t.Fatalf("expected 6 categories, got %d", len(cats))
	}
	if cats[0] != Emergency || cats[len(cats)-1] != NonUrgent {
		t.Errorf("unexpected order %v", cats)
	}
	for i := 1; i < len(cats); i++ {
		if ranks[cats[i-1]] > ranks[cats[i]] {
			t.Errorf("%s ranked after %s", cats[i-1], cats[i])
		}
	}
}
