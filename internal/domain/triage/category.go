// Package triage maps clinical urgency categories to the numeric priority
// the queue ledger orders by. Lower ranks are served first.
package triage

import (
	"sort"
	"strings"

	"github.com/ehr/patientflow/internal/platform/apperr"
)

type Category string

const (
	Emergency  Category = "emergency"
	VeryUrgent Category = "very_urgent"
	Urgent     Category = "urgent"
	Standard   Category = "standard"
	Routine    Category = "routine"
	NonUrgent  Category = "non_urgent"
)

var ranks = map[Category]int{
	Emergency:  1,
	VeryUrgent: 2,
	Urgent:     3,
	Standard:   4,
	Routine:    4,
	NonUrgent:  5,
}

// Parse normalises a category label: case-insensitive, spaces and dashes
// treated as underscores.
func Parse(label string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(label))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	c := Category(norm)
	if _, ok := ranks[c]; !ok {
		return "", apperr.Validation("unknown triage category %q", label)
	}
	return c, nil
}

// Rank returns the priority for a category label.
func Rank(label string) (int, error) {
	c, err := Parse(label)
	if err != nil {
		return 0, err
	}
	return ranks[c], nil
}

// Categories lists every known category in rank order.
func Categories() []Category {
	out := make([]Category, 0, len(ranks))
	for c := range ranks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if ranks[out[i]] != ranks[out[j]] {
			return ranks[out[i]] < ranks[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
