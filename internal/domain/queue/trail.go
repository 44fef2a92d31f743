package queue

import (
	"math"
	"sort"
	"time"
)

// DurationIn sums the time an entry spent in status, pairing each event with
// the one after it. If the last event entered status, the open interval runs
// until now. events must be in trail order.
func DurationIn(events []*Event, status Status, now time.Time) time.Duration {
	var total time.Duration
	for i, ev := range events {
		if ev.ToStatus != status {
			continue
		}
		end := now
		if i+1 < len(events) {
			end = events[i+1].CreatedAt
		}
		if end.After(ev.CreatedAt) {
			total += end.Sub(ev.CreatedAt)
		}
	}
	return total
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks. It returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
