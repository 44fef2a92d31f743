package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusInService Status = "in_service"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// transitions is the whole state machine. Terminal states have no row.
var transitions = map[Status]map[Status]bool{
	StatusWaiting:   {StatusInService: true, StatusCancelled: true},
	StatusInService: {StatusDone: true, StatusCancelled: true},
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInService, StatusDone, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

func (s Status) CanTransitionTo(to Status) bool {
	return transitions[s][to]
}

// Entry maps to the queue_entries table. Lower Priority is served first;
// Position breaks ties in arrival order and is never reused.
type Entry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Department string    `db:"department" json:"department"`
	CheckinID  uuid.UUID `db:"checkin_id" json:"checkin_id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Status     Status    `db:"status" json:"status"`
	Priority   int       `db:"priority" json:"priority"`
	Position   int64     `db:"position" json:"position"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Event maps to the queue_events table. FromStatus is nil only on an
// entry's first event.
type Event struct {
	Seq        int64     `db:"seq" json:"seq"`
	ID         uuid.UUID `db:"id" json:"id"`
	EntryID    uuid.UUID `db:"entry_id" json:"entry_id"`
	FromStatus *Status   `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// EnqueueRequest carries the inputs of Enqueue.
type EnqueueRequest struct {
	Department string    `json:"department"`
	CheckinID  uuid.UUID `json:"checkin_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Priority   int       `json:"priority"`
}

// RankedEntry is a waiting entry with its 1-based place in line.
type RankedEntry struct {
	Rank int `json:"rank"`
	*Entry
}

// DepartmentDepth is the live shape of one department queue.
type DepartmentDepth struct {
	Department    string     `json:"department"`
	Waiting       int        `json:"waiting"`
	InService     int        `json:"in_service"`
	OldestWaiting *time.Time `json:"oldest_waiting,omitempty"`
}

// Level grades a wait against the configured thresholds.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarn     Level = "warn"
	LevelCritical Level = "critical"
)

// Thresholds in minutes. A wait at or above Critical is critical, at or
// above Warn is warn.
type Thresholds struct {
	WarnMinutes     float64
	CriticalMinutes float64
}

func (t Thresholds) Grade(minutes float64) Level {
	switch {
	case t.CriticalMinutes > 0 && minutes >= t.CriticalMinutes:
		return LevelCritical
	case t.WarnMinutes > 0 && minutes >= t.WarnMinutes:
		return LevelWarn
	}
	return LevelOK
}

// SLAReport is the result of PercentileWait.
type SLAReport struct {
	Department string    `json:"department"`
	Status     Status    `json:"status"`
	Since      time.Time `json:"since"`
	Percentile float64   `json:"percentile"`
	Count      int       `json:"count"`
	Minutes    float64   `json:"minutes"`
	Median     float64   `json:"median_minutes"`
	Level      Level     `json:"level"`
}
