package flow

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/domain/bed"
	"github.com/ehr/patientflow/internal/domain/queue"
)

// AdmitRequest moves a queued patient into a bed.
type AdmitRequest struct {
	EntryID    uuid.UUID `json:"-"`
	BedID      uuid.UUID `json:"bed_id"`
	AssignedBy string    `json:"assigned_by"`
	Notes      *string   `json:"notes,omitempty"`
}

// Admission is the committed result of AdmitFromQueue.
type Admission struct {
	Entry      *queue.Entry    `json:"entry"`
	Assignment *bed.Assignment `json:"assignment"`
}

// OccupancyLevel grades a ward's load.
type OccupancyLevel string

const (
	OccupancyNormal OccupancyLevel = "normal"
	OccupancyHigh   OccupancyLevel = "high"
	OccupancyFull   OccupancyLevel = "full"
)

// WardStatus is one row of the ward breakdown.
type WardStatus struct {
	bed.WardOccupancy
	Level OccupancyLevel `json:"level"`
}

// DepartmentStatus is one row of the department breakdown.
type DepartmentStatus struct {
	Department         string      `json:"department"`
	Waiting            int         `json:"waiting"`
	InService          int         `json:"in_service"`
	LongestWaitMinutes float64     `json:"longest_wait_minutes"`
	NextEntryID        *uuid.UUID  `json:"next_entry_id,omitempty"`
	Level              queue.Level `json:"level"`
}

// Overview is the dashboard read model. It may be up to the cache TTL old.
type Overview struct {
	Beds        *bed.Summary       `json:"beds"`
	Wards       []WardStatus       `json:"wards"`
	Departments []DepartmentStatus `json:"departments"`
	GeneratedAt time.Time          `json:"generated_at"`
}
