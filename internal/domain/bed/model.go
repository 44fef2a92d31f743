package bed

import (
	"time"

	"github.com/google/uuid"
)

// BedType is the clinical class of a bed.
type BedType string

const (
	TypeStandard  BedType = "standard"
	TypeICU       BedType = "icu"
	TypeEmergency BedType = "emergency"
	TypeSurgical  BedType = "surgical"
	TypePediatric BedType = "pediatric"
	TypeMaternity BedType = "maternity"
	TypeIsolation BedType = "isolation"
)

var validTypes = map[BedType]bool{
	TypeStandard: true, TypeICU: true, TypeEmergency: true, TypeSurgical: true,
	TypePediatric: true, TypeMaternity: true, TypeIsolation: true,
}

func (t BedType) Valid() bool { return validTypes[t] }

// Status is a bed's occupancy state. Occupied is entered only by Assign and
// left only by Discharge or Transfer; Maintenance and Reserved are manual
// overrides that never coexist with an occupant.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusOccupied    Status = "occupied"
	StatusMaintenance Status = "maintenance"
	StatusReserved    Status = "reserved"
)

// Bed maps to the beds table.
type Bed struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Number    string    `db:"bed_number" json:"bed_number"`
	Ward      string    `db:"ward" json:"ward"`
	Type      BedType   `db:"bed_type" json:"bed_type"`
	Status    Status    `db:"status" json:"status"`
	Location  *string   `db:"location" json:"location,omitempty"`
	Equipment *string   `db:"equipment" json:"equipment,omitempty"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AssignmentStatus is the lifecycle of a bed assignment. Active is the only
// non-terminal state.
type AssignmentStatus string

const (
	AssignmentActive     AssignmentStatus = "active"
	AssignmentDischarged AssignmentStatus = "discharged"
	AssignmentTransfer   AssignmentStatus = "transfer"
)

// Assignment maps to the bed_assignments table. Rows are never deleted.
type Assignment struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	BedID        uuid.UUID        `db:"bed_id" json:"bed_id"`
	PatientID    uuid.UUID        `db:"patient_id" json:"patient_id"`
	AssignedBy   string           `db:"assigned_by" json:"assigned_by"`
	AssignedAt   time.Time        `db:"assigned_at" json:"assigned_at"`
	DischargedAt *time.Time       `db:"discharged_at" json:"discharged_at,omitempty"`
	Status       AssignmentStatus `db:"status" json:"status"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
}

// StatusCount is one (ward, status) bucket of the inventory.
type StatusCount struct {
	Ward   string
	Status Status
	Count  int
}

// WardOccupancy is the per-ward slice of a Summary.
type WardOccupancy struct {
	Ward          string  `json:"ward"`
	Total         int     `json:"total"`
	Occupied      int     `json:"occupied"`
	Available     int     `json:"available"`
	Maintenance   int     `json:"maintenance"`
	Reserved      int     `json:"reserved"`
	OccupancyRate float64 `json:"occupancy_rate"`
}

// Summary aggregates bed statuses across the hospital.
type Summary struct {
	Total         int             `json:"total"`
	Occupied      int             `json:"occupied"`
	Available     int             `json:"available"`
	Maintenance   int             `json:"maintenance"`
	Reserved      int             `json:"reserved"`
	OccupancyRate float64         `json:"occupancy_rate"`
	Wards         []WardOccupancy `json:"wards"`
}

// AssignRequest carries the inputs of Assign.
type AssignRequest struct {
	BedID      uuid.UUID `json:"-"`
	PatientID  uuid.UUID `json:"patient_id"`
	AssignedBy string    `json:"assigned_by"`
	Notes      *string   `json:"notes,omitempty"`
}
