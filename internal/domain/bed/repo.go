package bed

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BedRepository persists beds. GetForUpdate must lock the row for the rest of
// the enclosing transaction.
type BedRepository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Bed, int, error)
	CountByWardStatus(ctx context.Context) ([]StatusCount, error)
}

// AssignmentRepository persists bed assignments. Create must reject a second
// active assignment for the same bed or patient even when the caller's checks
// raced. ActiveForPatient and ActiveForBed return nil, nil when nothing is
// active.
type AssignmentRepository interface {
	Create(ctx context.Context, a *Assignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error)
	ActiveForPatient(ctx context.Context, patientID uuid.UUID) (*Assignment, error)
	ActiveForBed(ctx context.Context, bedID uuid.UUID) (*Assignment, error)
	Close(ctx context.Context, id uuid.UUID, status AssignmentStatus, at time.Time, notes *string) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error)
}
