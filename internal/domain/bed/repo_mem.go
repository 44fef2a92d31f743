package bed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/platform/apperr"
)

// MemoryStore backs both bed repositories with maps. It is used with
// db.MemoryTxRunner, which serializes writers; the store's own lock only
// protects individual map accesses.
type MemoryStore struct {
	mu          sync.RWMutex
	beds        map[uuid.UUID]*Bed
	assignments map[uuid.UUID]*Assignment
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		beds:        make(map[uuid.UUID]*Bed),
		assignments: make(map[uuid.UUID]*Assignment),
		now:         time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// Beds returns the store's BedRepository view.
func (s *MemoryStore) Beds() BedRepository { return memBeds{s} }

// Assignments returns the store's AssignmentRepository view.
func (s *MemoryStore) Assignments() AssignmentRepository { return memAssignments{s} }

// Snapshot implements db.Snapshotter.
func (s *MemoryStore) Snapshot() func() {
	s.mu.RLock()
	beds := make(map[uuid.UUID]*Bed, len(s.beds))
	for id, b := range s.beds {
		cp := *b
		beds[id] = &cp
	}
	assignments := make(map[uuid.UUID]*Assignment, len(s.assignments))
	for id, a := range s.assignments {
		cp := *a
		assignments[id] = &cp
	}
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.beds = beds
		s.assignments = assignments
		s.mu.Unlock()
	}
}

type memBeds struct{ s *MemoryStore }

func (m memBeds) Create(_ context.Context, b *Bed) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.beds {
		if existing.Number == b.Number {
			return apperr.DuplicateIdentifier("bed number %s already exists", b.Number)
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = m.s.now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.s.beds[b.ID] = &cp
	return nil
}

func (m memBeds) GetByID(_ context.Context, id uuid.UUID) (*Bed, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	b, ok := m.s.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (m memBeds) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return m.GetByID(ctx, id)
}

func (m memBeds) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	b, ok := m.s.beds[id]
	if !ok {
		return apperr.NotFound("bed %s not found", id)
	}
	b.Status = status
	b.UpdatedAt = m.s.now()
	return nil
}

func (m memBeds) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Bed, int, error) {
	m.s.mu.RLock()
	var matched []*Bed
	for _, b := range m.s.beds {
		if v := params["ward"]; v != "" && b.Ward != v {
			continue
		}
		if v := params["bed_type"]; v != "" && string(b.Type) != v {
			continue
		}
		if v := params["status"]; v != "" && string(b.Status) != v {
			continue
		}
		if v := params["bed_number"]; v != "" && b.Number != v {
			continue
		}
		cp := *b
		matched = append(matched, &cp)
	}
	m.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Ward != matched[j].Ward {
			return matched[i].Ward < matched[j].Ward
		}
		return matched[i].Number < matched[j].Number
	})
	return page(matched, limit, offset), len(matched), nil
}

func (m memBeds) CountByWardStatus(_ context.Context) ([]StatusCount, error) {
	m.s.mu.RLock()
	counts := make(map[[2]string]int)
	for _, b := range m.s.beds {
		counts[[2]string{b.Ward, string(b.Status)}]++
	}
	m.s.mu.RUnlock()

	out := make([]StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, StatusCount{Ward: k[0], Status: Status(k[1]), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ward != out[j].Ward {
			return out[i].Ward < out[j].Ward
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

type memAssignments struct{ s *MemoryStore }

func (m memAssignments) Create(_ context.Context, a *Assignment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.beds[a.BedID]; !ok {
		return apperr.NotFound("bed %s not found", a.BedID)
	}
	if a.Status == AssignmentActive {
		for _, existing := range m.s.assignments {
			if existing.Status != AssignmentActive {
				continue
			}
			if existing.BedID == a.BedID {
				return apperr.ResourceUnavailable("bed %s already has an active occupant", a.BedID)
			}
			if existing.PatientID == a.PatientID {
				return apperr.AlreadyAssigned("patient %s already holds an active bed", a.PatientID)
			}
		}
	}
	a.ID = uuid.New()
	a.AssignedAt = m.s.now()
	cp := *a
	m.s.assignments[a.ID] = &cp
	return nil
}

func (m memAssignments) GetByID(_ context.Context, id uuid.UUID) (*Assignment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	a, ok := m.s.assignments[id]
	if !ok {
		return nil, apperr.NotFound("bed assignment %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m memAssignments) GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return m.GetByID(ctx, id)
}

func (m memAssignments) activeWhere(match func(*Assignment) bool) *Assignment {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, a := range m.s.assignments {
		if a.Status == AssignmentActive && match(a) {
			cp := *a
			return &cp
		}
	}
	return nil
}

func (m memAssignments) ActiveForPatient(_ context.Context, patientID uuid.UUID) (*Assignment, error) {
	return m.activeWhere(func(a *Assignment) bool { return a.PatientID == patientID }), nil
}

func (m memAssignments) ActiveForBed(_ context.Context, bedID uuid.UUID) (*Assignment, error) {
	return m.activeWhere(func(a *Assignment) bool { return a.BedID == bedID }), nil
}

func (m memAssignments) Close(_ context.Context, id uuid.UUID, status AssignmentStatus, at time.Time, notes *string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.assignments[id]
	if !ok || a.Status != AssignmentActive {
		return apperr.NotFound("no active bed assignment %s", id)
	}
	a.Status = status
	a.DischargedAt = &at
	if notes != nil {
		a.Notes = notes
	}
	return nil
}

func (m memAssignments) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error) {
	m.s.mu.RLock()
	var matched []*Assignment
	for _, a := range m.s.assignments {
		if v := params["bed_id"]; v != "" && a.BedID.String() != v {
			continue
		}
		if v := params["patient_id"]; v != "" && a.PatientID.String() != v {
			continue
		}
		if v := params["status"]; v != "" && string(a.Status) != v {
			continue
		}
		if v := params["assigned_by"]; v != "" && a.AssignedBy != v {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	m.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].AssignedAt.After(matched[j].AssignedAt) })
	return page(matched, limit, offset), len(matched), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
