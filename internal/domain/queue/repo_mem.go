package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/platform/apperr"
)

// MemoryStore backs the entry and event repositories with maps, for the
// memory storage mode and for tests. Pair it with db.MemoryTxRunner.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[uuid.UUID]*Entry
	counters map[string]int64
	events   []*Event
	seq      int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[uuid.UUID]*Entry),
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Entries() EntryRepository { return memEntries{s} }

func (s *MemoryStore) Events() EventRepository { return memEvents{s} }

// Snapshot implements db.Snapshotter. Events are append-only, so restoring
// truncates the trail back to its length at snapshot time.
func (s *MemoryStore) Snapshot() func() {
	s.mu.RLock()
	entries := make(map[uuid.UUID]*Entry, len(s.entries))
	for id, e := range s.entries {
		cp := *e
		entries[id] = &cp
	}
	counters := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	nEvents, seq := len(s.events), s.seq
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.entries = entries
		s.counters = counters
		s.events = s.events[:nEvents]
		s.seq = seq
		s.mu.Unlock()
	}
}

// lessServing is the serving order: priority, then position, then created_at.
func lessServing(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

type memEntries struct{ s *MemoryStore }

func (m memEntries) NextPosition(_ context.Context, department string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.counters[department]++
	return m.s.counters[department], nil
}

func (m memEntries) Create(_ context.Context, e *Entry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.entries {
		if existing.Department == e.Department && existing.Position == e.Position {
			return apperr.DuplicateIdentifier("position %d already taken in %s", e.Position, e.Department)
		}
	}
	e.ID = uuid.New()
	e.CreatedAt = m.s.now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	m.s.entries[e.ID] = &cp
	return nil
}

func (m memEntries) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	e, ok := m.s.entries[id]
	if !ok {
		return nil, apperr.NotFound("queue entry %s not found", id)
	}
	cp := *e
	return &cp, nil
}

func (m memEntries) GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return m.GetByID(ctx, id)
}

func (m memEntries) update(id uuid.UUID, fn func(*Entry)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e, ok := m.s.entries[id]
	if !ok {
		return apperr.NotFound("queue entry %s not found", id)
	}
	fn(e)
	e.UpdatedAt = m.s.now()
	return nil
}

func (m memEntries) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	return m.update(id, func(e *Entry) { e.Status = status })
}

func (m memEntries) UpdatePriority(_ context.Context, id uuid.UUID, priority int) error {
	return m.update(id, func(e *Entry) { e.Priority = priority })
}

func (m memEntries) Waiting(ctx context.Context, department string) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.s.mu.RLock()
	var out []*Entry
	for _, e := range m.s.entries {
		if e.Department == department && e.Status == StatusWaiting {
			cp := *e
			out = append(out, &cp)
		}
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return lessServing(out[i], out[j]) })
	return out, nil
}

func (m memEntries) Next(ctx context.Context, department string) (*Entry, error) {
	waiting, err := m.Waiting(ctx, department)
	if err != nil {
		return nil, err
	}
	if len(waiting) == 0 {
		return nil, nil
	}
	return waiting[0], nil
}

func (m memEntries) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	m.s.mu.RLock()
	var matched []*Entry
	for _, e := range m.s.entries {
		if v := params["department"]; v != "" && e.Department != v {
			continue
		}
		if v := params["status"]; v != "" && string(e.Status) != v {
			continue
		}
		if v := params["checkin_id"]; v != "" && e.CheckinID.String() != v {
			continue
		}
		if v := params["patient_id"]; v != "" && e.PatientID.String() != v {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	m.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Department != matched[j].Department {
			return matched[i].Department < matched[j].Department
		}
		return lessServing(matched[i], matched[j])
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (m memEntries) Depths(_ context.Context) ([]DepartmentDepth, error) {
	m.s.mu.RLock()
	byDept := make(map[string]*DepartmentDepth)
	for _, e := range m.s.entries {
		if e.Status != StatusWaiting && e.Status != StatusInService {
			continue
		}
		d, ok := byDept[e.Department]
		if !ok {
			d = &DepartmentDepth{Department: e.Department}
			byDept[e.Department] = d
		}
		if e.Status == StatusInService {
			d.InService++
			continue
		}
		d.Waiting++
		if d.OldestWaiting == nil || e.CreatedAt.Before(*d.OldestWaiting) {
			at := e.CreatedAt
			d.OldestWaiting = &at
		}
	}
	m.s.mu.RUnlock()

	out := make([]DepartmentDepth, 0, len(byDept))
	for _, d := range byDept {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out, nil
}

type memEvents struct{ s *MemoryStore }

func (m memEvents) Append(_ context.Context, ev *Event) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.entries[ev.EntryID]; !ok {
		return apperr.NotFound("queue entry %s not found", ev.EntryID)
	}
	m.s.seq++
	ev.Seq = m.s.seq
	ev.ID = uuid.New()
	ev.CreatedAt = m.s.now()
	cp := *ev
	m.s.events = append(m.s.events, &cp)
	return nil
}

func (m memEvents) ListByEntry(_ context.Context, entryID uuid.UUID) ([]*Event, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*Event
	for _, ev := range m.s.events {
		if ev.EntryID == entryID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memEvents) ListForDepartment(_ context.Context, department string, since time.Time) (map[uuid.UUID][]*Event, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make(map[uuid.UUID][]*Event)
	for _, ev := range m.s.events {
		e, ok := m.s.entries[ev.EntryID]
		if !ok || e.Department != department || e.CreatedAt.Before(since) {
			continue
		}
		cp := *ev
		out[ev.EntryID] = append(out[ev.EntryID], &cp)
	}
	return out, nil
}
