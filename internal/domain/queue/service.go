package queue

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/db"
	"github.com/ehr/patientflow/internal/platform/metrics"
)

// Service is the queue ledger and its event trail. Serving order is always
// recomputed from persisted rows; nothing is cached in process.
type Service struct {
	entries    EntryRepository
	events     EventRepository
	tx         db.TxRunner
	metrics    *metrics.Recorder
	logger     zerolog.Logger
	thresholds Thresholds
	now        func() time.Time
}

func NewService(entries EntryRepository, events EventRepository, tx db.TxRunner) *Service {
	return &Service{
		entries:    entries,
		events:     events,
		tx:         tx,
		logger:     zerolog.Nop(),
		thresholds: Thresholds{WarnMinutes: 30, CriticalMinutes: 60},
		now:        time.Now,
	}
}

func (s *Service) SetMetrics(m *metrics.Recorder) { s.metrics = m }

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetThresholds sets the wait limits used to grade SLA reports.
func (s *Service) SetThresholds(t Thresholds) { s.thresholds = t }

func (s *Service) Thresholds() Thresholds { return s.thresholds }

func (s *Service) reject(op string, err error) error {
	if kind := apperr.KindOf(err); kind != apperr.KindInternal {
		s.metrics.Rejected(op, string(kind))
	}
	return err
}

// -- Commands --

// Enqueue creates a waiting entry at the back of its priority band. The
// counter increment, the insert and the first trail event commit together.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*Entry, error) {
	req.Department = strings.TrimSpace(req.Department)
	switch {
	case req.Department == "":
		return nil, s.reject("enqueue", apperr.Validation("department is required"))
	case req.CheckinID == uuid.Nil:
		return nil, s.reject("enqueue", apperr.Validation("checkin_id is required"))
	case req.PatientID == uuid.Nil:
		return nil, s.reject("enqueue", apperr.Validation("patient_id is required"))
	case req.Priority < 0:
		return nil, s.reject("enqueue", apperr.Validation("priority must be >= 0"))
	}

	e := &Entry{
		Department: req.Department,
		CheckinID:  req.CheckinID,
		PatientID:  req.PatientID,
		Status:     StatusWaiting,
		Priority:   req.Priority,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		pos, err := s.entries.NextPosition(ctx, e.Department)
		if err != nil {
			return err
		}
		e.Position = pos
		if err := s.entries.Create(ctx, e); err != nil {
			return err
		}
		_, err = s.Append(ctx, e.ID, nil, StatusWaiting)
		return err
	})
	if err != nil {
		return nil, s.reject("enqueue", err)
	}

	s.metrics.Enqueued(e.Department)
	s.logger.Info().
		Str("entry_id", e.ID.String()).
		Str("department", e.Department).
		Int("priority", e.Priority).
		Int64("position", e.Position).
		Msg("patient enqueued")
	return e, nil
}

// Reprioritize changes a waiting entry's priority, keeping its position.
func (s *Service) Reprioritize(ctx context.Context, id uuid.UUID, priority int) (*Entry, error) {
	if priority < 0 {
		return nil, s.reject("reprioritize", apperr.Validation("priority must be >= 0"))
	}
	var e *Entry
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if e, err = s.entries.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if e.Status != StatusWaiting {
			return apperr.InvalidTransition("queue entry %s is %s; only waiting entries can be reprioritized", id, e.Status)
		}
		if err := s.entries.UpdatePriority(ctx, id, priority); err != nil {
			return err
		}
		e.Priority = priority
		return nil
	})
	if err != nil {
		return nil, s.reject("reprioritize", err)
	}
	s.logger.Info().Str("entry_id", id.String()).Int("priority", priority).Msg("queue entry reprioritized")
	return e, nil
}

// Change describes a committed status transition.
type Change struct {
	Entry  *Entry
	From   Status
	Waited time.Duration
}

// TransitionWithin moves an entry along the state machine as part of the
// caller's unit of work. Callers report the returned Change with Transitioned
// once their unit commits.
func (s *Service) TransitionWithin(ctx context.Context, id uuid.UUID, to Status) (*Change, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown queue status %q", to)
	}
	var ch *Change
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.entries.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := e.Status
		if !from.CanTransitionTo(to) {
			return apperr.InvalidTransition("queue entry %s cannot move from %s to %s", id, from, to)
		}
		ch = &Change{Entry: e, From: from}
		if from == StatusWaiting {
			trail, err := s.events.ListByEntry(ctx, id)
			if err != nil {
				return err
			}
			ch.Waited = DurationIn(trail, StatusWaiting, s.now())
		}
		if err := s.entries.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		if _, err := s.Append(ctx, id, &from, to); err != nil {
			return err
		}
		e.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Transitioned records a committed transition in metrics and the log.
func (s *Service) Transitioned(ch *Change) {
	e := ch.Entry
	s.metrics.Transitioned(e.Department, string(ch.From), string(e.Status))
	if ch.From == StatusWaiting {
		s.metrics.ObserveWait(e.Department, ch.Waited.Minutes())
	}
	s.logger.Info().
		Str("entry_id", e.ID.String()).
		Str("department", e.Department).
		Str("from", string(ch.From)).
		Str("to", string(e.Status)).
		Msg("queue entry transitioned")
}

// Transition applies one state machine edge and appends it to the trail.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (*Entry, error) {
	ch, err := s.TransitionWithin(ctx, id, to)
	if err != nil {
		return nil, s.reject("transition", err)
	}
	s.Transitioned(ch)
	return ch.Entry, nil
}

// Append writes one trail event. from must match the entry's latest
// to_status (nil for the first event); the trail never forks or rewinds.
func (s *Service) Append(ctx context.Context, entryID uuid.UUID, from *Status, to Status) (*Event, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown queue status %q", to)
	}
	ev := &Event{EntryID: entryID, FromStatus: from, ToStatus: to}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.entries.GetForUpdate(ctx, entryID); err != nil {
			return err
		}
		trail, err := s.events.ListByEntry(ctx, entryID)
		if err != nil {
			return err
		}
		var last *Status
		if n := len(trail); n > 0 {
			last = &trail[n-1].ToStatus
		}
		if (last == nil) != (from == nil) || (last != nil && *last != *from) {
			return apperr.InvalidTransition("event trail for %s does not continue from %v", entryID, statusOrNil(from))
		}
		return s.events.Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func statusOrNil(s *Status) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// -- Reads --

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.entries.GetByID(ctx, id)
}

func (s *Service) SearchEntries(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	for _, key := range []string{"checkin_id", "patient_id"} {
		if v, ok := params[key]; ok && v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, 0, apperr.Validation("%s must be a uuid", key)
			}
			params[key] = id.String()
		}
	}
	return s.entries.Search(ctx, params, limit, offset)
}

// Next returns the entry to serve next in department, or nil when the queue
// is empty.
func (s *Service) Next(ctx context.Context, department string) (*Entry, error) {
	return s.entries.Next(ctx, department)
}

// Waiting returns the department's waiting list in serving order.
func (s *Service) Waiting(ctx context.Context, department string) ([]RankedEntry, error) {
	entries, err := s.entries.Waiting(ctx, department)
	if err != nil {
		return nil, err
	}
	out := make([]RankedEntry, len(entries))
	for i, e := range entries {
		out[i] = RankedEntry{Rank: i + 1, Entry: e}
	}
	return out, nil
}

func (s *Service) DepartmentDepths(ctx context.Context) ([]DepartmentDepth, error) {
	return s.entries.Depths(ctx)
}

// Events returns an entry's trail in append order.
func (s *Service) Events(ctx context.Context, entryID uuid.UUID) ([]*Event, error) {
	if _, err := s.entries.GetByID(ctx, entryID); err != nil {
		return nil, err
	}
	return s.events.ListByEntry(ctx, entryID)
}

// DurationIn is the total time the entry has spent in status so far.
func (s *Service) DurationIn(ctx context.Context, entryID uuid.UUID, status Status) (time.Duration, error) {
	if !status.Valid() {
		return 0, apperr.Validation("unknown queue status %q", status)
	}
	trail, err := s.Events(ctx, entryID)
	if err != nil {
		return 0, err
	}
	return DurationIn(trail, status, s.now()), nil
}

// PercentileWait computes the p-th percentile of time spent in status over
// entries of department created within window, graded against the
// configured thresholds. Entries that never reached status are left out.
func (s *Service) PercentileWait(ctx context.Context, department string, status Status, window time.Duration, p float64) (*SLAReport, error) {
	switch {
	case strings.TrimSpace(department) == "":
		return nil, apperr.Validation("department is required")
	case !status.Valid():
		return nil, apperr.Validation("unknown queue status %q", status)
	case window <= 0:
		return nil, apperr.Validation("window must be positive")
	case p < 0 || p > 100:
		return nil, apperr.Validation("percentile must be between 0 and 100")
	}

	now := s.now()
	since := now.Add(-window)
	trails, err := s.events.ListForDepartment(ctx, department, since)
	if err != nil {
		return nil, err
	}

	values := make([]float64, 0, len(trails))
	for _, trail := range trails {
		entered := false
		for _, ev := range trail {
			if ev.ToStatus == status {
				entered = true
				break
			}
		}
		if entered {
			values = append(values, DurationIn(trail, status, now).Minutes())
		}
	}

	report := &SLAReport{
		Department: department,
		Status:     status,
		Since:      since,
		Percentile: p,
		Count:      len(values),
	}
	if len(values) > 0 {
		report.Minutes = round2(Percentile(values, p))
		report.Median = round2(Percentile(values, 50))
	}
	report.Level = s.thresholds.Grade(report.Minutes)
	return report, nil
}
