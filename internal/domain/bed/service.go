package bed

import (
	"bytes"
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/db"
	"github.com/ehr/patientflow/internal/platform/metrics"
	"github.com/ehr/patientflow/internal/platform/notification"
)

// Service is the resource ledger: bed inventory and exclusive occupancy.
// Every check-then-write runs inside one TxRunner unit with the bed row
// locked, so two staff members racing for the same bed cannot both win.
type Service struct {
	beds        BedRepository
	assignments AssignmentRepository
	tx          db.TxRunner
	events      *notification.Emitter
	metrics     *metrics.Recorder
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(beds BedRepository, assignments AssignmentRepository, tx db.TxRunner) *Service {
	return &Service{
		beds:        beds,
		assignments: assignments,
		tx:          tx,
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
}

// SetEmitter attaches the publisher used after successful commands.
func (s *Service) SetEmitter(e *notification.Emitter) { s.events = e }

// SetMetrics attaches an optional metrics recorder.
func (s *Service) SetMetrics(m *metrics.Recorder) { s.metrics = m }

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) reject(op string, err error) error {
	if kind := apperr.KindOf(err); kind != apperr.KindInternal {
		s.metrics.Rejected(op, string(kind))
	}
	return err
}

// -- Beds --

func (s *Service) CreateBed(ctx context.Context, b *Bed) error {
	b.Number = strings.TrimSpace(b.Number)
	b.Ward = strings.TrimSpace(b.Ward)
	b.Type = BedType(strings.ToLower(string(b.Type)))
	if b.Number == "" {
		return apperr.Validation("bed_number is required")
	}
	if b.Ward == "" {
		return apperr.Validation("ward is required")
	}
	if b.Type == "" {
		b.Type = TypeStandard
	}
	if !b.Type.Valid() {
		return apperr.Validation("unknown bed_type %q", b.Type)
	}
	b.Status = StatusAvailable
	if err := s.beds.Create(ctx, b); err != nil {
		return s.reject("create_bed", err)
	}
	s.logger.Info().Str("bed_id", b.ID.String()).Str("bed_number", b.Number).Str("ward", b.Ward).Msg("bed created")
	return nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.beds.GetByID(ctx, id)
}

func (s *Service) SearchBeds(ctx context.Context, params map[string]string, limit, offset int) ([]*Bed, int, error) {
	return s.beds.Search(ctx, params, limit, offset)
}

// SetMaintenance puts a bed into or takes it out of maintenance.
func (s *Service) SetMaintenance(ctx context.Context, id uuid.UUID, on bool) (*Bed, error) {
	return s.setOverride(ctx, "set_maintenance", id, StatusMaintenance, on)
}

// SetReserved holds a bed back from assignment, or releases the hold.
func (s *Service) SetReserved(ctx context.Context, id uuid.UUID, on bool) (*Bed, error) {
	return s.setOverride(ctx, "set_reserved", id, StatusReserved, on)
}

// setOverride toggles a manual status. Turning an override on requires an
// unoccupied bed not under another override; turning it off requires the bed
// to be in that override.
func (s *Service) setOverride(ctx context.Context, op string, id uuid.UUID, override Status, on bool) (*Bed, error) {
	var out *Bed
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.beds.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !on {
			if b.Status != override {
				return apperr.InvalidTransition("bed %s is %s, not %s", b.Number, b.Status, override)
			}
			b.Status = StatusAvailable
		} else {
			if b.Status == override {
				out = b
				return nil
			}
			active, err := s.assignments.ActiveForBed(ctx, id)
			if err != nil {
				return err
			}
			if active != nil || b.Status == StatusOccupied {
				return apperr.InvalidTransition("bed %s has an active occupant", b.Number)
			}
			if b.Status != StatusAvailable {
				return apperr.InvalidTransition("bed %s is %s", b.Number, b.Status)
			}
			b.Status = override
		}
		if err := s.beds.UpdateStatus(ctx, id, b.Status); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, s.reject(op, err)
	}
	s.logger.Info().Str("bed_id", id.String()).Str("status", string(out.Status)).Msg("bed status override")
	return out, nil
}

// -- Assignments --

func validateAssign(req AssignRequest) error {
	if req.BedID == uuid.Nil {
		return apperr.Validation("bed_id is required")
	}
	if req.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if strings.TrimSpace(req.AssignedBy) == "" {
		return apperr.Validation("assigned_by is required")
	}
	return nil
}

// AssignWithin places a patient in a bed as part of the caller's unit of
// work. It publishes nothing; callers emit events once their unit commits.
func (s *Service) AssignWithin(ctx context.Context, req AssignRequest) (*Assignment, *Bed, error) {
	if err := validateAssign(req); err != nil {
		return nil, nil, err
	}
	var a *Assignment
	var b *Bed
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.beds.GetForUpdate(ctx, req.BedID)
		if err != nil {
			return err
		}
		if b.Status != StatusAvailable {
			return apperr.ResourceUnavailable("bed %s is %s", b.Number, b.Status)
		}
		existing, err := s.assignments.ActiveForPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.AlreadyAssigned("patient %s already holds bed assignment %s", req.PatientID, existing.ID)
		}
		a = &Assignment{
			BedID:      b.ID,
			PatientID:  req.PatientID,
			AssignedBy: req.AssignedBy,
			Status:     AssignmentActive,
			Notes:      req.Notes,
		}
		if err := s.assignments.Create(ctx, a); err != nil {
			return err
		}
		if err := s.beds.UpdateStatus(ctx, b.ID, StatusOccupied); err != nil {
			return err
		}
		b.Status = StatusOccupied
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// Assign places a patient in an available bed.
func (s *Service) Assign(ctx context.Context, req AssignRequest) (*Assignment, error) {
	a, b, err := s.AssignWithin(ctx, req)
	if err != nil {
		return nil, s.reject("assign", err)
	}
	s.Assigned(ctx, a, b)
	return a, nil
}

// Assigned records a committed assignment: metrics, log line, notification.
func (s *Service) Assigned(ctx context.Context, a *Assignment, b *Bed) {
	s.metrics.BedAssigned(b.Ward)
	s.logger.Info().
		Str("assignment_id", a.ID.String()).
		Str("bed_id", b.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("assigned_by", a.AssignedBy).
		Msg("bed assigned")
	s.events.Emit(ctx, notification.NewEvent(notification.ScopeWard, b.Ward, notification.KindBedAssigned,
		map[string]interface{}{
			"assignment_id": a.ID.String(),
			"bed_id":        b.ID.String(),
			"bed_number":    b.Number,
			"patient_id":    a.PatientID.String(),
			"assigned_by":   a.AssignedBy,
		}))
}

// release closes an active assignment with outcome and frees its bed.
func (s *Service) release(ctx context.Context, a *Assignment, outcome AssignmentStatus, notes *string) (*Bed, error) {
	b, err := s.beds.GetForUpdate(ctx, a.BedID)
	if err != nil {
		return nil, err
	}
	at := s.now().UTC()
	if err := s.assignments.Close(ctx, a.ID, outcome, at, notes); err != nil {
		return nil, err
	}
	if err := s.beds.UpdateStatus(ctx, b.ID, StatusAvailable); err != nil {
		return nil, err
	}
	a.Status = outcome
	a.DischargedAt = &at
	if notes != nil {
		a.Notes = notes
	}
	b.Status = StatusAvailable
	return b, nil
}

func (s *Service) lockActive(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	a, err := s.assignments.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != AssignmentActive {
		return nil, apperr.NotFound("bed assignment %s is not active (%s)", id, a.Status)
	}
	return a, nil
}

// Discharge ends an active assignment and returns the bed to available.
func (s *Service) Discharge(ctx context.Context, assignmentID uuid.UUID, notes *string) (*Assignment, error) {
	var a *Assignment
	var b *Bed
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.lockActive(ctx, assignmentID); err != nil {
			return err
		}
		b, err = s.release(ctx, a, AssignmentDischarged, notes)
		return err
	})
	if err != nil {
		return nil, s.reject("discharge", err)
	}

	s.metrics.BedReleased(b.Ward, string(AssignmentDischarged))
	s.logger.Info().Str("assignment_id", a.ID.String()).Str("bed_id", b.ID.String()).Msg("patient discharged")
	s.events.Emit(ctx, notification.NewEvent(notification.ScopeWard, b.Ward, notification.KindBedDischarged,
		map[string]interface{}{
			"assignment_id": a.ID.String(),
			"bed_id":        b.ID.String(),
			"bed_number":    b.Number,
			"patient_id":    a.PatientID.String(),
		}))
	return a, nil
}

// Transfer moves the occupant of an active assignment to another available
// bed. The old assignment closes with status transfer and a new active one is
// created, all in one unit.
func (s *Service) Transfer(ctx context.Context, assignmentID, toBedID uuid.UUID, actor string, notes *string) (*Assignment, error) {
	if toBedID == uuid.Nil {
		return nil, apperr.Validation("to_bed_id is required")
	}
	if strings.TrimSpace(actor) == "" {
		return nil, apperr.Validation("assigned_by is required")
	}

	var prev, next *Assignment
	var from, to *Bed
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if prev, err = s.lockActive(ctx, assignmentID); err != nil {
			return err
		}
		if prev.BedID == toBedID {
			return apperr.InvalidTransition("patient already occupies bed %s", toBedID)
		}
		// Lock both beds in id order so concurrent transfers cannot deadlock.
		first, second := prev.BedID, toBedID
		if bytes.Compare(first[:], second[:]) > 0 {
			first, second = second, first
		}
		for _, id := range []uuid.UUID{first, second} {
			if _, err := s.beds.GetForUpdate(ctx, id); err != nil {
				return err
			}
		}
		if from, err = s.release(ctx, prev, AssignmentTransfer, notes); err != nil {
			return err
		}
		next, to, err = s.AssignWithin(ctx, AssignRequest{
			BedID:      toBedID,
			PatientID:  prev.PatientID,
			AssignedBy: actor,
			Notes:      notes,
		})
		return err
	})
	if err != nil {
		return nil, s.reject("transfer", err)
	}

	s.metrics.BedReleased(from.Ward, string(AssignmentTransfer))
	s.metrics.BedAssigned(to.Ward)
	s.logger.Info().
		Str("from_assignment_id", prev.ID.String()).
		Str("to_assignment_id", next.ID.String()).
		Str("from_bed_id", from.ID.String()).
		Str("to_bed_id", to.ID.String()).
		Msg("patient transferred")
	payload := map[string]interface{}{
		"from_assignment_id": prev.ID.String(),
		"assignment_id":      next.ID.String(),
		"from_bed_number":    from.Number,
		"bed_number":         to.Number,
		"patient_id":         next.PatientID.String(),
	}
	evs := []notification.Event{notification.NewEvent(notification.ScopeWard, to.Ward, notification.KindBedTransferred, payload)}
	if from.Ward != to.Ward {
		evs = append(evs, notification.NewEvent(notification.ScopeWard, from.Ward, notification.KindBedTransferred, payload))
	}
	s.events.Emit(ctx, evs...)
	return next, nil
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.assignments.GetByID(ctx, id)
}

func (s *Service) SearchAssignments(ctx context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error) {
	if err := uuidFilters(params, "bed_id", "patient_id"); err != nil {
		return nil, 0, err
	}
	return s.assignments.Search(ctx, params, limit, offset)
}

// uuidFilters rejects filter values that cannot match a uuid column and
// rewrites the rest in canonical form.
func uuidFilters(params map[string]string, keys ...string) error {
	for _, key := range keys {
		if v, ok := params[key]; ok && v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return apperr.Validation("%s must be a uuid", key)
			}
			params[key] = id.String()
		}
	}
	return nil
}

// ActiveAssignmentForPatient returns nil, nil when the patient has no bed.
func (s *Service) ActiveAssignmentForPatient(ctx context.Context, patientID uuid.UUID) (*Assignment, error) {
	return s.assignments.ActiveForPatient(ctx, patientID)
}

// -- Summary --

// Summary aggregates current bed statuses. It only reads.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	counts, err := s.beds.CountByWardStatus(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(counts), nil
}

// Summarize folds (ward, status) counts into a Summary with wards sorted by
// name.
func Summarize(counts []StatusCount) *Summary {
	sum := &Summary{Wards: []WardOccupancy{}}
	wards := make(map[string]*WardOccupancy)
	for _, c := range counts {
		w, ok := wards[c.Ward]
		if !ok {
			w = &WardOccupancy{Ward: c.Ward}
			wards[c.Ward] = w
		}
		w.Total += c.Count
		sum.Total += c.Count
		switch c.Status {
		case StatusOccupied:
			w.Occupied += c.Count
			sum.Occupied += c.Count
		case StatusAvailable:
			w.Available += c.Count
			sum.Available += c.Count
		case StatusMaintenance:
			w.Maintenance += c.Count
			sum.Maintenance += c.Count
		case StatusReserved:
			w.Reserved += c.Count
			sum.Reserved += c.Count
		}
	}
	for _, w := range wards {
		w.OccupancyRate = Rate(w.Occupied, w.Total)
		sum.Wards = append(sum.Wards, *w)
	}
	sort.Slice(sum.Wards, func(i, j int) bool { return sum.Wards[i].Ward < sum.Wards[j].Ward })
	sum.OccupancyRate = Rate(sum.Occupied, sum.Total)
	return sum
}

// Rate returns part/total as a percentage rounded to two decimals.
func Rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
