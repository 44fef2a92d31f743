package flow

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/bed"
	"github.com/ehr/patientflow/internal/domain/queue"
	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/cache"
	"github.com/ehr/patientflow/internal/platform/db"
	"github.com/ehr/patientflow/internal/platform/metrics"
	"github.com/ehr/patientflow/internal/platform/notification"
)

const overviewKey = "flow:overview"

// Coordinator runs the operations that span the bed and queue ledgers and
// builds the dashboard views over both.
type Coordinator struct {
	beds     *bed.Service
	queue    *queue.Service
	tx       db.TxRunner
	cache    cache.Cache
	cacheTTL time.Duration
	events   *notification.Emitter
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	highPct  float64
	now      func() time.Time
}

// NewCoordinator wires the two ledgers. tx must be the same runner the
// ledgers use so their work joins one unit.
func NewCoordinator(beds *bed.Service, q *queue.Service, tx db.TxRunner) *Coordinator {
	return &Coordinator{
		beds:    beds,
		queue:   q,
		tx:      tx,
		logger:  zerolog.Nop(),
		highPct: 85,
		now:     time.Now,
	}
}

// SetCache serves Overview from c for up to ttl.
func (c *Coordinator) SetCache(store cache.Cache, ttl time.Duration) {
	c.cache = store
	c.cacheTTL = ttl
}

func (c *Coordinator) SetEmitter(e *notification.Emitter) { c.events = e }

func (c *Coordinator) SetMetrics(m *metrics.Recorder) { c.metrics = m }

func (c *Coordinator) SetLogger(l zerolog.Logger) { c.logger = l }

func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// SetOccupancyHigh sets the occupancy percentage at which a ward is "high".
func (c *Coordinator) SetOccupancyHigh(pct float64) { c.highPct = pct }

// -- Commands --

// AdmitFromQueue finishes a queue entry and places its patient in a bed as
// one unit. A waiting entry passes through in_service first. If either
// ledger rejects, nothing is written.
func (c *Coordinator) AdmitFromQueue(ctx context.Context, req AdmitRequest) (*Admission, error) {
	var changes []*queue.Change
	var assignment *bed.Assignment
	var placed *bed.Bed

	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		entry, err := c.queue.GetEntry(ctx, req.EntryID)
		if err != nil {
			return err
		}
		steps := []queue.Status{queue.StatusDone}
		if entry.Status == queue.StatusWaiting {
			steps = []queue.Status{queue.StatusInService, queue.StatusDone}
		}
		for _, to := range steps {
			ch, err := c.queue.TransitionWithin(ctx, req.EntryID, to)
			if err != nil {
				return err
			}
			changes = append(changes, ch)
		}

		assignment, placed, err = c.beds.AssignWithin(ctx, bed.AssignRequest{
			BedID:      req.BedID,
			PatientID:  entry.PatientID,
			AssignedBy: req.AssignedBy,
			Notes:      req.Notes,
		})
		return err
	})
	if err != nil {
		if kind := apperr.KindOf(err); kind != apperr.KindInternal {
			c.metrics.Rejected("admit_from_queue", string(kind))
		}
		return nil, err
	}

	for _, ch := range changes {
		c.queue.Transitioned(ch)
	}
	c.beds.Assigned(ctx, assignment, placed)
	entry := changes[len(changes)-1].Entry

	c.logger.Info().
		Str("entry_id", entry.ID.String()).
		Str("assignment_id", assignment.ID.String()).
		Str("department", entry.Department).
		Str("ward", placed.Ward).
		Msg("patient admitted from queue")
	payload := map[string]interface{}{
		"entry_id":      entry.ID.String(),
		"assignment_id": assignment.ID.String(),
		"patient_id":    entry.PatientID.String(),
		"bed_number":    placed.Number,
		"ward":          placed.Ward,
		"department":    entry.Department,
	}
	c.events.Emit(ctx,
		notification.NewEvent(notification.ScopeWard, placed.Ward, notification.KindPatientAdmitted, payload),
		notification.NewEvent(notification.ScopeDepartment, entry.Department, notification.KindPatientAdmitted, payload),
	)
	c.invalidate(ctx)
	return &Admission{Entry: entry, Assignment: assignment}, nil
}

// DischargeAndRelease discharges through the bed ledger only; queue entries
// are not touched.
func (c *Coordinator) DischargeAndRelease(ctx context.Context, assignmentID uuid.UUID, notes *string) (*bed.Assignment, error) {
	a, err := c.beds.Discharge(ctx, assignmentID, notes)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return a, nil
}

func (c *Coordinator) invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, overviewKey); err != nil {
		c.logger.Warn().Err(err).Msg("failed to invalidate flow overview")
	}
}

// -- Views --

func (c *Coordinator) grade(w bed.WardOccupancy) OccupancyLevel {
	switch {
	case w.Total > 0 && w.Available == 0:
		return OccupancyFull
	case w.OccupancyRate >= c.highPct:
		return OccupancyHigh
	}
	return OccupancyNormal
}

func (c *Coordinator) wards(sum *bed.Summary) []WardStatus {
	out := make([]WardStatus, len(sum.Wards))
	for i, w := range sum.Wards {
		out[i] = WardStatus{WardOccupancy: w, Level: c.grade(w)}
	}
	return out
}

// WardBreakdown is per-ward occupancy with a load level.
func (c *Coordinator) WardBreakdown(ctx context.Context) ([]WardStatus, error) {
	sum, err := c.beds.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return c.wards(sum), nil
}

// DepartmentBreakdown is per-department queue depth, the longest current
// wait and who is up next.
func (c *Coordinator) DepartmentBreakdown(ctx context.Context) ([]DepartmentStatus, error) {
	depths, err := c.queue.DepartmentDepths(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now()
	th := c.queue.Thresholds()
	out := make([]DepartmentStatus, 0, len(depths))
	for _, d := range depths {
		ds := DepartmentStatus{
			Department: d.Department,
			Waiting:    d.Waiting,
			InService:  d.InService,
		}
		if d.OldestWaiting != nil && now.After(*d.OldestWaiting) {
			ds.LongestWaitMinutes = math.Round(now.Sub(*d.OldestWaiting).Minutes()*100) / 100
		}
		if d.Waiting > 0 {
			next, err := c.queue.Next(ctx, d.Department)
			if err != nil {
				return nil, err
			}
			if next != nil {
				id := next.ID
				ds.NextEntryID = &id
			}
		}
		ds.Level = th.Grade(ds.LongestWaitMinutes)
		out = append(out, ds)
	}
	return out, nil
}

// Overview combines both breakdowns. With a cache set, a result may be
// served for up to the cache TTL after it was computed.
func (c *Coordinator) Overview(ctx context.Context) (*Overview, error) {
	if c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, overviewKey)
		if err != nil {
			c.logger.Warn().Err(err).Msg("flow overview cache read failed")
		}
		if ok {
			var ov Overview
			if err := json.Unmarshal(raw, &ov); err == nil {
				return &ov, nil
			}
		}
	}

	sum, err := c.beds.Summary(ctx)
	if err != nil {
		return nil, err
	}
	depts, err := c.DepartmentBreakdown(ctx)
	if err != nil {
		return nil, err
	}
	ov := &Overview{
		Beds:        sum,
		Wards:       c.wards(sum),
		Departments: depts,
		GeneratedAt: c.now().UTC(),
	}
	c.record(ov)

	if c.cache != nil {
		raw, err := json.Marshal(ov)
		if err == nil {
			err = c.cache.Set(ctx, overviewKey, raw, c.cacheTTL)
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("flow overview cache write failed")
		}
	}
	return ov, nil
}

// record refreshes the bed and queue gauges from a fresh overview.
func (c *Coordinator) record(ov *Overview) {
	beds := make(map[string]map[string]int, len(ov.Wards))
	for _, w := range ov.Wards {
		beds[w.Ward] = map[string]int{
			string(bed.StatusAvailable):   w.Available,
			string(bed.StatusOccupied):    w.Occupied,
			string(bed.StatusMaintenance): w.Maintenance,
			string(bed.StatusReserved):    w.Reserved,
		}
	}
	c.metrics.SetBeds(beds)

	depth := make(map[string]map[string]int, len(ov.Departments))
	for _, d := range ov.Departments {
		depth[d.Department] = map[string]int{
			string(queue.StatusWaiting):   d.Waiting,
			string(queue.StatusInService): d.InService,
		}
	}
	c.metrics.SetQueueDepth(depth)
}
