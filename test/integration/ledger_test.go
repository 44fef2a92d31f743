package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/domain/bed"
	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/domain/queue"
	"github.com/ehr/patientflow/internal/platform/apperr"
)

func TestBedAssignmentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	ward := uniqueName("ward")
	b := createBed(t, ctx, s, ward)
	patient := uuid.New()

	var assignment *bed.Assignment
	t.Run("Assign", func(t *testing.T) {
		a, err := s.beds.Assign(ctx, bed.AssignRequest{BedID: b.ID, PatientID: patient, AssignedBy: "nurse-1"})
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		assignment = a
		got, err := s.beds.GetBed(ctx, b.ID)
		if err != nil {
			t.Fatalf("get bed: %v", err)
		}
		if got.Status != bed.StatusOccupied {
			t.Errorf("expected occupied, got %s", got.Status)
		}
	})

	t.Run("Duplicate_Bed_Number", func(t *testing.T) {
		err := s.beds.CreateBed(ctx, &bed.Bed{Number: b.Number, Ward: ward})
		if !apperr.Is(err, apperr.KindDuplicateIdentifier) {
			t.Fatalf("expected duplicate identifier, got %v", err)
		}
	})

	t.Run("Occupied_Bed_Rejected", func(t *testing.T) {
		_, err := s.beds.Assign(ctx, bed.AssignRequest{BedID: b.ID, PatientID: uuid.New(), AssignedBy: "nurse-1"})
		if !apperr.Is(err, apperr.KindResourceUnavailable) {
			t.Fatalf("expected resource unavailable, got %v", err)
		}
	})

	t.Run("Transfer", func(t *testing.T) {
		target := createBed(t, ctx, s, ward)
		next, err := s.beds.Transfer(ctx, assignment.ID, target.ID, "nurse-2", nil)
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
		old, err := s.beds.GetAssignment(ctx, assignment.ID)
		if err != nil {
			t.Fatalf("get old assignment: %v", err)
		}
		if old.Status != bed.AssignmentTransfer || old.DischargedAt == nil {
			t.Errorf("expected closed transfer assignment, got %s", old.Status)
		}
		freed, _ := s.beds.GetBed(ctx, b.ID)
		if freed.Status != bed.StatusAvailable {
			t.Errorf("expected source bed available, got %s", freed.Status)
		}
		assignment = next
	})

	t.Run("Discharge", func(t *testing.T) {
		if _, err := s.beds.Discharge(ctx, assignment.ID, nil); err != nil {
			t.Fatalf("discharge: %v", err)
		}
		active, err := s.beds.ActiveAssignmentForPatient(ctx, patient)
		if err != nil {
			t.Fatalf("active assignment: %v", err)
		}
		if active != nil {
			t.Errorf("expected no active assignment, got %s", active.ID)
		}
		if _, err := s.beds.Discharge(ctx, assignment.ID, nil); !apperr.Is(err, apperr.KindNotFound) {
			t.Errorf("expected not found on second discharge, got %v", err)
		}
	})
}

func TestConcurrentAssignSameBed(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	b := createBed(t, ctx, s, uniqueName("ward"))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.beds.Assign(ctx, bed.AssignRequest{BedID: b.ID, PatientID: uuid.New(), AssignedBy: "nurse"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case !apperr.Is(err, apperr.KindResourceUnavailable):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestConcurrentEnqueuePositions(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	dept := uniqueName("dept")

	const workers = 20
	var wg sync.WaitGroup
	positions := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
				Department: dept, CheckinID: uuid.New(), PatientID: uuid.New(), Priority: 3,
			})
			if err != nil {
				t.Errorf("enqueue: %v", err)
				return
			}
			positions <- e.Position
		}()
	}
	wg.Wait()
	close(positions)

	seen := map[int64]bool{}
	for p := range positions {
		if seen[p] {
			t.Errorf("position %d handed out twice", p)
		}
		seen[p] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d positions, got %d", workers, len(seen))
	}
	for p := int64(1); p <= workers; p++ {
		if !seen[p] {
			t.Errorf("expected contiguous positions, missing %d", p)
		}
	}
}

func TestQueueOrderingAndTrail(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	dept := uniqueName("dept")

	routine := enqueue(t, ctx, s, dept, 5)
	urgent := enqueue(t, ctx, s, dept, 1)
	enqueue(t, ctx, s, dept, 5)

	next, err := s.queue.Next(ctx, dept)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.ID != urgent.ID {
		t.Fatalf("expected urgent entry first, got %s", next.ID)
	}

	if _, err := s.queue.Transition(ctx, urgent.ID, queue.StatusInService); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := s.queue.Transition(ctx, urgent.ID, queue.StatusWaiting); !apperr.Is(err, apperr.KindInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}

	next, _ = s.queue.Next(ctx, dept)
	if next.ID != routine.ID {
		t.Errorf("expected earliest routine entry next, got %s", next.ID)
	}

	events, err := s.queue.Events(ctx, urgent.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 trail events, got %d", len(events))
	}
	if events[0].FromStatus != nil || events[1].Seq <= events[0].Seq {
		t.Errorf("unexpected trail order: %+v", events)
	}

	report, err := s.queue.PercentileWait(ctx, dept, queue.StatusWaiting, time.Hour, 50)
	if err != nil {
		t.Fatalf("percentile: %v", err)
	}
	if report.Count != 3 {
		t.Errorf("expected 3 samples, got %d", report.Count)
	}
}

func TestAdmitFromQueueRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	ward := uniqueName("ward")
	dept := uniqueName("dept")
	b := createBed(t, ctx, s, ward)
	if _, err := s.beds.SetMaintenance(ctx, b.ID, true); err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	e := enqueue(t, ctx, s, dept, 2)

	_, err := s.flow.AdmitFromQueue(ctx, flow.AdmitRequest{EntryID: e.ID, BedID: b.ID, AssignedBy: "nurse"})
	if !apperr.Is(err, apperr.KindResourceUnavailable) {
		t.Fatalf("expected resource unavailable, got %v", err)
	}

	got, err := s.queue.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != queue.StatusWaiting {
		t.Errorf("expected entry still waiting, got %s", got.Status)
	}
	events, _ := s.queue.Events(ctx, e.ID)
	if len(events) != 1 {
		t.Errorf("expected trail untouched, got %d events", len(events))
	}
}

func TestAdmitFromQueueCommits(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	ward := uniqueName("ward")
	dept := uniqueName("dept")
	b := createBed(t, ctx, s, ward)
	e := enqueue(t, ctx, s, dept, 2)

	adm, err := s.flow.AdmitFromQueue(ctx, flow.AdmitRequest{EntryID: e.ID, BedID: b.ID, AssignedBy: "nurse"})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.Entry.Status != queue.StatusDone {
		t.Errorf("expected done entry, got %s", adm.Entry.Status)
	}
	if adm.Assignment.PatientID != e.PatientID {
		t.Errorf("expected assignment for queued patient")
	}

	events, _ := s.queue.Events(ctx, e.ID)
	if len(events) != 3 {
		t.Errorf("expected waiting, in_service and done events, got %d", len(events))
	}

	wards, err := s.flow.WardBreakdown(ctx)
	if err != nil {
		t.Fatalf("wards: %v", err)
	}
	for _, w := range wards {
		if w.Ward == ward && w.Level != flow.OccupancyFull {
			t.Errorf("expected %s full, got %s", ward, w.Level)
		}
	}
}
