package bed

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/db"
	"github.com/ehr/patientflow/internal/platform/notification"
)

type fixture struct {
	svc   *Service
	store *MemoryStore
	pub   *notification.MemoryPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	pub := &notification.MemoryPublisher{}
	svc := NewService(store.Beds(), store.Assignments(), db.NewMemoryTxRunner(store))
	svc.SetEmitter(notification.NewEmitter(pub, svc.logger))
	return &fixture{svc: svc, store: store, pub: pub}
}

func (f *fixture) bed(t *testing.T, number, ward string) *Bed {
	t.Helper()
	b := &Bed{Number: number, Ward: ward, Type: TypeStandard}
	require.NoError(t, f.svc.CreateBed(context.Background(), b))
	return b
}

func (f *fixture) assign(t *testing.T, bedID, patientID uuid.UUID) *Assignment {
	t.Helper()
	a, err := f.svc.Assign(context.Background(), AssignRequest{BedID: bedID, PatientID: patientID, AssignedBy: "nurse-1"})
	require.NoError(t, err)
	return a
}

func (f *fixture) status(t *testing.T, id uuid.UUID) Status {
	t.Helper()
	b, err := f.svc.GetBed(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

// activeAssignmentsAgree checks that every occupied bed has exactly one
// active assignment and no other bed has any.
func (f *fixture) activeAssignmentsAgree(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	beds, _, err := f.svc.SearchBeds(ctx, nil, 0, 0)
	require.NoError(t, err)
	for _, b := range beds {
		active, _, err := f.svc.SearchAssignments(ctx, map[string]string{"bed_id": b.ID.String(), "status": "active"}, 0, 0)
		require.NoError(t, err)
		if b.Status == StatusOccupied {
			assert.Len(t, active, 1, "occupied bed %s", b.Number)
		} else {
			assert.Empty(t, active, "bed %s is %s", b.Number, b.Status)
		}
	}
}

func TestCreateBed(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "ICU-01", "ICU")
	assert.Equal(t, StatusAvailable, b.Status)
	assert.NotEqual(t, uuid.Nil, b.ID)

	err := f.svc.CreateBed(context.Background(), &Bed{Number: "ICU-01", Ward: "ICU", Type: TypeICU})
	assert.True(t, apperr.Is(err, apperr.KindDuplicateIdentifier), "got %v", err)
}

func TestCreateBed_Validation(t *testing.T) {
	f := newFixture(t)
	for name, b := range map[string]*Bed{
		"no number":    {Ward: "ICU", Type: TypeICU},
		"no ward":      {Number: "X-1", Type: TypeICU},
		"unknown type": {Number: "X-1", Ward: "ICU", Type: "hammock"},
	} {
		err := f.svc.CreateBed(context.Background(), b)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%s: got %v", name, err)
	}
}

func TestAssign_ThenSecondPatientRejected(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "ICU-01", "ICU")
	p1, p2 := uuid.New(), uuid.New()

	a := f.assign(t, b.ID, p1)
	assert.Equal(t, AssignmentActive, a.Status)
	assert.Equal(t, StatusOccupied, f.status(t, b.ID))

	_, err := f.svc.Assign(context.Background(), AssignRequest{BedID: b.ID, PatientID: p2, AssignedBy: "nurse-2"})
	assert.True(t, apperr.Is(err, apperr.KindResourceUnavailable), "got %v", err)

	events := f.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.KindBedAssigned, events[0].Kind)
	assert.Equal(t, "ward/ICU", events[0].Topic())
	f.activeAssignmentsAgree(t)
}

func TestAssign_PatientAlreadyHoldsBed(t *testing.T) {
	f := newFixture(t)
	b1 := f.bed(t, "A-1", "General")
	b2 := f.bed(t, "A-2", "General")
	p := uuid.New()
	f.assign(t, b1.ID, p)

	_, err := f.svc.Assign(context.Background(), AssignRequest{BedID: b2.ID, PatientID: p, AssignedBy: "nurse-1"})
	assert.True(t, apperr.Is(err, apperr.KindAlreadyAssigned), "got %v", err)
	assert.Equal(t, StatusAvailable, f.status(t, b2.ID))
}

func TestAssign_UnknownBed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Assign(context.Background(), AssignRequest{BedID: uuid.New(), PatientID: uuid.New(), AssignedBy: "n"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestAssign_RequiresActor(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "A-1", "General")
	_, err := f.svc.Assign(context.Background(), AssignRequest{BedID: b.ID, PatientID: uuid.New()})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}

func TestMaintenance_BlocksAssignmentUntilCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "S-1", "Surgical")

	got, err := f.svc.SetMaintenance(ctx, b.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusMaintenance, got.Status)

	_, err = f.svc.Assign(ctx, AssignRequest{BedID: b.ID, PatientID: uuid.New(), AssignedBy: "n"})
	assert.True(t, apperr.Is(err, apperr.KindResourceUnavailable), "got %v", err)

	got, err = f.svc.SetMaintenance(ctx, b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)
	f.assign(t, b.ID, uuid.New())
}

func TestMaintenance_RejectedWhileOccupied(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "S-1", "Surgical")
	f.assign(t, b.ID, uuid.New())

	_, err := f.svc.SetMaintenance(context.Background(), b.ID, true)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "got %v", err)
	assert.Equal(t, StatusOccupied, f.status(t, b.ID))
}

func TestOverride_OffWhenNotSet(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "S-1", "Surgical")
	_, err := f.svc.SetMaintenance(context.Background(), b.ID, false)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "got %v", err)

	_, err = f.svc.SetReserved(context.Background(), b.ID, true)
	require.NoError(t, err)
	_, err = f.svc.SetMaintenance(context.Background(), b.ID, true)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "maintenance over reservation: got %v", err)
}

func TestReserved_NotAssignable(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "M-1", "Maternity")
	_, err := f.svc.SetReserved(context.Background(), b.ID, true)
	require.NoError(t, err)

	_, err = f.svc.Assign(context.Background(), AssignRequest{BedID: b.ID, PatientID: uuid.New(), AssignedBy: "n"})
	assert.True(t, apperr.Is(err, apperr.KindResourceUnavailable), "got %v", err)
}

func TestDischarge_FreesBedAndIsNotRepeatable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "G-1", "General")
	a := f.assign(t, b.ID, uuid.New())

	notes := "home"
	closed, err := f.svc.Discharge(ctx, a.ID, &notes)
	require.NoError(t, err)
	assert.Equal(t, AssignmentDischarged, closed.Status)
	require.NotNil(t, closed.DischargedAt)
	assert.Equal(t, StatusAvailable, f.status(t, b.ID))

	_, err = f.svc.Discharge(ctx, a.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	// the bed can be reused
	f.assign(t, b.ID, uuid.New())
	f.activeAssignmentsAgree(t)
}

func TestTransfer_MovesPatientAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.bed(t, "ER-1", "ER")
	to := f.bed(t, "ICU-1", "ICU")
	p := uuid.New()
	a := f.assign(t, from.ID, p)

	next, err := f.svc.Transfer(ctx, a.ID, to.ID, "dr-grey", nil)
	require.NoError(t, err)
	assert.Equal(t, to.ID, next.BedID)
	assert.Equal(t, p, next.PatientID)
	assert.Equal(t, "dr-grey", next.AssignedBy)

	prev, err := f.svc.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentTransfer, prev.Status)
	assert.Equal(t, StatusAvailable, f.status(t, from.ID))
	assert.Equal(t, StatusOccupied, f.status(t, to.ID))

	active, err := f.svc.ActiveAssignmentForPatient(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, next.ID, active.ID)

	var transferred int
	for _, ev := range f.pub.Events() {
		if ev.Kind == notification.KindBedTransferred {
			transferred++
		}
	}
	assert.Equal(t, 2, transferred, "both wards are notified")
	f.activeAssignmentsAgree(t)
}

func TestTransfer_TargetUnavailableRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.bed(t, "ER-1", "ER")
	to := f.bed(t, "ER-2", "ER")
	a := f.assign(t, from.ID, uuid.New())
	f.assign(t, to.ID, uuid.New())

	_, err := f.svc.Transfer(ctx, a.ID, to.ID, "n", nil)
	assert.True(t, apperr.Is(err, apperr.KindResourceUnavailable), "got %v", err)

	prev, err := f.svc.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentActive, prev.Status, "old assignment must survive the failed transfer")
	assert.Equal(t, StatusOccupied, f.status(t, from.ID))
	f.activeAssignmentsAgree(t)
}

func TestTransfer_SameBed(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "ER-1", "ER")
	a := f.assign(t, b.ID, uuid.New())
	_, err := f.svc.Transfer(context.Background(), a.ID, b.ID, "n", nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "got %v", err)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	icu1 := f.bed(t, "ICU-1", "ICU")
	f.bed(t, "ICU-2", "ICU")
	g1 := f.bed(t, "G-1", "General")
	f.bed(t, "G-2", "General")
	f.bed(t, "G-3", "General")
	f.assign(t, icu1.ID, uuid.New())
	_, err := f.svc.SetMaintenance(ctx, g1.ID, true)
	require.NoError(t, err)

	sum, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 1, sum.Occupied)
	assert.Equal(t, 3, sum.Available)
	assert.Equal(t, 1, sum.Maintenance)
	assert.Equal(t, 20.0, sum.OccupancyRate)
	require.Len(t, sum.Wards, 2)
	assert.Equal(t, "General", sum.Wards[0].Ward)
	assert.Equal(t, 50.0, sum.Wards[1].OccupancyRate)

	again, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum, again, "summary does not change state")
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, Rate(0, 0))
	assert.Equal(t, 33.33, Rate(1, 3))
	assert.Equal(t, 100.0, Rate(4, 4))
}

func TestAssign_ConcurrentRequestsForOneBed(t *testing.T) {
	f := newFixture(t)
	b := f.bed(t, "ICU-9", "ICU")

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(context.Background(), AssignRequest{BedID: b.ID, PatientID: uuid.New(), AssignedBy: "n"})
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindResourceUnavailable), "got %v", err)
	}
	assert.Equal(t, 1, won)
	f.activeAssignmentsAgree(t)
}

func TestAssign_ConcurrentBedsForOnePatient(t *testing.T) {
	f := newFixture(t)
	p := uuid.New()
	beds := []*Bed{f.bed(t, "A", "W"), f.bed(t, "B", "W"), f.bed(t, "C", "W")}

	errs := make([]error, len(beds))
	var wg sync.WaitGroup
	for i, b := range beds {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(context.Background(), AssignRequest{BedID: id, PatientID: p, AssignedBy: "n"})
		}(i, b.ID)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindAlreadyAssigned), "got %v", err)
	}
	assert.Equal(t, 1, won)
	f.activeAssignmentsAgree(t)
}
