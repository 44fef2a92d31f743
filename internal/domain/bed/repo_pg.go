package bed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

func columns(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// scanAll drains rows with scan, closing rows on return.
func scanAll[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var items []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =========== Bed Repository ===========

type bedRepoPG struct{ pool *pgxpool.Pool }

func NewBedRepoPG(pool *pgxpool.Pool) BedRepository { return &bedRepoPG{pool: pool} }

func (r *bedRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

var bedColumnNames = []string{"id", "bed_number", "ward", "bed_type", "status",
	"location", "equipment", "notes", "created_at", "updated_at"}

var bedCols = strings.Join(bedColumnNames, ", ")

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.Number, &b.Ward, &b.Type, &b.Status,
		&b.Location, &b.Equipment, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *bedRepoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO beds (id, bed_number, ward, bed_type, status, location, equipment, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		b.ID, b.Number, b.Ward, b.Type, b.Status, b.Location, b.Equipment, b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if name, ok := db.UniqueViolation(err); ok && name == "beds_bed_number_key" {
		return apperr.DuplicateIdentifier("bed number %s already exists", b.Number)
	}
	if err != nil {
		return apperr.Internal("create bed", err)
	}
	return nil
}

func (r *bedRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*Bed, error) {
	b, err := scanBed(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("bed %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("load bed", err)
	}
	return b, nil
}

func (r *bedRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.get(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1`, id)
}

func (r *bedRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.get(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1 FOR UPDATE`, id)
}

func (r *bedRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE beds SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return apperr.Internal("update bed status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bed %s not found", id)
	}
	return nil
}

func bedFilter(params map[string]string) goqu.Ex {
	where := goqu.Ex{}
	for _, key := range []string{"ward", "bed_type", "status", "bed_number"} {
		if v, ok := params[key]; ok && v != "" {
			where[key] = v
		}
	}
	return where
}

func (r *bedRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Bed, int, error) {
	where := bedFilter(params)

	countSQL, countArgs, err := dialect.From("beds").Prepared(true).
		Select(goqu.COUNT(goqu.Star())).Where(where).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build bed count query", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count beds", err)
	}

	query, args, err := dialect.From("beds").Prepared(true).
		Select(columns(bedColumnNames)...).Where(where).
		Order(goqu.I("ward").Asc(), goqu.I("bed_number").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build bed search query", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("search beds", err)
	}
	items, err := scanAll(rows, scanBed)
	if err != nil {
		return nil, 0, apperr.Internal("scan beds", err)
	}
	return items, total, nil
}

func (r *bedRepoPG) CountByWardStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ward, status, COUNT(*) FROM beds
		GROUP BY ward, status ORDER BY ward, status`)
	if err != nil {
		return nil, apperr.Internal("count beds by ward", err)
	}
	defer rows.Close()
	var out []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Ward, &sc.Status, &sc.Count); err != nil {
			return nil, apperr.Internal("scan bed counts", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate bed counts", err)
	}
	return out, nil
}

// =========== Assignment Repository ===========

type assignmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

func (r *assignmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

var assignmentColumnNames = []string{"id", "bed_id", "patient_id", "assigned_by",
	"assigned_at", "discharged_at", "status", "notes"}

var assignmentCols = strings.Join(assignmentColumnNames, ", ")

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.BedID, &a.PatientID, &a.AssignedBy,
		&a.AssignedAt, &a.DischargedAt, &a.Status, &a.Notes)
	return &a, err
}

func (r *assignmentRepoPG) Create(ctx context.Context, a *Assignment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed_assignments (id, bed_id, patient_id, assigned_by, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING assigned_at`,
		a.ID, a.BedID, a.PatientID, a.AssignedBy, a.Status, a.Notes,
	).Scan(&a.AssignedAt)
	if name, ok := db.UniqueViolation(err); ok {
		switch name {
		case "uq_bed_assignments_active_bed":
			return apperr.ResourceUnavailable("bed %s already has an active occupant", a.BedID)
		case "uq_bed_assignments_active_patient":
			return apperr.AlreadyAssigned("patient %s already holds an active bed", a.PatientID)
		}
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("bed %s not found", a.BedID)
	}
	if err != nil {
		return apperr.Internal("create bed assignment", err)
	}
	return nil
}

func (r *assignmentRepoPG) one(ctx context.Context, what, query string, arg interface{}) (*Assignment, error) {
	a, err := scanAssignment(r.conn(ctx).QueryRow(ctx, query, arg))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("%s not found", what)
	}
	if err != nil {
		return nil, apperr.Internal("load bed assignment", err)
	}
	return a, nil
}

func (r *assignmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return r.one(ctx, fmt.Sprintf("bed assignment %s", id),
		`SELECT `+assignmentCols+` FROM bed_assignments WHERE id = $1`, id)
}

func (r *assignmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return r.one(ctx, fmt.Sprintf("bed assignment %s", id),
		`SELECT `+assignmentCols+` FROM bed_assignments WHERE id = $1 FOR UPDATE`, id)
}

// ActiveForPatient returns nil, nil when the patient holds no active bed.
func (r *assignmentRepoPG) ActiveForPatient(ctx context.Context, patientID uuid.UUID) (*Assignment, error) {
	a, err := r.one(ctx, "active assignment",
		`SELECT `+assignmentCols+` FROM bed_assignments WHERE patient_id = $1 AND status = 'active'`, patientID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	return a, err
}

// ActiveForBed returns nil, nil when the bed has no occupant.
func (r *assignmentRepoPG) ActiveForBed(ctx context.Context, bedID uuid.UUID) (*Assignment, error) {
	a, err := r.one(ctx, "active assignment",
		`SELECT `+assignmentCols+` FROM bed_assignments WHERE bed_id = $1 AND status = 'active'`, bedID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *assignmentRepoPG) Close(ctx context.Context, id uuid.UUID, status AssignmentStatus, at time.Time, notes *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed_assignments
		SET status = $2, discharged_at = $3, notes = COALESCE($4, notes)
		WHERE id = $1 AND status = 'active'`,
		id, status, at, notes)
	if err != nil {
		return apperr.Internal("close bed assignment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("no active bed assignment %s", id)
	}
	return nil
}

func (r *assignmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error) {
	where := goqu.Ex{}
	for _, key := range []string{"bed_id", "patient_id", "status", "assigned_by"} {
		if v, ok := params[key]; ok && v != "" {
			where[key] = v
		}
	}

	countSQL, countArgs, err := dialect.From("bed_assignments").Prepared(true).
		Select(goqu.COUNT(goqu.Star())).Where(where).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build assignment count query", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count bed assignments", err)
	}

	query, args, err := dialect.From("bed_assignments").Prepared(true).
		Select(columns(assignmentColumnNames)...).Where(where).
		Order(goqu.I("assigned_at").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build assignment search query", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("search bed assignments", err)
	}
	items, err := scanAll(rows, scanAssignment)
	if err != nil {
		return nil, 0, apperr.Internal("scan bed assignments", err)
	}
	return items, total, nil
}
