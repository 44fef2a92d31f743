package queue

import (
	"context"
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

// =========== Entry Repository ===========

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewEntryRepoPG(pool *pgxpool.Pool) EntryRepository { return &entryRepoPG{pool: pool} }

func (r *entryRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

var entryColumnNames = []string{"id", "department", "checkin_id", "patient_id", "status",
	"priority", "position", "created_at", "updated_at"}

var entryCols = strings.Join(entryColumnNames, ", ")

// servingOrder is the only ordering of a department queue.
const servingOrder = `priority ASC, position ASC, created_at ASC`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Department, &e.CheckinID, &e.PatientID, &e.Status,
		&e.Priority, &e.Position, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *entryRepoPG) NextPosition(ctx context.Context, department string) (int64, error) {
	var pos int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_counters (department, last_position) VALUES ($1, 1)
		ON CONFLICT (department) DO UPDATE SET last_position = queue_counters.last_position + 1
		RETURNING last_position`, department).Scan(&pos)
	if err != nil {
		return 0, apperr.Internal("advance queue counter", err)
	}
	return pos, nil
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entries (id, department, checkin_id, patient_id, status, priority, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		e.ID, e.Department, e.CheckinID, e.PatientID, e.Status, e.Priority, e.Position,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if name, ok := db.UniqueViolation(err); ok && name == "uq_queue_entries_department_position" {
		return apperr.DuplicateIdentifier("position %d already taken in %s", e.Position, e.Department)
	}
	if err != nil {
		return apperr.Internal("create queue entry", err)
	}
	return nil
}

func (r *entryRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("queue entry %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("load queue entry", err)
	}
	return e, nil
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return r.get(ctx, `SELECT `+entryCols+` FROM queue_entries WHERE id = $1`, id)
}

func (r *entryRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return r.get(ctx, `SELECT `+entryCols+` FROM queue_entries WHERE id = $1 FOR UPDATE`, id)
}

func (r *entryRepoPG) exec(ctx context.Context, what string, id uuid.UUID, query string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return apperr.Internal(what, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("queue entry %s not found", id)
	}
	return nil
}

func (r *entryRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return r.exec(ctx, "update queue entry status", id,
		`UPDATE queue_entries SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *entryRepoPG) UpdatePriority(ctx context.Context, id uuid.UUID, priority int) error {
	return r.exec(ctx, "update queue entry priority", id,
		`UPDATE queue_entries SET priority = $2, updated_at = NOW() WHERE id = $1`, id, priority)
}

func (r *entryRepoPG) Next(ctx context.Context, department string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entries
		WHERE department = $1 AND status = 'waiting'
		ORDER BY `+servingOrder+` LIMIT 1`, department))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("load next queue entry", err)
	}
	return e, nil
}

func (r *entryRepoPG) Waiting(ctx context.Context, department string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM queue_entries
		WHERE department = $1 AND status = 'waiting'
		ORDER BY `+servingOrder, department)
	if err != nil {
		return nil, apperr.Internal("list waiting entries", err)
	}
	items, err := scanEntries(rows)
	if err != nil {
		return nil, apperr.Internal("scan waiting entries", err)
	}
	return items, nil
}

func (r *entryRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	where := goqu.Ex{}
	for _, key := range []string{"department", "status", "checkin_id", "patient_id"} {
		if v, ok := params[key]; ok && v != "" {
			where[key] = v
		}
	}

	countSQL, countArgs, err := dialect.From("queue_entries").Prepared(true).
		Select(goqu.COUNT(goqu.Star())).Where(where).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build queue count query", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count queue entries", err)
	}

	cols := make([]interface{}, len(entryColumnNames))
	for i, n := range entryColumnNames {
		cols[i] = n
	}
	query, args, err := dialect.From("queue_entries").Prepared(true).
		Select(cols...).Where(where).
		Order(goqu.I("department").Asc(), goqu.I("priority").Asc(), goqu.I("position").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build queue search query", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("search queue entries", err)
	}
	items, err := scanEntries(rows)
	if err != nil {
		return nil, 0, apperr.Internal("scan queue entries", err)
	}
	return items, total, nil
}

func (r *entryRepoPG) Depths(ctx context.Context) ([]DepartmentDepth, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT department,
		       COUNT(*) FILTER (WHERE status = 'waiting'),
		       COUNT(*) FILTER (WHERE status = 'in_service'),
		       MIN(created_at) FILTER (WHERE status = 'waiting')
		FROM queue_entries
		WHERE status IN ('waiting', 'in_service')
		GROUP BY department
		ORDER BY department`)
	if err != nil {
		return nil, apperr.Internal("load queue depths", err)
	}
	defer rows.Close()
	var out []DepartmentDepth
	for rows.Next() {
		var d DepartmentDepth
		if err := rows.Scan(&d.Department, &d.Waiting, &d.InService, &d.OldestWaiting); err != nil {
			return nil, apperr.Internal("scan queue depth", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate queue depths", err)
	}
	return out, nil
}

// =========== Event Repository ===========

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository { return &eventRepoPG{pool: pool} }

func (r *eventRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const eventCols = `seq, id, entry_id, from_status, to_status, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(&ev.Seq, &ev.ID, &ev.EntryID, &ev.FromStatus, &ev.ToStatus, &ev.CreatedAt)
	return &ev, err
}

// Append stamps created_at with clock_timestamp() so events written in one
// transaction still carry distinct times.
func (r *eventRepoPG) Append(ctx context.Context, ev *Event) error {
	ev.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_events (id, entry_id, from_status, to_status, created_at)
		VALUES ($1, $2, $3, $4, clock_timestamp())
		RETURNING seq, created_at`,
		ev.ID, ev.EntryID, ev.FromStatus, ev.ToStatus,
	).Scan(&ev.Seq, &ev.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("queue entry %s not found", ev.EntryID)
	}
	if err != nil {
		return apperr.Internal("append queue event", err)
	}
	return nil
}

func (r *eventRepoPG) ListByEntry(ctx context.Context, entryID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+eventCols+` FROM queue_events WHERE entry_id = $1 ORDER BY seq`, entryID)
	if err != nil {
		return nil, apperr.Internal("list queue events", err)
	}
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Internal("scan queue event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate queue events", err)
	}
	return out, nil
}

func (r *eventRepoPG) ListForDepartment(ctx context.Context, department string, since time.Time) (map[uuid.UUID][]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ev.seq, ev.id, ev.entry_id, ev.from_status, ev.to_status, ev.created_at
		FROM queue_events ev
		JOIN queue_entries qe ON qe.id = ev.entry_id
		WHERE qe.department = $1 AND qe.created_at >= $2
		ORDER BY ev.entry_id, ev.seq`, department, since)
	if err != nil {
		return nil, apperr.Internal("list department events", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID][]*Event)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Internal("scan queue event", err)
		}
		out[ev.EntryID] = append(out[ev.EntryID], ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate department events", err)
	}
	return out, nil
}
