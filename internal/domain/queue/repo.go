package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntryRepository persists queue entries.
type EntryRepository interface {
	// NextPosition increments and returns the department's insertion
	// counter. It must run in the same transaction as the Create it feeds.
	NextPosition(ctx context.Context, department string) (int64, error)
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdatePriority(ctx context.Context, id uuid.UUID, priority int) error
	// Next returns nil, nil when nobody is waiting.
	Next(ctx context.Context, department string) (*Entry, error)
	// Waiting returns waiting entries in serving order.
	Waiting(ctx context.Context, department string) ([]*Entry, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error)
	Depths(ctx context.Context) ([]DepartmentDepth, error)
}

// EventRepository is the event trail. It only ever inserts.
type EventRepository interface {
	// Append fails with NotFound when the entry does not exist.
	Append(ctx context.Context, ev *Event) error
	ListByEntry(ctx context.Context, entryID uuid.UUID) ([]*Event, error)
	// ListForDepartment returns the trails of entries created in department
	// at or after since, keyed by entry id.
	ListForDepartment(ctx context.Context, department string, since time.Time) (map[uuid.UUID][]*Event, error)
}
