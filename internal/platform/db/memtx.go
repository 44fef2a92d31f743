package db

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories that take part in a
// MemoryTxRunner unit. Snapshot captures the current state and returns a
// function that restores it.
type Snapshotter interface {
	Snapshot() (restore func())
}

// MemoryTxRunner serializes units of work over in-memory repositories. A
// failed unit restores every enlisted repository to its state before the unit
// started.
type MemoryTxRunner struct {
	mu           sync.Mutex
	participants []Snapshotter
}

func NewMemoryTxRunner(participants ...Snapshotter) *MemoryTxRunner {
	return &MemoryTxRunner{participants: participants}
}

// Enlist adds repositories to the set restored on failure.
func (r *MemoryTxRunner) Enlist(participants ...Snapshotter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = append(r.participants, participants...)
}

type memTxKey struct{}

func (r *MemoryTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(memTxKey{}).(*MemoryTxRunner); owner == r {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restores := make([]func(), 0, len(r.participants))
	for _, p := range r.participants {
		restores = append(restores, p.Snapshot())
	}

	if err := fn(context.WithValue(ctx, memTxKey{}, r)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
