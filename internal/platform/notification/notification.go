// Package notification publishes logical patient-flow events to whatever
// delivery channels are configured (Redis pub/sub, live websocket boards,
// the log). Delivery semantics belong to the subscribers; publishing never
// fails the command that produced the event.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// Scope names the hospital area an event is addressed to.
type Scope string

const (
	ScopeWard       Scope = "ward"
	ScopeDepartment Scope = "department"
)

// Kind identifies what happened.
type Kind string

const (
	KindBedAssigned     Kind = "bed.assigned"
	KindBedDischarged   Kind = "bed.discharged"
	KindBedTransferred  Kind = "bed.transferred"
	KindPatientAdmitted Kind = "patient.admitted"
)

// Event is a logical notification addressed to one ward or department.
type Event struct {
	ID         string                 `json:"id"`
	Scope      Scope                  `json:"scope"`
	Target     string                 `json:"target"`
	Kind       Kind                   `json:"kind"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(scope Scope, target string, kind Kind, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Scope:      scope,
		Target:     target,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Topic is the routing key "<scope>/<target>" used by live boards.
func (e Event) Topic() string {
	return fmt.Sprintf("%s/%s", e.Scope, e.Target)
}

// ---------------------------------------------------------------------------
// Publishers
// ---------------------------------------------------------------------------

// Publisher delivers events to one channel.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes each event to a zerolog logger.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info().
		Str("event_id", event.ID).
		Str("scope", string(event.Scope)).
		Str("target", event.Target).
		Str("kind", string(event.Kind)).
		Interface("payload", event.Payload).
		Msg("flow event")
	return nil
}

// RedisPublisher publishes JSON-encoded events on the channel
// "<prefix>:<scope>:<target>".
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "patientflow"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel an event is sent on.
func (p *RedisPublisher) Channel(event Event) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, event.Scope, event.Target)
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(event), data).Err(); err != nil {
		return fmt.Errorf("publish event to redis: %w", err)
	}
	return nil
}

// MemoryPublisher records published events. Useful for tests and for a
// single-process development server.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ---------------------------------------------------------------------------
// Emitter
// ---------------------------------------------------------------------------

// Emitter publishes events after a command has committed, logging publish
// failures instead of returning them.
type Emitter struct {
	pub    Publisher
	logger zerolog.Logger
}

func NewEmitter(pub Publisher, logger zerolog.Logger) *Emitter {
	return &Emitter{pub: pub, logger: logger}
}

// Emit publishes each event in order. A nil Emitter is a no-op.
func (e *Emitter) Emit(ctx context.Context, events ...Event) {
	if e == nil || e.pub == nil {
		return
	}
	for _, ev := range events {
		if err := e.pub.Publish(ctx, ev); err != nil {
			e.logger.Warn().Err(err).
				Str("kind", string(ev.Kind)).
				Str("topic", ev.Topic()).
				Msg("failed to publish flow event")
		}
	}
}
