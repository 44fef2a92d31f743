package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewEvent(t *testing.T) {
	ev := NewEvent(ScopeWard, "ICU", KindBedAssigned, map[string]interface{}{"bed_number": "ICU-01"})
	if ev.ID == "" {
		t.Error("expected generated id")
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected timestamp")
	}
	if ev.Topic() != "ward/ICU" {
		t.Errorf("unexpected topic %q", ev.Topic())
	}
}

func TestFanout_PublishesToAll(t *testing.T) {
	a, b := &MemoryPublisher{}, &MemoryPublisher{}
	f := Fanout{a, nil, b}
	if err := f.Publish(context.Background(), NewEvent(ScopeDepartment, "General", KindPatientAdmitted, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("expected both publishers to receive the event, got %d and %d", len(a.Events()), len(b.Events()))
	}
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := &MemoryPublisher{}
	failing := &MemoryPublisher{Err: errors.New("redis down")}
	err := Fanout{failing, ok}.Publish(context.Background(), NewEvent(ScopeWard, "A", KindBedDischarged, nil))
	if err == nil || !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.Events()) != 1 {
		t.Error("a failing publisher must not stop the others")
	}
}

func TestLogPublisher_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))
	if err := p.Publish(context.Background(), NewEvent(ScopeWard, "Maternity", KindBedAssigned, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["kind"] != "bed.assigned" || line["target"] != "Maternity" {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestRedisPublisher_Channel(t *testing.T) {
	p := NewRedisPublisher(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	ev := NewEvent(ScopeDepartment, "Radiology", KindPatientAdmitted, nil)
	if got := p.Channel(ev); got != "patientflow:department:Radiology" {
		t.Errorf("unexpected channel %q", got)
	}
}

func TestEmitter_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&MemoryPublisher{Err: errors.New("unreachable")}, zerolog.New(&buf))
	e.Emit(context.Background(), NewEvent(ScopeWard, "ER", KindBedAssigned, nil))
	if !strings.Contains(buf.String(), "failed to publish flow event") {
		t.Errorf("expected warning in log, got %q", buf.String())
	}
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var e *Emitter
	e.Emit(context.Background(), NewEvent(ScopeWard, "ER", KindBedAssigned, nil))
}
