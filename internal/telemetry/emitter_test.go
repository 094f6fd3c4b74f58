package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/folio/internal/services/edge/storage"
)

type fakeEventStore struct {
	events []storage.TelemetryEvent
	err    error
}

func (f *fakeEventStore) AppendTelemetryEvent(_ context.Context, evt storage.TelemetryEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeEventStore) ListTelemetryEvents(_ context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return f.events[:limit], nil
}

func TestEmitDefaultsTimestampAndSeverity(t *testing.T) {
	store := &fakeEventStore{}
	fixed := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	emitter := NewEmitter(store, nil)
	emitter.clock = func() time.Time { return fixed }

	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{Name: EventActivated}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	if !store.events[0].Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", store.events[0].Timestamp, fixed)
	}
	if store.events[0].Severity != string(SeverityInfo) {
		t.Fatalf("severity = %q, want %q", store.events[0].Severity, SeverityInfo)
	}
}

func TestFailureLogsAndRecords(t *testing.T) {
	store := &fakeEventStore{}
	var logs []string
	emitter := NewEmitter(store, func(format string, args ...any) {
		logs = append(logs, fmt.Sprintf(format, args...))
	})

	emitter.Failure(context.Background(), EventCacheWriteFailed, "api-v1", "GET https://db.example.co/rest/v1/posts", errors.New("quota exceeded"))

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	evt := store.events[0]
	if evt.Severity != string(SeverityWarn) || evt.Tier != "api-v1" || evt.Message != "quota exceeded" {
		t.Fatalf("event = %+v", evt)
	}
	if len(logs) != 1 || !strings.Contains(logs[0], EventCacheWriteFailed) {
		t.Fatalf("logs = %v, want one line naming the event", logs)
	}
}

func TestEmitStoreErrorIsLogged(t *testing.T) {
	store := &fakeEventStore{err: errors.New("disk full")}
	var logs []string
	emitter := NewEmitter(store, func(format string, args ...any) {
		logs = append(logs, fmt.Sprintf(format, args...))
	})

	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{Name: EventTierDeleted}); err == nil {
		t.Fatal("expected store error")
	}
	if len(logs) != 2 || !strings.Contains(logs[1], "disk full") {
		t.Fatalf("logs = %v, want store failure logged", logs)
	}
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *Emitter
	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{Name: "x"}); err != nil {
		t.Fatalf("emit on nil: %v", err)
	}
	emitter.Failure(context.Background(), "x", "", "", nil)

	if err := NewEmitter(nil, nil).Emit(context.Background(), storage.TelemetryEvent{Name: "x"}); err != nil {
		t.Fatalf("emit without store: %v", err)
	}
}
