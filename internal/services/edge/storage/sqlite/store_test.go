package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/services/edge/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return openTempStore(t)
	})
}

func TestReopenKeepsTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Put(context.Background(), "shell-v1", storetest.SampleEntry("GET https://example.com/", "root")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "shell-v1", "GET https://example.com/")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got.Body) != "root" {
		t.Fatalf("body = %q, want %q", got.Body, "root")
	}
}

func TestAppendAndListTelemetryEvents(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{
		Name:      "edge.cache_write_failed",
		Severity:  "WARN",
		Tier:      "api-v1",
		Key:       "GET https://db.example.co/rest/v1/projects",
		Message:   "disk full",
		Timestamp: now,
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{
		Name:      "edge.tier_deleted",
		Severity:  "INFO",
		Tier:      "shell-v0",
		Timestamp: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("append second event: %v", err)
	}

	events, err := store.ListTelemetryEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events len = %d, want 2", len(events))
	}
	if events[0].Name != "edge.tier_deleted" {
		t.Fatalf("events[0].name = %q, want %q", events[0].Name, "edge.tier_deleted")
	}
	if events[1].Message != "disk full" {
		t.Fatalf("events[1].message = %q, want %q", events[1].Message, "disk full")
	}
	if !events[1].Timestamp.Equal(now) {
		t.Fatalf("events[1].timestamp = %v, want %v", events[1].Timestamp, now)
	}
}

func TestTelemetryValidation(t *testing.T) {
	store := openTempStore(t)

	if err := store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{}); err == nil {
		t.Fatal("expected validation error for empty event")
	}
	if _, err := store.ListTelemetryEvents(context.Background(), 0); err == nil {
		t.Fatal("expected validation error for zero limit")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected path error")
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edge.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
