package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/services/edge/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return openTempStore(t)
	})
}

func TestEmptyTierSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.EnsureTier(context.Background(), "fonts-v3"); err != nil {
		t.Fatalf("ensure tier: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	tiers, err := reopened.Tiers(context.Background())
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if len(tiers) != 1 || tiers[0] != "fonts-v3" {
		t.Fatalf("tiers = %v, want [fonts-v3]", tiers)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected path error")
	}
}

func TestNilStoreNotConfigured(t *testing.T) {
	var store *Store
	if err := store.EnsureTier(context.Background(), "shell-v1"); err == nil {
		t.Fatal("expected not configured error")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "edge.bolt"))
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
