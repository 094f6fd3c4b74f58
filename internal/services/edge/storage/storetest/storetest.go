// Package storetest holds the behavior every storage.Store implementation
// must share.
package storetest

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/louisbranch/folio/internal/services/edge/storage"
)

// Opener returns an empty store scoped to the test.
type Opener func(t *testing.T) storage.Store

// Run exercises the storage.Store contract against stores built by open.
func Run(t *testing.T, open Opener) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGetRoundTrip(t, open(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("PutOverwrites", func(t *testing.T) { testPutOverwrites(t, open(t)) })
	t.Run("EnsureTierListsEmptyTier", func(t *testing.T) { testEnsureTierListsEmptyTier(t, open(t)) })
	t.Run("DeleteTierRemovesEntries", func(t *testing.T) { testDeleteTierRemovesEntries(t, open(t)) })
	t.Run("PutBatch", func(t *testing.T) { testPutBatch(t, open(t)) })
	t.Run("PutBatchRejectsInvalidEntryAtomically", func(t *testing.T) { testPutBatchAtomic(t, open(t)) })
	t.Run("Validation", func(t *testing.T) { testValidation(t, open(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceledContext(t, open(t)) })
}

// SampleEntry builds a 200 entry for key with body.
func SampleEntry(key, body string) storage.Entry {
	return storage.Entry{
		Key:      key,
		Method:   http.MethodGet,
		URL:      "https://example.com/" + body,
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:     []byte(body),
		Vary:     map[string]string{"Accept-Encoding": "gzip"},
		StoredAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func testPutGetRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	want := SampleEntry("GET https://example.com/app.js", "console.log(1)")
	if err := store.Put(ctx, "shell-v1", want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "shell-v1", want.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Key != want.Key || got.Method != want.Method || got.URL != want.URL {
		t.Fatalf("identity = %q %q %q, want %q %q %q", got.Key, got.Method, got.URL, want.Key, want.Method, want.URL)
	}
	if got.Status != want.Status {
		t.Fatalf("status = %d, want %d", got.Status, want.Status)
	}
	if string(got.Body) != string(want.Body) {
		t.Fatalf("body = %q, want %q", got.Body, want.Body)
	}
	if got.Header.Get("Content-Type") != want.Header.Get("Content-Type") {
		t.Fatalf("content type = %q, want %q", got.Header.Get("Content-Type"), want.Header.Get("Content-Type"))
	}
	if got.Vary["Accept-Encoding"] != "gzip" {
		t.Fatalf("vary = %v, want Accept-Encoding=gzip", got.Vary)
	}
	if !got.StoredAt.Equal(want.StoredAt) {
		t.Fatalf("stored at = %v, want %v", got.StoredAt, want.StoredAt)
	}

	tiers, err := store.Tiers(ctx)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if !slices.Equal(tiers, []string{"shell-v1"}) {
		t.Fatalf("tiers = %v, want [shell-v1]", tiers)
	}
}

func testGetMissing(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if _, err := store.Get(ctx, "fonts-v1", "GET https://example.com/a.woff2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing tier error = %v, want ErrNotFound", err)
	}
	if err := store.EnsureTier(ctx, "fonts-v1"); err != nil {
		t.Fatalf("ensure tier: %v", err)
	}
	if _, err := store.Get(ctx, "fonts-v1", "GET https://example.com/a.woff2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing key error = %v, want ErrNotFound", err)
	}
}

func testPutOverwrites(t *testing.T, store storage.Store) {
	ctx := context.Background()
	key := "GET https://example.com/"
	if err := store.Put(ctx, "shell-v1", SampleEntry(key, "old")); err != nil {
		t.Fatalf("put old: %v", err)
	}
	if err := store.Put(ctx, "shell-v1", SampleEntry(key, "new")); err != nil {
		t.Fatalf("put new: %v", err)
	}
	got, err := store.Get(ctx, "shell-v1", key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Body) != "new" {
		t.Fatalf("body = %q, want %q", got.Body, "new")
	}
	keys, err := store.Keys(ctx, "shell-v1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("keys = %v, want exactly one", keys)
	}
}

func testEnsureTierListsEmptyTier(t *testing.T, store storage.Store) {
	ctx := context.Background()
	for _, tier := range []string{"shell-v2", "api-v2", "shell-v2"} {
		if err := store.EnsureTier(ctx, tier); err != nil {
			t.Fatalf("ensure tier %s: %v", tier, err)
		}
	}
	tiers, err := store.Tiers(ctx)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if !slices.Equal(tiers, []string{"api-v2", "shell-v2"}) {
		t.Fatalf("tiers = %v, want [api-v2 shell-v2]", tiers)
	}
	keys, err := store.Keys(ctx, "api-v2")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("keys = %v, want empty", keys)
	}
}

func testDeleteTierRemovesEntries(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if err := store.Put(ctx, "images-v1", SampleEntry("GET https://example.com/a.png", "a")); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	// Shares a name prefix with images-v1; must survive its deletion.
	if err := store.Put(ctx, "images-v10", SampleEntry("GET https://example.com/a.png", "b")); err != nil {
		t.Fatalf("put v10: %v", err)
	}

	if err := store.DeleteTier(ctx, "images-v1"); err != nil {
		t.Fatalf("delete tier: %v", err)
	}
	if err := store.DeleteTier(ctx, "missing-v1"); err != nil {
		t.Fatalf("delete missing tier: %v", err)
	}

	tiers, err := store.Tiers(ctx)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if !slices.Equal(tiers, []string{"images-v10"}) {
		t.Fatalf("tiers = %v, want [images-v10]", tiers)
	}
	if _, err := store.Get(ctx, "images-v1", "GET https://example.com/a.png"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted error = %v, want ErrNotFound", err)
	}
	got, err := store.Get(ctx, "images-v10", "GET https://example.com/a.png")
	if err != nil {
		t.Fatalf("get surviving tier: %v", err)
	}
	if string(got.Body) != "b" {
		t.Fatalf("body = %q, want %q", got.Body, "b")
	}
}

func testPutBatch(t *testing.T, store storage.Store) {
	ctx := context.Background()
	entries := []storage.Entry{
		SampleEntry("GET https://example.com/", "root"),
		SampleEntry("GET https://example.com/manifest.json", "manifest"),
		SampleEntry("GET https://example.com/favicon.ico", "favicon"),
		SampleEntry("GET https://example.com/offline.html", "offline"),
	}
	if err := store.PutBatch(ctx, "shell-v1", entries); err != nil {
		t.Fatalf("put batch: %v", err)
	}
	keys, err := store.Keys(ctx, "shell-v1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{
		"GET https://example.com/",
		"GET https://example.com/favicon.ico",
		"GET https://example.com/manifest.json",
		"GET https://example.com/offline.html",
	}
	if !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func testPutBatchAtomic(t *testing.T, store storage.Store) {
	ctx := context.Background()
	entries := []storage.Entry{
		SampleEntry("GET https://example.com/", "root"),
		{Key: "GET https://example.com/broken"},
	}
	if err := store.PutBatch(ctx, "shell-v1", entries); err == nil {
		t.Fatal("expected batch with invalid entry to fail")
	}
	if _, err := store.Get(ctx, "shell-v1", "GET https://example.com/"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after failed batch error = %v, want ErrNotFound", err)
	}
}

func testValidation(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if err := store.Put(ctx, "", SampleEntry("GET /", "x")); err == nil {
		t.Fatal("expected empty tier error")
	}
	if err := store.Put(ctx, "shell-v1", storage.Entry{}); err == nil {
		t.Fatal("expected invalid entry error")
	}
	if err := store.EnsureTier(ctx, " "); err == nil {
		t.Fatal("expected empty tier error on ensure")
	}
}

func testCanceledContext(t *testing.T, store storage.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Put(ctx, "shell-v1", SampleEntry("GET /", "x")); err == nil {
		t.Fatal("expected canceled context error")
	}
	if _, err := store.Get(ctx, "shell-v1", "GET /"); err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get error = %v, want context error", err)
	}
}
