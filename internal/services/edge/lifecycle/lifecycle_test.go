package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"testing"

	apperrors "github.com/louisbranch/folio/internal/platform/errors"
	"github.com/louisbranch/folio/internal/services/edge/domain"
	"github.com/louisbranch/folio/internal/services/edge/router"
	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/services/edge/storage/memory"
)

const testOrigin = "https://portfolio.example.com"

type siteNetwork struct {
	mu      sync.Mutex
	pages   map[string]string
	missing map[string]bool
	offline bool
	hits    []string
}

func newSiteNetwork() *siteNetwork {
	return &siteNetwork{
		pages: map[string]string{
			"/":              "<html>home</html>",
			"/manifest.json": `{"name":"folio"}`,
			"/favicon.ico":   "ico",
			"/offline.html":  "<html>offline</html>",
		},
		missing: map[string]bool{},
	}
}

func (n *siteNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.hits = append(n.hits, req.URL.Path)
	body, ok := n.pages[req.URL.Path]
	missing := n.missing[req.URL.Path]
	offline := n.offline
	n.mu.Unlock()

	if offline {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	status := http.StatusOK
	if !ok {
		body = "live " + req.URL.Path
	}
	if missing {
		status = http.StatusNotFound
		body = "not found"
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Request:    req,
	}, nil
}

func (n *siteNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *siteNetwork) setMissing(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missing[path] = true
}

func newTestWorker(t *testing.T, store storage.Store, network http.RoundTripper, tiers domain.TierSet) *Worker {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	r, err := router.New(router.Config{
		Origin:   origin,
		APIHosts: []string{"supabase.co"},
		Tiers:    tiers,
		Store:    store,
		Network:  network,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	w, err := NewWorker(WorkerConfig{Router: r, Network: network})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func tierSet(version string) domain.TierSet {
	return domain.TierSet{
		Shell: "shell-" + version,
		Image: "images-" + version,
		API:   "api-" + version,
		Font:  "fonts-" + version,
	}
}

func TestFreshInstallSeedsShellAndDeletesNothing(t *testing.T) {
	store := memory.New()
	network := newSiteNetwork()
	w := newTestWorker(t, store, network, tierSet("v1"))

	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if w.State() != StateInstalled {
		t.Fatalf("state = %q, want %q", w.State(), StateInstalled)
	}
	keys, err := store.Keys(context.Background(), "shell-v1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	wantKeys := []string{
		"GET " + testOrigin + "/",
		"GET " + testOrigin + "/favicon.ico",
		"GET " + testOrigin + "/manifest.json",
		"GET " + testOrigin + "/offline.html",
	}
	if !slices.Equal(keys, wantKeys) {
		t.Fatalf("shell keys = %v, want %v", keys, wantKeys)
	}

	deleted, err := w.Activate(context.Background())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("deleted = %v, want none", deleted)
	}
	tiers, err := store.Tiers(context.Background())
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if !slices.Equal(tiers, []string{"api-v1", "fonts-v1", "images-v1", "shell-v1"}) {
		t.Fatalf("tiers = %v, want the four v1 tiers", tiers)
	}
}

func TestInstallFailsWhenAnySeedIsUnavailable(t *testing.T) {
	store := memory.New()
	network := newSiteNetwork()
	network.setMissing("/manifest.json")
	w := newTestWorker(t, store, network, tierSet("v1"))

	err := w.Install(context.Background())
	if !apperrors.HasCode(err, apperrors.CodeInstallFailed) {
		t.Fatalf("install error = %v, want %s", err, apperrors.CodeInstallFailed)
	}
	if !apperrors.HasCode(err, apperrors.CodeSeedUnavailable) {
		t.Fatalf("install error = %v, want wrapped %s", err, apperrors.CodeSeedUnavailable)
	}
	if w.State() != StateRedundant {
		t.Fatalf("state = %q, want %q", w.State(), StateRedundant)
	}
	keys, err := store.Keys(context.Background(), "shell-v1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("shell keys = %v, want none after failed install", keys)
	}
}

func TestInstallTwiceIsInvalid(t *testing.T) {
	w := newTestWorker(t, memory.New(), newSiteNetwork(), tierSet("v1"))
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := w.Install(context.Background()); !apperrors.HasCode(err, apperrors.CodeInvalidLifecycle) {
		t.Fatalf("second install error = %v, want %s", err, apperrors.CodeInvalidLifecycle)
	}
	if _, err := newTestWorker(t, memory.New(), newSiteNetwork(), tierSet("v1")).Activate(context.Background()); !apperrors.HasCode(err, apperrors.CodeInvalidLifecycle) {
		t.Fatalf("activate before install error = %v, want %s", err, apperrors.CodeInvalidLifecycle)
	}
}

func TestControllerPassesThroughBeforeActivation(t *testing.T) {
	network := newSiteNetwork()
	c := NewController(network, nil, nil)
	if c.Active() != nil {
		t.Fatal("expected no active worker")
	}

	req, _ := http.NewRequest(http.MethodGet, testOrigin+"/about", nil)
	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	resp.Body.Close()
	if len(network.hits) != 1 {
		t.Fatalf("network hits = %v, want one", network.hits)
	}
}

func TestVersionBumpDeletesOldTiersAndClaimsTraffic(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	network := newSiteNetwork()
	c := NewController(network, nil, nil)

	var activated []string
	c.OnActivate(func(w *Worker) { activated = append(activated, w.Version()) })

	v1 := newTestWorker(t, store, network, tierSet("v1"))
	if err := c.Register(ctx, v1); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	if c.Active() != v1 || v1.State() != StateActive {
		t.Fatalf("active = %v state %q, want v1 active", c.Active(), v1.State())
	}

	v2 := newTestWorker(t, store, network, tierSet("v2"))
	if err := c.Register(ctx, v2); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if c.Active() != v2 {
		t.Fatal("expected v2 to claim the controller")
	}
	if v1.State() != StateRedundant {
		t.Fatalf("v1 state = %q, want %q", v1.State(), StateRedundant)
	}

	tiers, err := store.Tiers(ctx)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if !slices.Equal(tiers, []string{"api-v2", "fonts-v2", "images-v2", "shell-v2"}) {
		t.Fatalf("tiers = %v, want only v2 tiers", tiers)
	}
	imageKeys, err := store.Keys(ctx, "images-v2")
	if err != nil {
		t.Fatalf("image keys: %v", err)
	}
	if len(imageKeys) != 0 {
		t.Fatalf("images-v2 keys = %v, want empty until first fetch", imageKeys)
	}

	req, _ := http.NewRequest(http.MethodGet, testOrigin+"/images/hero.png", nil)
	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	resp.Body.Close()
	c.Wait()

	imageKeys, err = store.Keys(ctx, "images-v2")
	if err != nil {
		t.Fatalf("image keys: %v", err)
	}
	if !slices.Equal(imageKeys, []string{"GET " + testOrigin + "/images/hero.png"}) {
		t.Fatalf("images-v2 keys = %v, want lazily populated entry", imageKeys)
	}
	if !slices.Equal(activated, []string{"shell-v1", "shell-v2"}) {
		t.Fatalf("activated = %v, want [shell-v1 shell-v2]", activated)
	}
}

func TestFailedInstallKeepsPreviousVersionActive(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	network := newSiteNetwork()
	c := NewController(network, nil, nil)

	v1 := newTestWorker(t, store, network, tierSet("v1"))
	if err := c.Register(ctx, v1); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	network.setMissing("/favicon.ico")
	v2 := newTestWorker(t, store, network, tierSet("v2"))
	if err := c.Register(ctx, v2); err == nil {
		t.Fatal("expected v2 register to fail")
	}

	if c.Active() != v1 || v1.State() != StateActive {
		t.Fatalf("active = %v state %q, want v1 still active", c.Active(), v1.State())
	}
	if v2.State() != StateRedundant {
		t.Fatalf("v2 state = %q, want %q", v2.State(), StateRedundant)
	}
	keys, err := store.Keys(ctx, "shell-v1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 4 {
		t.Fatalf("shell-v1 keys = %v, want the four seeds", keys)
	}
}

func TestOfflineNavigationAfterInstallServesShell(t *testing.T) {
	ctx := context.Background()
	network := newSiteNetwork()
	c := NewController(network, nil, nil)
	if err := c.Register(ctx, newTestWorker(t, memory.New(), network, tierSet("v1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	network.setOffline(true)

	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "<html>home</html>"},
		{path: "/projects/never-visited", want: "<html>offline</html>"},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, testOrigin+tt.path, nil)
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		resp, err := c.RoundTrip(req)
		if err != nil {
			t.Fatalf("round trip %s: %v", tt.path, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if string(body) != tt.want {
			t.Fatalf("body %s = %q, want %q", tt.path, body, tt.want)
		}
	}
	c.Wait()
}

func TestControllerCloseDrainsAndStopsBackgroundWrites(t *testing.T) {
	store := memory.New()
	network := newSiteNetwork()
	c := NewController(network, nil, nil)
	if err := c.Register(context.Background(), newTestWorker(t, store, network, tierSet("v1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Close()

	req, err := http.NewRequest(http.MethodGet, testOrigin+"/projects", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if _, err := store.Get(context.Background(), "shell-v1", storage.KeyForRequest(req)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get after close err = %v, want not found", err)
	}
}
