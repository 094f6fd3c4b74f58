package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/louisbranch/folio/internal/services/edge/domain"
	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/services/edge/storage/memory"
	"github.com/louisbranch/folio/internal/telemetry"
)

const (
	testOrigin = "https://portfolio.example.com"
	testAPI    = "https://abcd1234.supabase.co/rest/v1/projects?select=*"
)

var errOffline = errors.New("dial tcp: network is unreachable")

type fakeNetwork struct {
	mu      sync.Mutex
	urls    []string
	offline bool
	respond func(req *http.Request) (*http.Response, error)
}

func (f *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.urls = append(f.urls, req.URL.String())
	offline := f.offline
	respond := f.respond
	f.mu.Unlock()

	if offline {
		return nil, errOffline
	}
	if respond != nil {
		return respond(req)
	}
	return textResponse(req, http.StatusOK, "live "+req.URL.Path), nil
}

func (f *fakeNetwork) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeNetwork) setRespond(respond func(req *http.Request) (*http.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

func (f *fakeNetwork) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

type failingStore struct {
	storage.Store
	putErr error
	getErr error
}

func (s *failingStore) Put(ctx context.Context, tier string, entry storage.Entry) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, tier, entry)
}

func (s *failingStore) Get(ctx context.Context, tier, key string) (storage.Entry, error) {
	if s.getErr != nil {
		return storage.Entry{}, s.getErr
	}
	return s.Store.Get(ctx, tier, key)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []storage.TelemetryEvent
}

func (r *recordingEvents) AppendTelemetryEvent(_ context.Context, evt storage.TelemetryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingEvents) ListTelemetryEvents(_ context.Context, limit int) ([]storage.TelemetryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.events) {
		limit = len(r.events)
	}
	return append([]storage.TelemetryEvent(nil), r.events[:limit]...), nil
}

func (r *recordingEvents) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		names = append(names, evt.Name)
	}
	return names
}

type testEnv struct {
	router  *Router
	network *fakeNetwork
	store   storage.Store
	events  *recordingEvents
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	env := &testEnv{
		network: &fakeNetwork{},
		store:   memory.New(),
		events:  &recordingEvents{},
	}
	cfg := Config{
		Origin:    origin,
		APIHosts:  []string{"supabase.co"},
		FontHosts: domain.DefaultFontHosts,
		Tiers:     domain.DefaultTierSet(),
		Store:     env.store,
		Network:   env.network,
		Emitter:   telemetry.NewEmitter(env.events, nil),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.store = cfg.Store
	router, err := New(cfg)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	env.router = router
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.router.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip %s: %v", req.URL, err)
	}
	return resp
}

func (e *testEnv) seed(t *testing.T, tier, rawURL, body string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	entry := storage.Entry{
		Key:    storage.Key(http.MethodGet, u),
		Method: http.MethodGet,
		URL:    u.String(),
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
	if err := e.store.Put(context.Background(), tier, entry); err != nil {
		t.Fatalf("seed %s: %v", rawURL, err)
	}
}

func (e *testEnv) storedBody(t *testing.T, tier string, req *http.Request) (string, bool) {
	t.Helper()
	entry, err := e.store.Get(context.Background(), tier, storage.KeyForRequest(req))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("get stored entry: %v", err)
	}
	return string(entry.Body), true
}

func newRequest(t *testing.T, method, rawURL string, headers ...string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return req
}

func textResponse(req *http.Request, status int, body string, headers ...string) *http.Response {
	header := http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}}
	for i := 0; i+1 < len(headers); i += 2 {
		header.Set(headers[i], headers[i+1])
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}
