// Package router classifies outgoing requests and answers them from the
// network or a cache tier according to a fixed, ordered policy chain.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/louisbranch/folio/internal/platform/timeouts"
	"github.com/louisbranch/folio/internal/services/edge/domain"
	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/louisbranch/folio/internal/services/edge/router"

const (
	// DefaultOfflinePath is the seeded document served to failed navigations.
	DefaultOfflinePath = "/offline.html"
	// DefaultMaxEntryBytes bounds the size of one stored response body.
	DefaultMaxEntryBytes int64 = 10 << 20
	// APIOfflineBody is the plain-text body of the synthetic API response.
	APIOfflineBody = "Offline - No cached data available"
	// ServiceUnavailableBody is the plain-text body of the synthetic page response.
	ServiceUnavailableBody = "Service Unavailable"
)

// Policy names, in chain order.
const (
	PolicyScope = "scope"
	PolicyFont  = "font"
	PolicyAPI   = "api"
	PolicyImage = "image"
	PolicyAsset = "asset"
	PolicyPage  = "page"
)

// Outcome describes how a request was answered.
type Outcome string

const (
	OutcomePassthrough   Outcome = "passthrough"
	OutcomeNetwork       Outcome = "network"
	OutcomeCacheHit      Outcome = "cache_hit"
	OutcomeCacheFallback Outcome = "cache_fallback"
	OutcomeOffline       Outcome = "offline_document"
	OutcomeSynthetic     Outcome = "synthetic"
	OutcomeError         Outcome = "error"
)

// Strategy answers one request.
type Strategy func(req *http.Request) (*http.Response, Outcome, error)

// Policy pairs a request predicate with the strategy that serves matches.
type Policy struct {
	Name  string
	Match func(req *http.Request) bool
	Serve Strategy
}

// Config wires a Router.
type Config struct {
	// Origin is the page origin; cross-origin requests outside the font and
	// API classes bypass the caches.
	Origin *url.URL
	// APIHosts are backend REST hostname substrings.
	APIHosts []string
	// FontHosts are hosted font provider hostname substrings.
	FontHosts []string
	Tiers     domain.TierSet
	Store     storage.Store
	// Network performs real fetches. Defaults to http.DefaultTransport.
	Network http.RoundTripper
	// OfflinePath names the seeded offline document. Defaults to
	// DefaultOfflinePath.
	OfflinePath string
	// APIOfflineStatus is the status of the synthetic API response. Defaults
	// to 503. The legacy browser worker answered 200 with the same body;
	// -api-offline-status=200 restores that.
	APIOfflineStatus int
	// MaxEntryBytes bounds stored bodies. Defaults to DefaultMaxEntryBytes.
	MaxEntryBytes int64
	// BackgroundTimeout bounds detached refreshes and writes. Defaults to
	// timeouts.Upstream.
	BackgroundTimeout time.Duration
	Emitter           *telemetry.Emitter
	Logf              func(string, ...any)
}

// Router is an http.RoundTripper that applies the caching policy chain.
type Router struct {
	classifier       domain.Classifier
	origin           *url.URL
	tiers            domain.TierSet
	store            storage.Store
	network          http.RoundTripper
	offlineKey       string
	apiOfflineStatus int
	maxEntryBytes    int64
	emitter          *telemetry.Emitter
	logf             func(string, ...any)
	writer           *BackgroundWriter
	policies         []Policy
	tracer           trace.Tracer
	requests         metric.Int64Counter
}

// New builds a Router from cfg.
func New(cfg Config) (*Router, error) {
	if cfg.Origin == nil || cfg.Origin.Scheme == "" || cfg.Origin.Host == "" {
		return nil, errors.New("origin must be an absolute URL")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.Tiers.Validate(); err != nil {
		return nil, fmt.Errorf("validate tiers: %w", err)
	}
	network := cfg.Network
	if network == nil {
		network = http.DefaultTransport
	}
	offlinePath := strings.TrimSpace(cfg.OfflinePath)
	if offlinePath == "" {
		offlinePath = DefaultOfflinePath
	}
	apiOfflineStatus := cfg.APIOfflineStatus
	if apiOfflineStatus == 0 {
		apiOfflineStatus = http.StatusServiceUnavailable
	}
	if apiOfflineStatus < 100 || apiOfflineStatus > 599 {
		return nil, fmt.Errorf("api offline status %d is not a valid HTTP status", apiOfflineStatus)
	}
	maxEntryBytes := cfg.MaxEntryBytes
	if maxEntryBytes <= 0 {
		maxEntryBytes = DefaultMaxEntryBytes
	}
	backgroundTimeout := cfg.BackgroundTimeout
	if backgroundTimeout <= 0 {
		backgroundTimeout = timeouts.Upstream
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	requests, err := otel.Meter(instrumentationName).Int64Counter(
		"edge.router.requests",
		metric.WithDescription("Requests answered by the edge router."),
	)
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}

	r := &Router{
		classifier:       domain.NewClassifier(cfg.Origin, cfg.APIHosts, cfg.FontHosts),
		origin:           cfg.Origin,
		tiers:            cfg.Tiers,
		store:            cfg.Store,
		network:          network,
		offlineKey:       storage.Key(http.MethodGet, cfg.Origin.ResolveReference(&url.URL{Path: offlinePath})),
		apiOfflineStatus: apiOfflineStatus,
		maxEntryBytes:    maxEntryBytes,
		emitter:          cfg.Emitter,
		logf:             logf,
		tracer:           otel.Tracer(instrumentationName),
		requests:         requests,
	}
	r.writer = NewBackgroundWriter(backgroundTimeout, r.report)
	r.policies = r.buildPolicies()
	return r, nil
}

func (r *Router) buildPolicies() []Policy {
	return []Policy{
		{
			Name: PolicyScope,
			// API hosts are cross-origin but still reach the API tier.
			Match: func(req *http.Request) bool {
				return !r.classifier.SameOrigin(req.URL) && !r.classifier.IsFont(req) && !r.classifier.IsAPI(req.URL)
			},
			Serve: r.passthrough,
		},
		{
			Name:  PolicyFont,
			Match: r.classifier.IsFont,
			Serve: r.cacheFirst(r.tiers.Font),
		},
		{
			Name:  PolicyAPI,
			Match: func(req *http.Request) bool { return r.classifier.IsAPI(req.URL) },
			Serve: r.networkFirst(r.tiers.API),
		},
		{
			Name:  PolicyImage,
			Match: func(req *http.Request) bool { return domain.ClassOf(req) == domain.ClassImage },
			Serve: r.staleWhileRevalidate(r.tiers.Image),
		},
		{
			Name: PolicyAsset,
			Match: func(req *http.Request) bool {
				class := domain.ClassOf(req)
				return class == domain.ClassScript || class == domain.ClassStyle
			},
			Serve: r.cacheFirst(r.tiers.Shell),
		},
		{
			Name:  PolicyPage,
			Match: func(*http.Request) bool { return true },
			Serve: r.networkFirstShell(r.tiers.Shell),
		},
	}
}

// Policies returns the policy names in evaluation order.
func (r *Router) Policies() []string {
	names := make([]string, 0, len(r.policies))
	for _, p := range r.policies {
		names = append(names, p.Name)
	}
	return names
}

// Tiers returns the tier set this router serves.
func (r *Router) Tiers() domain.TierSet {
	return r.tiers
}

// Store returns the tier store this router reads and writes.
func (r *Router) Store() storage.Store {
	return r.store
}

// Origin returns the page origin.
func (r *Router) Origin() *url.URL {
	return r.origin
}

// Classify returns the name of the first policy matching req.
func (r *Router) Classify(req *http.Request) string {
	return r.match(req).Name
}

func (r *Router) match(req *http.Request) Policy {
	for _, p := range r.policies {
		if p.Match(req) {
			return p
		}
	}
	return r.policies[len(r.policies)-1]
}

// RoundTrip routes req through the first matching policy.
func (r *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	policy := r.match(req)

	ctx, span := r.tracer.Start(req.Context(), "edge.route",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("edge.policy", policy.Name),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.Redacted()),
		),
	)
	defer span.End()

	resp, outcome, err := policy.Serve(req.WithContext(ctx))
	if err != nil {
		outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("edge.outcome", string(outcome)))
	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	r.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("edge.policy", policy.Name),
		attribute.String("edge.outcome", string(outcome)),
	))
	return resp, err
}

// Wait blocks until every background refresh and write has finished. It
// is only valid once no request is in flight.
func (r *Router) Wait() {
	r.writer.Wait()
}

// Close stops background work from starting and drains what is running.
// Requests served afterwards still answer but skip background writes.
func (r *Router) Close() {
	r.writer.Close()
}

func (r *Router) report(ctx context.Context, event, tier, key string, err error) {
	if r.emitter != nil {
		r.emitter.Failure(ctx, event, tier, key, err)
		return
	}
	r.logf("%s tier=%s key=%q: %v", event, tier, key, err)
}
