package router

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/louisbranch/folio/internal/platform/timeouts"
	"github.com/louisbranch/folio/internal/services/edge/domain"
	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/telemetry"
)

// passthrough forwards req untouched and never caches.
func (r *Router) passthrough(req *http.Request) (*http.Response, Outcome, error) {
	resp, err := r.network.RoundTrip(req)
	if err != nil {
		return nil, OutcomeError, err
	}
	return resp, OutcomePassthrough, nil
}

// cacheFirst answers from tier when possible. A miss fetches and, on 200,
// waits for the write before returning; write failures are reported only.
func (r *Router) cacheFirst(tier string) Strategy {
	return func(req *http.Request) (*http.Response, Outcome, error) {
		ctx := req.Context()
		if entry, ok := r.lookup(ctx, tier, req); ok {
			return responseFromEntry(req, entry), OutcomeCacheHit, nil
		}

		resp, entry, err := r.fetch(req)
		if err != nil {
			return nil, OutcomeError, err
		}
		if entry != nil {
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.CacheWrite)
			r.put(writeCtx, tier, entry)
			cancel()
		}
		return resp, OutcomeNetwork, nil
	}
}

// networkFirst prefers the live response, storing 200s in the background.
// Network failure falls back to tier, then to a synthetic offline response.
func (r *Router) networkFirst(tier string) Strategy {
	return func(req *http.Request) (*http.Response, Outcome, error) {
		ctx := req.Context()
		resp, entry, err := r.fetch(req)
		if err == nil {
			r.putInBackground(ctx, tier, entry)
			return resp, OutcomeNetwork, nil
		}
		r.logf("network first %s: %v", req.URL.Redacted(), err)

		if cached, ok := r.lookup(ctx, tier, req); ok {
			return responseFromEntry(req, cached), OutcomeCacheFallback, nil
		}
		return syntheticResponse(req, r.apiOfflineStatus, APIOfflineBody), OutcomeSynthetic, nil
	}
}

// staleWhileRevalidate returns a cached entry at once and refreshes it in the
// background. A miss waits for the network; a miss that also fails returns
// the fetch error.
func (r *Router) staleWhileRevalidate(tier string) Strategy {
	return func(req *http.Request) (*http.Response, Outcome, error) {
		ctx := req.Context()
		if cached, ok := r.lookup(ctx, tier, req); ok {
			r.refreshInBackground(req, tier)
			return responseFromEntry(req, cached), OutcomeCacheHit, nil
		}

		resp, entry, err := r.fetch(req)
		if err != nil {
			return nil, OutcomeError, err
		}
		r.putInBackground(ctx, tier, entry)
		return resp, OutcomeNetwork, nil
	}
}

// networkFirstShell serves a shell hit at once with a background refresh; a
// miss fetches and stores. With no network and no entry, navigations get the
// offline document and everything else a synthetic 503.
func (r *Router) networkFirstShell(tier string) Strategy {
	return func(req *http.Request) (*http.Response, Outcome, error) {
		ctx := req.Context()
		if cached, ok := r.lookup(ctx, tier, req); ok {
			r.refreshInBackground(req, tier)
			return responseFromEntry(req, cached), OutcomeCacheHit, nil
		}

		resp, entry, err := r.fetch(req)
		if err == nil {
			r.putInBackground(ctx, tier, entry)
			return resp, OutcomeNetwork, nil
		}
		r.logf("network first shell %s: %v", req.URL.Redacted(), err)

		if domain.IsNavigation(req) {
			if offline, ok := r.offlineDocument(ctx); ok {
				return responseFromEntry(req, offline), OutcomeOffline, nil
			}
		}
		return syntheticResponse(req, http.StatusServiceUnavailable, ServiceUnavailableBody), OutcomeSynthetic, nil
	}
}

// fetch performs the network request and captures a storable snapshot.
func (r *Router) fetch(req *http.Request) (*http.Response, *storage.Entry, error) {
	resp, err := r.network.RoundTrip(req)
	if err != nil {
		return nil, nil, err
	}
	return r.capture(req, resp)
}

// refreshInBackground refetches req on a detached goroutine and replaces the
// stored entry on 200.
func (r *Router) refreshInBackground(req *http.Request, tier string) {
	ctx := req.Context()
	key := storage.KeyForRequest(req)
	refresh := req.Clone(context.WithoutCancel(ctx))

	r.writer.Go(ctx, telemetry.EventBackgroundRefreshFailed, tier, key, func(ctx context.Context) error {
		resp, entry, err := r.fetch(refresh.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		defer resp.Body.Close()
		if entry == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := r.store.Put(ctx, tier, *entry); err != nil {
			return fmt.Errorf("store refreshed entry: %w", err)
		}
		return nil
	})
}
