package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/telemetry"
)

// CacheHeader marks responses answered from a cache tier or synthesized by
// the router.
const CacheHeader = "X-Edge-Cache"

// capture buffers a storable response and returns a snapshot entry alongside
// an equivalent response for the caller. Responses that cannot be stored are
// returned with a nil entry. A body read failure is a network failure.
func (r *Router) capture(req *http.Request, resp *http.Response) (*http.Response, *storage.Entry, error) {
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return resp, nil, nil
	}
	if resp.Body == http.NoBody {
		return resp, r.snapshot(req, resp, nil), nil
	}

	prefix, err := io.ReadAll(io.LimitReader(resp.Body, r.maxEntryBytes+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(prefix)) > r.maxEntryBytes {
		resp.Body = &replayBody{
			Reader: io.MultiReader(bytes.NewReader(prefix), resp.Body),
			closer: resp.Body,
		}
		return resp, nil, nil
	}
	if err := resp.Body.Close(); err != nil {
		r.logf("close response body %s: %v", req.URL.Redacted(), err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(prefix))
	resp.ContentLength = int64(len(prefix))
	return resp, r.snapshot(req, resp, prefix), nil
}

func (r *Router) snapshot(req *http.Request, resp *http.Response, body []byte) *storage.Entry {
	entry := NewEntry(req, resp, body)
	return &entry
}

// NewEntry builds the stored snapshot of resp. Set-Cookie is never stored.
func NewEntry(req *http.Request, resp *http.Response, body []byte) storage.Entry {
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Set-Cookie")
	vary := storage.VaryValues(req, resp.Header)
	// Accept-Encoding is stripped before fetching, so stored bodies are
	// always decoded.
	delete(vary, "Accept-Encoding")
	if len(vary) == 0 {
		vary = nil
	}
	if body == nil {
		body = []byte{}
	}
	return storage.Entry{
		Key:      storage.KeyForRequest(req),
		Method:   req.Method,
		URL:      req.URL.String(),
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		Vary:     vary,
		StoredAt: time.Now().UTC(),
	}
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error {
	return b.closer.Close()
}

// lookup returns a stored entry able to answer req. Read failures count as
// misses.
func (r *Router) lookup(ctx context.Context, tier string, req *http.Request) (storage.Entry, bool) {
	if req.Method != http.MethodGet || req.Header.Get("Range") != "" {
		return storage.Entry{}, false
	}
	key := storage.KeyForRequest(req)
	entry, err := r.store.Get(ctx, tier, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.report(ctx, telemetry.EventCacheReadFailed, tier, key, err)
		}
		return storage.Entry{}, false
	}
	if !entry.Matches(req) {
		return storage.Entry{}, false
	}
	return entry, true
}

// offlineDocument returns the seeded offline document, ignoring Vary.
func (r *Router) offlineDocument(ctx context.Context) (storage.Entry, bool) {
	entry, err := r.store.Get(ctx, r.tiers.Shell, r.offlineKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.report(ctx, telemetry.EventCacheReadFailed, r.tiers.Shell, r.offlineKey, err)
		}
		return storage.Entry{}, false
	}
	return entry, true
}

// put stores entry and reports a failure instead of returning it.
func (r *Router) put(ctx context.Context, tier string, entry *storage.Entry) {
	if entry == nil {
		return
	}
	if err := r.store.Put(ctx, tier, *entry); err != nil {
		r.report(ctx, telemetry.EventCacheWriteFailed, tier, entry.Key, err)
	}
}

// putInBackground stores entry on a detached goroutine.
func (r *Router) putInBackground(ctx context.Context, tier string, entry *storage.Entry) {
	if entry == nil {
		return
	}
	r.writer.Go(ctx, telemetry.EventCacheWriteFailed, tier, entry.Key, func(ctx context.Context) error {
		return r.store.Put(ctx, tier, *entry)
	})
}

func responseFromEntry(req *http.Request, entry storage.Entry) *http.Response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(CacheHeader, "hit")
	return &http.Response{
		Status:        strconv.Itoa(entry.Status) + " " + http.StatusText(entry.Status),
		StatusCode:    entry.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}

func syntheticResponse(req *http.Request, status int, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	header.Set(CacheHeader, "synthetic")
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
