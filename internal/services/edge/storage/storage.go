// Package storage defines the cache tier persistence contract for the edge
// router.
//
// A tier is a named container of request-key to response-snapshot entries.
// Implementations live in subpackages (memory, sqlite, bbolt, redis) and must
// be safe for concurrent use; concurrent writes to one key are last-write-wins.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound indicates a requested entry or tier is missing.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one stored response snapshot.
type Entry struct {
	Key      string
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Vary     map[string]string
	StoredAt time.Time
}

// Store persists cache tiers.
type Store interface {
	// EnsureTier creates an empty tier when it does not exist yet.
	EnsureTier(ctx context.Context, tier string) error
	// Tiers lists every tier name, sorted.
	Tiers(ctx context.Context) ([]string, error)
	// DeleteTier removes a tier and all of its entries. Deleting a missing
	// tier is not an error.
	DeleteTier(ctx context.Context, tier string) error
	// Get returns ErrNotFound when the tier or key is missing.
	Get(ctx context.Context, tier, key string) (Entry, error)
	// Put stores one entry, creating the tier when needed.
	Put(ctx context.Context, tier string, entry Entry) error
	// PutBatch stores all entries or none of them.
	PutBatch(ctx context.Context, tier string, entries []Entry) error
	// Keys lists the entry keys of a tier, sorted.
	Keys(ctx context.Context, tier string) ([]string, error)
	Close() error
}

// TelemetryEvent is one operational event recorded by the edge.
type TelemetryEvent struct {
	ID        int64
	Name      string
	Severity  string
	Tier      string
	Key       string
	Message   string
	Timestamp time.Time
}

// TelemetryStore persists operational events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
	ListTelemetryEvents(ctx context.Context, limit int) ([]TelemetryEvent, error)
}

// Key returns the cache key for method and u: the upper-cased method and the
// URL without its fragment.
func Key(method string, u *url.URL) string {
	if u == nil {
		return strings.ToUpper(method)
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return strings.ToUpper(method) + " " + clean.String()
}

// KeyForRequest returns the cache key for r. Requests carrying credentials are
// partitioned by a digest of the Authorization header so one caller never
// receives another caller's cached response.
func KeyForRequest(r *http.Request) string {
	key := Key(r.Method, r.URL)
	if auth := r.Header.Get("Authorization"); auth != "" {
		sum := sha256.Sum256([]byte(auth))
		key += " auth=" + hex.EncodeToString(sum[:8])
	}
	return key
}

// VaryValues captures the request header values named by the response's Vary
// header. A "*" entry marks a response that never matches a later request.
func VaryValues(req *http.Request, respHeader http.Header) map[string]string {
	var values map[string]string
	for _, line := range respHeader.Values("Vary") {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if values == nil {
				values = make(map[string]string)
			}
			if name == "*" {
				values["*"] = ""
				continue
			}
			canonical := http.CanonicalHeaderKey(name)
			values[canonical] = req.Header.Get(canonical)
		}
	}
	return values
}

// Matches reports whether the entry may answer r given its stored Vary values.
func (e Entry) Matches(r *http.Request) bool {
	if _, ok := e.Vary["*"]; ok {
		return false
	}
	for name, value := range e.Vary {
		if r.Header.Get(name) != value {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := e
	out.Header = e.Header.Clone()
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	if e.Vary != nil {
		out.Vary = make(map[string]string, len(e.Vary))
		for k, v := range e.Vary {
			out.Vary[k] = v
		}
	}
	return out
}

// Validate checks the fields every store requires.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return errors.New("entry key is required")
	}
	if e.Status <= 0 {
		return errors.New("entry status is required")
	}
	return nil
}

// ValidateTier checks a tier name argument.
func ValidateTier(tier string) error {
	if strings.TrimSpace(tier) == "" {
		return errors.New("tier name is required")
	}
	return nil
}
