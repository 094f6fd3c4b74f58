// Package telemetry records edge operational events to the log and, when
// configured, to a persistent event store.
package telemetry

import (
	"context"
	"time"

	"github.com/louisbranch/folio/internal/services/edge/storage"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Event names emitted by the edge router and lifecycle.
const (
	EventCacheWriteFailed        = "edge.cache_write_failed"
	EventCacheReadFailed         = "edge.cache_read_failed"
	EventBackgroundRefreshFailed = "edge.background_refresh_failed"
	EventInstallFailed           = "edge.install_failed"
	EventActivated               = "edge.activated"
	EventTierDeleted             = "edge.tier_deleted"
)

// Emitter records operational telemetry events.
type Emitter struct {
	store storage.TelemetryStore
	logf  func(string, ...any)
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter. Either argument may be nil.
func NewEmitter(store storage.TelemetryStore, logf func(string, ...any)) *Emitter {
	return &Emitter{store: store, logf: logf, clock: time.Now}
}

// Emit logs the event and appends it to the store. It never fails the caller:
// store errors are logged and returned for tests to inspect.
func (e *Emitter) Emit(ctx context.Context, evt storage.TelemetryEvent) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	if evt.Severity == "" {
		evt.Severity = string(SeverityInfo)
	}
	if e.logf != nil {
		e.logf("event %s severity=%s tier=%s key=%q %s", evt.Name, evt.Severity, evt.Tier, evt.Key, evt.Message)
	}
	if e.store == nil {
		return nil
	}
	if err := e.store.AppendTelemetryEvent(ctx, evt); err != nil {
		if e.logf != nil {
			e.logf("record event %s: %v", evt.Name, err)
		}
		return err
	}
	return nil
}

// Failure emits a warning event describing err.
func (e *Emitter) Failure(ctx context.Context, name, tier, key string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = e.Emit(ctx, storage.TelemetryEvent{
		Name:     name,
		Severity: string(SeverityWarn),
		Tier:     tier,
		Key:      key,
		Message:  msg,
	})
}
