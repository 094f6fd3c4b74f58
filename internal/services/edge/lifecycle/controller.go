package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/telemetry"
)

// Controller routes requests through the active version and swaps versions
// in as they install.
type Controller struct {
	active  atomic.Pointer[Worker]
	network http.RoundTripper
	emitter *telemetry.Emitter
	logf    func(string, ...any)

	mu        sync.Mutex
	workers   []*Worker
	observers []func(*Worker)
}

// NewController returns a controller with no active version. Until one
// activates, requests pass straight to network.
func NewController(network http.RoundTripper, emitter *telemetry.Emitter, logf func(string, ...any)) *Controller {
	if network == nil {
		network = http.DefaultTransport
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Controller{network: network, emitter: emitter, logf: logf}
}

// OnActivate registers fn to run after each version claims the controller.
func (c *Controller) OnActivate(fn func(*Worker)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Register installs w, activates it without waiting and claims all traffic
// for it. When install fails the previous version keeps serving.
func (c *Controller) Register(ctx context.Context, w *Worker) error {
	if w == nil {
		return errors.New("worker is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = append(c.workers, w)

	if err := w.Install(ctx); err != nil {
		c.emitter.Failure(ctx, telemetry.EventInstallFailed, w.router.Tiers().Shell, "", err)
		return err
	}

	deleted, err := w.Activate(ctx)
	if err != nil {
		c.logf("activate %s: %v", w.version, err)
	}

	previous := c.active.Swap(w)
	if previous != nil && previous != w {
		previous.setState(StateRedundant)
	}

	_ = c.emitter.Emit(ctx, storage.TelemetryEvent{
		Name:     telemetry.EventActivated,
		Severity: string(telemetry.SeverityInfo),
		Tier:     w.router.Tiers().Shell,
		Message:  activationMessage(w, previous, deleted),
	})
	for _, fn := range c.observers {
		fn(w)
	}
	return nil
}

func activationMessage(w, previous *Worker, deleted []string) string {
	msg := "activated " + w.version
	if previous != nil {
		msg += " replacing " + previous.version
	}
	if len(deleted) > 0 {
		msg += "; deleted tiers"
		for _, tier := range deleted {
			msg += " " + tier
		}
	}
	return msg
}

// Active returns the active version, or nil.
func (c *Controller) Active() *Worker {
	return c.active.Load()
}

// RoundTrip serves req with the active version's router.
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	if w := c.active.Load(); w != nil {
		return w.router.RoundTrip(req)
	}
	return c.network.RoundTrip(req)
}

// Wait drains background work of every version this controller has seen.
// It is only valid once no request is in flight; use Close during shutdown.
func (c *Controller) Wait() {
	for _, w := range c.seen() {
		w.router.Wait()
	}
}

// Close stops background work of every version and drains it. Requests
// still in flight are served without background writes.
func (c *Controller) Close() {
	for _, w := range c.seen() {
		w.router.Close()
	}
}

func (c *Controller) seen() []*Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Worker(nil), c.workers...)
}
