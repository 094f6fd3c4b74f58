// Package lifecycle installs, activates and swaps versions of the edge cache
// router.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/folio/internal/platform/errors"
	"github.com/louisbranch/folio/internal/services/edge/router"
	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// State is a version's lifecycle state.
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	StateInstalled   State = "installed"
	StateActive      State = "active"
	StateRedundant   State = "redundant"
)

// DefaultSeedPaths is the shell manifest fetched at install.
var DefaultSeedPaths = []string{"/", "/manifest.json", "/favicon.ico", router.DefaultOfflinePath}

// WorkerConfig wires a Worker.
type WorkerConfig struct {
	// Version labels the worker. Defaults to the shell tier name.
	Version string
	Router  *router.Router
	// SeedPaths are resolved against the router origin. Defaults to
	// DefaultSeedPaths.
	SeedPaths []string
	// Network fetches seeds. Defaults to http.DefaultTransport.
	Network http.RoundTripper
	Emitter *telemetry.Emitter
	Logf    func(string, ...any)
}

// Worker owns one version: its tier set, seed manifest and router.
type Worker struct {
	version   string
	router    *router.Router
	store     storage.Store
	seedPaths []string
	network   http.RoundTripper
	emitter   *telemetry.Emitter
	logf      func(string, ...any)

	mu    sync.Mutex
	state State
}

// NewWorker builds an uninstalled worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = cfg.Router.Tiers().Shell
	}
	seedPaths := cfg.SeedPaths
	if len(seedPaths) == 0 {
		seedPaths = DefaultSeedPaths
	}
	network := cfg.Network
	if network == nil {
		network = http.DefaultTransport
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Worker{
		version:   version,
		router:    cfg.Router,
		store:     cfg.Router.Store(),
		seedPaths: append([]string(nil), seedPaths...),
		network:   network,
		emitter:   cfg.Emitter,
		logf:      logf,
		state:     StateUninstalled,
	}, nil
}

// Version returns the worker label.
func (w *Worker) Version() string {
	return w.version
}

// Router returns the router this version serves with.
func (w *Worker) Router() *router.Router {
	return w.router
}

// SeedPaths returns the shell manifest.
func (w *Worker) SeedPaths() []string {
	return append([]string(nil), w.seedPaths...)
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return apperrors.WithMetadata(apperrors.CodeInvalidLifecycle,
			fmt.Sprintf("worker %s is %s, want %s", w.version, w.state, from),
			map[string]string{"version": w.version, "state": string(w.state)})
	}
	w.state = to
	return nil
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

// Install creates the four tiers and stores every seed in the shell tier in
// one batch. Any seed failure fails the install, leaves the shell tier
// untouched and marks the worker redundant.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateUninstalled, StateInstalling); err != nil {
		return err
	}
	if err := w.install(ctx); err != nil {
		w.setState(StateRedundant)
		return apperrors.WrapWithMetadata(apperrors.CodeInstallFailed,
			"install "+w.version, map[string]string{"version": w.version}, err)
	}
	w.setState(StateInstalled)
	w.logf("installed %s with %d seeds", w.version, len(w.seedPaths))
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	tiers := w.router.Tiers()
	for _, tier := range tiers.Names() {
		if err := w.store.EnsureTier(ctx, tier); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageUnavailable, "create tier "+tier, err)
		}
	}

	entries := make([]storage.Entry, len(w.seedPaths))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, seedPath := range w.seedPaths {
		group.Go(func() error {
			entry, err := w.fetchSeed(groupCtx, seedPath)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if err := w.store.PutBatch(ctx, tiers.Shell, entries); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "store seeds", err)
	}
	return nil
}

func (w *Worker) fetchSeed(ctx context.Context, seedPath string) (storage.Entry, error) {
	ref, err := url.Parse(seedPath)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("parse seed path %q: %w", seedPath, err)
	}
	target := w.router.Origin().ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("build seed request %s: %w", seedPath, err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return storage.Entry{}, apperrors.WrapWithMetadata(apperrors.CodeSeedUnavailable,
			"fetch seed "+seedPath, map[string]string{"path": seedPath}, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return storage.Entry{}, apperrors.WithMetadata(apperrors.CodeSeedUnavailable,
			fmt.Sprintf("fetch seed %s: status %d", seedPath, resp.StatusCode),
			map[string]string{"path": seedPath})
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return storage.Entry{}, apperrors.WrapWithMetadata(apperrors.CodeSeedUnavailable,
			"read seed "+seedPath, map[string]string{"path": seedPath}, err)
	}
	return router.NewEntry(req, resp, body), nil
}

// Activate deletes every tier outside this version's set and marks the worker
// active. Cleanup failures are reported and returned, but the worker still
// becomes active.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	if err := w.transition(StateInstalled, StateActive); err != nil {
		return nil, err
	}

	tiers, err := w.store.Tiers(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list tiers", err)
	}

	known := w.router.Tiers()
	var (
		deleted []string
		errs    []error
	)
	for _, tier := range tiers {
		if known.Known(tier) {
			continue
		}
		if err := w.store.DeleteTier(ctx, tier); err != nil {
			errs = append(errs, fmt.Errorf("delete tier %s: %w", tier, err))
			w.emitter.Failure(ctx, telemetry.EventTierDeleted, tier, "", err)
			continue
		}
		deleted = append(deleted, tier)
		_ = w.emitter.Emit(ctx, storage.TelemetryEvent{
			Name:     telemetry.EventTierDeleted,
			Severity: string(telemetry.SeverityInfo),
			Tier:     tier,
			Message:  "superseded by " + w.version,
		})
	}
	w.logf("activated %s, deleted %d stale tiers", w.version, len(deleted))
	return deleted, errors.Join(errs...)
}
