package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/louisbranch/folio/internal/platform/errors"
	platformgrpc "github.com/louisbranch/folio/internal/platform/grpc"
	"github.com/louisbranch/folio/internal/platform/timeouts"
	"github.com/louisbranch/folio/internal/services/edge/domain"
	"github.com/louisbranch/folio/internal/services/edge/lifecycle"
	"github.com/louisbranch/folio/internal/services/edge/router"
	"github.com/louisbranch/folio/internal/services/edge/storage"
	edgebbolt "github.com/louisbranch/folio/internal/services/edge/storage/bbolt"
	"github.com/louisbranch/folio/internal/services/edge/storage/memory"
	edgeredis "github.com/louisbranch/folio/internal/services/edge/storage/redis"
	edgesqlite "github.com/louisbranch/folio/internal/services/edge/storage/sqlite"
	"github.com/louisbranch/folio/internal/telemetry"
)

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageBbolt  = "bbolt"
	StorageRedis  = "redis"
)

// HealthService is the gRPC health service name of the edge runtime.
const HealthService = "folio.edge"

const (
	defaultHTTPAddr   = ":8090"
	defaultHealthPort = 8091
	defaultSQLitePath = "data/edge.db"
	defaultBboltPath  = "data/edge.bolt"
	maxInstallRetry   = 10 * time.Minute
)

// RuntimeConfig controls edge startup and dependencies.
type RuntimeConfig struct {
	HTTPAddr         string
	HealthPort       int
	OriginURL        string
	APIHosts         []string
	FontHosts        []string
	Storage          string
	DBPath           string
	RedisAddr        string
	RedisPrefix      string
	Tiers            domain.TierSet
	SeedPaths        []string
	OfflinePath      string
	APIOfflineStatus int
	MaxEntryBytes    int64
	UpstreamTimeout  time.Duration
	AdminTokenSecret string
	InstallRetry     time.Duration
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.HealthPort <= 0 {
		cfg.HealthPort = defaultHealthPort
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if cfg.Storage == "" {
		cfg.Storage = StorageMemory
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		switch cfg.Storage {
		case StorageSQLite:
			cfg.DBPath = defaultSQLitePath
		case StorageBbolt:
			cfg.DBPath = defaultBboltPath
		}
	}
	defaults := domain.DefaultTierSet()
	if cfg.Tiers.Shell == "" {
		cfg.Tiers.Shell = defaults.Shell
	}
	if cfg.Tiers.Image == "" {
		cfg.Tiers.Image = defaults.Image
	}
	if cfg.Tiers.API == "" {
		cfg.Tiers.API = defaults.API
	}
	if cfg.Tiers.Font == "" {
		cfg.Tiers.Font = defaults.Font
	}
	if len(cfg.FontHosts) == 0 {
		cfg.FontHosts = domain.DefaultFontHosts
	}
	if len(cfg.SeedPaths) == 0 {
		cfg.SeedPaths = lifecycle.DefaultSeedPaths
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = timeouts.Upstream
	}
	if cfg.InstallRetry <= 0 {
		cfg.InstallRetry = timeouts.InstallRetry
	}
	return cfg
}

// Run starts the edge proxy, installs the configured version in the
// background and serves until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	origin, err := parseOrigin(cfg.OriginURL)
	if err != nil {
		return err
	}
	if err := cfg.Tiers.Validate(); err != nil {
		return fmt.Errorf("validate tier names: %w", err)
	}

	store, events, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close edge store: %v", closeErr)
		}
	}()

	emitter := telemetry.NewEmitter(events, log.Printf)
	network := newNetwork(cfg.UpstreamTimeout)

	edgeRouter, err := router.New(router.Config{
		Origin:            origin,
		APIHosts:          cfg.APIHosts,
		FontHosts:         cfg.FontHosts,
		Tiers:             cfg.Tiers,
		Store:             store,
		Network:           network,
		OfflinePath:       cfg.OfflinePath,
		APIOfflineStatus:  cfg.APIOfflineStatus,
		MaxEntryBytes:     cfg.MaxEntryBytes,
		BackgroundTimeout: cfg.UpstreamTimeout,
		Emitter:           emitter,
		Logf:              log.Printf,
	})
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	controller := lifecycle.NewController(network, emitter, log.Printf)
	defer controller.Close()

	healthServer, err := platformgrpc.ListenHealth(fmt.Sprintf(":%d", cfg.HealthPort), HealthService)
	if err != nil {
		return err
	}
	controller.OnActivate(func(*lifecycle.Worker) {
		healthServer.SetServing(HealthService, true)
	})
	healthServer.Start()
	defer func() {
		if stopErr := healthServer.Stop(); stopErr != nil {
			log.Printf("stop health server: %v", stopErr)
		}
	}()
	log.Printf("edge health listening at %v", healthServer.Addr())

	handler, err := NewHandler(HandlerConfig{
		Origin:    origin,
		Transport: controller,
		Admin: NewAdminHandler(AdminConfig{
			Secret:     []byte(cfg.AdminTokenSecret),
			Controller: controller,
			Events:     events,
		}),
		Logf: log.Printf,
	})
	if err != nil {
		return fmt.Errorf("init handler: %w", err)
	}
	server, err := NewServer(cfg.HTTPAddr, handler)
	if err != nil {
		return fmt.Errorf("init edge server: %w", err)
	}

	installCtx, cancelInstall := context.WithCancel(ctx)
	defer cancelInstall()
	installDone := make(chan struct{})
	go func() {
		defer close(installDone)
		installWithRetry(installCtx, controller, func() (*lifecycle.Worker, error) {
			return lifecycle.NewWorker(lifecycle.WorkerConfig{
				Router:    edgeRouter,
				SeedPaths: cfg.SeedPaths,
				Network:   network,
				Emitter:   emitter,
				Logf:      log.Printf,
			})
		}, cfg.InstallRetry)
	}()

	serveErr := server.ListenAndServe(ctx)
	cancelInstall()
	<-installDone
	if serveErr != nil {
		return fmt.Errorf("serve edge: %w", serveErr)
	}
	return nil
}

// installWithRetry keeps registering fresh workers until one activates or ctx
// ends. The delay doubles after each failure up to maxInstallRetry.
func installWithRetry(ctx context.Context, controller *lifecycle.Controller, newWorker func() (*lifecycle.Worker, error), retryDelay time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		worker, err := newWorker()
		if err != nil {
			log.Printf("build edge worker: %v", err)
			return
		}
		err = controller.Register(ctx, worker)
		if err == nil {
			log.Printf("edge version %s active", worker.Version())
			return
		}
		log.Printf("edge install failed, retrying in %s: %v", retryDelay, err)

		timer := time.NewTimer(retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		if retryDelay < maxInstallRetry {
			retryDelay *= 2
			if retryDelay > maxInstallRetry {
				retryDelay = maxInstallRetry
			}
		}
	}
}

func parseOrigin(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperrors.New(apperrors.CodeInvalidOrigin, "origin URL is required")
	}
	origin, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidOrigin, "parse origin URL", err)
	}
	if (origin.Scheme != "http" && origin.Scheme != "https") || origin.Host == "" {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidOrigin,
			fmt.Sprintf("origin URL %q must be http(s)://host", raw),
			map[string]string{"origin": raw})
	}
	origin.Path = strings.TrimSuffix(origin.Path, "/")
	origin.RawQuery = ""
	origin.Fragment = ""
	return origin, nil
}

// openStore opens the configured tier store. The second result is the event
// store when the backend records telemetry, nil otherwise.
func openStore(ctx context.Context, cfg RuntimeConfig) (storage.Store, storage.TelemetryStore, error) {
	switch cfg.Storage {
	case StorageMemory:
		return memory.New(), nil, nil
	case StorageSQLite:
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, nil, err
		}
		store, err := edgesqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "open edge sqlite store", err)
		}
		return store, store, nil
	case StorageBbolt:
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, nil, err
		}
		store, err := edgebbolt.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "open edge bbolt store", err)
		}
		return store, nil, nil
	case StorageRedis:
		store, err := edgeredis.Open(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "open edge redis store", err)
		}
		return store, nil, nil
	default:
		return nil, nil, apperrors.WithMetadata(apperrors.CodeUnsupportedStorage,
			fmt.Sprintf("storage %q is not one of memory, sqlite, bbolt, redis", cfg.Storage),
			map[string]string{"storage": cfg.Storage})
	}
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create edge storage dir: %w", err)
		}
	}
	return nil
}

func newNetwork(upstream time.Duration) http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	transport := base.Clone()
	transport.ResponseHeaderTimeout = upstream
	return transport
}
