// Package edge parses edge command flags and launches the offline cache proxy.
package edge

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/folio/internal/platform/cmd"
	"github.com/louisbranch/folio/internal/platform/timeouts"
	edgeapp "github.com/louisbranch/folio/internal/services/edge/app"
	"github.com/louisbranch/folio/internal/services/edge/domain"
)

// Config holds edge command configuration.
type Config struct {
	HTTPAddr         string        `env:"FOLIO_EDGE_HTTP_ADDR" envDefault:":8090"`
	HealthPort       int           `env:"FOLIO_EDGE_HEALTH_PORT" envDefault:"8091"`
	OriginURL        string        `env:"FOLIO_EDGE_ORIGIN_URL"`
	APIHosts         []string      `env:"FOLIO_EDGE_API_HOSTS" envSeparator:"," envDefault:"supabase.co"`
	FontHosts        []string      `env:"FOLIO_EDGE_FONT_HOSTS" envSeparator:","`
	Storage          string        `env:"FOLIO_EDGE_STORAGE" envDefault:"memory"`
	DBPath           string        `env:"FOLIO_EDGE_DB_PATH"`
	RedisAddr        string        `env:"FOLIO_EDGE_REDIS_ADDR"`
	RedisPrefix      string        `env:"FOLIO_EDGE_REDIS_PREFIX"`
	ShellCache       string        `env:"FOLIO_EDGE_SHELL_CACHE" envDefault:"shell-v1"`
	ImageCache       string        `env:"FOLIO_EDGE_IMAGE_CACHE" envDefault:"images-v1"`
	APICache         string        `env:"FOLIO_EDGE_API_CACHE" envDefault:"api-v1"`
	FontCache        string        `env:"FOLIO_EDGE_FONT_CACHE" envDefault:"fonts-v1"`
	SeedPaths        []string      `env:"FOLIO_EDGE_SEED_PATHS" envSeparator:","`
	OfflinePath      string        `env:"FOLIO_EDGE_OFFLINE_PATH" envDefault:"/offline.html"`
	APIOfflineStatus int           `env:"FOLIO_EDGE_API_OFFLINE_STATUS" envDefault:"503"`
	MaxEntryBytes    int64         `env:"FOLIO_EDGE_MAX_ENTRY_BYTES" envDefault:"10485760"`
	UpstreamTimeout  time.Duration `env:"FOLIO_EDGE_UPSTREAM_TIMEOUT" envDefault:"30s"`
	InstallRetry     time.Duration `env:"FOLIO_EDGE_INSTALL_RETRY" envDefault:"30s"`
	AdminTokenSecret string        `env:"FOLIO_EDGE_ADMIN_TOKEN_SECRET"`

	// IssueAdminToken, when set, names the subject of a token to print
	// instead of serving.
	IssueAdminToken string
	AdminTokenTTL   time.Duration
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.AdminTokenTTL = 24 * time.Hour
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The edge proxy listen address")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The edge health gRPC server port")
	fs.StringVar(&cfg.OriginURL, "origin", cfg.OriginURL, "The site origin URL")
	fs.Func("api-hosts", "Comma-separated backend API host fragments", listFlag(&cfg.APIHosts))
	fs.Func("font-hosts", "Comma-separated font CDN hosts", listFlag(&cfg.FontHosts))
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "Tier storage backend: memory, sqlite, bbolt or redis")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The sqlite or bbolt database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "The redis address")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "The redis key prefix")
	fs.StringVar(&cfg.ShellCache, "shell-cache", cfg.ShellCache, "Shell tier name")
	fs.StringVar(&cfg.ImageCache, "image-cache", cfg.ImageCache, "Image tier name")
	fs.StringVar(&cfg.APICache, "api-cache", cfg.APICache, "API response tier name")
	fs.StringVar(&cfg.FontCache, "font-cache", cfg.FontCache, "Font tier name")
	fs.Func("seed-paths", "Comma-separated shell paths fetched at install", listFlag(&cfg.SeedPaths))
	fs.StringVar(&cfg.OfflinePath, "offline-path", cfg.OfflinePath, "Offline fallback document path")
	fs.IntVar(&cfg.APIOfflineStatus, "api-offline-status", cfg.APIOfflineStatus, "Status of the synthetic offline API response; 200 matches the legacy browser worker")
	fs.Int64Var(&cfg.MaxEntryBytes, "max-entry-bytes", cfg.MaxEntryBytes, "Largest response body stored in a tier")
	fs.DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", cfg.UpstreamTimeout, "Upstream response header timeout")
	fs.DurationVar(&cfg.InstallRetry, "install-retry", cfg.InstallRetry, "Initial delay between install attempts")
	fs.StringVar(&cfg.IssueAdminToken, "issue-admin-token", "", "Print an admin token for this subject and exit")
	fs.DurationVar(&cfg.AdminTokenTTL, "admin-token-ttl", cfg.AdminTokenTTL, "Lifetime of an issued admin token")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func listFlag(target *[]string) func(string) error {
	return func(raw string) error {
		var values []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		*target = values
		return nil
	}
}

// Tiers returns the configured tier set.
func (cfg Config) Tiers() domain.TierSet {
	return domain.TierSet{
		Shell: cfg.ShellCache,
		Image: cfg.ImageCache,
		API:   cfg.APICache,
		Font:  cfg.FontCache,
	}
}

// WriteAdminToken signs a token for cfg.IssueAdminToken and writes it to w.
func WriteAdminToken(w io.Writer, cfg Config, now time.Time) error {
	if strings.TrimSpace(cfg.AdminTokenSecret) == "" {
		return errors.New("FOLIO_EDGE_ADMIN_TOKEN_SECRET is required to issue admin tokens")
	}
	token, err := edgeapp.IssueAdminToken([]byte(cfg.AdminTokenSecret), cfg.IssueAdminToken, cfg.AdminTokenTTL, now)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, token); err != nil {
		return fmt.Errorf("write admin token: %w", err)
	}
	return nil
}

// Run starts the edge runtime.
func Run(ctx context.Context, cfg Config) error {
	options := entrypoint.RunOptions{ShutdownTimeout: timeouts.Shutdown}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceEdge, options, func(ctx context.Context) error {
		return edgeapp.Run(ctx, runtimeConfig(cfg))
	})
}

func runtimeConfig(cfg Config) edgeapp.RuntimeConfig {
	return edgeapp.RuntimeConfig{
		HTTPAddr:         cfg.HTTPAddr,
		HealthPort:       cfg.HealthPort,
		OriginURL:        cfg.OriginURL,
		APIHosts:         cfg.APIHosts,
		FontHosts:        cfg.FontHosts,
		Storage:          cfg.Storage,
		DBPath:           cfg.DBPath,
		RedisAddr:        cfg.RedisAddr,
		RedisPrefix:      cfg.RedisPrefix,
		Tiers:            cfg.Tiers(),
		SeedPaths:        cfg.SeedPaths,
		OfflinePath:      cfg.OfflinePath,
		APIOfflineStatus: cfg.APIOfflineStatus,
		MaxEntryBytes:    cfg.MaxEntryBytes,
		UpstreamTimeout:  cfg.UpstreamTimeout,
		AdminTokenSecret: cfg.AdminTokenSecret,
		InstallRetry:     cfg.InstallRetry,
	}
}
