// Package sqlite persists cache tiers and edge telemetry events in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/folio/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/folio/internal/services/edge/storage"
	"github.com/louisbranch/folio/internal/services/edge/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed tier and event persistence.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens an edge SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, clock: time.Now}
	if _, err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// EnsureTier creates an empty tier when missing.
func (s *Store) EnsureTier(ctx context.Context, tier string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := storage.ValidateTier(tier); err != nil {
		return err
	}
	if err := ensureTier(ctx, s.sqlDB, tier, s.clock()); err != nil {
		return fmt.Errorf("ensure tier %s: %w", tier, err)
	}
	return nil
}

// Tiers lists tier names.
func (s *Store) Tiers(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM cache_tiers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// DeleteTier removes a tier and its entries in one transaction.
func (s *Store) DeleteTier(ctx context.Context, tier string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tier: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE tier = ?`, tier); err != nil {
		return fmt.Errorf("delete tier entries %s: %w", tier, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tiers WHERE name = ?`, tier); err != nil {
		return fmt.Errorf("delete tier %s: %w", tier, err)
	}
	return tx.Commit()
}

// Get fetches one entry.
func (s *Store) Get(ctx context.Context, tier, key string) (storage.Entry, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Entry{}, err
	}

	var (
		entry      storage.Entry
		headerJSON string
		varyJSON   string
		storedAt   int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT cache_key, method, url, status, header_json, vary_json, body, stored_at
FROM cache_entries
WHERE tier = ? AND cache_key = ?
`, tier, key).Scan(
		&entry.Key,
		&entry.Method,
		&entry.URL,
		&entry.Status,
		&headerJSON,
		&varyJSON,
		&entry.Body,
		&storedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Entry{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	if err := json.Unmarshal([]byte(headerJSON), &entry.Header); err != nil {
		return storage.Entry{}, fmt.Errorf("decode entry header: %w", err)
	}
	if err := json.Unmarshal([]byte(varyJSON), &entry.Vary); err != nil {
		return storage.Entry{}, fmt.Errorf("decode entry vary: %w", err)
	}
	if entry.Header == nil {
		entry.Header = http.Header{}
	}
	entry.StoredAt = time.UnixMilli(storedAt).UTC()
	return entry, nil
}

// Put stores one entry.
func (s *Store) Put(ctx context.Context, tier string, entry storage.Entry) error {
	return s.PutBatch(ctx, tier, []storage.Entry{entry})
}

// PutBatch stores entries in a single transaction.
func (s *Store) PutBatch(ctx context.Context, tier string, entries []storage.Entry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := storage.ValidateTier(tier); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock()
	if err := ensureTier(ctx, tx, tier, now); err != nil {
		return fmt.Errorf("ensure tier %s: %w", tier, err)
	}
	for _, entry := range entries {
		headerJSON, err := json.Marshal(entry.Header)
		if err != nil {
			return fmt.Errorf("encode entry header: %w", err)
		}
		varyJSON, err := json.Marshal(entry.Vary)
		if err != nil {
			return fmt.Errorf("encode entry vary: %w", err)
		}
		storedAt := entry.StoredAt
		if storedAt.IsZero() {
			storedAt = now
		}
		body := entry.Body
		if body == nil {
			body = []byte{}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO cache_entries (tier, cache_key, method, url, status, header_json, vary_json, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tier, cache_key) DO UPDATE SET
	method = excluded.method,
	url = excluded.url,
	status = excluded.status,
	header_json = excluded.header_json,
	vary_json = excluded.vary_json,
	body = excluded.body,
	stored_at = excluded.stored_at
`,
			tier,
			entry.Key,
			entry.Method,
			entry.URL,
			entry.Status,
			string(headerJSON),
			string(varyJSON),
			body,
			storedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("put entry %s: %w", entry.Key, err)
		}
	}
	return tx.Commit()
}

// Keys lists entry keys in a tier.
func (s *Store) Keys(ctx context.Context, tier string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT cache_key FROM cache_entries WHERE tier = ? ORDER BY cache_key`, tier)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// AppendTelemetryEvent records one operational event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	evt.Name = strings.TrimSpace(evt.Name)
	if evt.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO edge_events (name, severity, tier, cache_key, message, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		evt.Name,
		evt.Severity,
		evt.Tier,
		evt.Key,
		evt.Message,
		evt.Timestamp.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListTelemetryEvents lists newest-first events.
func (s *Store) ListTelemetryEvents(ctx context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, severity, tier, cache_key, message, created_at
FROM edge_events
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.TelemetryEvent, 0, limit)
	for rows.Next() {
		var (
			evt       storage.TelemetryEvent
			createdAt int64
		)
		if err := rows.Scan(&evt.ID, &evt.Name, &evt.Severity, &evt.Tier, &evt.Key, &evt.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Timestamp = time.UnixMilli(createdAt).UTC()
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureTier(ctx context.Context, db execer, tier string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_tiers (name, created_at) VALUES (?, ?)`,
		tier,
		now.UTC().UnixMilli(),
	)
	return err
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	values := []string{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return values, nil
}
