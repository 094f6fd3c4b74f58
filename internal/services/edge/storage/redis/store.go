// Package redis stores cache tiers in Redis so several edge replicas can share
// one set of tiers.
//
// Layout: the set <prefix>tiers names every tier; each tier is the hash
// <prefix>tier:<name> mapping cache key to a JSON entry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/folio/internal/services/edge/storage"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces edge keys when no prefix is configured.
const DefaultPrefix = "folio:edge:"

// Store provides a Redis-backed tier store.
type Store struct {
	client *goredis.Client
	prefix string
	clock  func() time.Time
}

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client.
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, clock: time.Now}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// EnsureTier registers an empty tier.
func (s *Store) EnsureTier(ctx context.Context, tier string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := storage.ValidateTier(tier); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.tiersKey(), tier).Err(); err != nil {
		return fmt.Errorf("ensure tier %s: %w", tier, err)
	}
	return nil
}

// Tiers lists tier names.
func (s *Store) Tiers(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	tiers, err := s.client.SMembers(ctx, s.tiersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	sort.Strings(tiers)
	return tiers, nil
}

// DeleteTier removes the tier hash and its registration atomically.
func (s *Store) DeleteTier(ctx context.Context, tier string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.tierKey(tier))
		pipe.SRem(ctx, s.tiersKey(), tier)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete tier %s: %w", tier, err)
	}
	return nil
}

// Get fetches one entry.
func (s *Store) Get(ctx context.Context, tier, key string) (storage.Entry, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Entry{}, err
	}
	payload, err := s.client.HGet(ctx, s.tierKey(tier), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.Entry{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	var entry storage.Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return storage.Entry{}, fmt.Errorf("unmarshal entry: %w", err)
	}
	return entry, nil
}

// Put stores one entry.
func (s *Store) Put(ctx context.Context, tier string, entry storage.Entry) error {
	return s.PutBatch(ctx, tier, []storage.Entry{entry})
}

// PutBatch stores entries in one MULTI/EXEC transaction.
func (s *Store) PutBatch(ctx context.Context, tier string, entries []storage.Entry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := storage.ValidateTier(tier); err != nil {
		return err
	}

	now := s.clock().UTC()
	fields := make([]any, 0, len(entries)*2)
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
		if entry.StoredAt.IsZero() {
			entry.StoredAt = now
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		fields = append(fields, entry.Key, payload)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, s.tiersKey(), tier)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.tierKey(tier), fields...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put entries into %s: %w", tier, err)
	}
	return nil
}

// Keys lists entry keys in a tier.
func (s *Store) Keys(ctx context.Context, tier string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	keys, err := s.client.HKeys(ctx, s.tierKey(tier)).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) tiersKey() string {
	return s.prefix + "tiers"
}

func (s *Store) tierKey(tier string) string {
	return s.prefix + "tier:" + tier
}
