// Package memory provides an in-process cache tier store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/louisbranch/folio/internal/services/edge/storage"
)

// Store keeps tiers in memory. Entries are copied on the way in and out.
type Store struct {
	mu    sync.RWMutex
	tiers map[string]map[string]storage.Entry
}

// New returns an empty store.
func New() *Store {
	return &Store{tiers: make(map[string]map[string]storage.Entry)}
}

// EnsureTier creates an empty tier when missing.
func (s *Store) EnsureTier(ctx context.Context, tier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateTier(tier); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(tier)
	return nil
}

// Tiers lists tier names.
func (s *Store) Tiers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tiers))
	for name := range s.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteTier drops a tier and its entries.
func (s *Store) DeleteTier(ctx context.Context, tier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tiers, tier)
	return nil
}

// Get returns a copy of a stored entry.
func (s *Store) Get(ctx context.Context, tier, key string) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.tiers[tier]
	if !ok {
		return storage.Entry{}, storage.ErrNotFound
	}
	entry, ok := entries[key]
	if !ok {
		return storage.Entry{}, storage.ErrNotFound
	}
	return entry.Clone(), nil
}

// Put stores a copy of entry.
func (s *Store) Put(ctx context.Context, tier string, entry storage.Entry) error {
	return s.PutBatch(ctx, tier, []storage.Entry{entry})
}

// PutBatch validates every entry before storing any of them.
func (s *Store) PutBatch(ctx context.Context, tier string, entries []storage.Entry) error {
	if err := ctx.Err(); err != nil {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.ensureLocked(tier)
	for _, entry := range entries {
		bucket[entry.Key] = entry.Clone()
	}
	return nil
}

// Keys lists entry keys in a tier.
func (s *Store) Keys(ctx context.Context, tier string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.tiers[tier]
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) ensureLocked(tier string) map[string]storage.Entry {
	bucket, ok := s.tiers[tier]
	if !ok {
		bucket = make(map[string]storage.Entry)
		s.tiers[tier] = bucket
	}
	return bucket
}
