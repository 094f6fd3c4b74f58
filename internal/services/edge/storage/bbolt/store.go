// Package bbolt persists cache tiers in a BoltDB file, one nested bucket per
// tier under a shared root bucket.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/folio/internal/services/edge/storage"
	"go.etcd.io/bbolt"
)

const tiersBucket = "tiers"

// Store provides a BoltDB-backed tier store.
type Store struct {
	db    *bbolt.DB
	clock func() time.Time
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db, clock: time.Now}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureTier creates an empty tier bucket when missing.
func (s *Store) EnsureTier(ctx context.Context, tier string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := storage.ValidateTier(tier); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		if _, err := root.CreateBucketIfNotExists([]byte(tier)); err != nil {
			return fmt.Errorf("create tier bucket %s: %w", tier, err)
		}
		return nil
	})
}

// Tiers lists tier names.
func (s *Store) Tiers(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	tiers := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		return root.ForEachBucket(func(name []byte) error {
			tiers = append(tiers, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tiers, nil
}

// DeleteTier removes a tier bucket and everything in it.
func (s *Store) DeleteTier(ctx context.Context, tier string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		err = root.DeleteBucket([]byte(tier))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete tier bucket %s: %w", tier, err)
		}
		return nil
	})
}

// Get fetches one entry.
func (s *Store) Get(ctx context.Context, tier, key string) (storage.Entry, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Entry{}, err
	}

	var entry storage.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		bucket := root.Bucket([]byte(tier))
		if bucket == nil {
			return storage.ErrNotFound
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(payload, &entry); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.Entry{}, err
	}
	return entry, nil
}

// Put stores one entry.
func (s *Store) Put(ctx context.Context, tier string, entry storage.Entry) error {
	return s.PutBatch(ctx, tier, []storage.Entry{entry})
}

// PutBatch stores entries in one Bolt transaction.
func (s *Store) PutBatch(ctx context.Context, tier string, entries []storage.Entry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := storage.ValidateTier(tier); err != nil {
		return err
	}

	now := s.clock().UTC()
	payloads := make([][]byte, 0, len(entries))
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
		payloads = append(payloads, payload)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		bucket, err := root.CreateBucketIfNotExists([]byte(tier))
		if err != nil {
			return fmt.Errorf("create tier bucket %s: %w", tier, err)
		}
		for i, entry := range entries {
			if err := bucket.Put([]byte(entry.Key), payloads[i]); err != nil {
				return fmt.Errorf("put entry %s: %w", entry.Key, err)
			}
		}
		return nil
	})
}

// Keys lists entry keys in a tier.
func (s *Store) Keys(ctx context.Context, tier string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	keys := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		bucket := root.Bucket([]byte(tier))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(tiersBucket)); err != nil {
			return fmt.Errorf("create tiers bucket: %w", err)
		}
		return nil
	})
}

func rootBucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(tiersBucket))
	if bucket == nil {
		return nil, fmt.Errorf("tiers bucket is missing")
	}
	return bucket, nil
}
