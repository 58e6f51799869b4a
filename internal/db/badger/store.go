// Package badger implements db.Store over an embedded Badger database. It is
// the zero-ops default backend: a single-binary deploy needs no external
// key-value server.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/coursedex/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds database options.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps all data in RAM; useful for tests.
	InMemory bool
}

// Store implements db.Store via Badger.
type Store struct {
	bdb *badger.DB
}

// NewStore opens (or creates) the Badger database.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("path is required")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", cfg.Path, err)
	}

	return &Store{bdb: bdb}, nil
}

// Ping verifies the database is open.
func (s *Store) Ping(_ context.Context) error {
	if s.bdb.IsClosed() {
		return &db.Error{Op: db.OpPing, Err: errors.New("database is closed")}
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() {
	_ = s.bdb.Close()
}

// WaitForReady is immediate for an embedded database.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return value, nil
}

// Set stores a value at the given key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	err := s.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores a value with an expiration.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.bdb.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// IncrBy increments a decimal counter stored at key. Missing keys start at 0.
// The decimal string encoding matches the Redis INCRBY representation, so the
// budget counters survive a driver switch.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	err := s.bdb.Update(func(txn *badger.Txn) error {
		current := int64(0)
		var expiresAt uint64

		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			current, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("non-integer value at %s: %w", key, err)
			}
			expiresAt = item.ExpiresAt()
		case errors.Is(err, badger.ErrKeyNotFound):
			// start from zero
		default:
			return err
		}

		entry := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(current+val, 10)))
		if expiresAt > 0 {
			entry.ExpiresAt = expiresAt
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return &db.Error{Op: db.OpIncrBy, Err: err}
	}
	return nil
}

// Expire sets a TTL on an existing key by rewriting the entry. When nx=true,
// the TTL is set only if the key has no expiry yet.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	err := s.bdb.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		if nx && item.ExpiresAt() > 0 {
			return nil
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return db.ErrKeyNotFound
		}
		return &db.Error{Op: db.OpExpire, Err: err}
	}
	return nil
}
