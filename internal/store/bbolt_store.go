package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const bucketDocuments = "documents"

// BoltStore keeps documents in a bbolt bucket.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a bbolt-backed store at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}
	st := &BoltStore{db: db}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketDocuments))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Get returns the document stored under key, or def when absent.
func (s *BoltStore) Get(key string, def []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketDocuments)).Get([]byte(key))
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return def, nil
	}
	return out, nil
}

// Put stores the document wholesale under key.
func (s *BoltStore) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketDocuments)).Put([]byte(key), value)
	})
}

// Delete removes the document stored under key.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketDocuments)).Delete([]byte(key))
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }
