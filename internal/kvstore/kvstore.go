// Package kvstore adapts the node's on-disk index stores (block index,
// tx index) to a minimal open/get/scan/close surface, enforcing the
// exclusive-access policy spec.md §4.D requires: only one engine (or
// node) may hold an index store open at a time.
package kvstore

import (
	"bytes"
	"time"

	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"

	"chainquery/internal/chainerr"
)

// indexBucket is the single bucket every record (block index, tx index,
// and the singleton meta keys) lives in, namespaced by key prefix the
// way spec.md §4.D describes ('b'+hash, 't'+txid, ...).
var indexBucket = []byte("index")

// Store is a read-only handle on one index database, held under an
// exclusive file lock for its entire lifetime.
type Store struct {
	db   *bolt.DB
	lock *flock.Flock
}

// Open acquires an exclusive lock on path and opens it as a bbolt
// database. The lock is attempted first and non-blocking: if another
// process (the node itself, or another engine instance) holds it,
// Open fails fast with LockHeld instead of hanging.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, chainerr.Wrap(chainerr.IO, "acquire index lock", err)
	}
	if !locked {
		return nil, chainerr.New(chainerr.LockHeld, "index store locked by another process: "+path)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		ReadOnly: true,
		Timeout:  2 * time.Second,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, chainerr.Wrap(chainerr.IO, "open index store: "+path, err)
	}

	return &Store{db: db, lock: lock}, nil
}

// Get fetches the value for key, or (nil, false) if absent.
func (s *Store) Get(key []byte) ([]byte, bool) {
	var val []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, val != nil
}

// ForEach invokes fn for every key with the given prefix, in key order.
// fn's returned error stops the scan and is returned from ForEach.
func (s *Store) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the database handle and the exclusive lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return chainerr.Wrap(chainerr.IO, "close index store", dbErr)
	}
	if lockErr != nil {
		return chainerr.Wrap(chainerr.IO, "release index lock", lockErr)
	}
	return nil
}
