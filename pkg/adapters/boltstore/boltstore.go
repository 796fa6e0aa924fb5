// Package boltstore provides bbolt-backed reference implementations of
// ports.SnapshotStore and ports.BlueprintRegistry, grounded on
// pkg/storage.BoltStore's bucket-per-entity, JSON-per-record layout.
package boltstore

import (
	"context"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

var (
	bucketSnapshots  = []byte("snapshots")
	bucketBlueprints = []byte("blueprints")
)

// Store is a bbolt-backed SnapshotStore and BlueprintRegistry sharing
// one database file, the way pkg/storage.BoltStore keeps every entity
// kind in its own bucket of one shared *bolt.DB.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "devicehub.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSnapshots, bucketBlueprints} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("boltstore: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save persists snap, keyed by its device address.
func (s *Store) Save(ctx context.Context, snap ports.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		return b.Put([]byte(snap.Device.String()), snap.Data)
	})
}

// Load returns the most recently saved snapshot for device, if any.
func (s *Store) Load(ctx context.Context, device name.Address) (ports.Snapshot, bool, error) {
	var (
		snap  ports.Snapshot
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		data := b.Get([]byte(device.String()))
		if data == nil {
			return nil
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		snap = ports.Snapshot{Device: device, Data: cp}
		found = true
		return nil
	})
	return snap, found, err
}

// Delete removes a device's saved snapshot, if any.
func (s *Store) Delete(ctx context.Context, device name.Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(device.String()))
	})
}

// Get resolves blueprintID to its stored YAML definition.
func (s *Store) Get(ctx context.Context, blueprintID string) ([]byte, error) {
	var def []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlueprints)
		data := b.Get([]byte(blueprintID))
		if data == nil {
			return fmt.Errorf("boltstore: blueprint %q not found", blueprintID)
		}
		def = append([]byte(nil), data...)
		return nil
	})
	return def, err
}

// Put stores or replaces a blueprint's YAML definition.
func (s *Store) Put(ctx context.Context, blueprintID string, definition []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlueprints).Put([]byte(blueprintID), definition)
	})
}

// List returns every stored blueprint id.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlueprints)
		return b.ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
