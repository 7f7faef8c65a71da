// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package metadb implements the per-segment metadata sidecar (§4.5): a tiny
// file recording (version, lastCheckpointOffset, lastCheckpointWriteOrderID)
// that must survive a crash as either the old pair or the new pair, never a
// tear. Rather than hand-roll a double-buffered generation counter, the
// sidecar is a one-bucket bbolt database: bbolt's own copy-on-write B+tree
// commit already gives exactly that atomic-replace-or-old-value guarantee,
// the same way the teacher's metaDB persists its segment directory.
package metadb

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var checkpointBucket = []byte("checkpoint")

const checkpointKey = "checkpoint"

// Checkpoint is the durable (version, offset, writeOrderID) triple for one
// segment's sidecar.
type Checkpoint struct {
	Version      uint8
	Offset       int64
	WriteOrderID int64
}

// Store is the sidecar for a single segment.
type Store struct {
	db *bolt.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the sidecar file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o640, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("seglog: open metadata sidecar %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seglog: init metadata sidecar %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Load returns the persisted checkpoint, or found=false if the sidecar has
// never had one written (a brand new segment).
func (s *Store) Load() (cp Checkpoint, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointBucket)
		v := b.Get([]byte(checkpointKey))
		if v == nil {
			return nil
		}
		found = true
		return decodeCheckpoint(v, &cp)
	})
	return cp, found, err
}

// MarkCheckpoint atomically persists (version, offset, writeOrderID). On
// return either this call's pair is durable, or none of it is (bbolt's
// commit is all-or-nothing); a concurrent crash can never observe a torn
// mix of old and new fields.
func (s *Store) MarkCheckpoint(version uint8, offset, writeOrderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := Checkpoint{Version: version, Offset: offset, WriteOrderID: writeOrderID}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointBucket)
		return b.Put([]byte(checkpointKey), encodeCheckpoint(cp))
	})
}

// MarkCheckpointWriteOrderID reuses the previously stored offset and
// version, only advancing writeOrderID. This supports "nothing new has been
// appended since the last checkpoint but time has advanced" updates.
func (s *Store) MarkCheckpointWriteOrderID(writeOrderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointBucket)
		v := b.Get([]byte(checkpointKey))
		if v == nil {
			return fmt.Errorf("seglog: MarkCheckpointWriteOrderID called before any MarkCheckpoint")
		}
		var cp Checkpoint
		if err := decodeCheckpoint(v, &cp); err != nil {
			return err
		}
		cp.WriteOrderID = writeOrderID
		return b.Put([]byte(checkpointKey), encodeCheckpoint(cp))
	})
}

// Close releases the sidecar's underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeCheckpoint(cp Checkpoint) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = cp.Version
	binary.BigEndian.PutUint64(buf[1:9], uint64(cp.Offset))
	binary.BigEndian.PutUint64(buf[9:17], uint64(cp.WriteOrderID))
	return buf
}

func decodeCheckpoint(b []byte, cp *Checkpoint) error {
	if len(b) != 1+8+8 {
		return fmt.Errorf("seglog: malformed checkpoint record (%d bytes)", len(b))
	}
	cp.Version = b[0]
	cp.Offset = int64(binary.BigEndian.Uint64(b[1:9]))
	cp.WriteOrderID = int64(binary.BigEndian.Uint64(b[9:17]))
	return nil
}
