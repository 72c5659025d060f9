// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stash shelves uncommitted working-tree state.
//
// A stash entry is a snapshot of the working tree plus the commit it
// was based on, stored in the repository database as a LIFO stack.
// Entries survive checkouts and merges; applying one replays the
// shelved snapshot onto the current tree.
package stash

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
	storage "github.com/cgcardona/maestro.stori.audio-sub000/services/muse/storage/badger"
)

// keyPrefix namespaces stash entries in the database. The sequence
// number is appended big-endian so lexicographic key order is stack
// order.
const keyPrefix = "stash/"

// Sentinel errors for stash operations.
var (
	// ErrEmpty is returned when the stack has no entries.
	ErrEmpty = errors.New("stash is empty")

	// ErrNotFound is returned for an out-of-range stash index.
	ErrNotFound = errors.New("stash entry not found")
)

// Entry is one shelved working-tree state. Index 0 is the most recent.
type Entry struct {
	// ID is a unique identifier for log correlation.
	ID string `json:"id"`

	// Seq orders the stack; higher is more recent.
	Seq uint64 `json:"seq"`

	// Message describes the shelved work.
	Message string `json:"message"`

	// Branch and BaseCommit record where the stash was taken.
	Branch     string         `json:"branch"`
	BaseCommit graph.CommitID `json:"base_commit"`

	// SnapshotID is the shelved working-tree snapshot.
	SnapshotID snapshot.ID `json:"snapshot_id"`

	CreatedAt time.Time `json:"created_at"`
}

// Applied is the result of applying a stash entry.
type Applied struct {
	// Entry is the applied entry.
	Entry *Entry

	// Snapshot is the shelved tree to restore.
	Snapshot *snapshot.Snapshot

	// Missing lists paths whose objects are absent from the store.
	// Non-empty means the entry is partially corrupt; the remaining
	// paths are still restorable.
	Missing []string
}

// Manager is the stash stack over the repository database.
//
// # Thread Safety
//
// Safe for concurrent reads; mutations are serialized by the
// repository lock.
type Manager struct {
	db      *storage.DB
	snaps   *snapshot.Engine
	objects *object.Store
	logger  *slog.Logger
}

// NewManager creates a stash manager.
func NewManager(db *storage.DB, snaps *snapshot.Engine, objects *object.Store, logger *slog.Logger) *Manager {
	return &Manager{db: db, snaps: snaps, objects: objects, logger: logger}
}

// Push shelves a working-tree snapshot onto the stack.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	snapID - The already-written snapshot of the working tree.
//	base - The commit the tree was based on (may be empty on an
//	       unborn branch).
//	branch - The branch name at stash time.
//	message - Description; empty gets a default from the base commit.
//
// Outputs:
//
//	*Entry - The stored entry, at index 0.
//	error - Non-nil if the snapshot is unknown or storage fails.
func (m *Manager) Push(ctx context.Context, snapID snapshot.ID, base graph.CommitID, branch, message string) (*Entry, error) {
	if _, err := m.snaps.Get(ctx, snapID); err != nil {
		return nil, fmt.Errorf("stash snapshot: %w", err)
	}
	if message == "" {
		message = fmt.Sprintf("WIP on %s at %s", branch, base.Short())
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		Message:    message,
		Branch:     branch,
		BaseCommit: base,
		SnapshotID: snapID,
		CreatedAt:  time.Now(),
	}

	err := m.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		seq, err := nextSeq(txn)
		if err != nil {
			return err
		}
		entry.Seq = seq

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set(entryKey(seq), data)
	})
	if err != nil {
		return nil, fmt.Errorf("push stash entry: %w", err)
	}

	m.logger.Info("Stashed working tree",
		"stash", entry.ID,
		"branch", branch,
		"message", message)
	return entry, nil
}

// List returns the stack, most recent first.
func (m *Manager) List(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry
	err := m.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek past the last possible key.
		seek := append([]byte(keyPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode stash entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the entry at the given index; 0 is the most recent.
func (m *Manager) Get(ctx context.Context, index int) (*Entry, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	if index < 0 || index >= len(entries) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNotFound, index, len(entries))
	}
	return entries[index], nil
}

// Apply loads the entry at index for restoration, leaving it on the
// stack.
//
// Description:
//
//	Verifies every object the shelved snapshot references. Paths
//	backed by missing objects are reported rather than failing the
//	whole apply, so a damaged store degrades to a partial restore.
func (m *Manager) Apply(ctx context.Context, index int) (*Applied, error) {
	entry, err := m.Get(ctx, index)
	if err != nil {
		return nil, err
	}

	snap, err := m.snaps.Get(ctx, entry.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("stash snapshot %s: %w", entry.SnapshotID.Short(), err)
	}

	var missing []string
	for _, path := range snap.Paths() {
		ok, err := m.objects.Exists(ctx, snap.Manifest[path])
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		m.logger.Warn("Stash entry references missing objects",
			"stash", entry.ID,
			"missing", len(missing))
	}

	return &Applied{Entry: entry, Snapshot: snap, Missing: missing}, nil
}

// Pop applies the most recent entry and drops it from the stack.
func (m *Manager) Pop(ctx context.Context) (*Applied, error) {
	applied, err := m.Apply(ctx, 0)
	if err != nil {
		return nil, err
	}
	if err := m.Drop(ctx, 0); err != nil {
		return nil, err
	}
	return applied, nil
}

// Drop removes the entry at index without applying it.
func (m *Manager) Drop(ctx context.Context, index int) error {
	entry, err := m.Get(ctx, index)
	if err != nil {
		return err
	}
	err = m.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Delete(entryKey(entry.Seq))
	})
	if err != nil {
		return fmt.Errorf("drop stash entry: %w", err)
	}
	m.logger.Info("Dropped stash entry",
		"stash", entry.ID,
		"message", entry.Message)
	return nil
}

// entryKey builds the database key for a sequence number.
func entryKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

// nextSeq returns one past the highest stored sequence number.
func nextSeq(txn *badgerdb.Txn) (uint64, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(keyPrefix)
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append([]byte(keyPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	it.Seek(seek)
	if !it.Valid() {
		return 1, nil
	}
	key := it.Item().Key()
	if len(key) != len(keyPrefix)+8 {
		return 0, fmt.Errorf("malformed stash key %q", key)
	}
	return binary.BigEndian.Uint64(key[len(keyPrefix):]) + 1, nil
}
