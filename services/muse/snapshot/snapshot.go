// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot implements full-tree manifests and the diff primitive.
//
// A snapshot is a mapping from relative path to object id representing a
// complete working-tree state. Its identity is the SHA-256 digest of the
// canonical (path-sorted) serialization of the manifest, so identical
// trees always yield identical snapshot ids.
//
// The diff between two snapshots is the sole primitive all higher layers
// (merge, checkout, replay, stash) use to express "what changed".
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	storage "github.com/cgcardona/maestro.stori.audio-sub000/services/muse/storage/badger"
)

// Sentinel errors for snapshot operations.
var (
	// ErrNotFound is returned when the requested snapshot id is absent.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorruption is returned when a manifest references an object
	// that is missing from the store, or when stored manifest bytes no
	// longer hash to their id.
	ErrCorruption = errors.New("snapshot corruption")
)

// ID is the SHA-256 identity of a snapshot's canonical manifest.
type ID string

// Short returns the abbreviated id used in log output and CLI display.
func (id ID) Short() string {
	if len(id) < 8 {
		return string(id)
	}
	return string(id[:8])
}

const keyPrefix = "snap/"

// Snapshot is a full-tree manifest: relative path -> object id.
type Snapshot struct {
	ID       ID                   `json:"snapshot_id"`
	Manifest map[string]object.ID `json:"manifest"`
}

// Paths returns the manifest paths in sorted order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Manifest))
	for p := range s.Manifest {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// canonical returns the path-sorted serialization the id is computed
// over. One line per entry: "<path>\t<object id>\n".
func canonical(manifest map[string]object.ID) []byte {
	var b strings.Builder
	for _, p := range sortedPaths(manifest) {
		b.WriteString(p)
		b.WriteByte('\t')
		b.WriteString(string(manifest[p]))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func sortedPaths(manifest map[string]object.ID) []string {
	paths := make([]string, 0, len(manifest))
	for p := range manifest {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ComputeID returns the snapshot id for a manifest.
func ComputeID(manifest map[string]object.ID) ID {
	sum := sha256.Sum256(canonical(manifest))
	return ID(hex.EncodeToString(sum[:]))
}

// Engine builds, persists, and reads snapshots.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the underlying database.
type Engine struct {
	db      *storage.DB
	objects *object.Store
	logger  *slog.Logger
}

// NewEngine creates a snapshot engine over the given database and
// object store.
func NewEngine(db *storage.DB, objects *object.Store, logger *slog.Logger) *Engine {
	return &Engine{db: db, objects: objects, logger: logger}
}

// Build writes each path's content to the object store and persists the
// resulting manifest.
//
// Description:
//
//	Every blob is stored before the manifest, so a persisted snapshot
//	never references a missing object. Building the same tree twice is
//	a no-op (identical snapshot id, single stored copy).
//
// Inputs:
//
//	ctx - Context for cancellation.
//	files - Relative path -> raw content. May be empty (empty tree).
//
// Outputs:
//
//	*Snapshot - The persisted snapshot. Never nil on success.
//	error - Non-nil on storage failure.
func (e *Engine) Build(ctx context.Context, files map[string][]byte) (*Snapshot, error) {
	manifest := make(map[string]object.ID, len(files))
	for path, data := range files {
		id, err := e.objects.Put(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}
		manifest[path] = id
	}
	return e.Write(ctx, manifest)
}

// Write persists a manifest whose objects are already stored.
//
// Description:
//
//	Used by the merge engine to materialize merged trees from object
//	ids it selected from existing snapshots. Every referenced object
//	must exist; a missing object fails with ErrCorruption before the
//	manifest is written.
//
// Outputs:
//
//	*Snapshot - The persisted snapshot.
//	error - ErrCorruption naming the missing path/id, or storage error.
func (e *Engine) Write(ctx context.Context, manifest map[string]object.ID) (*Snapshot, error) {
	for _, path := range sortedPaths(manifest) {
		id := manifest[path]
		ok, err := e.objects.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: path %s references missing object %s", ErrCorruption, path, id)
		}
	}

	snap := &Snapshot{ID: ComputeID(manifest), Manifest: manifest}

	data, err := json.Marshal(snap.Manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	err = e.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		key := []byte(keyPrefix + string(snap.ID))
		if _, err := txn.Get(key); err == nil {
			return nil // already persisted
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, fmt.Errorf("write snapshot %s: %w", snap.ID.Short(), err)
	}

	e.logger.Debug("wrote snapshot", "id", snap.ID.Short(), "paths", len(manifest))
	return snap, nil
}

// Get loads a snapshot by id.
//
// Outputs:
//
//	*Snapshot - The loaded snapshot.
//	error - ErrNotFound if absent.
func (e *Engine) Get(ctx context.Context, id ID) (*Snapshot, error) {
	var data []byte
	err := e.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + string(id)))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	var manifest map[string]object.ID
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: snapshot %s has unreadable manifest: %v", ErrCorruption, id.Short(), err)
	}
	if manifest == nil {
		manifest = map[string]object.ID{}
	}
	if got := ComputeID(manifest); got != id {
		return nil, fmt.Errorf("%w: snapshot %s fails content verification", ErrCorruption, id)
	}
	return &Snapshot{ID: id, Manifest: manifest}, nil
}

// Empty returns the persisted empty-tree snapshot, creating it if needed.
// Root commits and cherry-picks of root commits merge against it.
func (e *Engine) Empty(ctx context.Context) (*Snapshot, error) {
	return e.Write(ctx, map[string]object.ID{})
}

// Validate verifies that every object the snapshot references exists.
//
// Outputs:
//
//	error - ErrCorruption naming the first missing path/id, else nil.
func (e *Engine) Validate(ctx context.Context, snap *Snapshot) error {
	for _, path := range snap.Paths() {
		id := snap.Manifest[path]
		ok, err := e.objects.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: path %s references missing object %s", ErrCorruption, path, id)
		}
	}
	return nil
}
