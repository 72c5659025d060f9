// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package object implements the content-addressed object store.
//
// An object is an immutable byte blob whose identity is the SHA-256
// digest of its raw content (64 lowercase hex characters). Two blobs
// with identical bytes collapse to one stored object; writes are
// idempotent and order-independent. Objects are never updated or
// deleted; garbage collection is intentionally absent.
//
// Objects are stored in the repository's BadgerDB under `obj/<hex>`.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB serializes access.
package object

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"

	storage "github.com/cgcardona/maestro.stori.audio-sub000/services/muse/storage/badger"
)

// Sentinel errors for object store operations.
var (
	// ErrNotFound is returned when the requested object id is absent
	// from the store. Never silently ignored by callers.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidID is returned when an id is not 64 lowercase hex
	// characters.
	ErrInvalidID = errors.New("invalid object id")

	// ErrCorruption is returned when stored bytes no longer hash to
	// their key. Corruption is reported, never auto-repaired.
	ErrCorruption = errors.New("object store corruption")
)

// ID is the SHA-256 content address of an object, in lowercase hex.
type ID string

// keyPrefix namespaces object records inside the shared repository DB.
const keyPrefix = "obj/"

// ComputeID returns the content address for the given bytes.
func ComputeID(data []byte) ID {
	sum := sha256.Sum256(data)
	return ID(hex.EncodeToString(sum[:]))
}

// Valid reports whether the id is well-formed (64 lowercase hex chars).
func (id ID) Valid() bool {
	if len(id) != 64 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Short returns the abbreviated id used in log output and CLI display.
func (id ID) Short() string {
	if len(id) < 8 {
		return string(id)
	}
	return string(id[:8])
}

func (id ID) key() []byte {
	return []byte(keyPrefix + string(id))
}

// Store is the content-addressed, deduplicated byte store.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewStore creates an object store backed by the given database.
//
// Inputs:
//
//	db - The repository database. Must not be nil.
//	logger - Logger for store operations. Must not be nil.
func NewStore(db *storage.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Put stores the bytes and returns their content address.
//
// Description:
//
//	Idempotent: if an object with the same content already exists the
//	existing id is returned without a second write. Concurrent writers
//	storing the same content never conflict.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	data - Raw object content. Empty content is a valid object.
//
// Outputs:
//
//	ID - The SHA-256 content address.
//	error - Non-nil only on storage failure.
func (s *Store) Put(ctx context.Context, data []byte) (ID, error) {
	id := ComputeID(data)

	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		_, err := txn.Get(id.key())
		if err == nil {
			// Content already stored; write-once semantics.
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return txn.Set(id.key(), data)
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", id.Short(), err)
	}

	s.logger.Debug("stored object", "id", id.Short(), "size", len(data))
	return id, nil
}

// Get returns the bytes for the given id.
//
// Description:
//
//	Re-hashes the stored bytes on every read and fails with
//	ErrCorruption if they no longer match their key.
//
// Outputs:
//
//	[]byte - The object content (a copy owned by the caller).
//	error - ErrNotFound if absent, ErrCorruption on hash mismatch.
func (s *Store) Get(ctx context.Context, id ID) ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	var data []byte
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(id.key())
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

	if ComputeID(data) != id {
		return nil, fmt.Errorf("%w: object %s fails content verification", ErrCorruption, id)
	}
	return data, nil
}

// Exists reports whether the object is present in the store.
func (s *Store) Exists(ctx context.Context, id ID) (bool, error) {
	if !id.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	found := false
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		_, err := txn.Get(id.key())
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}
