// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the commit DAG: immutable commit records in
// the repository database, mutable branch refs and HEAD as files, and
// the ancestor/merge-base queries every higher layer builds on.
//
// # Identity
//
// A commit id is the SHA-256 digest of (parent, parent2, snapshot,
// message, author). Identical inputs always yield the identical id,
// which makes commit construction idempotent: repeating the same
// construction call returns the existing record instead of storing a
// duplicate.
//
// # Shape
//
// Root commits have no parent. Merge commits have both parent fields
// set; every other commit has exactly one parent. Parents must already
// exist when a commit is created, so the DAG is acyclic by construction.
//
// # Thread Safety
//
// Commit records are write-once in BadgerDB and safe for concurrent
// use. Ref updates are atomic at the filesystem level (write-temp-then-
// rename) but concurrent writers advancing the same ref must hold the
// repository's advisory lock.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
	storage "github.com/cgcardona/maestro.stori.audio-sub000/services/muse/storage/badger"
)

// Sentinel errors for commit graph operations.
var (
	// ErrNotFound is returned when a commit, ref, or HEAD target is
	// absent.
	ErrNotFound = errors.New("commit not found")

	// ErrRefNotFound is returned when a branch ref does not exist.
	ErrRefNotFound = errors.New("ref not found")

	// ErrInvalidCommit is returned when commit construction inputs are
	// inconsistent (missing snapshot, parent2 without parent, ...).
	ErrInvalidCommit = errors.New("invalid commit")

	// ErrCorruption is returned when a stored commit record cannot be
	// decoded or a ref points at a malformed id.
	ErrCorruption = errors.New("commit graph corruption")
)

// CommitID is the SHA-256 identity of a commit, in lowercase hex.
// The empty string means "no commit" (root parent, unborn branch).
type CommitID string

// Short returns the abbreviated id used in log output and CLI display.
func (id CommitID) Short() string {
	if len(id) < 8 {
		return string(id)
	}
	return string(id[:8])
}

// Valid reports whether the id is well-formed (64 lowercase hex chars).
func (id CommitID) Valid() bool {
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

const commitPrefix = "commit/"

// Commit is an immutable record linking parent(s), a snapshot, and
// annotation metadata.
//
// Branch, CommittedAt, and Metadata are recorded but excluded from the
// identity hash, so re-running the same logical construction at a
// different time is still a no-op.
type Commit struct {
	ID          CommitID    `json:"commit_id"`
	Parent      CommitID    `json:"parent_id,omitempty"`
	Parent2     CommitID    `json:"parent2_id,omitempty"`
	SnapshotID  snapshot.ID `json:"snapshot_id"`
	Branch      string      `json:"branch,omitempty"`
	Message     string      `json:"message"`
	Author      string      `json:"author"`
	CommittedAt time.Time   `json:"committed_at"`
	Metadata    *Metadata   `json:"metadata,omitempty"`
}

// IsRoot reports whether the commit has no parents.
func (c *Commit) IsRoot() bool {
	return c.Parent == ""
}

// IsMerge reports whether the commit has two parents.
func (c *Commit) IsMerge() bool {
	return c.Parent2 != ""
}

// Parents returns the non-empty parent ids, first parent first.
func (c *Commit) Parents() []CommitID {
	var parents []CommitID
	if c.Parent != "" {
		parents = append(parents, c.Parent)
	}
	if c.Parent2 != "" {
		parents = append(parents, c.Parent2)
	}
	return parents
}

// ComputeCommitID returns the deterministic identity for the given
// construction inputs. Fields are length-prefixed so no two input
// tuples can serialize to the same byte stream.
func ComputeCommitID(parent, parent2 CommitID, snapshotID snapshot.ID, message, author string) CommitID {
	h := sha256.New()
	for _, field := range []string{string(parent), string(parent2), string(snapshotID), message, author} {
		fmt.Fprintf(h, "%d:%s\x00", len(field), field)
	}
	return CommitID(hex.EncodeToString(h.Sum(nil)))
}

// CommitOptions are the inputs to CreateCommit.
type CommitOptions struct {
	// Parent is the first parent. Empty for root commits.
	Parent CommitID

	// Parent2 is the second parent, set only on merge commits.
	Parent2 CommitID

	// SnapshotID is the tree this commit records. Required.
	SnapshotID snapshot.ID

	// Branch names the branch the commit was created on. Recorded,
	// not hashed.
	Branch string

	// Message is the commit message. Hashed.
	Message string

	// Author is the "Name <email>" attribution. Hashed.
	Author string

	// Metadata carries open-vocabulary annotations. Recorded, not
	// hashed. May be nil.
	Metadata *Metadata
}

// Graph is the commit DAG over the repository database and ref files.
type Graph struct {
	db     *storage.DB
	refs   *refStore
	logger *slog.Logger
}

// New creates a commit graph.
//
// Inputs:
//
//	db - The repository database (commit records).
//	museDir - The `.muse` directory (refs, HEAD).
//	logger - Logger for graph operations.
func New(db *storage.DB, museDir string, logger *slog.Logger) *Graph {
	return &Graph{
		db:     db,
		refs:   &refStore{dir: museDir},
		logger: logger,
	}
}

// CreateCommit stores a commit record, idempotently.
//
// Description:
//
//	Computes the deterministic id from the construction inputs. If a
//	record with that id already exists it is returned unchanged: no
//	duplicate is stored and CommittedAt keeps its original value.
//	Parents must already exist; the snapshot id must be set.
//
// Outputs:
//
//	*Commit - The stored (or pre-existing) record.
//	error - ErrInvalidCommit on inconsistent inputs, ErrNotFound if a
//	        parent is absent.
func (g *Graph) CreateCommit(ctx context.Context, opts CommitOptions) (*Commit, error) {
	if opts.SnapshotID == "" {
		return nil, fmt.Errorf("%w: snapshot id is required", ErrInvalidCommit)
	}
	if opts.Parent2 != "" && opts.Parent == "" {
		return nil, fmt.Errorf("%w: second parent without first", ErrInvalidCommit)
	}

	for _, parent := range []CommitID{opts.Parent, opts.Parent2} {
		if parent == "" {
			continue
		}
		if _, err := g.GetCommit(ctx, parent); err != nil {
			return nil, fmt.Errorf("parent %s: %w", parent.Short(), err)
		}
	}

	id := ComputeCommitID(opts.Parent, opts.Parent2, opts.SnapshotID, opts.Message, opts.Author)

	// Idempotent: identical inputs yield the identical id, so a
	// pre-existing record is the same commit.
	if existing, err := g.GetCommit(ctx, id); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	commit := &Commit{
		ID:          id,
		Parent:      opts.Parent,
		Parent2:     opts.Parent2,
		SnapshotID:  opts.SnapshotID,
		Branch:      opts.Branch,
		Message:     opts.Message,
		Author:      opts.Author,
		CommittedAt: time.Now().UTC(),
		Metadata:    opts.Metadata,
	}

	data, err := json.Marshal(commit)
	if err != nil {
		return nil, fmt.Errorf("marshal commit: %w", err)
	}

	err = g.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(commitPrefix+string(id)), data)
	})
	if err != nil {
		return nil, fmt.Errorf("store commit %s: %w", id.Short(), err)
	}

	g.logger.Debug("created commit",
		"id", id.Short(),
		"parent", opts.Parent.Short(),
		"branch", opts.Branch)
	return commit, nil
}

// GetCommit loads a commit record by id.
//
// Outputs:
//
//	*Commit - The record.
//	error - ErrNotFound if absent, ErrCorruption if undecodable.
func (g *Graph) GetCommit(ctx context.Context, id CommitID) (*Commit, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: malformed commit id %q", ErrNotFound, id)
	}

	var data []byte
	err := g.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(commitPrefix + string(id)))
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

	var commit Commit
	if err := json.Unmarshal(data, &commit); err != nil {
		return nil, fmt.Errorf("%w: commit %s has unreadable record: %v", ErrCorruption, id.Short(), err)
	}
	return &commit, nil
}

// HasCommit reports whether a commit record exists.
func (g *Graph) HasCommit(ctx context.Context, id CommitID) (bool, error) {
	_, err := g.GetCommit(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
