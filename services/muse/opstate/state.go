// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package opstate persists in-progress multi-step operation state.
//
// Merge, rebase, cherry-pick, revert, and bisect all pause between
// process invocations: on conflict, or between externally-driven test
// steps. Their state is modelled as an explicit persisted value,
// loaded at the start of an invocation and written back atomically at
// the end, never as in-memory singleton state.
//
// The presence of a state file under `.muse/` is itself the signal
// that an operation is in progress: every mutating command calls
// EnsureIdle first and refuses to proceed while one exists.
//
// Each record is wrapped in a versioned, checksummed envelope so a
// corrupt or half-written file is detected rather than trusted.
package opstate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StateVersion is the current on-disk state format version.
const StateVersion = "1.0.0"

// Sentinel errors for operation state handling.
var (
	// ErrNoState is returned when no state record of the requested
	// kind exists.
	ErrNoState = errors.New("no operation state")

	// ErrStateCorrupt is returned when a state file fails checksum or
	// version verification. Never auto-repaired.
	ErrStateCorrupt = errors.New("operation state corrupt")

	// ErrOperationInProgress is returned by EnsureIdle while any state
	// record exists; the caller must continue or abort it first.
	ErrOperationInProgress = errors.New("operation in progress")

	// ErrUnresolvedConflicts is returned by a continue while conflict
	// paths still lack resolutions.
	ErrUnresolvedConflicts = errors.New("unresolved conflicts remain")
)

// Kind identifies one resumable operation type.
type Kind string

// The resumable operation kinds and their state file stems.
const (
	KindMerge      Kind = "merge"
	KindRebase     Kind = "rebase"
	KindCherryPick Kind = "cherry-pick"
	KindRevert     Kind = "revert"
	KindBisect     Kind = "bisect"
)

// allKinds is the EnsureIdle scan order.
var allKinds = []Kind{KindMerge, KindRebase, KindCherryPick, KindRevert, KindBisect}

// fileName maps a kind to its state file under the .muse directory.
func (k Kind) fileName() string {
	switch k {
	case KindMerge:
		return "MERGE_STATE.json"
	case KindRebase:
		return "REBASE_STATE.json"
	case KindCherryPick:
		return "CHERRY_PICK_STATE.json"
	case KindRevert:
		return "REVERT_STATE.json"
	case KindBisect:
		return "BISECT_STATE.json"
	default:
		return string(k) + "_STATE.json"
	}
}

// envelope is the on-disk wrapper around a state record.
type envelope struct {
	Kind     Kind            `json:"kind"`
	Version  string          `json:"version"`
	SavedAt  time.Time       `json:"saved_at"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// computeChecksum hashes the fields the checksum protects.
func computeChecksum(kind Kind, version string, state json.RawMessage) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", kind, version)
	h.Write(state)
	return hex.EncodeToString(h.Sum(nil))
}

// Store reads and writes state records under the .muse directory.
//
// # Thread Safety
//
// Not safe for concurrent use; the repository's advisory lock
// serializes invocations.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a state store rooted at the .muse directory.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

func (s *Store) path(kind Kind) string {
	return filepath.Join(s.dir, kind.fileName())
}

// Save persists a state record atomically (temp file + rename).
//
// Inputs:
//
//	kind - The operation kind.
//	state - JSON-serializable state value. Must not be nil.
//
// Outputs:
//
//	error - Non-nil if serialization or the atomic write fails.
func (s *Store) Save(kind Kind, state any) error {
	if state == nil {
		return errors.New("state must not be nil")
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s state: %w", kind, err)
	}

	env := envelope{
		Kind:     kind,
		Version:  StateVersion,
		SavedAt:  time.Now().UTC(),
		Checksum: computeChecksum(kind, StateVersion, raw),
		State:    raw,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", kind, err)
	}

	path := s.path(kind)
	tmp, err := os.CreateTemp(s.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename state into place: %w", err)
	}
	success = true

	s.logger.Debug("saved operation state", "kind", kind)
	return nil
}

// Load reads and verifies a state record into out.
//
// Outputs:
//
//	error - ErrNoState if absent, ErrStateCorrupt on checksum or
//	        version mismatch.
func (s *Store) Load(kind Kind, out any) error {
	data, err := os.ReadFile(s.path(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoState, kind)
		}
		return fmt.Errorf("read %s state: %w", kind, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %s state is unreadable: %v", ErrStateCorrupt, kind, err)
	}
	if env.Version != StateVersion {
		return fmt.Errorf("%w: %s state version %s, want %s", ErrStateCorrupt, kind, env.Version, StateVersion)
	}

	// The envelope is written indented, which reformats the embedded
	// state; compact it back to the exact bytes the checksum covers.
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.State); err != nil {
		return fmt.Errorf("%w: %s state is unreadable: %v", ErrStateCorrupt, kind, err)
	}
	if env.Checksum != computeChecksum(env.Kind, env.Version, compact.Bytes()) {
		return fmt.Errorf("%w: %s state fails checksum verification", ErrStateCorrupt, kind)
	}

	if err := json.Unmarshal(env.State, out); err != nil {
		return fmt.Errorf("%w: %s state does not decode: %v", ErrStateCorrupt, kind, err)
	}
	return nil
}

// Exists reports whether a state record of the given kind is present.
func (s *Store) Exists(kind Kind) bool {
	_, err := os.Stat(s.path(kind))
	return err == nil
}

// Clear removes a state record. Clearing an absent record is a no-op.
func (s *Store) Clear(kind Kind) error {
	err := os.Remove(s.path(kind))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear %s state: %w", kind, err)
	}
	if err == nil {
		s.logger.Debug("cleared operation state", "kind", kind)
	}
	return nil
}

// Active returns the kind of the in-progress operation, if any.
func (s *Store) Active() (Kind, bool) {
	for _, kind := range allKinds {
		if s.Exists(kind) {
			return kind, true
		}
	}
	return "", false
}

// EnsureIdle fails with ErrOperationInProgress while any state record
// exists. Every mutating command calls this first so an unresolved
// operation is never silently abandoned.
func (s *Store) EnsureIdle() error {
	if kind, ok := s.Active(); ok {
		return fmt.Errorf("%w: %s (continue or abort it first)", ErrOperationInProgress, kind)
	}
	return nil
}
