// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opstate

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/merge"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

// TestSaveLoadRoundtrip verifies a state record survives persistence.
func TestSaveLoadRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)

	saved := MergeState{
		SessionID: NewSessionID(),
		Branch:    "bridge",
		ConflictState: ConflictState{
			Merged: map[string]object.ID{"a.mid": object.ComputeID([]byte("x"))},
		},
	}
	require.NoError(t, store.Save(KindMerge, saved))

	var loaded MergeState
	require.NoError(t, store.Load(KindMerge, &loaded))
	assert.Equal(t, saved.SessionID, loaded.SessionID)
	assert.Equal(t, saved.Branch, loaded.Branch)
	assert.Equal(t, saved.Merged, loaded.Merged)
}

// TestLoadAbsent verifies a missing record reports ErrNoState.
func TestLoadAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	var out MergeState
	assert.ErrorIs(t, store.Load(KindMerge, &out), ErrNoState)
}

// TestLoadDetectsCorruption verifies a tampered state file fails
// checksum verification instead of being trusted.
func TestLoadDetectsCorruption(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, store.Save(KindRebase, RebaseState{Branch: "b"}))

	path := filepath.Join(dir, KindRebase.fileName())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip the recorded branch inside the envelope's state payload.
	tampered := []byte(string(data))
	for i := range tampered {
		if tampered[i] == '"' && i+2 < len(tampered) && string(tampered[i:i+3]) == `"b"` {
			tampered[i+1] = 'c'
			break
		}
	}
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	var out RebaseState
	assert.ErrorIs(t, store.Load(KindRebase, &out), ErrStateCorrupt)
}

// TestLoadUnreadableFile verifies garbage bytes report ErrStateCorrupt.
func TestLoadUnreadableFile(t *testing.T) {
	store, dir := newTestStore(t)
	path := filepath.Join(dir, KindBisect.fileName())
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	var out BisectState
	assert.ErrorIs(t, store.Load(KindBisect, &out), ErrStateCorrupt)
}

// TestEnsureIdle verifies any present record blocks new operations.
func TestEnsureIdle(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.EnsureIdle())

	require.NoError(t, store.Save(KindCherryPick, CherryPickState{}))
	assert.ErrorIs(t, store.EnsureIdle(), ErrOperationInProgress)

	kind, ok := store.Active()
	assert.True(t, ok)
	assert.Equal(t, KindCherryPick, kind)

	require.NoError(t, store.Clear(KindCherryPick))
	require.NoError(t, store.EnsureIdle())
	_, ok = store.Active()
	assert.False(t, ok)
}

// TestClearAbsent verifies clearing a missing record is a no-op.
func TestClearAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Clear(KindMerge))
}

func conflictFixture() ConflictState {
	return ConflictState{
		Merged: map[string]object.ID{
			"keep.mid": object.ComputeID([]byte("keep")),
			"conf.mid": object.ComputeID([]byte("base")),
		},
		Conflicts: []merge.Conflict{
			{Path: "conf.mid", Ours: object.ComputeID([]byte("ours")), Theirs: object.ComputeID([]byte("theirs"))},
		},
	}
}

// TestConflictStateResolve verifies resolution bookkeeping.
func TestConflictStateResolve(t *testing.T) {
	cs := conflictFixture()
	assert.Equal(t, []string{"conf.mid"}, cs.Unresolved())

	// Only recorded conflict paths may be resolved.
	assert.Error(t, cs.Resolve("keep.mid", object.ComputeID([]byte("x"))))

	oursID := object.ComputeID([]byte("ours"))
	require.NoError(t, cs.Resolve("conf.mid", oursID))
	assert.Empty(t, cs.Unresolved())

	manifest := cs.ResolvedManifest()
	assert.Equal(t, oursID, manifest["conf.mid"])
	assert.Contains(t, manifest, "keep.mid")
}

// TestConflictStateResolveToRemoval verifies the empty id deletes the
// path from the resolved manifest.
func TestConflictStateResolveToRemoval(t *testing.T) {
	cs := conflictFixture()
	require.NoError(t, cs.Resolve("conf.mid", ""))
	assert.Empty(t, cs.Unresolved())
	assert.NotContains(t, cs.ResolvedManifest(), "conf.mid")
}

// TestConflictLookup verifies per-path conflict retrieval.
func TestConflictLookup(t *testing.T) {
	cs := conflictFixture()
	c, ok := cs.Conflict("conf.mid")
	assert.True(t, ok)
	assert.Equal(t, "conf.mid", c.Path)

	_, ok = cs.Conflict("missing.mid")
	assert.False(t, ok)
}

// TestStateKindsIsolated verifies records of different kinds do not
// collide.
func TestStateKindsIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(KindMerge, MergeState{Branch: "a"}))
	require.NoError(t, store.Save(KindBisect, BisectState{}))

	assert.True(t, store.Exists(KindMerge))
	assert.True(t, store.Exists(KindBisect))
	assert.False(t, store.Exists(KindRevert))

	require.NoError(t, store.Clear(KindMerge))
	assert.True(t, store.Exists(KindBisect))
}
