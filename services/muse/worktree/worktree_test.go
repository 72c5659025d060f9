// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worktree

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/checkout"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	storage "github.com/cgcardona/maestro.stori.audio-sub000/services/muse/storage/badger"
)

func newTestTree(t *testing.T) (*Tree, *object.Store) {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(t.TempDir(), logger), object.NewStore(db, logger)
}

func writeTreeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestScan verifies the tree reads back with slash-relative paths.
func TestScan(t *testing.T) {
	tree, _ := newTestTree(t)
	writeTreeFile(t, tree.Root(), "drums/kick.mid", "kick")
	writeTreeFile(t, tree.Root(), "bass/line.mid", "bass")
	writeTreeFile(t, tree.Root(), "song.muse", "song")

	files, err := tree.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, []byte("kick"), files["drums/kick.mid"])
	assert.Equal(t, []byte("bass"), files["bass/line.mid"])
	assert.Equal(t, []byte("song"), files["song.muse"])
}

// TestScanSkipsAdminDir verifies .muse contents never enter snapshots.
func TestScanSkipsAdminDir(t *testing.T) {
	tree, _ := newTestTree(t)
	writeTreeFile(t, tree.Root(), "track.mid", "notes")
	writeTreeFile(t, tree.Root(), AdminDir+"/HEAD", "ref: refs/heads/main")
	writeTreeFile(t, tree.Root(), AdminDir+"/refs/heads/main", "abc")

	files, err := tree.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Contains(t, files, "track.mid")
}

// TestScanEmpty verifies an empty root yields an empty map.
func TestScanEmpty(t *testing.T) {
	tree, _ := newTestTree(t)
	files, err := tree.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

// TestApplyAddsAndModifies verifies adds create files and modifies
// replace content.
func TestApplyAddsAndModifies(t *testing.T) {
	tree, objects := newTestTree(t)
	ctx := context.Background()
	writeTreeFile(t, tree.Root(), "old.mid", "v1")

	newID, err := objects.Put(ctx, []byte("fresh"))
	require.NoError(t, err)
	modID, err := objects.Put(ctx, []byte("v2"))
	require.NoError(t, err)

	cs := checkout.Changeset{Steps: []checkout.Step{
		{Op: checkout.OpAdd, Path: "sub/new.mid", Object: newID},
		{Op: checkout.OpModify, Path: "old.mid", Object: modID},
	}}
	report, err := tree.Apply(ctx, cs, objects)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Executed)
	assert.Zero(t, report.Failed)

	data, err := os.ReadFile(filepath.Join(tree.Root(), "sub", "new.mid"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	data, err = os.ReadFile(filepath.Join(tree.Root(), "old.mid"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

// TestApplyRemovePrunesDirs verifies removals delete files and empty
// parent directories.
func TestApplyRemovePrunesDirs(t *testing.T) {
	tree, objects := newTestTree(t)
	writeTreeFile(t, tree.Root(), "keys/pads/warm.mid", "pad")

	cs := checkout.Changeset{Steps: []checkout.Step{
		{Op: checkout.OpRemove, Path: "keys/pads/warm.mid"},
	}}
	report, err := tree.Apply(context.Background(), cs, objects)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)

	_, err = os.Stat(filepath.Join(tree.Root(), "keys"))
	assert.True(t, os.IsNotExist(err))
}

// TestApplyCollectsFailures verifies a missing object fails its step
// without stranding the rest.
func TestApplyCollectsFailures(t *testing.T) {
	tree, objects := newTestTree(t)
	ctx := context.Background()

	okID, err := objects.Put(ctx, []byte("ok"))
	require.NoError(t, err)

	cs := checkout.Changeset{Steps: []checkout.Step{
		{Op: checkout.OpAdd, Path: "good.mid", Object: okID},
		{Op: checkout.OpAdd, Path: "bad.mid", Object: object.ComputeID([]byte("never stored"))},
	}}
	report, err := tree.Apply(ctx, cs, objects)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"bad.mid"}, report.FailedPaths)

	_, err = os.Stat(filepath.Join(tree.Root(), "good.mid"))
	assert.NoError(t, err)
}

// TestScanApplyRoundtrip verifies a scanned tree can be rebuilt
// elsewhere from the object store.
func TestScanApplyRoundtrip(t *testing.T) {
	src, objects := newTestTree(t)
	ctx := context.Background()
	writeTreeFile(t, src.Root(), "drums/kick.mid", "kick")
	writeTreeFile(t, src.Root(), "melody.mid", "notes")

	files, err := src.Scan(ctx)
	require.NoError(t, err)

	var steps []checkout.Step
	for rel, data := range files {
		id, err := objects.Put(ctx, data)
		require.NoError(t, err)
		steps = append(steps, checkout.Step{Op: checkout.OpAdd, Path: rel, Object: id})
	}

	dst := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	report, err := dst.Apply(ctx, checkout.Changeset{Steps: steps}, objects)
	require.NoError(t, err)
	assert.Equal(t, len(steps), report.Executed)

	rebuilt, err := dst.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, files, rebuilt)
}
