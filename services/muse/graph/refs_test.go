// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCommit(t *testing.T, g *Graph, parent CommitID, label string) *Commit {
	t.Helper()
	c, err := g.CreateCommit(context.Background(), CommitOptions{
		Parent:     parent,
		SnapshotID: fakeSnapID(label),
		Message:    label,
		Author:     "Test <test@example.com>",
	})
	require.NoError(t, err)
	return c
}

// TestMoveAndReadRef verifies a branch ref round-trips.
func TestMoveAndReadRef(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	c := mustCommit(t, g, "", "root")
	require.NoError(t, g.MoveRef(ctx, "main", c.ID))

	tip, err := g.ReadRef("main")
	require.NoError(t, err)
	assert.Equal(t, c.ID, tip)
	assert.True(t, g.BranchExists("main"))
}

// TestMoveRefValidation verifies refs reject bad names and missing
// commits.
func TestMoveRefValidation(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	c := mustCommit(t, g, "", "root")
	assert.ErrorIs(t, g.MoveRef(ctx, "", c.ID), ErrInvalidCommit)
	assert.ErrorIs(t, g.MoveRef(ctx, "bad/name", c.ID), ErrInvalidCommit)

	ghost := ComputeCommitID("", "", fakeSnapID("x"), "ghost", "a")
	assert.ErrorIs(t, g.MoveRef(ctx, "main", ghost), ErrNotFound)
}

// TestReadRefMissing verifies an absent branch reports ErrRefNotFound.
func TestReadRefMissing(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.ReadRef("nope")
	assert.ErrorIs(t, err, ErrRefNotFound)
	assert.False(t, g.BranchExists("nope"))
}

// TestListBranches verifies sorted branch enumeration.
func TestListBranches(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	branches, err := g.ListBranches()
	require.NoError(t, err)
	assert.Empty(t, branches)

	c := mustCommit(t, g, "", "root")
	require.NoError(t, g.MoveRef(ctx, "main", c.ID))
	require.NoError(t, g.MoveRef(ctx, "bridge", c.ID))

	branches, err = g.ListBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{"bridge", "main"}, branches)
}

// TestHeadAttached verifies attached HEAD resolves the branch tip.
func TestHeadAttached(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	c := mustCommit(t, g, "", "root")
	require.NoError(t, g.MoveRef(ctx, "main", c.ID))
	require.NoError(t, g.SetHeadBranch("main"))

	head, err := g.ReadHead()
	require.NoError(t, err)
	assert.True(t, head.Attached())
	assert.Equal(t, "main", head.Branch)
	assert.Equal(t, c.ID, head.Commit)
}

// TestHeadUnbornBranch verifies HEAD on a branch with no commits yet.
func TestHeadUnbornBranch(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.SetHeadBranch("main"))

	head, err := g.ReadHead()
	require.NoError(t, err)
	assert.True(t, head.Attached())
	assert.Empty(t, head.Commit)
}

// TestHeadDetached verifies detached HEAD points straight at a commit.
func TestHeadDetached(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	c := mustCommit(t, g, "", "root")
	require.NoError(t, g.SetHeadDetached(ctx, c.ID))

	head, err := g.ReadHead()
	require.NoError(t, err)
	assert.False(t, head.Attached())
	assert.Equal(t, c.ID, head.Commit)
}

// TestResolveRef verifies HEAD, branch names, and raw ids all resolve.
func TestResolveRef(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	c := mustCommit(t, g, "", "root")
	require.NoError(t, g.MoveRef(ctx, "main", c.ID))
	require.NoError(t, g.SetHeadBranch("main"))

	for _, ref := range []string{"HEAD", "main", string(c.ID)} {
		id, err := g.ResolveRef(ctx, ref)
		require.NoError(t, err, "ref %q", ref)
		assert.Equal(t, c.ID, id)
	}

	_, err := g.ResolveRef(ctx, "no-such-thing")
	assert.ErrorIs(t, err, ErrRefNotFound)
}

// TestResolveRefUnbornHead verifies resolving HEAD before any commit
// fails cleanly.
func TestResolveRefUnbornHead(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.SetHeadBranch("main"))

	_, err := g.ResolveRef(context.Background(), "HEAD")
	assert.ErrorIs(t, err, ErrNotFound)
}
