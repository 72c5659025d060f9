// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package muse

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgcardona/maestro.stori.audio-sub000/pkg/logging"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true, Writer: io.Discard})
}

// openRepo initializes a fresh repository in a temp directory and
// opens it with an in-memory database.
func openRepo(t *testing.T) *Repository {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, Init(root, nil))
	repo, err := Open(root, Options{
		Logger:     quietLogger(),
		InMemoryDB: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func writeProjectFile(t *testing.T, repo *Repository, path, content string) {
	t.Helper()
	full := filepath.Join(repo.Root(), filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func readProjectFile(t *testing.T, repo *Repository, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(repo.Root(), filepath.FromSlash(path)))
	require.NoError(t, err)
	return string(data)
}

func projectFileExists(repo *Repository, path string) bool {
	_, err := os.Stat(filepath.Join(repo.Root(), filepath.FromSlash(path)))
	return err == nil
}

func mustCommitTree(t *testing.T, repo *Repository, message string) *graph.Commit {
	t.Helper()
	commit, err := repo.Commit(context.Background(), CommitOptions{Message: message})
	require.NoError(t, err)
	return commit
}

func mustCheckout(t *testing.T, repo *Repository, ref string) {
	t.Helper()
	require.NoError(t, repo.Checkout(context.Background(), ref, false))
}

// TestInitRejectsExistingRepository verifies a second init in the same
// directory fails with ErrRepositoryExists.
func TestInitRejectsExistingRepository(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, nil))
	err := Init(root, nil)
	require.ErrorIs(t, err, ErrRepositoryExists)
}

// TestOpenNotRepository verifies opening a plain directory fails with
// ErrNotRepository.
func TestOpenNotRepository(t *testing.T) {
	_, err := Open(t.TempDir(), Options{
		Logger:     quietLogger(),
		InMemoryDB: true,
	})
	require.ErrorIs(t, err, ErrNotRepository)
}

// TestFirstCommit verifies the first commit births the default branch
// and leaves a clean status.
func TestFirstCommit(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "drums/kick.mid", "kick v1")
	writeProjectFile(t, repo, "bass/line.mid", "bass v1")

	commit, err := repo.Commit(ctx, CommitOptions{Message: "initial arrangement"})
	require.NoError(t, err)
	assert.Equal(t, "initial arrangement", commit.Message)
	assert.Empty(t, commit.Parent)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.True(t, head.Attached())
	assert.Equal(t, "main", head.Branch)
	assert.Equal(t, commit.ID, head.Commit)

	status, err := repo.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Clean())
	assert.False(t, status.OperationActive)

	log, err := repo.Log(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, commit.ID, log[0].ID)
}

// TestCommitRequiresChanges verifies a clean tree is rejected unless
// AllowEmpty is set.
func TestCommitRequiresChanges(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "first")

	_, err := repo.Commit(ctx, CommitOptions{Message: "no changes"})
	require.ErrorIs(t, err, ErrNothingToCommit)

	empty, err := repo.Commit(ctx, CommitOptions{Message: "checkpoint", AllowEmpty: true})
	require.NoError(t, err)
	assert.Equal(t, "checkpoint", empty.Message)
}

// TestCommitRequiresMessage verifies an empty message is rejected.
func TestCommitRequiresMessage(t *testing.T) {
	repo := openRepo(t)
	writeProjectFile(t, repo, "a.mid", "v1")
	_, err := repo.Commit(context.Background(), CommitOptions{})
	require.Error(t, err)
}

// TestStatusReportsChanges verifies an edited tree shows up in the
// status diff.
func TestStatusReportsChanges(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "first")

	writeProjectFile(t, repo, "a.mid", "v2")
	writeProjectFile(t, repo, "b.mid", "new")

	status, err := repo.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Clean())
	assert.ElementsMatch(t, []string{"a.mid", "b.mid"}, status.Changes.Touched())
}

// TestBranchAndCheckout verifies branch creation, switching, and the
// tree rewrite that follows.
func TestBranchAndCheckout(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	base := mustCommitTree(t, repo, "base")

	require.NoError(t, repo.CreateBranch(ctx, "take2", ""))
	require.ErrorIs(t, repo.CreateBranch(ctx, "take2", ""), ErrBranchExists)

	mustCheckout(t, repo, "take2")
	writeProjectFile(t, repo, "solo.mid", "improv")
	mustCommitTree(t, repo, "add solo")

	mustCheckout(t, repo, "main")
	assert.False(t, projectFileExists(repo, "solo.mid"))
	assert.Equal(t, "v1", readProjectFile(t, repo, "a.mid"))

	branches, err := repo.Branches()
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, base.ID, branches["main"])
	assert.Contains(t, branches, "take2")
}

// TestCheckoutDirtyTree verifies uncommitted changes block a checkout
// and force discards them.
func TestCheckoutDirtyTree(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "alt", ""))

	writeProjectFile(t, repo, "a.mid", "dirty edit")
	err := repo.Checkout(ctx, "alt", false)
	require.ErrorIs(t, err, ErrDirtyWorkingTree)

	require.NoError(t, repo.Checkout(ctx, "alt", true))
	assert.Equal(t, "v1", readProjectFile(t, repo, "a.mid"))
}

// TestMergeFastForward verifies merging a descendant moves the branch
// without a merge commit.
func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")

	require.NoError(t, repo.CreateBranch(ctx, "take2", ""))
	mustCheckout(t, repo, "take2")
	writeProjectFile(t, repo, "pad.mid", "warm pad")
	ahead := mustCommitTree(t, repo, "add pad")

	mustCheckout(t, repo, "main")
	outcome, err := repo.Merge(ctx, "take2", false)
	require.NoError(t, err)
	assert.True(t, outcome.FastForward)
	require.NotNil(t, outcome.Commit)
	assert.Equal(t, ahead.ID, outcome.Commit.ID)
	assert.Equal(t, "warm pad", readProjectFile(t, repo, "pad.mid"))

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "main", head.Branch)
	assert.Equal(t, ahead.ID, head.Commit)
}

// TestMergeDisjointEdits verifies edits on different paths land a
// clean two-parent commit.
func TestMergeDisjointEdits(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "bass", ""))

	writeProjectFile(t, repo, "keys.mid", "rhodes")
	mustCommitTree(t, repo, "add keys")

	mustCheckout(t, repo, "bass")
	writeProjectFile(t, repo, "bass.mid", "walking line")
	tip := mustCommitTree(t, repo, "add bass")

	mustCheckout(t, repo, "main")
	outcome, err := repo.Merge(ctx, "bass", false)
	require.NoError(t, err)
	assert.False(t, outcome.Paused())
	assert.False(t, outcome.FastForward)
	require.NotNil(t, outcome.Commit)
	assert.Equal(t, tip.ID, outcome.Commit.Parent2)
	assert.Equal(t, "Merge bass into main", outcome.Commit.Message)

	assert.Equal(t, "rhodes", readProjectFile(t, repo, "keys.mid"))
	assert.Equal(t, "walking line", readProjectFile(t, repo, "bass.mid"))
}

// TestMergeNoop verifies merging an already reachable ref does
// nothing.
func TestMergeNoop(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "old", ""))

	writeProjectFile(t, repo, "a.mid", "v2")
	mustCommitTree(t, repo, "ahead")

	outcome, err := repo.Merge(ctx, "old", false)
	require.NoError(t, err)
	assert.True(t, outcome.Noop)
	assert.Nil(t, outcome.Commit)
}

// TestMergeDirtyTree verifies uncommitted changes block a merge, and
// that force proceeds and discards them.
func TestMergeDirtyTree(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "bass", ""))

	mustCheckout(t, repo, "bass")
	writeProjectFile(t, repo, "bass.mid", "walking line")
	mustCommitTree(t, repo, "add bass")

	mustCheckout(t, repo, "main")
	writeProjectFile(t, repo, "keys.mid", "rhodes")
	mustCommitTree(t, repo, "add keys")

	writeProjectFile(t, repo, "a.mid", "uncommitted edit")
	_, err := repo.Merge(ctx, "bass", false)
	require.ErrorIs(t, err, ErrDirtyWorkingTree)

	// The refused merge left the edit and the graph alone.
	assert.Equal(t, "uncommitted edit", readProjectFile(t, repo, "a.mid"))
	log, err := repo.Log(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, log, 2)

	outcome, err := repo.Merge(ctx, "bass", true)
	require.NoError(t, err)
	require.NotNil(t, outcome.Commit)
	assert.Equal(t, "v1", readProjectFile(t, repo, "a.mid"))
	assert.Equal(t, "walking line", readProjectFile(t, repo, "bass.mid"))
}

// TestMergeFastForwardDirtyTree verifies the dirty-tree guard also
// covers the fast-forward path.
func TestMergeFastForwardDirtyTree(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "take2", ""))

	mustCheckout(t, repo, "take2")
	writeProjectFile(t, repo, "a.mid", "v2")
	mustCommitTree(t, repo, "rework")

	mustCheckout(t, repo, "main")
	writeProjectFile(t, repo, "a.mid", "uncommitted edit")

	_, err := repo.Merge(ctx, "take2", false)
	require.ErrorIs(t, err, ErrDirtyWorkingTree)
	assert.Equal(t, "uncommitted edit", readProjectFile(t, repo, "a.mid"))

	outcome, err := repo.Merge(ctx, "take2", true)
	require.NoError(t, err)
	assert.True(t, outcome.FastForward)
	assert.Equal(t, "v2", readProjectFile(t, repo, "a.mid"))
}

// TestRebaseDirtyTree verifies uncommitted changes block a rebase, and
// that force proceeds and discards them.
func TestRebaseDirtyTree(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "feature", ""))

	writeProjectFile(t, repo, "keys.mid", "rhodes")
	mustCommitTree(t, repo, "advance main")

	mustCheckout(t, repo, "feature")
	writeProjectFile(t, repo, "lead.mid", "hook")
	mustCommitTree(t, repo, "add lead")

	writeProjectFile(t, repo, "a.mid", "uncommitted edit")
	_, err := repo.Rebase(ctx, "feature", "main", false)
	require.ErrorIs(t, err, ErrDirtyWorkingTree)
	assert.Equal(t, "uncommitted edit", readProjectFile(t, repo, "a.mid"))

	outcome, err := repo.Rebase(ctx, "feature", "main", true)
	require.NoError(t, err)
	require.NotNil(t, outcome.Commit)
	assert.Equal(t, "v1", readProjectFile(t, repo, "a.mid"))
	assert.Equal(t, "rhodes", readProjectFile(t, repo, "keys.mid"))
	assert.Equal(t, "hook", readProjectFile(t, repo, "lead.mid"))
}

// divergeOnPath builds a conflict: both main and the returned branch
// modify a.mid from a shared base.
func divergeOnPath(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()

	writeProjectFile(t, repo, "a.mid", "base take")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "alt", ""))

	writeProjectFile(t, repo, "a.mid", "our take")
	mustCommitTree(t, repo, "our edit")

	mustCheckout(t, repo, "alt")
	writeProjectFile(t, repo, "a.mid", "their take")
	mustCommitTree(t, repo, "their edit")

	mustCheckout(t, repo, "main")
}

// TestMergeConflictResolveContinue verifies the pause, resolve, and
// continue cycle of a conflicting merge.
func TestMergeConflictResolveContinue(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	divergeOnPath(t, repo)

	outcome, err := repo.Merge(ctx, "alt", false)
	require.NoError(t, err)
	require.True(t, outcome.Paused())
	require.Len(t, outcome.Conflicts, 1)
	assert.Equal(t, "a.mid", outcome.Conflicts[0].Path)

	// The tree keeps its pre-merge content while paused.
	assert.Equal(t, "our take", readProjectFile(t, repo, "a.mid"))

	kind, active := repo.ActiveOperation()
	assert.True(t, active)
	assert.Equal(t, opstate.KindMerge, kind)

	// Other mutating operations are blocked.
	_, err = repo.Commit(ctx, CommitOptions{Message: "blocked"})
	require.ErrorIs(t, err, ErrOperationInProgress)

	// Continuing before resolving is refused.
	_, err = repo.MergeContinue(ctx)
	require.ErrorIs(t, err, ErrUnresolvedConflicts)

	conflicts, unresolved, err := repo.Conflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, []string{"a.mid"}, unresolved)

	require.NoError(t, repo.Resolve(ctx, "a.mid", SideTheirs))
	outcome, err = repo.MergeContinue(ctx)
	require.NoError(t, err)
	require.NotNil(t, outcome.Commit)
	assert.Equal(t, "their take", readProjectFile(t, repo, "a.mid"))

	_, active = repo.ActiveOperation()
	assert.False(t, active)
}

// TestMergeAbort verifies aborting a paused merge restores HEAD and
// the tree.
func TestMergeAbort(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	divergeOnPath(t, repo)

	before, err := repo.Head()
	require.NoError(t, err)

	outcome, err := repo.Merge(ctx, "alt", false)
	require.NoError(t, err)
	require.True(t, outcome.Paused())

	require.NoError(t, repo.MergeAbort(ctx))

	after, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "our take", readProjectFile(t, repo, "a.mid"))

	status, err := repo.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Clean())
	assert.False(t, status.OperationActive)
}

// TestResolveRejectsUnconflictedPath verifies resolving an unknown
// path in a paused merge fails.
func TestResolveRejectsUnconflictedPath(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	divergeOnPath(t, repo)

	outcome, err := repo.Merge(ctx, "alt", false)
	require.NoError(t, err)
	require.True(t, outcome.Paused())

	err = repo.Resolve(ctx, "nope.mid", SideOurs)
	require.Error(t, err)
	require.NoError(t, repo.MergeAbort(ctx))
}

// TestStashPushPop verifies shelving and restoring uncommitted
// changes.
func TestStashPushPop(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")

	_, err := repo.StashPush(ctx, "")
	require.ErrorIs(t, err, ErrNothingToCommit)

	writeProjectFile(t, repo, "a.mid", "experiment")
	entry, err := repo.StashPush(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "WIP on main", entry.Message)
	assert.Equal(t, "v1", readProjectFile(t, repo, "a.mid"))

	entries, err := repo.StashList(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	applied, err := repo.StashPop(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied.Missing)
	assert.Equal(t, "experiment", readProjectFile(t, repo, "a.mid"))

	entries, err = repo.StashList(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestShow verifies Show diffs a commit against its first parent.
func TestShow(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	writeProjectFile(t, repo, "a.mid", "v2")
	writeProjectFile(t, repo, "b.mid", "new")
	second := mustCommitTree(t, repo, "rework")

	detail, err := repo.Show(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, second.ID, detail.Commit.ID)
	assert.Equal(t, []string{"b.mid"}, detail.Changes.Added)
	assert.Equal(t, []string{"a.mid"}, detail.Changes.Modified)
	assert.Empty(t, detail.Changes.Removed)
}

// TestDiffRefs verifies comparing two refs by name.
func TestDiffRefs(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "before", ""))

	writeProjectFile(t, repo, "a.mid", "v2")
	mustCommitTree(t, repo, "rework")

	diff, err := repo.DiffRefs(ctx, "before", "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mid"}, diff.Modified)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

// TestBlame verifies only the commits that changed a path are
// reported.
func TestBlame(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	first := mustCommitTree(t, repo, "base")
	writeProjectFile(t, repo, "b.mid", "other")
	mustCommitTree(t, repo, "unrelated")
	writeProjectFile(t, repo, "a.mid", "v2")
	third := mustCommitTree(t, repo, "rework a")

	touched, err := repo.Blame(ctx, "a.mid")
	require.NoError(t, err)
	require.Len(t, touched, 2)
	var ids []graph.CommitID
	for _, c := range touched {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []graph.CommitID{first.ID, third.ID}, ids)
}

// TestRevertThroughFacade verifies a revert lands a commit and rolls
// the tree back.
func TestRevertThroughFacade(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	writeProjectFile(t, repo, "a.mid", "bad take")
	bad := mustCommitTree(t, repo, "bad take")

	outcome, err := repo.Revert(ctx, string(bad.ID))
	require.NoError(t, err)
	require.NotNil(t, outcome.Commit)
	assert.Contains(t, outcome.Commit.Message, "Revert")
	assert.Equal(t, "v1", readProjectFile(t, repo, "a.mid"))
}

// TestCherryPickThroughFacade verifies picking a commit from another
// branch applies its change to the tree.
func TestCherryPickThroughFacade(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "side", ""))

	mustCheckout(t, repo, "side")
	writeProjectFile(t, repo, "fill.mid", "tom fill")
	pick := mustCommitTree(t, repo, "add fill")

	mustCheckout(t, repo, "main")
	require.False(t, projectFileExists(repo, "fill.mid"))

	outcome, err := repo.CherryPick(ctx, string(pick.ID))
	require.NoError(t, err)
	require.NotNil(t, outcome.Commit)
	assert.True(t, strings.HasPrefix(outcome.Commit.Message, "add fill"))
	assert.Contains(t, outcome.Commit.Message,
		fmt.Sprintf("(cherry picked from commit %s)", pick.ID))
	assert.Equal(t, "tom fill", readProjectFile(t, repo, "fill.mid"))
}

// TestPlanCheckoutPreview verifies the preview plans without touching
// the tree.
func TestPlanCheckoutPreview(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	writeProjectFile(t, repo, "a.mid", "v1")
	mustCommitTree(t, repo, "base")
	require.NoError(t, repo.CreateBranch(ctx, "alt", ""))

	writeProjectFile(t, repo, "a.mid", "v2")
	mustCommitTree(t, repo, "rework")

	cs, err := repo.PlanCheckout(ctx, "alt", false)
	require.NoError(t, err)
	require.Len(t, cs.Steps, 1)
	assert.Equal(t, "a.mid", cs.Steps[0].Path)
	assert.Equal(t, "v2", readProjectFile(t, repo, "a.mid"))
}

// TestLockFileTamperDetected verifies an external rewrite of the lock
// info file is flagged on the open handle.
func TestLockFileTamperDetected(t *testing.T) {
	repo := openRepo(t)
	require.False(t, repo.ExternallyModified())

	require.NoError(t, os.WriteFile(repo.lock.InfoPath(), []byte("{}"), 0o644))
	require.Eventually(t, repo.ExternallyModified,
		2*time.Second, 10*time.Millisecond)
}
