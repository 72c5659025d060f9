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
	"strings"
	"time"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/merge"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

// MergeOutcome is the caller-facing result of a merge.
type MergeOutcome struct {
	// Commit is the merge commit, or the fast-forward target.
	Commit *graph.Commit

	// Conflicts is non-empty when the merge paused. Resolve each
	// path, then MergeContinue or MergeAbort.
	Conflicts []merge.Conflict

	// FastForward reports that no merge commit was needed.
	FastForward bool

	// Noop reports that the target was already merged.
	Noop bool
}

// Paused reports whether the merge stopped on conflicts.
func (o *MergeOutcome) Paused() bool {
	return len(o.Conflicts) > 0
}

// Merge merges a ref into HEAD.
//
// Description:
//
//	Finds the merge base, three-way merges the two snapshots under
//	the .museattributes policy, and lands a two-parent commit when
//	clean. If HEAD is an ancestor of the target the branch
//	fast-forwards instead. Conflicts persist a MERGE state record and
//	pause; the working tree keeps its pre-merge content.
//
//	A working tree with uncommitted changes blocks the merge unless
//	force is set; force discards those changes when the merged tree
//	is written.
//
// Outputs:
//
//	*MergeOutcome - Merge commit, fast-forward, no-op, or
//	                pause-with-conflicts.
//	error - ErrDirtyWorkingTree, ErrUnrelatedHistories,
//	        ErrOperationInProgress, or an unresolvable ref.
func (r *Repository) Merge(ctx context.Context, ref string, force bool) (*MergeOutcome, error) {
	if err := r.states.EnsureIdle(); err != nil {
		return nil, err
	}
	if err := r.ensureCleanTree(ctx, force); err != nil {
		return nil, err
	}

	head, _, err := r.headSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if head.Commit == "" {
		return nil, fmt.Errorf("cannot merge into an unborn branch")
	}

	theirsID, err := r.graph.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	base, err := r.merger.FindMergeBase(ctx, head.Commit, theirsID)
	if err != nil {
		return nil, err
	}

	if base == theirsID {
		r.logger.Info("Already up to date", "ref", ref)
		return &MergeOutcome{Noop: true}, nil
	}
	if base == head.Commit {
		// HEAD is behind the target: fast-forward.
		if head.Attached() {
			err = r.graph.MoveRef(ctx, head.Branch, theirsID)
		} else {
			err = r.graph.SetHeadDetached(ctx, theirsID)
		}
		if err != nil {
			return nil, err
		}
		if err := r.restoreTreeToHead(ctx); err != nil {
			return nil, err
		}
		commit, err := r.graph.GetCommit(ctx, theirsID)
		if err != nil {
			return nil, err
		}
		r.logger.Info("Fast-forwarded",
			"ref", ref,
			"to", theirsID.Short())
		return &MergeOutcome{Commit: commit, FastForward: true}, nil
	}

	rules, err := r.rules()
	if err != nil {
		return nil, err
	}
	result, baseID, err := r.merger.MergeCommits(ctx, head.Commit, theirsID, rules, r.classify)
	if err != nil {
		return nil, err
	}

	if !result.Clean() {
		state := &opstate.MergeState{
			SessionID:    opstate.NewSessionID(),
			StartedAt:    time.Now(),
			Branch:       ref,
			BaseCommit:   baseID,
			OursCommit:   head.Commit,
			TheirsCommit: theirsID,
			PrevHead:     head,
			ConflictState: opstate.ConflictState{
				Merged:    result.Merged,
				Conflicts: result.Conflicts,
			},
		}
		if err := r.states.Save(opstate.KindMerge, state); err != nil {
			return nil, err
		}
		r.logger.Warn("Merge paused on conflicts",
			"ref", ref,
			"conflicts", len(result.Conflicts))
		return &MergeOutcome{Conflicts: result.Conflicts}, nil
	}

	commit, err := r.landMerge(ctx, head, ref, theirsID, result.Snapshot.ID)
	if err != nil {
		return nil, err
	}
	return &MergeOutcome{Commit: commit}, nil
}

// MergeContinue finishes a paused merge once every conflict has a
// resolution.
func (r *Repository) MergeContinue(ctx context.Context) (*MergeOutcome, error) {
	var state opstate.MergeState
	if err := r.states.Load(opstate.KindMerge, &state); err != nil {
		return nil, err
	}
	if unresolved := state.Unresolved(); len(unresolved) > 0 {
		return nil, fmt.Errorf("%w: %s",
			ErrUnresolvedConflicts, strings.Join(unresolved, ", "))
	}

	snap, err := r.snaps.Write(ctx, state.ResolvedManifest())
	if err != nil {
		return nil, err
	}
	commit, err := r.landMerge(ctx, state.PrevHead, state.Branch, state.TheirsCommit, snap.ID)
	if err != nil {
		return nil, err
	}
	if err := r.states.Clear(opstate.KindMerge); err != nil {
		return nil, err
	}
	return &MergeOutcome{Commit: commit}, nil
}

// MergeAbort discards a paused merge, restoring HEAD and the tree.
func (r *Repository) MergeAbort(ctx context.Context) error {
	var state opstate.MergeState
	if err := r.states.Load(opstate.KindMerge, &state); err != nil {
		return err
	}
	if state.PrevHead.Attached() {
		if err := r.graph.SetHeadBranch(state.PrevHead.Branch); err != nil {
			return err
		}
	} else if state.PrevHead.Commit != "" {
		if err := r.graph.SetHeadDetached(ctx, state.PrevHead.Commit); err != nil {
			return err
		}
	}
	if err := r.restoreTreeToHead(ctx); err != nil {
		return err
	}
	r.logger.Info("Merge aborted", "session", state.SessionID)
	return r.states.Clear(opstate.KindMerge)
}

// landMerge creates the two-parent commit, advances HEAD, and syncs
// the tree.
func (r *Repository) landMerge(ctx context.Context, head graph.Head, ref string, theirs graph.CommitID, snapID snapshot.ID) (*graph.Commit, error) {
	message := fmt.Sprintf("Merge %s", ref)
	if head.Branch != "" {
		message = fmt.Sprintf("Merge %s into %s", ref, head.Branch)
	}

	commit, err := r.graph.CreateCommit(ctx, graph.CommitOptions{
		Parent:     head.Commit,
		Parent2:    theirs,
		SnapshotID: snapID,
		Branch:     head.Branch,
		Message:    message,
		Author:     r.author(),
	})
	if err != nil {
		return nil, err
	}

	if head.Attached() {
		err = r.graph.MoveRef(ctx, head.Branch, commit.ID)
	} else {
		err = r.graph.SetHeadDetached(ctx, commit.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := r.restoreTreeToHead(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("Merge landed",
		"ref", ref,
		"commit", commit.ID.Short())
	return commit, nil
}

// =============================================================================
// Conflict resolution
// =============================================================================

// Side selects which version resolves a conflicted path.
type Side string

const (
	SideOurs   Side = "ours"
	SideTheirs Side = "theirs"
	SideBase   Side = "base"
)

// Resolve records a side choice for a conflicted path in the paused
// operation's state.
//
// Description:
//
//	Works for whichever conflicting operation is paused: merge,
//	rebase, cherry-pick, or revert. Choosing a side whose object id
//	is empty resolves the path to "removed".
func (r *Repository) Resolve(ctx context.Context, path string, side Side) error {
	return r.withConflictState(func(cs *opstate.ConflictState) error {
		conflict, ok := cs.Conflict(path)
		if !ok {
			return fmt.Errorf("path %s is not conflicted", path)
		}
		var id object.ID
		switch side {
		case SideOurs:
			id = conflict.Ours
		case SideTheirs:
			id = conflict.Theirs
		case SideBase:
			id = conflict.Base
		default:
			return fmt.Errorf("unknown side %q (want ours, theirs, or base)", side)
		}
		return cs.Resolve(path, id)
	})
}

// ResolveObject records an explicit object id, such as a freshly
// stored hand-mixed rendition, for a conflicted path.
func (r *Repository) ResolveObject(ctx context.Context, path string, id object.ID) error {
	if id != "" {
		ok, err := r.objects.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("object %s not found", id.Short())
		}
	}
	return r.withConflictState(func(cs *opstate.ConflictState) error {
		return cs.Resolve(path, id)
	})
}

// Conflicts lists the paused operation's conflicts.
func (r *Repository) Conflicts() ([]merge.Conflict, []string, error) {
	var conflicts []merge.Conflict
	var unresolved []string
	err := r.withConflictState(func(cs *opstate.ConflictState) error {
		conflicts = cs.Conflicts
		unresolved = cs.Unresolved()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conflicts, unresolved, nil
}

// withConflictState loads the active conflicting operation's record,
// applies fn to its embedded conflict state, and saves it back.
func (r *Repository) withConflictState(fn func(*opstate.ConflictState) error) error {
	kind, active := r.states.Active()
	if !active {
		return opstate.ErrNoState
	}

	switch kind {
	case opstate.KindMerge:
		var state opstate.MergeState
		if err := r.states.Load(kind, &state); err != nil {
			return err
		}
		if err := fn(&state.ConflictState); err != nil {
			return err
		}
		return r.states.Save(kind, &state)
	case opstate.KindRebase:
		var state opstate.RebaseState
		if err := r.states.Load(kind, &state); err != nil {
			return err
		}
		if err := fn(&state.ConflictState); err != nil {
			return err
		}
		return r.states.Save(kind, &state)
	case opstate.KindCherryPick:
		var state opstate.CherryPickState
		if err := r.states.Load(kind, &state); err != nil {
			return err
		}
		if err := fn(&state.ConflictState); err != nil {
			return err
		}
		return r.states.Save(kind, &state)
	case opstate.KindRevert:
		var state opstate.RevertState
		if err := r.states.Load(kind, &state); err != nil {
			return err
		}
		if err := fn(&state.ConflictState); err != nil {
			return err
		}
		return r.states.Save(kind, &state)
	default:
		return fmt.Errorf("operation %s has no conflicts to resolve", kind)
	}
}
