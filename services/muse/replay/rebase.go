// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/attr"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
)

// Rebase replays a branch's unique commits onto another ref.
//
// Description:
//
//	Finds the merge base of branch and upstream, takes the branch's
//	first-parent chain above the base, and cherry-picks each commit
//	in order onto the upstream tip. Original messages and authors are
//	preserved; commit ids change because the parents change. Commits
//	whose change is already present upstream are skipped.
//
//	If the branch is already based on upstream the result is a no-op;
//	if upstream already contains the branch the branch fast-forwards.
//	A conflict pauses the operation with a REBASE state record and
//	HEAD detached at the last replayed commit.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	branch - The branch to rebase. Becomes the checked-out branch.
//	upstream - Ref the branch is replayed onto (branch name, commit
//	           id, or "HEAD").
//	rules - Merge policy rules from .museattributes.
//	classify - Dimension classifier for conflict routing.
//
// Outputs:
//
//	*Outcome - Final replayed commit, pause-with-conflicts, or no-op.
//	error - merge.ErrUnrelatedHistories when no base exists, or an
//	        already-active operation.
func (e *Engine) Rebase(ctx context.Context, branch, upstream string, rules []attr.Rule, classify attr.ClassifierFunc) (*Outcome, error) {
	if err := e.states.EnsureIdle(); err != nil {
		return nil, err
	}

	tip, err := e.graph.ReadRef(branch)
	if err != nil {
		return nil, err
	}
	ontoTip, err := e.graph.ResolveRef(ctx, upstream)
	if err != nil {
		return nil, err
	}

	base, err := e.merger.FindMergeBase(ctx, tip, ontoTip)
	if err != nil {
		return nil, err
	}

	if base == ontoTip {
		e.logger.Info("Branch already based on upstream",
			"branch", branch,
			"upstream", upstream)
		return &Outcome{Noop: true}, nil
	}
	if base == tip {
		// Upstream already contains the branch: fast-forward.
		if err := e.graph.MoveRef(ctx, branch, ontoTip); err != nil {
			return nil, err
		}
		if err := e.graph.SetHeadBranch(branch); err != nil {
			return nil, err
		}
		commit, err := e.graph.GetCommit(ctx, ontoTip)
		if err != nil {
			return nil, err
		}
		e.logger.Info("Fast-forwarded branch",
			"branch", branch,
			"to", ontoTip.Short())
		return &Outcome{Commit: commit}, nil
	}

	todo, err := e.graph.FirstParentChain(ctx, tip, base)
	if err != nil {
		return nil, err
	}

	prevHead, err := e.graph.ReadHead()
	if err != nil {
		return nil, err
	}

	state := &opstate.RebaseState{
		SessionID:   opstate.NewSessionID(),
		StartedAt:   time.Now(),
		Branch:      branch,
		Upstream:    upstream,
		OriginalTip: tip,
		PrevHead:    prevHead,
		Onto:        ontoTip,
	}
	return e.replayChain(ctx, state, todo, rules, classify)
}

// RebaseContinue resumes a paused rebase: lands the conflicted commit
// from its recorded resolutions, then replays the remaining chain.
func (e *Engine) RebaseContinue(ctx context.Context, rules []attr.Rule, classify attr.ClassifierFunc) (*Outcome, error) {
	var state opstate.RebaseState
	if err := e.states.Load(opstate.KindRebase, &state); err != nil {
		return nil, err
	}
	if unresolved := state.Unresolved(); len(unresolved) > 0 {
		return nil, fmt.Errorf("%w: %s",
			opstate.ErrUnresolvedConflicts, strings.Join(unresolved, ", "))
	}

	snap, err := e.snaps.Write(ctx, state.ResolvedManifest())
	if err != nil {
		return nil, err
	}
	current, err := e.graph.GetCommit(ctx, state.Current)
	if err != nil {
		return nil, err
	}
	commit, err := e.graph.CreateCommit(ctx, graph.CommitOptions{
		Parent:     state.Onto,
		SnapshotID: snap.ID,
		Branch:     state.Branch,
		Message:    current.Message,
		Author:     current.Author,
	})
	if err != nil {
		return nil, err
	}

	state.Onto = commit.ID
	state.Current = ""
	state.ConflictState = opstate.ConflictState{}
	todo := state.Todo
	state.Todo = nil
	return e.replayChain(ctx, &state, todo, rules, classify)
}

// RebaseAbort discards a paused rebase. The branch ref never moved, so
// restoring HEAD is the whole rollback.
func (e *Engine) RebaseAbort(ctx context.Context) error {
	var state opstate.RebaseState
	if err := e.states.Load(opstate.KindRebase, &state); err != nil {
		return err
	}
	if err := e.restoreHead(ctx, state.PrevHead); err != nil {
		return err
	}
	return e.states.Clear(opstate.KindRebase)
}

// replayChain picks each commit in todo onto state.Onto, pausing on
// the first conflict and finalizing the branch when the chain runs
// out.
func (e *Engine) replayChain(ctx context.Context, state *opstate.RebaseState, todo []graph.CommitID, rules []attr.Rule, classify attr.ClassifierFunc) (*Outcome, error) {
	var last *graph.Commit

	for i, id := range todo {
		picked, err := e.graph.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}

		base, err := e.snapshotAt(ctx, picked.Parent)
		if err != nil {
			return nil, err
		}
		ours, err := e.snapshotAt(ctx, state.Onto)
		if err != nil {
			return nil, err
		}
		theirs, err := e.snaps.Get(ctx, picked.SnapshotID)
		if err != nil {
			return nil, err
		}

		result, err := e.merger.ThreeWayMerge(ctx, base, ours, theirs, rules, classify)
		if err != nil {
			return nil, err
		}

		if !result.Clean() {
			state.Current = id
			state.Todo = append([]graph.CommitID{}, todo[i+1:]...)
			state.ConflictState = opstate.ConflictState{
				Merged:    result.Merged,
				Conflicts: result.Conflicts,
			}
			if err := e.states.Save(opstate.KindRebase, state); err != nil {
				return nil, err
			}
			if err := e.graph.SetHeadDetached(ctx, state.Onto); err != nil {
				return nil, err
			}
			e.logger.Warn("Rebase paused on conflicts",
				"branch", state.Branch,
				"commit", id.Short(),
				"conflicts", len(result.Conflicts))
			return &Outcome{Conflicts: result.Conflicts}, nil
		}

		if result.Snapshot.ID == ours.ID {
			e.logger.Info("Skipping commit already present upstream",
				"commit", id.Short())
			continue
		}

		commit, err := e.graph.CreateCommit(ctx, graph.CommitOptions{
			Parent:     state.Onto,
			SnapshotID: result.Snapshot.ID,
			Branch:     state.Branch,
			Message:    picked.Message,
			Author:     picked.Author,
		})
		if err != nil {
			return nil, err
		}
		state.Onto = commit.ID
		last = commit
	}

	if err := e.graph.MoveRef(ctx, state.Branch, state.Onto); err != nil {
		return nil, err
	}
	if err := e.graph.SetHeadBranch(state.Branch); err != nil {
		return nil, err
	}
	if err := e.states.Clear(opstate.KindRebase); err != nil {
		return nil, err
	}

	e.logger.Info("Rebase complete",
		"branch", state.Branch,
		"tip", state.Onto.Short())
	if last == nil {
		return &Outcome{Noop: true}, nil
	}
	return &Outcome{Commit: last}, nil
}
