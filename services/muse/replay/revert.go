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
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

// Revert lands a new commit that undoes the change one commit
// introduced, leaving history intact.
//
// Description:
//
//	The inverse change is computed as a three-way merge with the
//	roles recast: the reverted commit is the base, HEAD is ours, and
//	the reverted commit's parent is theirs. Paths HEAD has not
//	touched since then flow back to their pre-commit state; paths
//	HEAD has since diverged on conflict and pause the operation with
//	a REVERT state record.
//
// Outputs:
//
//	*Outcome - Landed revert commit, pause-with-conflicts, or no-op
//	           when the revert changes nothing.
//	error - Non-nil on lookup failure or an already-active operation.
func (e *Engine) Revert(ctx context.Context, id graph.CommitID, author string, rules []attr.Rule, classify attr.ClassifierFunc) (*Outcome, error) {
	if err := e.states.EnsureIdle(); err != nil {
		return nil, err
	}

	head, err := e.attachedHead()
	if err != nil {
		return nil, err
	}

	reverted, err := e.graph.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}

	// Base and theirs swap relative to a cherry-pick: merging toward
	// the parent applies the inverse diff.
	base, err := e.snaps.Get(ctx, reverted.SnapshotID)
	if err != nil {
		return nil, err
	}
	ours, err := e.snapshotAt(ctx, head.Commit)
	if err != nil {
		return nil, err
	}
	theirs, err := e.snapshotAt(ctx, reverted.Parent)
	if err != nil {
		return nil, err
	}

	result, err := e.merger.ThreeWayMerge(ctx, base, ours, theirs, rules, classify)
	if err != nil {
		return nil, err
	}

	if !result.Clean() {
		state := &opstate.RevertState{
			SessionID: opstate.NewSessionID(),
			StartedAt: time.Now(),
			Commit:    reverted.ID,
			Author:    author,
			PrevHead:  head,
			ConflictState: opstate.ConflictState{
				Merged:    result.Merged,
				Conflicts: result.Conflicts,
			},
		}
		if err := e.states.Save(opstate.KindRevert, state); err != nil {
			return nil, err
		}
		e.logger.Warn("Revert paused on conflicts",
			"commit", reverted.ID.Short(),
			"conflicts", len(result.Conflicts))
		return &Outcome{Conflicts: result.Conflicts}, nil
	}

	if result.Snapshot.ID == ours.ID {
		e.logger.Info("Revert is a no-op",
			"commit", reverted.ID.Short())
		return &Outcome{Noop: true}, nil
	}

	commit, err := e.landRevert(ctx, reverted, head, result.Snapshot.ID, author)
	if err != nil {
		return nil, err
	}
	return &Outcome{Commit: commit}, nil
}

// RevertContinue finishes a paused revert once every conflict has a
// resolution recorded in the state file.
func (e *Engine) RevertContinue(ctx context.Context) (*Outcome, error) {
	var state opstate.RevertState
	if err := e.states.Load(opstate.KindRevert, &state); err != nil {
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

	reverted, err := e.graph.GetCommit(ctx, state.Commit)
	if err != nil {
		return nil, err
	}

	commit, err := e.landRevert(ctx, reverted, state.PrevHead, snap.ID, state.Author)
	if err != nil {
		return nil, err
	}
	if err := e.states.Clear(opstate.KindRevert); err != nil {
		return nil, err
	}
	return &Outcome{Commit: commit}, nil
}

// RevertAbort discards a paused revert and restores HEAD.
func (e *Engine) RevertAbort(ctx context.Context) error {
	var state opstate.RevertState
	if err := e.states.Load(opstate.KindRevert, &state); err != nil {
		return err
	}
	if err := e.restoreHead(ctx, state.PrevHead); err != nil {
		return err
	}
	return e.states.Clear(opstate.KindRevert)
}

// landRevert creates the revert commit and advances HEAD.
func (e *Engine) landRevert(ctx context.Context, reverted *graph.Commit, head graph.Head, snapID snapshot.ID, author string) (*graph.Commit, error) {
	meta := graph.NewMetadata()
	meta.Set(metaReverts, string(reverted.ID))

	commit, err := e.graph.CreateCommit(ctx, graph.CommitOptions{
		Parent:     head.Commit,
		SnapshotID: snapID,
		Branch:     head.Branch,
		Message:    revertMessage(reverted),
		Author:     author,
		Metadata:   meta,
	})
	if err != nil {
		return nil, err
	}
	if err := e.advanceHead(ctx, head, commit.ID); err != nil {
		return nil, err
	}
	e.logger.Info("Revert landed",
		"reverts", reverted.ID.Short(),
		"commit", commit.ID.Short())
	return commit, nil
}

// revertMessage builds the conventional revert subject from the
// reverted commit's first message line.
func revertMessage(reverted *graph.Commit) string {
	subject := reverted.Message
	if i := strings.IndexByte(subject, '\n'); i >= 0 {
		subject = subject[:i]
	}
	return fmt.Sprintf("Revert %q\n\nThis reverts commit %s.", subject, reverted.ID)
}
