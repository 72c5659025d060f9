// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package replay re-applies the change a commit introduced onto a new
// base: cherry-pick, revert (the inverse change), and rebase (a chain
// of picks).
//
// Every replay is a policy-aware three-way merge with the roles
// recast. For a cherry-pick of commit C onto HEAD, the base is C's
// parent snapshot, "ours" is HEAD, "theirs" is C. For a revert the
// base is C itself and "theirs" is C's parent, which applies the
// inverse diff. Conflicts pause the operation with a persisted state
// record; a later invocation continues or aborts it.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/attr"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/merge"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

// Metadata keys stamped on replayed commits.
const (
	metaCherryPickedFrom = "cherry-picked-from"
	metaReverts          = "reverts"
)

// Outcome is the result of a replay invocation.
type Outcome struct {
	// Commit is the commit that landed. Nil when the operation paused
	// on conflicts or was a no-op.
	Commit *graph.Commit

	// Conflicts is non-empty when the operation paused. The state
	// record has been persisted; resolve and continue, or abort.
	Conflicts []merge.Conflict

	// Noop reports that the replay produced no change against the
	// target, so no commit was created.
	Noop bool
}

// Paused reports whether the operation stopped on conflicts.
func (o *Outcome) Paused() bool {
	return len(o.Conflicts) > 0
}

// Engine drives cherry-pick, revert, and rebase.
//
// # Thread Safety
//
// Not safe for concurrent use: replay mutates refs and operation
// state. The repository lock serializes access across processes.
type Engine struct {
	graph  *graph.Graph
	snaps  *snapshot.Engine
	merger *merge.Engine
	states *opstate.Store
	logger *slog.Logger
}

// NewEngine creates a replay engine.
func NewEngine(g *graph.Graph, snaps *snapshot.Engine, merger *merge.Engine, states *opstate.Store, logger *slog.Logger) *Engine {
	return &Engine{
		graph:  g,
		snaps:  snaps,
		merger: merger,
		states: states,
		logger: logger,
	}
}

// =============================================================================
// Cherry-pick
// =============================================================================

// CherryPick applies the change introduced by one commit onto HEAD.
//
// Description:
//
//	Three-way merges with the picked commit's parent as base, HEAD as
//	ours, and the picked commit as theirs. A clean merge lands a new
//	commit on HEAD with the original message and author, annotated
//	with the source commit id. Conflicts persist a CHERRY_PICK state
//	record and pause.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	id - The commit to pick.
//	rules - Merge policy rules from .museattributes.
//	classify - Dimension classifier for conflict routing.
//
// Outputs:
//
//	*Outcome - Landed commit, pause-with-conflicts, or no-op.
//	error - Non-nil on lookup failure or an already-active operation.
func (e *Engine) CherryPick(ctx context.Context, id graph.CommitID, rules []attr.Rule, classify attr.ClassifierFunc) (*Outcome, error) {
	if err := e.states.EnsureIdle(); err != nil {
		return nil, err
	}

	head, err := e.attachedHead()
	if err != nil {
		return nil, err
	}

	picked, err := e.graph.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}

	base, err := e.snapshotAt(ctx, picked.Parent)
	if err != nil {
		return nil, err
	}
	ours, err := e.snapshotAt(ctx, head.Commit)
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
		state := &opstate.CherryPickState{
			SessionID: opstate.NewSessionID(),
			StartedAt: time.Now(),
			Commit:    picked.ID,
			Onto:      head.Commit,
			PrevHead:  head,
			ConflictState: opstate.ConflictState{
				Merged:    result.Merged,
				Conflicts: result.Conflicts,
			},
		}
		if err := e.states.Save(opstate.KindCherryPick, state); err != nil {
			return nil, err
		}
		e.logger.Warn("Cherry-pick paused on conflicts",
			"commit", picked.ID.Short(),
			"conflicts", len(result.Conflicts))
		return &Outcome{Conflicts: result.Conflicts}, nil
	}

	if result.Snapshot.ID == ours.ID {
		e.logger.Info("Cherry-pick is a no-op",
			"commit", picked.ID.Short())
		return &Outcome{Noop: true}, nil
	}

	commit, err := e.landPick(ctx, picked, head, result.Snapshot.ID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Commit: commit}, nil
}

// CherryPickContinue finishes a paused cherry-pick once every conflict
// has a resolution recorded in the state file.
func (e *Engine) CherryPickContinue(ctx context.Context) (*Outcome, error) {
	var state opstate.CherryPickState
	if err := e.states.Load(opstate.KindCherryPick, &state); err != nil {
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

	picked, err := e.graph.GetCommit(ctx, state.Commit)
	if err != nil {
		return nil, err
	}

	commit, err := e.landPick(ctx, picked, state.PrevHead, snap.ID)
	if err != nil {
		return nil, err
	}
	if err := e.states.Clear(opstate.KindCherryPick); err != nil {
		return nil, err
	}
	return &Outcome{Commit: commit}, nil
}

// CherryPickAbort discards a paused cherry-pick and restores HEAD.
func (e *Engine) CherryPickAbort(ctx context.Context) error {
	var state opstate.CherryPickState
	if err := e.states.Load(opstate.KindCherryPick, &state); err != nil {
		return err
	}
	if err := e.restoreHead(ctx, state.PrevHead); err != nil {
		return err
	}
	return e.states.Clear(opstate.KindCherryPick)
}

// landPick creates the cherry-pick commit and advances HEAD. The
// source commit id goes into the message, so the provenance is part of
// the hashed commit; the metadata key repeats it for machine readers.
func (e *Engine) landPick(ctx context.Context, picked *graph.Commit, head graph.Head, snapID snapshot.ID) (*graph.Commit, error) {
	meta := graph.NewMetadata()
	meta.Set(metaCherryPickedFrom, string(picked.ID))

	commit, err := e.graph.CreateCommit(ctx, graph.CommitOptions{
		Parent:     head.Commit,
		SnapshotID: snapID,
		Branch:     head.Branch,
		Message:    pickMessage(picked),
		Author:     picked.Author,
		Metadata:   meta,
	})
	if err != nil {
		return nil, err
	}
	if err := e.advanceHead(ctx, head, commit.ID); err != nil {
		return nil, err
	}
	e.logger.Info("Cherry-pick landed",
		"source", picked.ID.Short(),
		"commit", commit.ID.Short())
	return commit, nil
}

// pickMessage appends the conventional source trailer to the picked
// commit's message.
func pickMessage(picked *graph.Commit) string {
	return fmt.Sprintf("%s\n\n(cherry picked from commit %s)", picked.Message, picked.ID)
}

// =============================================================================
// Shared helpers
// =============================================================================

// attachedHead returns the current HEAD, requiring a born branch or a
// detached commit to replay onto.
func (e *Engine) attachedHead() (graph.Head, error) {
	head, err := e.graph.ReadHead()
	if err != nil {
		return graph.Head{}, err
	}
	if head.Commit == "" {
		return graph.Head{}, fmt.Errorf("cannot replay onto an unborn branch")
	}
	return head, nil
}

// snapshotAt loads a commit's snapshot; the empty id yields the empty
// snapshot, which makes root commits replayable.
func (e *Engine) snapshotAt(ctx context.Context, id graph.CommitID) (*snapshot.Snapshot, error) {
	if id == "" {
		return e.snaps.Empty(ctx)
	}
	commit, err := e.graph.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.snaps.Get(ctx, commit.SnapshotID)
}

// advanceHead moves HEAD (and its branch, when attached) to a new
// commit.
func (e *Engine) advanceHead(ctx context.Context, head graph.Head, id graph.CommitID) error {
	if head.Attached() {
		return e.graph.MoveRef(ctx, head.Branch, id)
	}
	return e.graph.SetHeadDetached(ctx, id)
}

// restoreHead puts HEAD back to a previously recorded position.
func (e *Engine) restoreHead(ctx context.Context, head graph.Head) error {
	if head.Attached() {
		return e.graph.SetHeadBranch(head.Branch)
	}
	return e.graph.SetHeadDetached(ctx, head.Commit)
}
