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

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/checkout"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/stash"
)

// StashPush shelves the working tree's uncommitted changes and resets
// the tree to HEAD.
//
// Outputs:
//
//	*stash.Entry - The new entry at index 0.
//	error - ErrNothingToCommit when the tree is clean, or
//	        ErrOperationInProgress.
func (r *Repository) StashPush(ctx context.Context, message string) (*stash.Entry, error) {
	if err := r.states.EnsureIdle(); err != nil {
		return nil, err
	}

	head, committed, err := r.headSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	working, err := r.workingSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if working.ID == committed.ID {
		return nil, ErrNothingToCommit
	}

	entry, err := r.stashes.Push(ctx, working.ID, head.Commit, head.Branch, message)
	if err != nil {
		return nil, err
	}
	if err := r.restoreTree(ctx, committed); err != nil {
		return nil, err
	}
	return entry, nil
}

// StashApply restores the entry at index onto the working tree,
// leaving it on the stack.
//
// Description:
//
//	Paths whose objects are missing from the store are skipped and
//	reported via the returned Applied.Missing rather than failing the
//	restore.
func (r *Repository) StashApply(ctx context.Context, index int) (*stash.Applied, error) {
	if err := r.states.EnsureIdle(); err != nil {
		return nil, err
	}

	applied, err := r.stashes.Apply(ctx, index)
	if err != nil {
		return nil, err
	}

	current, err := r.workingSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	cs := checkout.Plan(current, applied.Snapshot)
	cs = pruneSteps(cs, applied.Missing)
	if !cs.Empty() {
		report, err := r.tree.Apply(ctx, cs, r.objects)
		if err != nil {
			return nil, err
		}
		if err := r.planner.RecordApply(cs, report); err != nil {
			return nil, err
		}
	}
	return applied, nil
}

// StashPop restores the most recent entry and drops it.
func (r *Repository) StashPop(ctx context.Context) (*stash.Applied, error) {
	applied, err := r.StashApply(ctx, 0)
	if err != nil {
		return nil, err
	}
	if err := r.stashes.Drop(ctx, 0); err != nil {
		return nil, err
	}
	return applied, nil
}

// StashList returns the stack, most recent first.
func (r *Repository) StashList(ctx context.Context) ([]*stash.Entry, error) {
	return r.stashes.List(ctx)
}

// StashDrop removes the entry at index without applying it.
func (r *Repository) StashDrop(ctx context.Context, index int) error {
	return r.stashes.Drop(ctx, index)
}

// pruneSteps removes steps for paths that cannot be restored.
func pruneSteps(cs checkout.Changeset, missing []string) checkout.Changeset {
	if len(missing) == 0 {
		return cs
	}
	skip := make(map[string]bool, len(missing))
	for _, path := range missing {
		skip[path] = true
	}
	kept := cs.Steps[:0]
	for _, step := range cs.Steps {
		if !skip[step.Path] {
			kept = append(kept, step)
		}
	}
	cs.Steps = kept
	return cs
}
