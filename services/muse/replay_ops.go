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

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/replay"
)

// CherryPick applies the change of one commit onto HEAD and syncs the
// working tree. On conflict the operation pauses; the tree keeps its
// pre-pick content.
func (r *Repository) CherryPick(ctx context.Context, ref string) (*replay.Outcome, error) {
	id, err := r.graph.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	rules, err := r.rules()
	if err != nil {
		return nil, err
	}
	outcome, err := r.replayer.CherryPick(ctx, id, rules, r.classify)
	if err != nil {
		return nil, err
	}
	return outcome, r.syncAfterReplay(ctx, outcome)
}

// CherryPickContinue finishes a paused cherry-pick.
func (r *Repository) CherryPickContinue(ctx context.Context) (*replay.Outcome, error) {
	outcome, err := r.replayer.CherryPickContinue(ctx)
	if err != nil {
		return nil, err
	}
	return outcome, r.syncAfterReplay(ctx, outcome)
}

// CherryPickAbort discards a paused cherry-pick.
func (r *Repository) CherryPickAbort(ctx context.Context) error {
	if err := r.replayer.CherryPickAbort(ctx); err != nil {
		return err
	}
	return r.restoreTreeToHead(ctx)
}

// Revert lands a commit that undoes the change of an earlier one.
func (r *Repository) Revert(ctx context.Context, ref string) (*replay.Outcome, error) {
	id, err := r.graph.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	rules, err := r.rules()
	if err != nil {
		return nil, err
	}
	outcome, err := r.replayer.Revert(ctx, id, r.author(), rules, r.classify)
	if err != nil {
		return nil, err
	}
	return outcome, r.syncAfterReplay(ctx, outcome)
}

// RevertContinue finishes a paused revert.
func (r *Repository) RevertContinue(ctx context.Context) (*replay.Outcome, error) {
	outcome, err := r.replayer.RevertContinue(ctx)
	if err != nil {
		return nil, err
	}
	return outcome, r.syncAfterReplay(ctx, outcome)
}

// RevertAbort discards a paused revert.
func (r *Repository) RevertAbort(ctx context.Context) error {
	if err := r.replayer.RevertAbort(ctx); err != nil {
		return err
	}
	return r.restoreTreeToHead(ctx)
}

// Rebase replays a branch onto another ref and checks out the result.
// A working tree with uncommitted changes blocks the rebase unless
// force is set; force discards those changes.
func (r *Repository) Rebase(ctx context.Context, branch, upstream string, force bool) (*replay.Outcome, error) {
	if err := r.ensureCleanTree(ctx, force); err != nil {
		return nil, err
	}
	rules, err := r.rules()
	if err != nil {
		return nil, err
	}
	outcome, err := r.replayer.Rebase(ctx, branch, upstream, rules, r.classify)
	if err != nil {
		return nil, err
	}
	return outcome, r.syncAfterRebase(ctx, outcome)
}

// RebaseContinue resumes a paused rebase.
func (r *Repository) RebaseContinue(ctx context.Context) (*replay.Outcome, error) {
	rules, err := r.rules()
	if err != nil {
		return nil, err
	}
	outcome, err := r.replayer.RebaseContinue(ctx, rules, r.classify)
	if err != nil {
		return nil, err
	}
	return outcome, r.syncAfterRebase(ctx, outcome)
}

// RebaseAbort discards a paused rebase and restores the pre-rebase
// checkout.
func (r *Repository) RebaseAbort(ctx context.Context) error {
	if err := r.replayer.RebaseAbort(ctx); err != nil {
		return err
	}
	return r.restoreTreeToHead(ctx)
}

// syncAfterReplay updates the tree when a replay landed a commit. A
// paused or no-op outcome leaves the tree alone.
func (r *Repository) syncAfterReplay(ctx context.Context, outcome *replay.Outcome) error {
	if outcome.Commit == nil {
		return nil
	}
	return r.restoreTreeToHead(ctx)
}

// syncAfterRebase updates the tree after any rebase outcome: a pause
// detaches HEAD at the last replayed commit, so the tree follows it.
func (r *Repository) syncAfterRebase(ctx context.Context, outcome *replay.Outcome) error {
	if outcome.Noop {
		return nil
	}
	return r.restoreTreeToHead(ctx)
}
