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

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/checkout"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
)

// Checkout moves HEAD to a ref and rewrites the working tree.
//
// Description:
//
//	Resolves the ref, plans the minimal changeset from the current
//	tree to the target snapshot, and applies it. A working tree with
//	uncommitted changes blocks the checkout unless force is set;
//	force discards those changes.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	ref - Branch name, commit id, or "HEAD".
//	force - Discard uncommitted changes.
//
// Outputs:
//
//	error - ErrDirtyWorkingTree, ErrOperationInProgress, or an
//	        unresolvable ref.
func (r *Repository) Checkout(ctx context.Context, ref string, force bool) error {
	if err := r.states.EnsureIdle(); err != nil {
		return err
	}

	targetID, err := r.graph.ResolveRef(ctx, ref)
	if err != nil {
		return err
	}
	targetCommit, err := r.graph.GetCommit(ctx, targetID)
	if err != nil {
		return err
	}
	target, err := r.snaps.Get(ctx, targetCommit.SnapshotID)
	if err != nil {
		return err
	}

	_, committed, err := r.headSnapshot(ctx)
	if err != nil {
		return err
	}
	current, err := r.workingSnapshot(ctx)
	if err != nil {
		return err
	}

	cs, err := r.planner.PlanCheckout(current, committed, target, force)
	if err != nil {
		return err
	}
	if !cs.Empty() {
		report, err := r.tree.Apply(ctx, cs, r.objects)
		if err != nil {
			return err
		}
		if err := r.planner.RecordApply(cs, report); err != nil {
			return err
		}
	}

	// Branch names attach HEAD; anything else detaches it.
	if r.graph.BranchExists(ref) {
		err = r.graph.SetHeadBranch(ref)
	} else {
		err = r.graph.SetHeadDetached(ctx, targetID)
	}
	if err != nil {
		return err
	}

	r.logger.Info("Checked out",
		"ref", ref,
		"commit", targetID.Short(),
		"steps", len(cs.Steps))
	return nil
}

// CreateBranch points a new branch at a ref without checking it out.
// An empty from means HEAD.
func (r *Repository) CreateBranch(ctx context.Context, name, from string) error {
	if r.graph.BranchExists(name) {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	if from == "" {
		from = "HEAD"
	}
	id, err := r.graph.ResolveRef(ctx, from)
	if err != nil {
		return err
	}
	if err := r.graph.MoveRef(ctx, name, id); err != nil {
		return err
	}
	r.logger.Info("Created branch",
		"branch", name,
		"at", id.Short())
	return nil
}

// Branches lists branch names with their tip commits.
func (r *Repository) Branches() (map[string]graph.CommitID, error) {
	names, err := r.graph.ListBranches()
	if err != nil {
		return nil, err
	}
	tips := make(map[string]graph.CommitID, len(names))
	for _, name := range names {
		id, err := r.graph.ReadRef(name)
		if err != nil {
			return nil, err
		}
		tips[name] = id
	}
	return tips, nil
}

// Head returns the current HEAD position.
func (r *Repository) Head() (graph.Head, error) {
	return r.graph.ReadHead()
}

// PlanCheckout previews the changeset a checkout of ref would apply,
// without touching the tree.
func (r *Repository) PlanCheckout(ctx context.Context, ref string, force bool) (checkout.Changeset, error) {
	target, err := r.refSnapshot(ctx, ref)
	if err != nil {
		return checkout.Changeset{}, err
	}
	_, committed, err := r.headSnapshot(ctx)
	if err != nil {
		return checkout.Changeset{}, err
	}
	current, err := r.workingSnapshot(ctx)
	if err != nil {
		return checkout.Changeset{}, err
	}
	return r.planner.PlanCheckout(current, committed, target, force)
}
