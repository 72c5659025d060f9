// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkout turns a target snapshot into an ordered changeset
// for external application.
//
// The planner never touches live working state itself: execution is
// delegated to an external applier (the CLI's worktree layer), which
// reports per-step success or failure back as an ApplyReport. The
// planner's own writes stay inside the repository's object and ref
// storage.
package checkout

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

// Sentinel errors for checkout planning.
var (
	// ErrDirtyWorkingTree is returned when local edits would be
	// overwritten. Recoverable: stash or commit first, or force.
	ErrDirtyWorkingTree = errors.New("working tree has local modifications")
)

// StepOp is the kind of one changeset step.
type StepOp int

const (
	// OpAdd creates a path that does not exist in the current state.
	OpAdd StepOp = iota

	// OpModify replaces the content of an existing path.
	OpModify

	// OpRemove deletes a path.
	OpRemove
)

// String returns the display name of the op.
func (op StepOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Step is one ordered changeset entry. Object is empty for OpRemove.
type Step struct {
	Op     StepOp    `json:"op"`
	Path   string    `json:"path"`
	Object object.ID `json:"object,omitempty"`
}

// Changeset is the ordered add/modify/remove list a checkout or merge
// application consists of. Paths are disjoint, so steps are safe to
// apply in any order.
type Changeset struct {
	Target snapshot.ID `json:"target"`
	Steps  []Step      `json:"steps"`
}

// Empty reports whether there is nothing to apply.
func (c Changeset) Empty() bool {
	return len(c.Steps) == 0
}

// ApplyReport is what the external applier feeds back: how many steps
// it executed and which paths failed. The planner only records these
// counts; it does not retry.
type ApplyReport struct {
	Executed    int      `json:"executed"`
	Failed      int      `json:"failed"`
	FailedPaths []string `json:"failed_paths,omitempty"`
}

// Planner builds changesets between snapshots.
type Planner struct {
	logger *slog.Logger
}

// NewPlanner creates a checkout planner.
func NewPlanner(logger *slog.Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan computes the ordered changeset that transforms current into
// target. Pure function of the two manifests.
func Plan(current, target *snapshot.Snapshot) Changeset {
	diff := snapshot.Compare(current, target)

	cs := Changeset{Target: target.ID}
	for _, path := range diff.Added {
		cs.Steps = append(cs.Steps, Step{Op: OpAdd, Path: path, Object: target.Manifest[path]})
	}
	for _, path := range diff.Modified {
		cs.Steps = append(cs.Steps, Step{Op: OpModify, Path: path, Object: target.Manifest[path]})
	}
	for _, path := range diff.Removed {
		cs.Steps = append(cs.Steps, Step{Op: OpRemove, Path: path})
	}
	return cs
}

// PlanCheckout plans the checkout of target, refusing to clobber local
// edits.
//
// Description:
//
//	The working tree is dirty when the current (scanned) snapshot
//	differs from the last-committed snapshot. A dirty tree fails with
//	ErrDirtyWorkingTree unless force is set, in which case local edits
//	are overwritten by the plan.
//
// Inputs:
//
//	current - Snapshot of the live working state.
//	committed - Snapshot of the last commit (HEAD). Nil when the
//	            repository has no commits yet.
//	target - Snapshot to check out.
//	force - Overwrite local edits.
//
// Outputs:
//
//	Changeset - Ordered steps for the external applier.
//	error - ErrDirtyWorkingTree listing the dirty paths.
func (p *Planner) PlanCheckout(current, committed, target *snapshot.Snapshot, force bool) (Changeset, error) {
	if committed != nil && !force {
		if dirty := snapshot.Compare(committed, current); !dirty.Empty() {
			return Changeset{}, fmt.Errorf("%w: %d paths differ from last commit (use force, stash, or commit first)",
				ErrDirtyWorkingTree, len(dirty.Touched()))
		}
	}

	cs := Plan(current, target)
	p.logger.Debug("planned checkout",
		"target", target.ID.Short(),
		"steps", len(cs.Steps),
		"force", force)
	return cs, nil
}

// RecordApply logs the applier's report and surfaces partial failure.
//
// Outputs:
//
//	error - Non-nil when any step failed, naming the failed paths.
func (p *Planner) RecordApply(cs Changeset, report ApplyReport) error {
	p.logger.Info("changeset applied",
		"target", cs.Target.Short(),
		"executed", report.Executed,
		"failed", report.Failed)

	if report.Failed > 0 {
		return fmt.Errorf("changeset application failed for %d of %d steps: %v",
			report.Failed, len(cs.Steps), report.FailedPaths)
	}
	return nil
}
