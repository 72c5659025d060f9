// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge implements the policy-aware three-way merge engine.
//
// For every path touched on either side relative to the merge base,
// the engine derives the path's track (first segment) and its caller-
// classified dimension, resolves the attribute rules to a strategy, and
// either short-circuits (ours/theirs) or performs structural three-way
// comparison at path granularity.
//
// A conflicted result never partially applies: callers must resolve
// every conflict path before the merge can produce a commit. The
// engine itself never moves refs; commit construction belongs to the
// caller so that state handling (pause, continue, abort) stays in one
// place.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/attr"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

// Sentinel errors for merge operations.
var (
	// ErrUnrelatedHistories is returned when two commits share no
	// common ancestor. Fatal for the invocation; no partial state is
	// left behind.
	ErrUnrelatedHistories = errors.New("refusing to merge unrelated histories")
)

// Conflict records one path both sides changed to different object ids.
//
// The three ids give the resolution surface: empty means the path was
// absent on that side, so delete/modify collisions are representable.
type Conflict struct {
	Path   string         `json:"path"`
	Track  string         `json:"track"`
	Dim    attr.Dimension `json:"dimension"`
	Base   object.ID      `json:"base,omitempty"`
	Ours   object.ID      `json:"ours,omitempty"`
	Theirs object.ID      `json:"theirs,omitempty"`
}

// Result is the outcome of a three-way merge.
//
// Exactly one of the two shapes holds: Clean() with Snapshot set, or
// conflicted with Conflicts non-empty and Merged holding the
// auto-merged portion (conflict paths carry the base value until
// resolved).
type Result struct {
	Snapshot  *snapshot.Snapshot   `json:"snapshot,omitempty"`
	Conflicts []Conflict           `json:"conflicts,omitempty"`
	Merged    map[string]object.ID `json:"merged,omitempty"`
}

// Clean reports whether the merge completed without conflicts.
func (r *Result) Clean() bool {
	return len(r.Conflicts) == 0
}

// ConflictPaths returns the conflicted paths, sorted.
func (r *Result) ConflictPaths() []string {
	paths := make([]string, len(r.Conflicts))
	for i, c := range r.Conflicts {
		paths[i] = c.Path
	}
	sort.Strings(paths)
	return paths
}

// Engine performs three-way merges over snapshots.
type Engine struct {
	snaps  *snapshot.Engine
	graph  *graph.Graph
	logger *slog.Logger
}

// NewEngine creates a merge engine.
func NewEngine(snaps *snapshot.Engine, g *graph.Graph, logger *slog.Logger) *Engine {
	return &Engine{snaps: snaps, graph: g, logger: logger}
}

// FindMergeBase returns the merge base of two commits.
//
// Outputs:
//
//	graph.CommitID - The lowest common ancestor.
//	error - ErrUnrelatedHistories when the histories are disjoint.
func (e *Engine) FindMergeBase(ctx context.Context, left, right graph.CommitID) (graph.CommitID, error) {
	base, ok, err := e.graph.LowestCommonAncestor(ctx, left, right)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s and %s", ErrUnrelatedHistories, left.Short(), right.Short())
	}
	return base, nil
}

// ThreeWayMerge merges ours and theirs against their common base.
//
// Description:
//
//	For each path in diff(base, ours) ∪ diff(base, theirs), resolves
//	the attribute rules for (track, classify(path)):
//
//	  - Ours/Theirs strategy takes that side's object id outright; no
//	    conflict is possible.
//	  - Union, Auto, and Manual fall through to structural comparison:
//	    one side changed → take it; both changed identically → take
//	    the shared id; both changed differently → conflict.
//
//	Untouched paths keep their base value. When no conflicts remain
//	the merged manifest is persisted as a snapshot; otherwise the
//	partial manifest is returned for resumable resolution and nothing
//	is written.
//
// Inputs:
//
//	base, ours, theirs - The three snapshots. Must not be nil.
//	rules - Attribute rules, nil for all-auto.
//	classify - Dimension classifier; nil uses attr.DefaultClassifier.
//
// Outputs:
//
//	*Result - Clean (with persisted snapshot) or conflicted.
//	error - Non-nil on storage failure only; conflicts are a result,
//	        not an error.
func (e *Engine) ThreeWayMerge(ctx context.Context, base, ours, theirs *snapshot.Snapshot, rules []attr.Rule, classify attr.ClassifierFunc) (*Result, error) {
	if classify == nil {
		classify = attr.DefaultClassifier
	}

	oursDiff := snapshot.Compare(base, ours)
	theirsDiff := snapshot.Compare(base, theirs)

	touched := make(map[string]bool)
	for _, p := range oursDiff.Touched() {
		touched[p] = true
	}
	for _, p := range theirsDiff.Touched() {
		touched[p] = true
	}

	merged := make(map[string]object.ID, len(base.Manifest))
	for path, id := range base.Manifest {
		merged[path] = id
	}

	var conflicts []Conflict
	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		// The empty id means "absent on that side", so delete/modify
		// collisions fall out of the same comparisons.
		baseID := base.Manifest[path]
		oursID := ours.Manifest[path]
		theirsID := theirs.Manifest[path]

		track := attr.Track(path)
		dim := classify(path)
		strategy := attr.Resolve(rules, path, dim)

		switch strategy {
		case attr.StrategyOurs:
			applyEntry(merged, path, oursID)
		case attr.StrategyTheirs:
			applyEntry(merged, path, theirsID)
		case attr.StrategyUnion, attr.StrategyAuto, attr.StrategyManual:
			switch {
			case oursID == theirsID:
				// Both sides agree (including both removing the path).
				applyEntry(merged, path, oursID)
			case oursID == baseID:
				// Only theirs changed.
				applyEntry(merged, path, theirsID)
			case theirsID == baseID:
				// Only ours changed.
				applyEntry(merged, path, oursID)
			default:
				conflicts = append(conflicts, Conflict{
					Path:   path,
					Track:  track,
					Dim:    dim,
					Base:   baseID,
					Ours:   oursID,
					Theirs: theirsID,
				})
			}
		}
	}

	if len(conflicts) > 0 {
		e.logger.Info("merge conflicted",
			"base", base.ID.Short(),
			"conflicts", len(conflicts))
		return &Result{Conflicts: conflicts, Merged: merged}, nil
	}

	snap, err := e.snaps.Write(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("persist merged snapshot: %w", err)
	}

	e.logger.Info("merge clean",
		"base", base.ID.Short(),
		"snapshot", snap.ID.Short(),
		"paths", len(merged))
	return &Result{Snapshot: snap, Merged: merged}, nil
}

// applyEntry sets or deletes a merged manifest entry; the empty id
// means the chosen side does not carry the path.
func applyEntry(merged map[string]object.ID, path string, id object.ID) {
	if id != "" {
		merged[path] = id
	} else {
		delete(merged, path)
	}
}

// MergeCommits is the commit-level entry point: finds the merge base
// of the two tips, loads the three snapshots, and merges.
//
// Outputs:
//
//	*Result - As for ThreeWayMerge.
//	graph.CommitID - The merge base used.
//	error - ErrUnrelatedHistories when the tips share no ancestor.
func (e *Engine) MergeCommits(ctx context.Context, ours, theirs graph.CommitID, rules []attr.Rule, classify attr.ClassifierFunc) (*Result, graph.CommitID, error) {
	baseID, err := e.FindMergeBase(ctx, ours, theirs)
	if err != nil {
		return nil, "", err
	}

	baseSnap, oursSnap, theirsSnap, err := e.loadTriple(ctx, baseID, ours, theirs)
	if err != nil {
		return nil, "", err
	}

	result, err := e.ThreeWayMerge(ctx, baseSnap, oursSnap, theirsSnap, rules, classify)
	if err != nil {
		return nil, "", err
	}
	return result, baseID, nil
}

// loadTriple loads the three snapshots behind three commits.
func (e *Engine) loadTriple(ctx context.Context, base, ours, theirs graph.CommitID) (baseSnap, oursSnap, theirsSnap *snapshot.Snapshot, err error) {
	for _, load := range []struct {
		id   graph.CommitID
		dest **snapshot.Snapshot
	}{
		{base, &baseSnap},
		{ours, &oursSnap},
		{theirs, &theirsSnap},
	} {
		commit, err := e.graph.GetCommit(ctx, load.id)
		if err != nil {
			return nil, nil, nil, err
		}
		snap, err := e.snaps.Get(ctx, commit.SnapshotID)
		if err != nil {
			return nil, nil, nil, err
		}
		*load.dest = snap
	}
	return baseSnap, oursSnap, theirsSnap, nil
}
