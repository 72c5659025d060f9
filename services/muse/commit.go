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

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

// CommitOptions are the caller-facing inputs to Commit.
type CommitOptions struct {
	// Message is the commit message. Required.
	Message string

	// Author overrides the configured attribution.
	Author string

	// Metadata carries open-vocabulary annotations (tempo, key,
	// session notes). May be nil.
	Metadata *graph.Metadata

	// AllowEmpty permits a commit whose snapshot matches its parent.
	AllowEmpty bool
}

// Commit snapshots the working tree and records a commit on HEAD.
//
// Description:
//
//	Scans the tree, stores every object and the manifest, and appends
//	a commit to the current branch (or on top of a detached HEAD).
//	With an unchanged tree and AllowEmpty false, ErrNothingToCommit.
//
// Outputs:
//
//	*graph.Commit - The recorded commit.
//	error - ErrNothingToCommit, ErrOperationInProgress, or storage
//	        failure.
func (r *Repository) Commit(ctx context.Context, opts CommitOptions) (*graph.Commit, error) {
	if err := r.states.EnsureIdle(); err != nil {
		return nil, err
	}
	if opts.Message == "" {
		return nil, fmt.Errorf("commit message is required")
	}

	head, committed, err := r.headSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := r.workingSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.ID == committed.ID && head.Commit != "" && !opts.AllowEmpty {
		return nil, ErrNothingToCommit
	}

	author := opts.Author
	if author == "" {
		author = r.author()
	}

	commit, err := r.graph.CreateCommit(ctx, graph.CommitOptions{
		Parent:     head.Commit,
		SnapshotID: snap.ID,
		Branch:     head.Branch,
		Message:    opts.Message,
		Author:     author,
		Metadata:   opts.Metadata,
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

	r.logger.Info("Recorded commit",
		"commit", commit.ID.Short(),
		"branch", head.Branch,
		"paths", len(snap.Manifest))
	return commit, nil
}

// Status describes the repository's current position and pending
// work.
type Status struct {
	// Branch is the checked-out branch; empty when detached.
	Branch string

	// Commit is the HEAD commit; empty on an unborn branch.
	Commit graph.CommitID

	// Changes is the diff from the committed snapshot to the working
	// tree.
	Changes snapshot.Diff

	// Operation is the paused operation kind, if any.
	Operation opstate.Kind

	// OperationActive reports whether Operation is set.
	OperationActive bool
}

// Clean reports whether the working tree matches HEAD.
func (s *Status) Clean() bool {
	return s.Changes.Empty()
}

// Status reports the current branch, HEAD, working-tree changes, and
// any paused operation.
func (r *Repository) Status(ctx context.Context) (*Status, error) {
	head, committed, err := r.headSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	working, err := r.workingSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	kind, active := r.states.Active()
	return &Status{
		Branch:          head.Branch,
		Commit:          head.Commit,
		Changes:         snapshot.Compare(committed, working),
		Operation:       kind,
		OperationActive: active,
	}, nil
}

// Log returns the history reachable from a ref, newest first.
// An empty ref means HEAD; limit <= 0 returns everything.
func (r *Repository) Log(ctx context.Context, ref string, limit int) ([]*graph.Commit, error) {
	if ref == "" {
		ref = "HEAD"
	}
	id, err := r.graph.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return r.graph.Log(ctx, id, limit)
}

// CommitDetail is a commit joined with the change it introduced.
type CommitDetail struct {
	Commit  *graph.Commit
	Changes snapshot.Diff
}

// Show returns a commit and its diff against its first parent.
func (r *Repository) Show(ctx context.Context, ref string) (*CommitDetail, error) {
	id, err := r.graph.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	commit, err := r.graph.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := r.snaps.Get(ctx, commit.SnapshotID)
	if err != nil {
		return nil, err
	}

	parent, err := r.snaps.Empty(ctx)
	if err != nil {
		return nil, err
	}
	if commit.Parent != "" {
		parentCommit, err := r.graph.GetCommit(ctx, commit.Parent)
		if err != nil {
			return nil, err
		}
		parent, err = r.snaps.Get(ctx, parentCommit.SnapshotID)
		if err != nil {
			return nil, err
		}
	}

	return &CommitDetail{
		Commit:  commit,
		Changes: snapshot.Compare(parent, snap),
	}, nil
}

// DiffRefs compares the snapshots of two refs.
func (r *Repository) DiffRefs(ctx context.Context, from, to string) (snapshot.Diff, error) {
	fromSnap, err := r.refSnapshot(ctx, from)
	if err != nil {
		return snapshot.Diff{}, err
	}
	toSnap, err := r.refSnapshot(ctx, to)
	if err != nil {
		return snapshot.Diff{}, err
	}
	return snapshot.Compare(fromSnap, toSnap), nil
}

// Blame returns the commits that changed a path, newest first.
//
// Description:
//
//	Walks the history from HEAD comparing each commit's object for
//	the path against its first parent's. A commit appears when it
//	added, removed, or replaced the path's object.
func (r *Repository) Blame(ctx context.Context, path string) ([]*graph.Commit, error) {
	commits, err := r.Log(ctx, "HEAD", 0)
	if err != nil {
		return nil, err
	}

	var touched []*graph.Commit
	for _, commit := range commits {
		snap, err := r.snaps.Get(ctx, commit.SnapshotID)
		if err != nil {
			return nil, err
		}
		var parentID string
		if commit.Parent != "" {
			parentCommit, err := r.graph.GetCommit(ctx, commit.Parent)
			if err != nil {
				return nil, err
			}
			parentSnap, err := r.snaps.Get(ctx, parentCommit.SnapshotID)
			if err != nil {
				return nil, err
			}
			parentID = string(parentSnap.Manifest[path])
		}
		if string(snap.Manifest[path]) != parentID {
			touched = append(touched, commit)
		}
	}
	return touched, nil
}

// refSnapshot resolves a ref to its committed snapshot.
func (r *Repository) refSnapshot(ctx context.Context, ref string) (*snapshot.Snapshot, error) {
	id, err := r.graph.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	commit, err := r.graph.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.snaps.Get(ctx, commit.SnapshotID)
}
