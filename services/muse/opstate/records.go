// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opstate

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/merge"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
)

// NewSessionID returns the unique id stamped on every state record, so
// log lines from one paused operation correlate across invocations.
func NewSessionID() string {
	return uuid.NewString()
}

// ConflictState is the resolution surface shared by every conflicting
// operation: the auto-merged manifest, the recorded conflicts, and the
// resolutions supplied so far.
type ConflictState struct {
	// Merged is the auto-merged manifest; conflict paths hold their
	// base value until resolved.
	Merged map[string]object.ID `json:"merged"`

	// Conflicts are the paths both sides changed incompatibly.
	Conflicts []merge.Conflict `json:"conflicts"`

	// Resolutions maps a conflict path to its chosen object id. The
	// empty id resolves the path to "removed".
	Resolutions map[string]object.ID `json:"resolutions,omitempty"`
}

// Unresolved returns the conflict paths still lacking a resolution,
// sorted. The operation may only continue once this is empty.
func (c *ConflictState) Unresolved() []string {
	var paths []string
	for _, conflict := range c.Conflicts {
		if _, ok := c.Resolutions[conflict.Path]; !ok {
			paths = append(paths, conflict.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Conflict returns the recorded conflict for a path.
func (c *ConflictState) Conflict(path string) (merge.Conflict, bool) {
	for _, conflict := range c.Conflicts {
		if conflict.Path == path {
			return conflict, true
		}
	}
	return merge.Conflict{}, false
}

// Resolve records a resolution for a conflicted path.
//
// Outputs:
//
//	error - Non-nil if the path is not among the recorded conflicts.
func (c *ConflictState) Resolve(path string, id object.ID) error {
	if _, ok := c.Conflict(path); !ok {
		return fmt.Errorf("path %s is not conflicted", path)
	}
	if c.Resolutions == nil {
		c.Resolutions = make(map[string]object.ID)
	}
	c.Resolutions[path] = id
	return nil
}

// ResolvedManifest returns the merged manifest with all resolutions
// applied. Only valid once Unresolved() is empty.
func (c *ConflictState) ResolvedManifest() map[string]object.ID {
	manifest := make(map[string]object.ID, len(c.Merged))
	for path, id := range c.Merged {
		manifest[path] = id
	}
	for path, id := range c.Resolutions {
		if id == "" {
			delete(manifest, path)
		} else {
			manifest[path] = id
		}
	}
	return manifest
}

// MergeState is the persisted record of a paused merge.
type MergeState struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`

	// Branch is the branch being merged in (theirs).
	Branch string `json:"branch"`

	BaseCommit   graph.CommitID `json:"base_commit"`
	OursCommit   graph.CommitID `json:"ours_commit"`
	TheirsCommit graph.CommitID `json:"theirs_commit"`

	// PrevHead is the pre-merge HEAD, restored verbatim on abort.
	PrevHead graph.Head `json:"prev_head"`

	ConflictState
}

// CherryPickState is the persisted record of a paused cherry-pick.
type CherryPickState struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`

	// Commit is the commit being picked; Onto is the new parent.
	Commit graph.CommitID `json:"commit"`
	Onto   graph.CommitID `json:"onto"`

	PrevHead graph.Head `json:"prev_head"`

	ConflictState
}

// RevertState is the persisted record of a paused revert. Same shape
// as a cherry-pick: the inverse diff of Commit applied onto HEAD.
type RevertState struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`

	// Commit is the commit being reverted.
	Commit graph.CommitID `json:"commit"`

	// Author attributes the revert commit itself.
	Author string `json:"author"`

	PrevHead graph.Head `json:"prev_head"`

	ConflictState
}

// RebaseState is the persisted record of a paused rebase.
type RebaseState struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`

	// Branch is the branch being rebased; Upstream the new base ref.
	Branch   string `json:"branch"`
	Upstream string `json:"upstream"`

	// OriginalTip is the pre-rebase branch tip, restored on abort.
	OriginalTip graph.CommitID `json:"original_tip"`
	PrevHead    graph.Head     `json:"prev_head"`

	// Onto is the tip replayed commits are being stacked on; it
	// advances as each replay lands.
	Onto graph.CommitID `json:"onto"`

	// Current is the commit whose replay conflicted (the paused
	// cursor); Todo are the commits still to replay, oldest first.
	Current graph.CommitID   `json:"current,omitempty"`
	Todo    []graph.CommitID `json:"todo,omitempty"`

	ConflictState
}

// BisectState is the persisted record of a bisect session.
type BisectState struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`

	// Good and Bad bound the still-unresolved range. Good may be
	// empty until the first good verdict.
	Good graph.CommitID `json:"good,omitempty"`
	Bad  graph.CommitID `json:"bad"`

	// Candidates is the commit range under search, ordered by
	// ancestor count ascending (oldest first).
	Candidates []graph.CommitID `json:"candidates"`

	// Verdicts records every mark so the session survives restarts
	// between "check out next, test externally, report verdict".
	Verdicts map[graph.CommitID]string `json:"verdicts"`

	// Current is the candidate awaiting an external verdict.
	Current graph.CommitID `json:"current,omitempty"`

	// Culprit is set once the search has converged.
	Culprit graph.CommitID `json:"culprit,omitempty"`

	PrevHead graph.Head `json:"prev_head"`
}
