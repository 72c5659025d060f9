// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"iter"
	"sort"
)

// Traversals use visited-set marking, never naive tree recursion, so
// diamond merges (shared subgraphs) cost each commit once instead of
// exponentially.

// Ancestors returns a lazy BFS sequence over the commit and its
// ancestors, following both parent edges.
//
// Description:
//
//	The sequence includes the start commit itself and each reachable
//	ancestor exactly once, in BFS order. It is finite and single-use:
//	re-iterating requires re-issuing the call. A lookup failure is
//	yielded as the error of the pair and terminates the sequence.
func (g *Graph) Ancestors(ctx context.Context, id CommitID) iter.Seq2[CommitID, error] {
	return func(yield func(CommitID, error) bool) {
		visited := map[CommitID]bool{id: true}
		queue := []CommitID{id}

		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			current := queue[0]
			queue = queue[1:]

			commit, err := g.GetCommit(ctx, current)
			if err != nil {
				yield("", fmt.Errorf("walk ancestors of %s: %w", id.Short(), err))
				return
			}
			if !yield(current, nil) {
				return
			}

			for _, parent := range commit.Parents() {
				if !visited[parent] {
					visited[parent] = true
					queue = append(queue, parent)
				}
			}
		}
	}
}

// ancestorSet collects the commit and all its ancestors into a set.
func (g *Graph) ancestorSet(ctx context.Context, id CommitID) (map[CommitID]bool, error) {
	set := make(map[CommitID]bool)
	for ancestor, err := range g.Ancestors(ctx, id) {
		if err != nil {
			return nil, err
		}
		set[ancestor] = true
	}
	return set, nil
}

// LowestCommonAncestor returns the merge base of two commits.
//
// Description:
//
//	Marks all ancestors of a, then walks ancestors of b in BFS order
//	and returns the first marked commit. Ties between equally-marked
//	candidates resolve to the one nearest b. Returns ok=false when the
//	two histories are disjoint (no common root).
func (g *Graph) LowestCommonAncestor(ctx context.Context, a, b CommitID) (CommitID, bool, error) {
	marked, err := g.ancestorSet(ctx, a)
	if err != nil {
		return "", false, err
	}

	for ancestor, err := range g.Ancestors(ctx, b) {
		if err != nil {
			return "", false, err
		}
		if marked[ancestor] {
			return ancestor, true, nil
		}
	}
	return "", false, nil
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
func (g *Graph) IsAncestor(ctx context.Context, a, b CommitID) (bool, error) {
	for ancestor, err := range g.Ancestors(ctx, b) {
		if err != nil {
			return false, err
		}
		if ancestor == a {
			return true, nil
		}
	}
	return false, nil
}

// AncestorCount returns the number of commits reachable from the given
// commit, including itself. Bisect orders its candidate range by this
// count.
func (g *Graph) AncestorCount(ctx context.Context, id CommitID) (int, error) {
	count := 0
	for _, err := range g.Ancestors(ctx, id) {
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// FirstParentChain returns the commits from tip back to (exclusive)
// stopAt, following only first-parent edges, oldest first.
//
// Description:
//
//	This is the replay order for rebase: the commits unique to a
//	branch relative to its merge base. An empty stopAt walks to the
//	root.
func (g *Graph) FirstParentChain(ctx context.Context, tip, stopAt CommitID) ([]CommitID, error) {
	var chain []CommitID
	current := tip
	for current != "" && current != stopAt {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		commit, err := g.GetCommit(ctx, current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, current)
		current = commit.Parent
	}
	if stopAt != "" && current != stopAt {
		return nil, fmt.Errorf("%w: %s is not reachable from %s via first parents",
			ErrNotFound, stopAt.Short(), tip.Short())
	}

	// Collected tip-first; replay wants oldest first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Log returns the commits reachable from the given id, newest first.
//
// Description:
//
//	BFS-collects the full ancestor set, then orders by commit time
//	descending with the id as a deterministic tie break. limit <= 0
//	returns everything.
func (g *Graph) Log(ctx context.Context, from CommitID, limit int) ([]*Commit, error) {
	var commits []*Commit
	for id, err := range g.Ancestors(ctx, from) {
		if err != nil {
			return nil, err
		}
		commit, err := g.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		commits = append(commits, commit)
	}

	sort.Slice(commits, func(i, j int) bool {
		if !commits[i].CommittedAt.Equal(commits[j].CommittedAt) {
			return commits[i].CommittedAt.After(commits[j].CommittedAt)
		}
		return commits[i].ID < commits[j].ID
	})

	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}
