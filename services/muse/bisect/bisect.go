// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bisect binary-searches history for the commit that
// introduced a regression.
//
// The session is externally driven: the controller proposes a
// candidate, the caller checks it out and evaluates it (listens to the
// mix, runs an analysis tool), then reports a verdict. State persists
// between invocations in a BISECT state record, so the search survives
// process restarts. The record is kept after convergence and removed
// only by Reset.
package bisect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sort"
	"time"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
)

// Sentinel errors for bisect sessions.
var (
	// ErrBadRange indicates the good commit is not an ancestor of the
	// bad commit, so no search range exists.
	ErrBadRange = errors.New("good commit is not an ancestor of bad commit")

	// ErrNoSession indicates no bisect session is active.
	ErrNoSession = errors.New("no bisect session in progress")

	// ErrSessionDone indicates the session has already converged;
	// only Status and Reset are valid.
	ErrSessionDone = errors.New("bisect session already converged")
)

// Verdict is the caller's judgement of the current candidate.
type Verdict string

const (
	VerdictGood Verdict = "good"
	VerdictBad  Verdict = "bad"
	VerdictSkip Verdict = "skip"
)

// ParseVerdict converts user input to a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictGood, VerdictBad, VerdictSkip:
		return Verdict(s), nil
	default:
		return "", fmt.Errorf("unknown verdict %q (want good, bad, or skip)", s)
	}
}

// Status describes where a bisect session stands.
type Status struct {
	// Next is the candidate awaiting a verdict. Empty once Done.
	Next graph.CommitID

	// Culprit is the first bad commit, set once Done.
	Culprit graph.CommitID

	// Remaining counts the commits still in the suspect range.
	Remaining int

	// StepsLeft estimates the verdicts still needed, roughly
	// log2(Remaining).
	StepsLeft int

	// Done reports that the search has converged.
	Done bool
}

// Controller drives a bisect session over the commit graph.
//
// # Thread Safety
//
// Not safe for concurrent use; the repository lock serializes access.
type Controller struct {
	graph  *graph.Graph
	states *opstate.Store
	logger *slog.Logger
}

// NewController creates a bisect controller.
func NewController(g *graph.Graph, states *opstate.Store, logger *slog.Logger) *Controller {
	return &Controller{graph: g, states: states, logger: logger}
}

// Start opens a bisect session bounded by a known-good and a
// known-bad commit.
//
// Description:
//
//	The suspect range is every commit reachable from bad but not from
//	good. The controller proposes its midpoint (by ancestor count, so
//	each verdict halves the range), detaches HEAD there, and persists
//	the session. If the range is a single commit, the session
//	converges immediately.
//
// Outputs:
//
//	*Status - The first candidate to evaluate, or immediate
//	          convergence.
//	error - ErrBadRange when good does not precede bad, or an
//	        already-active operation.
func (c *Controller) Start(ctx context.Context, good, bad graph.CommitID) (*Status, error) {
	if err := c.states.EnsureIdle(); err != nil {
		return nil, err
	}

	isAnc, err := c.graph.IsAncestor(ctx, good, bad)
	if err != nil {
		return nil, err
	}
	if !isAnc || good == bad {
		return nil, ErrBadRange
	}

	prevHead, err := c.graph.ReadHead()
	if err != nil {
		return nil, err
	}

	state := &opstate.BisectState{
		SessionID: opstate.NewSessionID(),
		StartedAt: time.Now(),
		Good:      good,
		Bad:       bad,
		Verdicts: map[graph.CommitID]string{
			good: string(VerdictGood),
			bad:  string(VerdictBad),
		},
		PrevHead: prevHead,
	}

	c.logger.Info("Bisect started",
		"good", good.Short(),
		"bad", bad.Short())
	return c.advance(ctx, state)
}

// Mark records a verdict for the current candidate and proposes the
// next one.
//
// Description:
//
//	A bad verdict pulls the bad boundary down to the candidate; a
//	good verdict pushes the good boundary up. Skip leaves the
//	boundaries alone and excludes the candidate from future
//	proposals. When the range narrows to the bad boundary alone, that
//	commit is the culprit.
func (c *Controller) Mark(ctx context.Context, verdict Verdict) (*Status, error) {
	var state opstate.BisectState
	if err := c.states.Load(opstate.KindBisect, &state); err != nil {
		if errors.Is(err, opstate.ErrNoState) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	if state.Culprit != "" {
		return nil, ErrSessionDone
	}
	if state.Current == "" {
		return nil, fmt.Errorf("no candidate awaiting a verdict")
	}

	state.Verdicts[state.Current] = string(verdict)
	switch verdict {
	case VerdictBad:
		state.Bad = state.Current
	case VerdictGood:
		state.Good = state.Current
	case VerdictSkip:
		// Boundaries unchanged; the verdict map alone excludes it.
	default:
		return nil, fmt.Errorf("unknown verdict %q", verdict)
	}
	state.Current = ""

	return c.advance(ctx, &state)
}

// Status reports the active session without changing it.
func (c *Controller) Status() (*Status, error) {
	var state opstate.BisectState
	if err := c.states.Load(opstate.KindBisect, &state); err != nil {
		if errors.Is(err, opstate.ErrNoState) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return &Status{
		Next:      state.Current,
		Culprit:   state.Culprit,
		Remaining: len(state.Candidates),
		StepsLeft: stepsLeft(len(state.Candidates)),
		Done:      state.Culprit != "",
	}, nil
}

// Reset ends the session and restores HEAD to where Start found it.
func (c *Controller) Reset(ctx context.Context) error {
	var state opstate.BisectState
	if err := c.states.Load(opstate.KindBisect, &state); err != nil {
		if errors.Is(err, opstate.ErrNoState) {
			return ErrNoSession
		}
		return err
	}
	if state.PrevHead.Attached() {
		if err := c.graph.SetHeadBranch(state.PrevHead.Branch); err != nil {
			return err
		}
	} else if state.PrevHead.Commit != "" {
		if err := c.graph.SetHeadDetached(ctx, state.PrevHead.Commit); err != nil {
			return err
		}
	}
	c.logger.Info("Bisect reset", "session", state.SessionID)
	return c.states.Clear(opstate.KindBisect)
}

// =============================================================================
// Internal
// =============================================================================

// advance recomputes the suspect range from the boundaries, converges
// or proposes the next midpoint, persists the session, and detaches
// HEAD at the proposal.
func (c *Controller) advance(ctx context.Context, state *opstate.BisectState) (*Status, error) {
	candidates, err := c.suspectRange(ctx, state.Good, state.Bad)
	if err != nil {
		return nil, err
	}
	state.Candidates = candidates

	// Testable candidates: the range minus commits with verdicts
	// (the bad boundary itself, and any skips).
	var testable []graph.CommitID
	for _, id := range candidates {
		if _, seen := state.Verdicts[id]; !seen {
			testable = append(testable, id)
		}
	}

	if len(testable) == 0 {
		// Nothing left to test: the bad boundary is the first bad
		// commit (skipped commits are blamed on the boundary too,
		// since they could not be evaluated).
		state.Culprit = state.Bad
		if err := c.states.Save(opstate.KindBisect, state); err != nil {
			return nil, err
		}
		c.logger.Info("Bisect converged",
			"culprit", state.Culprit.Short())
		return &Status{
			Culprit:   state.Culprit,
			Remaining: len(candidates),
			Done:      true,
		}, nil
	}

	next := testable[len(testable)/2]
	state.Current = next
	if err := c.states.Save(opstate.KindBisect, state); err != nil {
		return nil, err
	}
	if err := c.graph.SetHeadDetached(ctx, next); err != nil {
		return nil, err
	}

	c.logger.Info("Bisect candidate",
		"commit", next.Short(),
		"remaining", len(candidates),
		"steps_left", stepsLeft(len(testable)))
	return &Status{
		Next:      next,
		Remaining: len(candidates),
		StepsLeft: stepsLeft(len(testable)),
	}, nil
}

// suspectRange returns the commits reachable from bad but not from
// good, ordered oldest first by ancestor count with the id as a
// deterministic tie break.
func (c *Controller) suspectRange(ctx context.Context, good, bad graph.CommitID) ([]graph.CommitID, error) {
	goodSet := make(map[graph.CommitID]bool)
	if good != "" {
		for id, err := range c.graph.Ancestors(ctx, good) {
			if err != nil {
				return nil, err
			}
			goodSet[id] = true
		}
	}

	type ranked struct {
		id    graph.CommitID
		depth int
	}
	var rangeSet []ranked
	for id, err := range c.graph.Ancestors(ctx, bad) {
		if err != nil {
			return nil, err
		}
		if goodSet[id] {
			continue
		}
		depth, err := c.graph.AncestorCount(ctx, id)
		if err != nil {
			return nil, err
		}
		rangeSet = append(rangeSet, ranked{id: id, depth: depth})
	}

	sort.Slice(rangeSet, func(i, j int) bool {
		if rangeSet[i].depth != rangeSet[j].depth {
			return rangeSet[i].depth < rangeSet[j].depth
		}
		return rangeSet[i].id < rangeSet[j].id
	})

	ids := make([]graph.CommitID, len(rangeSet))
	for i, r := range rangeSet {
		ids[i] = r.id
	}
	return ids, nil
}

// stepsLeft is the binary-search bound on remaining verdicts.
func stepsLeft(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}
