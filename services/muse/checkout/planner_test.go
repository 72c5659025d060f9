// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkout

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

func snapOf(files map[string]string) *snapshot.Snapshot {
	manifest := make(map[string]object.ID, len(files))
	for path, content := range files {
		manifest[path] = object.ComputeID([]byte(content))
	}
	return &snapshot.Snapshot{ID: snapshot.ComputeID(manifest), Manifest: manifest}
}

func newTestPlanner() *Planner {
	return NewPlanner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func stepsByPath(cs Changeset) map[string]Step {
	m := make(map[string]Step, len(cs.Steps))
	for _, s := range cs.Steps {
		m[s.Path] = s
	}
	return m
}

// TestPlanClassifiesOps verifies add, modify, and remove steps.
func TestPlanClassifiesOps(t *testing.T) {
	current := snapOf(map[string]string{
		"keep.mid":   "same",
		"change.mid": "old",
		"drop.mid":   "bye",
	})
	target := snapOf(map[string]string{
		"keep.mid":   "same",
		"change.mid": "new",
		"add.mid":    "hi",
	})

	cs := Plan(current, target)
	assert.Equal(t, target.ID, cs.Target)
	require.Len(t, cs.Steps, 3)

	steps := stepsByPath(cs)
	assert.Equal(t, OpAdd, steps["add.mid"].Op)
	assert.Equal(t, target.Manifest["add.mid"], steps["add.mid"].Object)
	assert.Equal(t, OpModify, steps["change.mid"].Op)
	assert.Equal(t, target.Manifest["change.mid"], steps["change.mid"].Object)
	assert.Equal(t, OpRemove, steps["drop.mid"].Op)
	assert.Empty(t, steps["drop.mid"].Object)
}

// TestPlanIdentical verifies checking out the current state is empty.
func TestPlanIdentical(t *testing.T) {
	snap := snapOf(map[string]string{"a.mid": "x"})
	cs := Plan(snap, snap)
	assert.True(t, cs.Empty())
}

// TestPlanCheckoutCleanTree verifies a clean tree plans without force.
func TestPlanCheckoutCleanTree(t *testing.T) {
	p := newTestPlanner()

	committed := snapOf(map[string]string{"a.mid": "v1"})
	target := snapOf(map[string]string{"a.mid": "v2"})

	cs, err := p.PlanCheckout(committed, committed, target, false)
	require.NoError(t, err)
	assert.Len(t, cs.Steps, 1)
}

// TestPlanCheckoutDirtyTree verifies local edits block the checkout.
func TestPlanCheckoutDirtyTree(t *testing.T) {
	p := newTestPlanner()

	committed := snapOf(map[string]string{"a.mid": "v1"})
	current := snapOf(map[string]string{"a.mid": "edited locally"})
	target := snapOf(map[string]string{"a.mid": "v2"})

	_, err := p.PlanCheckout(current, committed, target, false)
	assert.ErrorIs(t, err, ErrDirtyWorkingTree)
}

// TestPlanCheckoutForce verifies force overrides the dirty guard and
// plans from the live state.
func TestPlanCheckoutForce(t *testing.T) {
	p := newTestPlanner()

	committed := snapOf(map[string]string{"a.mid": "v1"})
	current := snapOf(map[string]string{"a.mid": "edited locally"})
	target := snapOf(map[string]string{"a.mid": "v2"})

	cs, err := p.PlanCheckout(current, committed, target, true)
	require.NoError(t, err)
	require.Len(t, cs.Steps, 1)
	assert.Equal(t, OpModify, cs.Steps[0].Op)
}

// TestPlanCheckoutUnbornRepo verifies a nil committed snapshot skips
// the dirty check.
func TestPlanCheckoutUnbornRepo(t *testing.T) {
	p := newTestPlanner()

	current := snapOf(map[string]string{})
	target := snapOf(map[string]string{"a.mid": "v1"})

	cs, err := p.PlanCheckout(current, nil, target, false)
	require.NoError(t, err)
	require.Len(t, cs.Steps, 1)
	assert.Equal(t, OpAdd, cs.Steps[0].Op)
}

// TestRecordApply verifies partial failure surfaces as an error.
func TestRecordApply(t *testing.T) {
	p := newTestPlanner()
	cs := Plan(snapOf(nil), snapOf(map[string]string{"a.mid": "x", "b.mid": "y"}))

	assert.NoError(t, p.RecordApply(cs, ApplyReport{Executed: 2}))

	err := p.RecordApply(cs, ApplyReport{Executed: 1, Failed: 1, FailedPaths: []string{"b.mid"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.mid")
}

// TestStepOpString verifies display names.
func TestStepOpString(t *testing.T) {
	assert.Equal(t, "add", OpAdd.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "remove", OpRemove.String())
}
