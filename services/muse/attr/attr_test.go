// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attr

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAttrs(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))
	return root
}

// TestLoadAbsentFile verifies a missing policy file yields nil rules.
func TestLoadAbsentFile(t *testing.T) {
	rules, err := Load(t.TempDir(), discardLogger())
	require.NoError(t, err)
	assert.Nil(t, rules)
}

// TestLoadParsesRules verifies ordering, comments, and blank lines.
func TestLoadParsesRules(t *testing.T) {
	root := writeAttrs(t, `
# merge policy
drums/*   *          ours
keys/*    harmonic   theirs

*         structural manual
*         *          auto
`)
	rules, err := Load(root, discardLogger())
	require.NoError(t, err)
	require.Len(t, rules, 4)

	assert.Equal(t, Rule{TrackGlob: "drums/*", Dimension: DimensionWildcard, Strategy: StrategyOurs}, rules[0])
	assert.Equal(t, Rule{TrackGlob: "keys/*", Dimension: DimensionHarmonic, Strategy: StrategyTheirs}, rules[1])
	assert.Equal(t, Rule{TrackGlob: "*", Dimension: DimensionStructural, Strategy: StrategyManual}, rules[2])
	assert.Equal(t, Rule{TrackGlob: "*", Dimension: DimensionWildcard, Strategy: StrategyAuto}, rules[3])
}

// TestLoadSkipsMalformedLines verifies bad lines are advisory, not
// fatal.
func TestLoadSkipsMalformedLines(t *testing.T) {
	root := writeAttrs(t, `
drums/*
keys/*    notadimension theirs
bass/*    rhythmic      notastrategy
vox/*     melodic       manual
`)
	rules, err := Load(root, discardLogger())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "vox/*", rules[0].TrackGlob)
}

// TestResolveFirstMatchWins verifies top-down rule precedence.
func TestResolveFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{TrackGlob: "drums/*", Dimension: DimensionWildcard, Strategy: StrategyOurs},
		{TrackGlob: "*", Dimension: DimensionWildcard, Strategy: StrategyTheirs},
	}
	assert.Equal(t, StrategyOurs, Resolve(rules, "drums/kick.mid", DimensionRhythmic))
	assert.Equal(t, StrategyTheirs, Resolve(rules, "keys/pad.mid", DimensionRhythmic))
}

// TestResolveDimensionMatch verifies dimension-specific rules only fire
// for their dimension.
func TestResolveDimensionMatch(t *testing.T) {
	rules := []Rule{
		{TrackGlob: "keys/*", Dimension: DimensionHarmonic, Strategy: StrategyTheirs},
	}
	assert.Equal(t, StrategyTheirs, Resolve(rules, "keys/pad.mid", DimensionHarmonic))
	assert.Equal(t, StrategyAuto, Resolve(rules, "keys/pad.mid", DimensionRhythmic))
}

// TestResolveDefaultsToAuto verifies no match and nil rules both yield
// Auto.
func TestResolveDefaultsToAuto(t *testing.T) {
	assert.Equal(t, StrategyAuto, Resolve(nil, "anything.mid", DimensionWildcard))
	rules := []Rule{{TrackGlob: "drums/*", Dimension: DimensionWildcard, Strategy: StrategyOurs}}
	assert.Equal(t, StrategyAuto, Resolve(rules, "bass/line.mid", DimensionWildcard))
}

// TestResolveBareTrackGlob verifies `drums` scopes the drums track even
// without a slash pattern.
func TestResolveBareTrackGlob(t *testing.T) {
	rules := []Rule{{TrackGlob: "drums", Dimension: DimensionWildcard, Strategy: StrategyManual}}
	assert.Equal(t, StrategyManual, Resolve(rules, "drums/kick.mid", DimensionWildcard))
	assert.Equal(t, StrategyManual, Resolve(rules, "drums", DimensionWildcard))
	assert.Equal(t, StrategyAuto, Resolve(rules, "bass/line.mid", DimensionWildcard))
}

// TestTrack verifies the first path segment is the track.
func TestTrack(t *testing.T) {
	assert.Equal(t, "drums", Track("drums/kick.mid"))
	assert.Equal(t, "drums", Track("drums/fills/roll.mid"))
	assert.Equal(t, "song.muse", Track("song.muse"))
}

// TestParseStrategyRoundtrip verifies every token parses back to its
// string form.
func TestParseStrategyRoundtrip(t *testing.T) {
	for _, s := range []Strategy{StrategyAuto, StrategyOurs, StrategyTheirs, StrategyUnion, StrategyManual} {
		got, ok := ParseStrategy(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseStrategy("bogus")
	assert.False(t, ok)
}

// TestDefaultClassifier verifies paths are unclassified by default.
func TestDefaultClassifier(t *testing.T) {
	assert.Equal(t, DimensionWildcard, DefaultClassifier("drums/kick.mid"))
}
