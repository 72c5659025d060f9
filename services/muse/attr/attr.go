// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attr parses the `.museattributes` policy file and resolves a
// (track, dimension) pair to a merge strategy.
//
// The policy file is line-oriented text at the repository root:
//
//	<track_glob> <dimension> <strategy>
//
//	drums/*   *          ours
//	keys/*    harmonic   theirs
//	*         structural manual
//	*         *          auto
//
// Rules are evaluated top to bottom; the first rule whose glob matches
// the track and whose dimension matches (exact or "*") wins. Absence of
// any match, or of the whole file, yields Auto. The file is advisory:
// malformed lines are logged as warnings, never fatal errors.
//
// A dimension is a caller-supplied musical-change classification. The
// resolver never inspects file contents; it only selects policy at path
// granularity. Finer (sub-path, event-type) routing is an extension
// point for the classifier, not for this package.
package attr

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the policy file name at the repository root.
const FileName = ".museattributes"

// Dimension classifies the musical nature of a change to a path.
type Dimension string

// The dimension vocabulary. Wildcard matches every dimension.
const (
	DimensionHarmonic   Dimension = "harmonic"
	DimensionRhythmic   Dimension = "rhythmic"
	DimensionMelodic    Dimension = "melodic"
	DimensionStructural Dimension = "structural"
	DimensionDynamic    Dimension = "dynamic"
	DimensionWildcard   Dimension = "*"
)

// ParseDimension converts a policy-file token to a Dimension.
func ParseDimension(s string) (Dimension, bool) {
	switch Dimension(s) {
	case DimensionHarmonic, DimensionRhythmic, DimensionMelodic,
		DimensionStructural, DimensionDynamic, DimensionWildcard:
		return Dimension(s), true
	default:
		return "", false
	}
}

// Strategy is the closed set of conflict-resolution policies.
//
// A closed enum rather than raw strings: the resolver switches
// exhaustively over it, so an unhandled variant is a compile-time fact.
type Strategy int

const (
	// StrategyAuto falls through to structural three-way comparison.
	// This is the default when no rule matches.
	StrategyAuto Strategy = iota

	// StrategyOurs always takes the ours side; no conflict possible.
	StrategyOurs

	// StrategyTheirs always takes the theirs side; no conflict possible.
	StrategyTheirs

	// StrategyUnion is reserved for event-level merging. At path
	// granularity it behaves as Auto.
	StrategyUnion

	// StrategyManual behaves as Auto for detection; conflicting paths
	// always require explicit resolution.
	StrategyManual
)

// String returns the policy-file token for the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyOurs:
		return "ours"
	case StrategyTheirs:
		return "theirs"
	case StrategyUnion:
		return "union"
	case StrategyManual:
		return "manual"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a policy-file token to a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "auto":
		return StrategyAuto, true
	case "ours":
		return StrategyOurs, true
	case "theirs":
		return StrategyTheirs, true
	case "union":
		return StrategyUnion, true
	case "manual":
		return StrategyManual, true
	default:
		return StrategyAuto, false
	}
}

// Rule is one ordered policy line: glob, dimension, strategy.
type Rule struct {
	TrackGlob string
	Dimension Dimension
	Strategy  Strategy
}

// ClassifierFunc supplies the dimension classification for a path.
//
// Classification is a caller decision; the engine only routes on the
// result. DefaultClassifier leaves paths unclassified so only wildcard
// dimension rules apply.
type ClassifierFunc func(path string) Dimension

// DefaultClassifier returns DimensionWildcard for every path.
func DefaultClassifier(path string) Dimension {
	return DimensionWildcard
}

// Track returns the policy-scoping unit for a path: its first segment.
func Track(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// Load parses the policy file at the repository root.
//
// Description:
//
//	Blank lines and #-comments are ignored. Lines are whitespace
//	separated. Malformed lines (wrong field count, unknown dimension
//	or strategy) are logged as warnings and skipped; the file is
//	advisory. An absent file yields nil rules, which is equivalent to
//	a single (*, *, auto) rule.
//
// Outputs:
//
//	[]Rule - Rules in file order. Nil when the file is absent.
//	error - Non-nil only on I/O failure reading an existing file.
func Load(root string, logger *slog.Logger) ([]Rule, error) {
	path := filepath.Join(root, FileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", FileName, err)
	}
	defer f.Close()

	var rules []Rule
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			logger.Warn("skipping malformed attribute line",
				"file", FileName, "line", lineNo, "fields", len(fields))
			continue
		}

		dim, ok := ParseDimension(fields[1])
		if !ok {
			logger.Warn("skipping attribute line with unknown dimension",
				"file", FileName, "line", lineNo, "dimension", fields[1])
			continue
		}
		strategy, ok := ParseStrategy(fields[2])
		if !ok {
			logger.Warn("skipping attribute line with unknown strategy",
				"file", FileName, "line", lineNo, "strategy", fields[2])
			continue
		}

		rules = append(rules, Rule{
			TrackGlob: fields[0],
			Dimension: dim,
			Strategy:  strategy,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}

	return rules, nil
}

// Resolve selects the strategy for a path and its classified dimension.
//
// Description:
//
//	Linear scan, first match wins. A rule matches when its glob
//	matches the path (or the path's track), and its dimension is "*"
//	or equals the classified dimension. No match yields Auto.
func Resolve(rules []Rule, path string, dim Dimension) Strategy {
	track := Track(path)
	for _, rule := range rules {
		if !matchGlob(rule.TrackGlob, path, track) {
			continue
		}
		if rule.Dimension != DimensionWildcard && rule.Dimension != dim {
			continue
		}
		return rule.Strategy
	}
	return StrategyAuto
}

// matchGlob matches a rule glob against the full path, then against the
// bare track name, so both `drums/*` and `drums` scope the drums track.
func matchGlob(pattern, path, track string) bool {
	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}
	matched, _ := filepath.Match(pattern, track)
	return matched
}
