// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import "sort"

// Diff describes how snapshot b differs from snapshot a.
//
// A path is Modified iff it is present in both snapshots with different
// object ids; Added and Removed are the set differences. All three
// slices are path-sorted, so Diff is deterministic for a given pair.
type Diff struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// Empty reports whether the two snapshots are identical.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Touched returns every path the diff names, sorted and deduplicated.
func (d Diff) Touched() []string {
	paths := make([]string, 0, len(d.Added)+len(d.Removed)+len(d.Modified))
	paths = append(paths, d.Added...)
	paths = append(paths, d.Removed...)
	paths = append(paths, d.Modified...)
	sort.Strings(paths)
	return paths
}

// Compare computes the diff from snapshot a to snapshot b.
//
// Description:
//
//	Pure function of the two manifests. Symmetric by construction:
//	Compare(a, b).Added == Compare(b, a).Removed, and Compare(a, a)
//	is always empty.
func Compare(a, b *Snapshot) Diff {
	var d Diff

	for path, bid := range b.Manifest {
		aid, ok := a.Manifest[path]
		switch {
		case !ok:
			d.Added = append(d.Added, path)
		case aid != bid:
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range a.Manifest {
		if _, ok := b.Manifest[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}
