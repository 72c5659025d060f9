// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worktree reads and writes the on-disk project tree.
//
// The working tree is everything under the repository root except the
// .muse administrative directory. Paths are slash-separated and
// relative to the root, matching snapshot manifests.
package worktree

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/checkout"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
)

// AdminDir is the administrative directory excluded from scans.
const AdminDir = ".muse"

// Tree is a working tree rooted at a project directory.
type Tree struct {
	root   string
	logger *slog.Logger
}

// New creates a working tree handle. The root must be the repository
// root (the directory containing .muse).
func New(root string, logger *slog.Logger) *Tree {
	return &Tree{root: root, logger: logger}
}

// Root returns the tree's root directory.
func (t *Tree) Root() string {
	return t.root
}

// Scan reads the full working tree into memory.
//
// Description:
//
//	Walks the tree collecting regular files, then reads their
//	contents with a bounded worker pool. Symlinks and other
//	irregular files are skipped with a warning; .muse is never
//	entered.
//
// Outputs:
//
//	map[string][]byte - Relative slash path to file contents, ready
//	                    for snapshot building.
//	error - Non-nil on walk or read failure.
func (t *Tree) Scan(ctx context.Context) (map[string][]byte, error) {
	var paths []string
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == AdminDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			t.logger.Warn("Skipping irregular file", "path", path)
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan working tree: %w", err)
	}

	files := make(map[string][]byte, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(t.root, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("read %s: %w", rel, err)
			}
			mu.Lock()
			files[rel] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// Apply executes a checkout changeset against the tree.
//
// Description:
//
//	Adds and modifications fetch their objects from the store and
//	write atomically (temp file then rename). Removals delete the
//	file and prune directories left empty. Failures are collected
//	per path rather than aborting, so one bad object does not strand
//	the tree mid-checkout.
//
// Outputs:
//
//	checkout.ApplyReport - Executed and failed step counts with the
//	                       failed paths.
//	error - Non-nil only on non-step failures (cancellation).
func (t *Tree) Apply(ctx context.Context, cs checkout.Changeset, objects *object.Store) (checkout.ApplyReport, error) {
	var report checkout.ApplyReport
	var mu sync.Mutex

	fail := func(path string, err error) {
		t.logger.Error("Checkout step failed",
			"path", path,
			"error", err)
		mu.Lock()
		report.Failed++
		report.FailedPaths = append(report.FailedPaths, path)
		mu.Unlock()
	}
	succeed := func() {
		mu.Lock()
		report.Executed++
		mu.Unlock()
	}

	// Writes fan out; removals run after, sequentially, so directory
	// pruning sees the final state.
	var removals []checkout.Step
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, step := range cs.Steps {
		if step.Op == checkout.OpRemove {
			removals = append(removals, step)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := objects.Get(gctx, step.Object)
			if err != nil {
				fail(step.Path, err)
				return nil
			}
			if err := t.writeFile(step.Path, data); err != nil {
				fail(step.Path, err)
				return nil
			}
			succeed()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, step := range removals {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := t.removeFile(step.Path); err != nil {
			fail(step.Path, err)
			continue
		}
		succeed()
	}

	sort.Strings(report.FailedPaths)
	return report, nil
}

// writeFile writes contents atomically under the root.
func (t *Tree) writeFile(rel string, data []byte) error {
	path := filepath.Join(t.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".muse-tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// removeFile deletes a tracked file and prunes empty parents up to
// the root.
func (t *Tree) removeFile(rel string) error {
	path := filepath.Join(t.root, filepath.FromSlash(rel))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	for dir := filepath.Dir(path); dir != t.root; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // non-empty or gone
		}
	}
	return nil
}
