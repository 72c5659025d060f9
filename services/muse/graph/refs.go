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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Refs are the sole source of truth for "current state", so every
// update goes through writeFileAtomic: write a temp file in the same
// directory, fsync, then rename over the target. A crash mid-update
// can never leave a ref half-written.

const (
	refsDir  = "refs/heads"
	headFile = "HEAD"

	// headRefPrefix marks an attached HEAD: "ref: refs/heads/<name>".
	headRefPrefix = "ref: refs/heads/"
)

// Head is the resolved HEAD pointer.
//
// Attached HEAD names a branch; Commit is then the branch tip (empty on
// an unborn branch). Detached HEAD has no branch and points directly at
// a commit.
type Head struct {
	Branch string   `json:"branch,omitempty"`
	Commit CommitID `json:"commit,omitempty"`
}

// Attached reports whether HEAD points at a branch.
func (h Head) Attached() bool {
	return h.Branch != ""
}

// refStore manages branch ref files and HEAD under the .muse directory.
type refStore struct {
	dir string
}

func (r *refStore) refPath(branch string) string {
	return filepath.Join(r.dir, refsDir, branch)
}

func (r *refStore) headPath() string {
	return filepath.Join(r.dir, headFile)
}

// MoveRef points a branch at a commit, creating the ref if needed.
//
// Description:
//
//	The commit must exist; a ref may never point at a missing commit.
//	The write is atomic with respect to process crashes.
func (g *Graph) MoveRef(ctx context.Context, branch string, id CommitID) error {
	if branch == "" || strings.ContainsAny(branch, "/\\ \t\n") {
		return fmt.Errorf("%w: invalid branch name %q", ErrInvalidCommit, branch)
	}
	if _, err := g.GetCommit(ctx, id); err != nil {
		return fmt.Errorf("move ref %s: %w", branch, err)
	}

	if err := os.MkdirAll(filepath.Join(g.refs.dir, refsDir), 0750); err != nil {
		return fmt.Errorf("create refs directory: %w", err)
	}
	if err := writeFileAtomic(g.refs.refPath(branch), []byte(string(id)+"\n")); err != nil {
		return fmt.Errorf("write ref %s: %w", branch, err)
	}

	g.logger.Debug("moved ref", "branch", branch, "commit", id.Short())
	return nil
}

// ReadRef returns the commit a branch points at.
//
// Outputs:
//
//	CommitID - The branch tip.
//	error - ErrRefNotFound if the branch does not exist, ErrCorruption
//	        if the ref file holds a malformed id.
func (g *Graph) ReadRef(branch string) (CommitID, error) {
	data, err := os.ReadFile(g.refs.refPath(branch))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrRefNotFound, branch)
		}
		return "", fmt.Errorf("read ref %s: %w", branch, err)
	}

	id := CommitID(strings.TrimSpace(string(data)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: ref %s holds malformed id %q", ErrCorruption, branch, id)
	}
	return id, nil
}

// BranchExists reports whether a branch ref file exists.
func (g *Graph) BranchExists(branch string) bool {
	_, err := os.Stat(g.refs.refPath(branch))
	return err == nil
}

// ListBranches returns all branch names, sorted.
func (g *Graph) ListBranches() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(g.refs.dir, refsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read refs directory: %w", err)
	}

	var branches []string
	for _, entry := range entries {
		if !entry.IsDir() {
			branches = append(branches, entry.Name())
		}
	}
	sort.Strings(branches)
	return branches, nil
}

// SetHeadBranch attaches HEAD to a branch (which may be unborn).
func (g *Graph) SetHeadBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("%w: empty branch name", ErrInvalidCommit)
	}
	if err := writeFileAtomic(g.refs.headPath(), []byte(headRefPrefix+branch+"\n")); err != nil {
		return fmt.Errorf("write HEAD: %w", err)
	}
	g.logger.Debug("attached HEAD", "branch", branch)
	return nil
}

// SetHeadDetached points HEAD directly at a commit.
func (g *Graph) SetHeadDetached(ctx context.Context, id CommitID) error {
	if _, err := g.GetCommit(ctx, id); err != nil {
		return fmt.Errorf("detach HEAD: %w", err)
	}
	if err := writeFileAtomic(g.refs.headPath(), []byte(string(id)+"\n")); err != nil {
		return fmt.Errorf("write HEAD: %w", err)
	}
	g.logger.Debug("detached HEAD", "commit", id.Short())
	return nil
}

// ReadHead returns the current HEAD pointer.
//
// Description:
//
//	For an attached HEAD the branch tip is resolved; an unborn branch
//	(ref file absent) yields an empty Commit, which is only legal
//	before the first commit.
//
// Outputs:
//
//	Head - The resolved pointer.
//	error - ErrNotFound if the HEAD file is absent, ErrCorruption on a
//	        malformed HEAD.
func (g *Graph) ReadHead() (Head, error) {
	data, err := os.ReadFile(g.refs.headPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Head{}, fmt.Errorf("%w: HEAD", ErrNotFound)
		}
		return Head{}, fmt.Errorf("read HEAD: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if branch, ok := strings.CutPrefix(content, headRefPrefix); ok {
		head := Head{Branch: branch}
		tip, err := g.ReadRef(branch)
		if err != nil {
			if errors.Is(err, ErrRefNotFound) {
				return head, nil // unborn branch
			}
			return Head{}, err
		}
		head.Commit = tip
		return head, nil
	}

	id := CommitID(content)
	if !id.Valid() {
		return Head{}, fmt.Errorf("%w: HEAD holds malformed content %q", ErrCorruption, content)
	}
	return Head{Commit: id}, nil
}

// ResolveRef resolves a user-supplied ref to a commit id: "HEAD", a
// branch name, or a full commit id.
//
// Outputs:
//
//	CommitID - The resolved commit.
//	error - ErrNotFound / ErrRefNotFound when nothing matches.
func (g *Graph) ResolveRef(ctx context.Context, ref string) (CommitID, error) {
	if ref == "HEAD" {
		head, err := g.ReadHead()
		if err != nil {
			return "", err
		}
		if head.Commit == "" {
			return "", fmt.Errorf("%w: HEAD points at unborn branch %s", ErrNotFound, head.Branch)
		}
		return head.Commit, nil
	}

	if g.BranchExists(ref) {
		return g.ReadRef(ref)
	}

	id := CommitID(ref)
	if id.Valid() {
		if _, err := g.GetCommit(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}

	return "", fmt.Errorf("%w: unknown ref %q", ErrRefNotFound, ref)
}

// writeFileAtomic writes data to path via temp-file-then-rename so a
// crash cannot leave a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ref-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	success = true
	return nil
}
