// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
)

// openRepo opens the repository in the working directory. The caller
// must defer the returned close function.
func openRepo(reason string) (*muse.Repository, func()) {
	cwd, err := os.Getwd()
	if err != nil {
		fail(err)
	}
	logger := buildLogger()
	repo, err := muse.Open(cwd, muse.Options{
		Logger:     logger,
		LockReason: reason,
	})
	if err != nil {
		logger.Close()
		fail(err)
	}
	return repo, func() {
		repo.Close()
		logger.Close()
	}
}

func runInit(cmd *cobra.Command, args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := muse.Init(dir, nil); err != nil {
		fail(err)
	}
	fmt.Printf("Initialized empty muse repository in %s\n", dir)
}

func runStatus(cmd *cobra.Command, args []string) {
	repo, done := openRepo("status")
	defer done()

	status, err := repo.Status(context.Background())
	if err != nil {
		fail(err)
	}

	if status.Branch != "" {
		fmt.Printf("On branch %s\n", status.Branch)
	} else {
		fmt.Printf("HEAD detached at %s\n", status.Commit.Short())
	}
	if status.OperationActive {
		fmt.Printf("A %s is in progress (continue or abort it)\n", status.Operation)
	}
	if repo.ExternallyModified() {
		fmt.Println("Warning: another process modified the repository lock file")
	}
	if status.Clean() {
		fmt.Println("Working tree clean")
		return
	}
	printDiff(status.Changes)
}

func runCommit(cmd *cobra.Command, args []string) {
	if commitMsg == "" {
		fail(fmt.Errorf("a commit message is required (-m)"))
	}
	meta, err := parseMeta(commitMeta)
	if err != nil {
		fail(err)
	}

	repo, done := openRepo("commit")
	defer done()

	commit, err := repo.Commit(context.Background(), muse.CommitOptions{
		Message:    commitMsg,
		Metadata:   meta,
		AllowEmpty: allowEmpty,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("[%s %s] %s\n", commit.Branch, commit.ID.Short(), firstLine(commit.Message))
}

func runLog(cmd *cobra.Command, args []string) {
	ref := ""
	if len(args) > 0 {
		ref = args[0]
	}

	repo, done := openRepo("log")
	defer done()

	commits, err := repo.Log(context.Background(), ref, logLimit)
	if err != nil {
		fail(err)
	}
	for _, commit := range commits {
		printCommit(commit)
	}
}

func runShow(cmd *cobra.Command, args []string) {
	ref := "HEAD"
	if len(args) > 0 {
		ref = args[0]
	}

	repo, done := openRepo("show")
	defer done()

	detail, err := repo.Show(context.Background(), ref)
	if err != nil {
		fail(err)
	}
	printCommit(detail.Commit)
	printDiff(detail.Changes)
}

func runDiff(cmd *cobra.Command, args []string) {
	repo, done := openRepo("diff")
	defer done()
	ctx := context.Background()

	if diffPath != "" {
		if err := printContentDiff(ctx, repo, args[0], args[1], diffPath); err != nil {
			fail(err)
		}
		return
	}

	diff, err := repo.DiffRefs(ctx, args[0], args[1])
	if err != nil {
		fail(err)
	}
	printDiff(diff)
}

func runBlame(cmd *cobra.Command, args []string) {
	repo, done := openRepo("blame")
	defer done()

	commits, err := repo.Blame(context.Background(), args[0])
	if err != nil {
		fail(err)
	}
	if len(commits) == 0 {
		fmt.Printf("%s: never committed\n", args[0])
		return
	}
	for _, commit := range commits {
		fmt.Printf("%s  %s  %s\n", commit.ID.Short(), commit.CommittedAt.Format("2006-01-02 15:04"), firstLine(commit.Message))
	}
}

func runBranch(cmd *cobra.Command, args []string) {
	repo, done := openRepo("branch")
	defer done()
	ctx := context.Background()

	if len(args) == 0 {
		head, err := repo.Head()
		if err != nil {
			fail(err)
		}
		tips, err := repo.Branches()
		if err != nil {
			fail(err)
		}
		for name, tip := range tips {
			marker := " "
			if name == head.Branch {
				marker = "*"
			}
			fmt.Printf("%s %s %s\n", marker, name, tip.Short())
		}
		return
	}

	if err := repo.CreateBranch(ctx, args[0], branchFrom); err != nil {
		fail(err)
	}
	fmt.Printf("Created branch %s\n", args[0])
}

func runCheckout(cmd *cobra.Command, args []string) {
	repo, done := openRepo("checkout")
	defer done()

	if err := repo.Checkout(context.Background(), args[0], forceFlag); err != nil {
		fail(err)
	}
	fmt.Printf("Checked out %s\n", args[0])
}

// --- Output helpers ---

func printCommit(commit *graph.Commit) {
	fmt.Printf("commit %s", commit.ID)
	if commit.IsMerge() {
		fmt.Printf(" (merge)")
	}
	fmt.Println()
	fmt.Printf("Author: %s\n", commit.Author)
	fmt.Printf("Date:   %s\n", commit.CommittedAt.Format("Mon Jan 2 15:04:05 2006"))
	if commit.Metadata != nil && commit.Metadata.Len() > 0 {
		for _, key := range commit.Metadata.Keys() {
			value, _ := commit.Metadata.Get(key)
			fmt.Printf("%s: %v\n", key, value)
		}
	}
	fmt.Printf("\n    %s\n\n", strings.ReplaceAll(commit.Message, "\n", "\n    "))
}

func printDiff(diff snapshot.Diff) {
	for _, path := range diff.Added {
		fmt.Printf("  added:    %s\n", path)
	}
	for _, path := range diff.Modified {
		fmt.Printf("  modified: %s\n", path)
	}
	for _, path := range diff.Removed {
		fmt.Printf("  removed:  %s\n", path)
	}
}

// printContentDiff renders a unified diff of one path between two
// refs. Binary contents are summarized, not dumped.
func printContentDiff(ctx context.Context, repo *muse.Repository, from, to, path string) error {
	fromData, err := pathContents(ctx, repo, from, path)
	if err != nil {
		return err
	}
	toData, err := pathContents(ctx, repo, to, path)
	if err != nil {
		return err
	}

	if bytes.Contains(fromData, []byte{0}) || bytes.Contains(toData, []byte{0}) {
		if !bytes.Equal(fromData, toData) {
			fmt.Printf("Binary path %s differs (%d -> %d bytes)\n", path, len(fromData), len(toData))
		}
		return nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(fromData)),
		B:        difflib.SplitLines(string(toData)),
		FromFile: fmt.Sprintf("%s:%s", from, path),
		ToFile:   fmt.Sprintf("%s:%s", to, path),
		Context:  3,
	})
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

// pathContents fetches one path's object contents at a ref. An absent
// path reads as empty.
func pathContents(ctx context.Context, repo *muse.Repository, ref, path string) ([]byte, error) {
	id, err := repo.Graph().ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	commit, err := repo.Graph().GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := repo.Snapshots().Get(ctx, commit.SnapshotID)
	if err != nil {
		return nil, err
	}
	objID, ok := snap.Manifest[path]
	if !ok {
		return nil, nil
	}
	return repo.Objects().Get(ctx, objID)
}

// parseMeta converts repeated key=value flags to commit metadata,
// preserving the order given on the command line.
func parseMeta(pairs []string) (*graph.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := graph.NewMetadata()
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed metadata %q (want key=value)", pair)
		}
		meta.Set(key, value)
	}
	return meta, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
