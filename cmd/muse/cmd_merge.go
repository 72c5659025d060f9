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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/merge"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/replay"
)

func runMerge(cmd *cobra.Command, args []string) {
	repo, done := openRepo("merge")
	defer done()
	ctx := context.Background()

	switch {
	case continueFlag:
		outcome, err := repo.MergeContinue(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Merge landed as %s\n", outcome.Commit.ID.Short())
	case abortFlag:
		if err := repo.MergeAbort(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Merge aborted")
	default:
		if len(args) != 1 {
			fail(fmt.Errorf("a ref to merge is required"))
		}
		outcome, err := repo.Merge(ctx, args[0], forceFlag)
		if err != nil {
			fail(err)
		}
		switch {
		case outcome.Noop:
			fmt.Println("Already up to date")
		case outcome.FastForward:
			fmt.Printf("Fast-forwarded to %s\n", outcome.Commit.ID.Short())
		case outcome.Paused():
			printConflicts(outcome.Conflicts)
		default:
			fmt.Printf("Merge landed as %s\n", outcome.Commit.ID.Short())
		}
	}
}

func runResolve(cmd *cobra.Command, args []string) {
	if (resolveSide == "") == (resolveObj == "") {
		fail(fmt.Errorf("exactly one of --side or --object is required"))
	}

	repo, done := openRepo("resolve")
	defer done()
	ctx := context.Background()

	var err error
	if resolveObj != "" {
		err = repo.ResolveObject(ctx, args[0], object.ID(resolveObj))
	} else {
		err = repo.Resolve(ctx, args[0], muse.Side(resolveSide))
	}
	if err != nil {
		fail(err)
	}

	_, unresolved, err := repo.Conflicts()
	if err != nil {
		fail(err)
	}
	if len(unresolved) == 0 {
		fmt.Println("All conflicts resolved; continue the operation")
	} else {
		fmt.Printf("Resolved %s (%d remaining)\n", args[0], len(unresolved))
	}
}

func runConflicts(cmd *cobra.Command, args []string) {
	repo, done := openRepo("conflicts")
	defer done()

	conflicts, unresolved, err := repo.Conflicts()
	if err != nil {
		fail(err)
	}
	pending := make(map[string]bool, len(unresolved))
	for _, path := range unresolved {
		pending[path] = true
	}
	for _, conflict := range conflicts {
		mark := "resolved"
		if pending[conflict.Path] {
			mark = "unresolved"
		}
		fmt.Printf("%-10s %s (track %s, %s)\n", mark, conflict.Path, conflict.Track, conflict.Dim)
	}
}

func runCherryPick(cmd *cobra.Command, args []string) {
	repo, done := openRepo("cherry-pick")
	defer done()
	ctx := context.Background()

	switch {
	case continueFlag:
		reportReplay(repo.CherryPickContinue(ctx))
	case abortFlag:
		if err := repo.CherryPickAbort(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Cherry-pick aborted")
	default:
		if len(args) != 1 {
			fail(fmt.Errorf("a commit to pick is required"))
		}
		reportReplay(repo.CherryPick(ctx, args[0]))
	}
}

func runRevert(cmd *cobra.Command, args []string) {
	repo, done := openRepo("revert")
	defer done()
	ctx := context.Background()

	switch {
	case continueFlag:
		reportReplay(repo.RevertContinue(ctx))
	case abortFlag:
		if err := repo.RevertAbort(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Revert aborted")
	default:
		if len(args) != 1 {
			fail(fmt.Errorf("a commit to revert is required"))
		}
		reportReplay(repo.Revert(ctx, args[0]))
	}
}

func runRebase(cmd *cobra.Command, args []string) {
	repo, done := openRepo("rebase")
	defer done()
	ctx := context.Background()

	switch {
	case continueFlag:
		reportReplay(repo.RebaseContinue(ctx))
	case abortFlag:
		if err := repo.RebaseAbort(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Rebase aborted")
	default:
		if len(args) != 1 {
			fail(fmt.Errorf("an upstream ref is required"))
		}
		head, err := repo.Head()
		if err != nil {
			fail(err)
		}
		if !head.Attached() {
			fail(fmt.Errorf("cannot rebase a detached HEAD"))
		}
		reportReplay(repo.Rebase(ctx, head.Branch, args[0], forceFlag))
	}
}

// reportReplay prints a replay outcome uniformly.
func reportReplay(outcome *replay.Outcome, err error) {
	if err != nil {
		fail(err)
	}
	switch {
	case outcome.Paused():
		printConflicts(outcome.Conflicts)
	case outcome.Noop:
		fmt.Println("Nothing to do")
	default:
		fmt.Printf("Landed %s\n", outcome.Commit.ID.Short())
	}
}

func printConflicts(conflicts []merge.Conflict) {
	fmt.Printf("Paused on %d conflict(s):\n", len(conflicts))
	for _, conflict := range conflicts {
		fmt.Printf("  %s (track %s, %s)\n", conflict.Path, conflict.Track, conflict.Dim)
	}
	fmt.Println("Resolve each path with 'muse resolve', then continue or abort.")
}
