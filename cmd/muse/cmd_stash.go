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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/stash"
)

func runStashPush(cmd *cobra.Command, args []string) {
	repo, done := openRepo("stash push")
	defer done()

	entry, err := repo.StashPush(context.Background(), stashMsg)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Stashed: %s\n", entry.Message)
}

func runStashPop(cmd *cobra.Command, args []string) {
	repo, done := openRepo("stash pop")
	defer done()

	applied, err := repo.StashPop(context.Background())
	if err != nil {
		fail(err)
	}
	reportApplied(applied)
}

func runStashApply(cmd *cobra.Command, args []string) {
	repo, done := openRepo("stash apply")
	defer done()

	applied, err := repo.StashApply(context.Background(), stashIndex(args))
	if err != nil {
		fail(err)
	}
	reportApplied(applied)
}

func runStashList(cmd *cobra.Command, args []string) {
	repo, done := openRepo("stash list")
	defer done()

	entries, err := repo.StashList(context.Background())
	if err != nil {
		fail(err)
	}
	for i, entry := range entries {
		fmt.Printf("stash@{%d}: %s (on %s)\n", i, entry.Message, entry.Branch)
	}
}

func runStashDrop(cmd *cobra.Command, args []string) {
	repo, done := openRepo("stash drop")
	defer done()

	if err := repo.StashDrop(context.Background(), stashIndex(args)); err != nil {
		fail(err)
	}
	fmt.Println("Dropped")
}

func reportApplied(applied *stash.Applied) {
	fmt.Printf("Restored: %s\n", applied.Entry.Message)
	for _, path := range applied.Missing {
		fmt.Printf("  skipped %s: object missing from store\n", path)
	}
}

func stashIndex(args []string) int {
	if len(args) == 0 {
		return 0
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		fail(fmt.Errorf("invalid stash index %q", args[0]))
	}
	return index
}
