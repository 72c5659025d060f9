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

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/bisect"
)

func runBisectStart(cmd *cobra.Command, args []string) {
	if bisectGood == "" {
		fail(fmt.Errorf("a --good ref is required"))
	}

	repo, done := openRepo("bisect start")
	defer done()

	status, err := repo.BisectStart(context.Background(), bisectGood, bisectBad)
	if err != nil {
		fail(err)
	}
	printBisect(status)
}

func runBisectMark(cmd *cobra.Command, args []string) {
	verdict, err := bisect.ParseVerdict(cmd.Use)
	if err != nil {
		fail(err)
	}

	repo, done := openRepo("bisect " + cmd.Use)
	defer done()

	status, err := repo.BisectMark(context.Background(), verdict)
	if err != nil {
		fail(err)
	}
	printBisect(status)
}

func runBisectStatus(cmd *cobra.Command, args []string) {
	repo, done := openRepo("bisect status")
	defer done()

	status, err := repo.BisectStatus()
	if err != nil {
		fail(err)
	}
	printBisect(status)
}

func runBisectReset(cmd *cobra.Command, args []string) {
	repo, done := openRepo("bisect reset")
	defer done()

	if err := repo.BisectReset(context.Background()); err != nil {
		fail(err)
	}
	fmt.Println("Bisect ended; original checkout restored")
}

func printBisect(status *bisect.Status) {
	if status.Done {
		fmt.Printf("First bad commit: %s\n", status.Culprit)
		fmt.Println("Run 'muse bisect reset' to restore your checkout.")
		return
	}
	fmt.Printf("Checking out %s for evaluation\n", status.Next.Short())
	fmt.Printf("%d commit(s) in range, roughly %d step(s) left\n", status.Remaining, status.StepsLeft)
}
