// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command muse is a version-control engine for multi-track music
// projects.
//
// A muse repository tracks a project directory of rendered track
// files. Snapshots are content-addressed, history is a commit DAG
// with branches, and merges are policy-aware: a .museattributes file
// at the project root routes conflicts per track and musical
// dimension.
//
// Usage:
//
//	muse init
//	muse commit -m "rough mix of verse 2"
//	muse branch alt-drums && muse checkout alt-drums
//	muse merge main
//	muse bisect start --good v1 --bad HEAD
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/cgcardona/maestro.stori.audio-sub000/pkg/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildLogger picks output format by destination: text for a human at
// a terminal, JSON when piped.
func buildLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level: logging.ParseLevel(logLevel),
		JSON:  !isatty.IsTerminal(os.Stderr.Fd()),
		Quiet: quiet,
	})
}

// fail prints the error and exits non-zero.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
