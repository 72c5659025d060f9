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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	logLevel     string
	quiet        bool
	commitMsg    string
	commitMeta   []string
	allowEmpty   bool
	forceFlag    bool
	logLimit     int
	diffPath     string
	branchFrom   string
	continueFlag bool
	abortFlag    bool
	resolveSide  string
	resolveObj   string
	bisectGood   string
	bisectBad    string
	stashMsg     string

	rootCmd = &cobra.Command{
		Use:   "muse",
		Short: "Version control for multi-track music projects",
		Long: `Muse tracks a project directory of rendered track files with
content-addressed snapshots, branches, policy-aware merges, replay,
bisect, and stash.`,
	}

	// --- Repository ---
	initCmd = &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a new repository",
		Run:   runInit, // Defined in cmd_repo.go
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the branch, HEAD, and uncommitted changes",
		Run:   runStatus, // Defined in cmd_repo.go
	}
	commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Snapshot the working tree and record a commit",
		Run:   runCommit, // Defined in cmd_repo.go
	}
	logCmd = &cobra.Command{
		Use:   "log [ref]",
		Short: "Show history, newest first",
		Run:   runLog, // Defined in cmd_repo.go
	}
	showCmd = &cobra.Command{
		Use:   "show [ref]",
		Short: "Show a commit and the change it introduced",
		Run:   runShow, // Defined in cmd_repo.go
	}
	diffCmd = &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Compare the snapshots of two refs",
		Args:  cobra.ExactArgs(2),
		Run:   runDiff, // Defined in cmd_repo.go
	}
	blameCmd = &cobra.Command{
		Use:   "blame <path>",
		Short: "List the commits that changed a path",
		Args:  cobra.ExactArgs(1),
		Run:   runBlame, // Defined in cmd_repo.go
	}
	branchCmd = &cobra.Command{
		Use:   "branch [name]",
		Short: "List branches, or create one",
		Run:   runBranch, // Defined in cmd_repo.go
	}
	checkoutCmd = &cobra.Command{
		Use:   "checkout <ref>",
		Short: "Move HEAD to a branch or commit and rewrite the tree",
		Args:  cobra.ExactArgs(1),
		Run:   runCheckout, // Defined in cmd_repo.go
	}

	// --- Merge and replay ---
	mergeCmd = &cobra.Command{
		Use:   "merge [ref]",
		Short: "Merge a ref into HEAD under the track policy",
		Run:   runMerge, // Defined in cmd_merge.go
	}
	resolveCmd = &cobra.Command{
		Use:   "resolve <path>",
		Short: "Record a resolution for a conflicted path",
		Args:  cobra.ExactArgs(1),
		Run:   runResolve, // Defined in cmd_merge.go
	}
	conflictsCmd = &cobra.Command{
		Use:   "conflicts",
		Short: "List the paused operation's conflicts",
		Run:   runConflicts, // Defined in cmd_merge.go
	}
	cherryPickCmd = &cobra.Command{
		Use:   "cherry-pick [ref]",
		Short: "Apply one commit's change onto HEAD",
		Run:   runCherryPick, // Defined in cmd_merge.go
	}
	revertCmd = &cobra.Command{
		Use:   "revert [ref]",
		Short: "Record a commit that undoes an earlier one",
		Run:   runRevert, // Defined in cmd_merge.go
	}
	rebaseCmd = &cobra.Command{
		Use:   "rebase [upstream]",
		Short: "Replay the current branch onto another ref",
		Run:   runRebase, // Defined in cmd_merge.go
	}

	// --- Bisect ---
	bisectCmd = &cobra.Command{
		Use:   "bisect",
		Short: "Binary-search history for a regression",
	}
	bisectStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Open a session bounded by --good and --bad",
		Run:   runBisectStart, // Defined in cmd_bisect.go
	}
	bisectGoodCmd = &cobra.Command{
		Use:   "good",
		Short: "Mark the current candidate good",
		Run:   runBisectMark, // Defined in cmd_bisect.go
	}
	bisectBadCmd = &cobra.Command{
		Use:   "bad",
		Short: "Mark the current candidate bad",
		Run:   runBisectMark, // Defined in cmd_bisect.go
	}
	bisectSkipCmd = &cobra.Command{
		Use:   "skip",
		Short: "Skip the current candidate",
		Run:   runBisectMark, // Defined in cmd_bisect.go
	}
	bisectStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show where the search stands",
		Run:   runBisectStatus, // Defined in cmd_bisect.go
	}
	bisectResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "End the session and restore the original checkout",
		Run:   runBisectReset, // Defined in cmd_bisect.go
	}

	// --- Stash ---
	stashCmd = &cobra.Command{
		Use:   "stash",
		Short: "Shelve and restore uncommitted changes",
	}
	stashPushCmd = &cobra.Command{
		Use:   "push",
		Short: "Shelve the working tree and reset it to HEAD",
		Run:   runStashPush, // Defined in cmd_stash.go
	}
	stashPopCmd = &cobra.Command{
		Use:   "pop",
		Short: "Restore the most recent entry and drop it",
		Run:   runStashPop, // Defined in cmd_stash.go
	}
	stashApplyCmd = &cobra.Command{
		Use:   "apply [index]",
		Short: "Restore an entry, leaving it on the stack",
		Run:   runStashApply, // Defined in cmd_stash.go
	}
	stashListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the stack, most recent first",
		Run:   runStashList, // Defined in cmd_stash.go
	}
	stashDropCmd = &cobra.Command{
		Use:   "drop [index]",
		Short: "Remove an entry without applying it",
		Run:   runStashDrop, // Defined in cmd_stash.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output")

	commitCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "Commit message (required)")
	commitCmd.Flags().StringArrayVar(&commitMeta, "meta", nil, "Metadata annotation key=value (repeatable)")
	commitCmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "Permit a commit with no changes")

	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "Maximum commits to show (0 = all)")
	diffCmd.Flags().StringVar(&diffPath, "path", "", "Render a unified content diff for one path")
	branchCmd.Flags().StringVar(&branchFrom, "from", "", "Ref the new branch points at (default HEAD)")
	checkoutCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Discard uncommitted changes")

	mergeCmd.Flags().BoolVar(&continueFlag, "continue", false, "Finish the paused merge")
	mergeCmd.Flags().BoolVar(&abortFlag, "abort", false, "Discard the paused merge")
	mergeCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Discard uncommitted changes")
	cherryPickCmd.Flags().BoolVar(&continueFlag, "continue", false, "Finish the paused cherry-pick")
	cherryPickCmd.Flags().BoolVar(&abortFlag, "abort", false, "Discard the paused cherry-pick")
	revertCmd.Flags().BoolVar(&continueFlag, "continue", false, "Finish the paused revert")
	revertCmd.Flags().BoolVar(&abortFlag, "abort", false, "Discard the paused revert")
	rebaseCmd.Flags().BoolVar(&continueFlag, "continue", false, "Resume the paused rebase")
	rebaseCmd.Flags().BoolVar(&abortFlag, "abort", false, "Discard the paused rebase")
	rebaseCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Discard uncommitted changes")

	resolveCmd.Flags().StringVar(&resolveSide, "side", "", "Resolution side (ours, theirs, base)")
	resolveCmd.Flags().StringVar(&resolveObj, "object", "", "Resolve to an explicit object id")

	bisectStartCmd.Flags().StringVar(&bisectGood, "good", "", "Ref known to be good (required)")
	bisectStartCmd.Flags().StringVar(&bisectBad, "bad", "HEAD", "Ref known to be bad")
	bisectCmd.AddCommand(bisectStartCmd, bisectGoodCmd, bisectBadCmd, bisectSkipCmd, bisectStatusCmd, bisectResetCmd)

	stashPushCmd.Flags().StringVarP(&stashMsg, "message", "m", "", "Description of the shelved work")
	stashCmd.AddCommand(stashPushCmd, stashPopCmd, stashApplyCmd, stashListCmd, stashDropCmd)

	rootCmd.AddCommand(
		initCmd, statusCmd, commitCmd, logCmd, showCmd, diffCmd, blameCmd,
		branchCmd, checkoutCmd,
		mergeCmd, resolveCmd, conflictsCmd, cherryPickCmd, revertCmd, rebaseCmd,
		bisectCmd, stashCmd,
	)
}
