// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package muse

import (
	"errors"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/checkout"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/merge"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
)

// Sentinel errors at the repository surface. Errors from inner
// packages pass through wrapped; the aliases below are the ones
// callers branch on.
var (
	// ErrNotRepository indicates the directory has no .muse
	// repository.
	ErrNotRepository = errors.New("not a muse repository")

	// ErrRepositoryExists indicates init was run inside an existing
	// repository.
	ErrRepositoryExists = errors.New("repository already exists")

	// ErrNothingToCommit indicates the working tree matches HEAD.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrBranchExists indicates branch creation with a taken name.
	ErrBranchExists = errors.New("branch already exists")

	// ErrDirtyWorkingTree re-exports the checkout guard.
	ErrDirtyWorkingTree = checkout.ErrDirtyWorkingTree

	// ErrUnrelatedHistories re-exports the merge guard.
	ErrUnrelatedHistories = merge.ErrUnrelatedHistories

	// ErrOperationInProgress re-exports the opstate guard.
	ErrOperationInProgress = opstate.ErrOperationInProgress

	// ErrUnresolvedConflicts re-exports the continue guard.
	ErrUnresolvedConflicts = opstate.ErrUnresolvedConflicts
)
