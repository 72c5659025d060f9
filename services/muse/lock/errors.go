// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrRepoLocked indicates another process holds the repository lock.
	ErrRepoLocked = errors.New("repository is locked by another process")

	// ErrLockNotHeld indicates a release without a prior acquire.
	ErrLockNotHeld = errors.New("repository lock is not held")
)

// LockedError carries the holder's recorded info alongside ErrRepoLocked
// so callers can report who holds the lock and why.
type LockedError struct {
	Holder *Info
}

func (e *LockedError) Error() string {
	if e.Holder == nil {
		return ErrRepoLocked.Error()
	}
	return fmt.Sprintf("%v (pid %d, session %s, reason: %s)",
		ErrRepoLocked, e.Holder.PID, e.Holder.SessionID, e.Holder.Reason)
}

func (e *LockedError) Unwrap() error {
	return ErrRepoLocked
}
