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
	"os"
)

// errWouldBlock is the platform-neutral "already locked" signal from a
// fileLocker.
var errWouldBlock = errors.New("lock would block")

// fileLocker abstracts platform-specific advisory locking. Unix uses
// flock(2); Windows uses LockFileEx.
type fileLocker interface {
	// Lock acquires an exclusive lock on the open file. Non-blocking:
	// returns errWouldBlock if another process holds it.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call when not locked.
	Unlock(f *os.File) error
}

// IsProcessAlive checks whether a process with the given PID is still
// running. Used for stale lock-info detection.
//
// # Inputs
//
//   - pid: Process ID to check.
//
// # Outputs
//
//   - bool: True if the process exists and is signalable.
func IsProcessAlive(pid int) bool {
	return isProcessAlive(pid)
}
