// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build windows

package lock

import (
	"os"
)

// windowsLocker is a stub fileLocker for Windows.
//
// TODO: implement via golang.org/x/sys/windows LockFileEx/UnlockFileEx.
// Until then locking is a no-op and the info file is the only guard.
type windowsLocker struct{}

func (windowsLocker) Lock(f *os.File) error {
	return nil
}

func (windowsLocker) Unlock(f *os.File) error {
	return nil
}

// isProcessAlive is a stub; without OpenProcess every recorded holder
// is treated as dead, so TTL expiry is the effective staleness check.
func isProcessAlive(pid int) bool {
	return false
}

func newPlatformLocker() fileLocker {
	return windowsLocker{}
}
