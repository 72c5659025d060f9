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
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgcardona/maestro.stori.audio-sub000/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true, Writer: io.Discard})
}

// TestAcquireRelease verifies the basic lock lifecycle.
func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir, SessionID: "s1", Logger: testLogger()})

	require.NoError(t, l.Acquire("testing"))
	assert.True(t, l.Held())

	// Lock and info files exist while held.
	_, err := os.Stat(filepath.Join(dir, lockFileName))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, infoFileName))
	assert.NoError(t, err)

	require.NoError(t, l.Release())
	assert.False(t, l.Held())

	// Info file is removed on release.
	_, err = os.Stat(filepath.Join(dir, infoFileName))
	assert.True(t, os.IsNotExist(err))
}

// TestAcquireTwiceSameLock verifies re-acquiring from the same handle
// is a no-op that refreshes the reason.
func TestAcquireTwiceSameLock(t *testing.T) {
	l := New(Config{Dir: t.TempDir(), SessionID: "s1", Logger: testLogger()})
	require.NoError(t, l.Acquire("first"))
	require.NoError(t, l.Acquire("second"))

	holder, err := l.Holder()
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "second", holder.Reason)

	require.NoError(t, l.Release())
}

// TestReleaseWithoutAcquire verifies releasing an unheld lock fails.
func TestReleaseWithoutAcquire(t *testing.T) {
	l := New(Config{Dir: t.TempDir(), Logger: testLogger()})
	assert.ErrorIs(t, l.Release(), ErrLockNotHeld)
}

// TestHolderRecordsSession verifies the info file carries the session
// and pid of the acquirer.
func TestHolderRecordsSession(t *testing.T) {
	l := New(Config{Dir: t.TempDir(), SessionID: "session-abc", Logger: testLogger()})
	require.NoError(t, l.Acquire("committing"))
	defer l.Release()

	holder, err := l.Holder()
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, os.Getpid(), holder.PID)
	assert.Equal(t, "session-abc", holder.SessionID)
	assert.Equal(t, "committing", holder.Reason)
}

// TestHolderWhenUnlocked verifies no holder is reported after release.
func TestHolderWhenUnlocked(t *testing.T) {
	l := New(Config{Dir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, l.Acquire("brief"))
	require.NoError(t, l.Release())

	holder, err := l.Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)
}

// TestStaleInfoReplaced verifies a leftover info file from a dead
// holder does not block acquisition.
func TestStaleInfoReplaced(t *testing.T) {
	dir := t.TempDir()

	// Simulate a crashed holder: info file present, no live flock.
	stale := New(Config{Dir: dir, SessionID: "dead", Logger: testLogger()})
	require.NoError(t, stale.writeInfo(&Info{
		PID:       1 << 30, // no such process
		SessionID: "dead",
		LockedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	l := New(Config{Dir: dir, SessionID: "alive", Logger: testLogger()})
	require.NoError(t, l.Acquire("recovering"))
	defer l.Release()

	holder, err := l.Holder()
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "alive", holder.SessionID)
}

// TestInfoStaleness verifies the expiry and liveness checks.
func TestInfoStaleness(t *testing.T) {
	live := &Info{PID: os.Getpid(), ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, live.IsExpired())
	assert.False(t, live.IsStale())

	expired := &Info{PID: os.Getpid(), ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, expired.IsExpired())
	assert.True(t, expired.IsStale())

	dead := &Info{PID: 1 << 30, ExpiresAt: time.Now().Add(time.Hour)}
	assert.True(t, dead.IsStale())
}

// TestLockedErrorMessage verifies the holder shows up in the error.
func TestLockedErrorMessage(t *testing.T) {
	err := &LockedError{Holder: &Info{PID: 1234, Reason: "merging"}}
	assert.ErrorIs(t, err, ErrRepoLocked)
	assert.Contains(t, err.Error(), "1234")

	bare := &LockedError{}
	assert.ErrorIs(t, bare, ErrRepoLocked)
}

// TestIsProcessAlive verifies self-detection.
func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(1<<30))
}
