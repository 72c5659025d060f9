// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock serializes access to a repository's administrative
// directory across processes.
//
// A single advisory lock guards the whole .muse directory: whichever
// process holds it may mutate refs, operation state, and the embedded
// database. Locking uses flock(2) on Unix, so the lock vanishes with
// the process; an info file beside it records the holder for
// diagnostics and TTL-based staleness reporting.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cgcardona/maestro.stori.audio-sub000/pkg/logging"
)

const (
	lockFileName = "muse.lock"
	infoFileName = "muse.lock.json"

	// DefaultTTL bounds how long a holder's info file is trusted when
	// the advisory lock itself cannot be consulted.
	DefaultTTL = time.Hour
)

// Info records who holds (or last held) the repository lock.
type Info struct {
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the info record is past its TTL.
func (i *Info) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// IsStale reports whether the record belongs to a dead or expired
// holder.
func (i *Info) IsStale() bool {
	return i.IsExpired() || !IsProcessAlive(i.PID)
}

// Config configures a RepoLock.
type Config struct {
	// Dir is the repository's administrative directory (.muse).
	Dir string

	// SessionID identifies the acquiring session in the info file.
	SessionID string

	// TTL bounds the trust window of the info file. Zero means
	// DefaultTTL.
	TTL time.Duration

	// Logger receives acquisition and staleness events. Nil falls
	// back to the process default.
	Logger *logging.Logger
}

// RepoLock is an exclusive, process-wide lock over a repository.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The lock itself is held by
// the process, not the goroutine; a second Acquire from the same
// RepoLock is a no-op.
type RepoLock struct {
	dir       string
	sessionID string
	ttl       time.Duration
	locker    fileLocker
	logger    *logging.Logger

	mu   sync.Mutex
	file *os.File
	info *Info
}

// New creates a RepoLock for the given administrative directory. The
// lock is not acquired until Acquire is called.
func New(cfg Config) *RepoLock {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &RepoLock{
		dir:       cfg.Dir,
		sessionID: cfg.SessionID,
		ttl:       cfg.TTL,
		locker:    newPlatformLocker(),
		logger:    cfg.Logger,
	}
}

// Acquire takes the repository lock.
//
// # Description
//
// Non-blocking: if another live process holds the lock, a LockedError
// naming the holder is returned immediately. An info file left by a
// dead or expired holder is cleaned up and reported, since the flock
// itself dies with its process.
//
// # Inputs
//
//   - reason: Human-readable purpose recorded in the info file.
//
// # Outputs
//
//   - error: nil on success, LockedError wrapping ErrRepoLocked if
//     held elsewhere.
func (l *RepoLock) Acquire(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		// Already held by us; refresh the recorded reason.
		l.info.Reason = reason
		return nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating lock directory %s: %w", l.dir, err)
	}

	f, err := os.OpenFile(l.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	if err := l.locker.Lock(f); err != nil {
		f.Close()
		if err == errWouldBlock {
			holder, _ := l.readInfo()
			return &LockedError{Holder: holder}
		}
		return fmt.Errorf("acquiring repository lock: %w", err)
	}

	// We hold the flock. Any leftover info file belongs to a previous
	// holder that exited without releasing.
	if prev, err := l.readInfo(); err == nil && prev != nil && prev.PID != os.Getpid() {
		l.logger.Info("Replacing stale repository lock",
			"old_pid", prev.PID,
			"old_session", prev.SessionID,
			"expired", prev.IsExpired())
	}

	now := time.Now()
	info := &Info{
		PID:       os.Getpid(),
		SessionID: l.sessionID,
		Reason:    reason,
		LockedAt:  now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := l.writeInfo(info); err != nil {
		l.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	l.file = f
	l.info = info
	l.logger.Debug("Acquired repository lock",
		"dir", l.dir,
		"reason", reason)
	return nil
}

// Release drops the repository lock and removes the info file.
func (l *RepoLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrLockNotHeld
	}

	if err := os.Remove(l.infoPath()); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("Failed to remove lock info file",
			"path", l.infoPath(),
			"error", err)
	}
	if err := l.locker.Unlock(l.file); err != nil {
		l.logger.Warn("Failed to unlock repository",
			"dir", l.dir,
			"error", err)
	}
	err := l.file.Close()
	l.file = nil
	l.info = nil
	l.logger.Debug("Released repository lock", "dir", l.dir)
	return err
}

// Held reports whether this RepoLock currently holds the lock.
func (l *RepoLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Holder returns the recorded holder of the lock, whether this process
// or another. Returns nil when no live holder is recorded.
func (l *RepoLock) Holder() (*Info, error) {
	l.mu.Lock()
	if l.info != nil {
		info := *l.info
		l.mu.Unlock()
		return &info, nil
	}
	l.mu.Unlock()

	info, err := l.readInfo()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info == nil || info.IsStale() {
		return nil, nil
	}
	return info, nil
}

// InfoPath returns the path of the holder info file, for callers that
// watch it for external tampering.
func (l *RepoLock) InfoPath() string {
	return l.infoPath()
}

func (l *RepoLock) lockPath() string {
	return filepath.Join(l.dir, lockFileName)
}

func (l *RepoLock) infoPath() string {
	return filepath.Join(l.dir, infoFileName)
}

func (l *RepoLock) writeInfo(info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.infoPath(), data, 0o644)
}

func (l *RepoLock) readInfo() (*Info, error) {
	data, err := os.ReadFile(l.infoPath())
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
