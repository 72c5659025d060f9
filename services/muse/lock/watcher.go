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
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cgcardona/maestro.stori.audio-sub000/pkg/logging"
)

// ChangeType classifies an external filesystem change.
type ChangeType int

const (
	ChangeWrite ChangeType = iota
	ChangeDelete
	ChangeRename
)

func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "write"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ExternalChangeEvent reports a modification made by another process
// to a watched path.
type ExternalChangeEvent struct {
	Path      string
	EventType ChangeType
}

// Watcher detects external modifications to repository-critical paths
// while an operation is in flight, such as another tool rewriting a
// paused operation's state file.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu        sync.Mutex
	callbacks map[string][]func(ExternalChangeEvent)
	closed    bool
}

// NewWatcher creates a Watcher and starts its event loop.
func NewWatcher(logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:   fsw,
		logger:    logger,
		callbacks: make(map[string][]func(ExternalChangeEvent)),
	}
	go w.loop()
	return w, nil
}

// Watch registers a callback for external changes to path.
func (w *Watcher) Watch(path string, callback func(ExternalChangeEvent)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.watcher.Add(absPath); err != nil {
		return err
	}
	w.callbacks[absPath] = append(w.callbacks[absPath], callback)
	return nil
}

// Unwatch stops watching path and drops its callbacks.
func (w *Watcher) Unwatch(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.watcher.Remove(absPath); err != nil && !os.IsNotExist(err) {
		w.logger.Debug("Path was not being watched", "path", absPath)
	}
	delete(w.callbacks, absPath)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.dispatch(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) dispatch(event fsnotify.Event) {
	var changeType ChangeType
	switch {
	case event.Op&fsnotify.Write != 0:
		changeType = ChangeWrite
	case event.Op&fsnotify.Remove != 0:
		changeType = ChangeDelete
	case event.Op&fsnotify.Rename != 0:
		changeType = ChangeRename
	default:
		return
	}

	absPath, _ := filepath.Abs(event.Name)

	w.mu.Lock()
	callbacks := append([]func(ExternalChangeEvent){}, w.callbacks[absPath]...)
	w.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}

	w.logger.Warn("External modification detected",
		"path", absPath,
		"event", changeType.String())

	ev := ExternalChangeEvent{Path: absPath, EventType: changeType}
	for _, cb := range callbacks {
		cb(ev)
	}
}
