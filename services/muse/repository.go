// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package muse is the repository facade: one handle that wires the
// object store, snapshot engine, commit graph, merge engine, replay
// engine, bisect controller, and stash stack over a single on-disk
// repository.
//
// A repository lives in a project directory with a .muse
// administrative directory beside the tracked audio tree. Open
// acquires an exclusive cross-process lock; every mutating operation
// first checks that no paused merge, rebase, cherry-pick, revert, or
// bisect is awaiting a decision.
package muse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cgcardona/maestro.stori.audio-sub000/pkg/logging"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/attr"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/bisect"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/checkout"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/config"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/graph"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/lock"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/merge"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/object"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/opstate"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/replay"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/snapshot"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/stash"
	storage "github.com/cgcardona/maestro.stori.audio-sub000/services/muse/storage/badger"
	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/worktree"
)

// AdminDir is the repository's administrative directory name.
const AdminDir = worktree.AdminDir

// Options configure Open.
type Options struct {
	// Logger overrides the logger built from repository config.
	Logger *logging.Logger

	// Classifier routes conflict paths to musical dimensions.
	// Nil uses attr.DefaultClassifier (wildcard rules only).
	Classifier attr.ClassifierFunc

	// LockReason is recorded in the lock info file.
	LockReason string

	// InMemoryDB runs the database without disk persistence. Tests
	// only; refs and state files still hit the filesystem.
	InMemoryDB bool
}

// Repository is an open muse repository.
//
// # Thread Safety
//
// One Repository per process per project directory. Methods are not
// safe for concurrent use; the repository lock guards across
// processes, not goroutines.
type Repository struct {
	root    string
	museDir string
	cfg     *config.Config
	logger  *logging.Logger

	db       *storage.DB
	objects  *object.Store
	snaps    *snapshot.Engine
	graph    *graph.Graph
	merger   *merge.Engine
	planner  *checkout.Planner
	states   *opstate.Store
	replayer *replay.Engine
	bisector *bisect.Controller
	stashes  *stash.Manager
	tree     *worktree.Tree
	lock     *lock.RepoLock
	watcher  *lock.Watcher

	classify attr.ClassifierFunc

	extChange atomic.Bool
	ownLogger bool
}

// Init creates a new repository in a project directory.
//
// Description:
//
//	Creates the .muse directory with default configuration and an
//	unborn default branch. The working tree is left untouched; the
//	first commit snapshots whatever is there.
//
// Inputs:
//
//	root - The project directory. Created if absent.
//	cfg - Configuration to write. Nil writes config.Default().
//
// Outputs:
//
//	error - ErrRepositoryExists if .muse already exists.
func Init(root string, cfg *config.Config) error {
	museDir := filepath.Join(root, AdminDir)
	if _, err := os.Stat(museDir); err == nil {
		return fmt.Errorf("%w: %s", ErrRepositoryExists, root)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := os.MkdirAll(museDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", museDir, err)
	}
	if err := config.Save(museDir, cfg); err != nil {
		return err
	}

	// HEAD points at the unborn default branch; the ref file itself
	// appears with the first commit.
	head := []byte("ref: refs/heads/" + cfg.DefaultBranch + "\n")
	if err := os.WriteFile(filepath.Join(museDir, "HEAD"), head, 0o644); err != nil {
		return fmt.Errorf("write HEAD: %w", err)
	}
	return nil
}

// Open opens an existing repository and acquires its lock.
//
// Outputs:
//
//	*Repository - The open handle. Call Close when done.
//	error - ErrNotRepository when .muse is absent, or a lock.
//	        LockedError naming the holder.
func Open(root string, opts Options) (*Repository, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	museDir := filepath.Join(root, AdminDir)
	if info, err := os.Stat(museDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, root)
	}

	cfg, err := config.Load(museDir)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	ownLogger := false
	if logger == nil {
		logDir := cfg.Log.Dir
		if logDir == "" {
			logDir = filepath.Join(museDir, "logs")
		}
		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Log.Level),
			LogDir:  logDir,
			Service: "muse",
		})
		ownLogger = true
	}
	slogger := logger.Slog()

	repoLock := lock.New(lock.Config{
		Dir:       museDir,
		SessionID: uuid.NewString(),
		Logger:    logger,
	})
	reason := opts.LockReason
	if reason == "" {
		reason = "repository open"
	}
	if err := repoLock.Acquire(reason); err != nil {
		if ownLogger {
			logger.Close()
		}
		return nil, err
	}

	dbCfg := storage.DefaultConfig()
	dbCfg.Path = filepath.Join(museDir, "db")
	dbCfg.Logger = slogger
	if opts.InMemoryDB {
		dbCfg = storage.InMemoryConfig()
		dbCfg.Logger = slogger
	}
	db, err := storage.OpenDB(dbCfg)
	if err != nil {
		repoLock.Release()
		if ownLogger {
			logger.Close()
		}
		return nil, err
	}

	classify := opts.Classifier
	if classify == nil {
		classify = attr.DefaultClassifier
	}

	objects := object.NewStore(db, slogger)
	snaps := snapshot.NewEngine(db, objects, slogger)
	g := graph.New(db, museDir, slogger)
	merger := merge.NewEngine(snaps, g, slogger)
	states := opstate.NewStore(museDir, slogger)

	r := &Repository{
		root:      root,
		museDir:   museDir,
		cfg:       cfg,
		logger:    logger,
		db:        db,
		objects:   objects,
		snaps:     snaps,
		graph:     g,
		merger:    merger,
		planner:   checkout.NewPlanner(slogger),
		states:    states,
		replayer:  replay.NewEngine(g, snaps, merger, states, slogger),
		bisector:  bisect.NewController(g, states, slogger),
		stashes:   stash.NewManager(db, snaps, objects, slogger),
		tree:      worktree.New(root, slogger),
		lock:      repoLock,
		classify:  classify,
		ownLogger: ownLogger,
	}

	// Watch the lock info file: the flock only binds cooperating
	// processes, so a rewrite or removal here means some other tool is
	// mutating the repository around the lock.
	watcher, werr := lock.NewWatcher(logger)
	if werr == nil {
		werr = watcher.Watch(repoLock.InfoPath(), func(lock.ExternalChangeEvent) {
			r.extChange.Store(true)
		})
		if werr != nil {
			watcher.Close()
		} else {
			r.watcher = watcher
		}
	}
	if werr != nil {
		logger.Warn("Lock file watching unavailable", "error", werr)
	}

	logger.Debug("Repository opened", "root", root)
	return r, nil
}

// Close releases the lock and closes the database.
func (r *Repository) Close() error {
	var firstErr error
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			firstErr = err
		}
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	if r.ownLogger {
		if err := r.logger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Root returns the project directory.
func (r *Repository) Root() string {
	return r.root
}

// Config returns the loaded repository configuration.
func (r *Repository) Config() *config.Config {
	return r.cfg
}

// Graph exposes the commit graph for read-only queries.
func (r *Repository) Graph() *graph.Graph {
	return r.graph
}

// Objects exposes the object store for read-only queries.
func (r *Repository) Objects() *object.Store {
	return r.objects
}

// Snapshots exposes the snapshot engine for read-only queries.
func (r *Repository) Snapshots() *snapshot.Engine {
	return r.snaps
}

// ActiveOperation reports the paused operation, if any.
func (r *Repository) ActiveOperation() (opstate.Kind, bool) {
	return r.states.Active()
}

// ExternallyModified reports whether another process has rewritten or
// removed this repository's lock info file since Open. A true result
// means some tool is working around the advisory lock; treat the
// repository state with suspicion.
func (r *Repository) ExternallyModified() bool {
	return r.extChange.Load()
}

// =============================================================================
// Shared internals
// =============================================================================

// rules loads the merge policy from the working tree. Absent file
// means no rules.
func (r *Repository) rules() ([]attr.Rule, error) {
	return attr.Load(r.root, r.logger.Slog())
}

// author renders the configured commit attribution.
func (r *Repository) author() string {
	return r.cfg.Author.String()
}

// headSnapshot returns HEAD and its committed snapshot. On an unborn
// branch the snapshot is empty.
func (r *Repository) headSnapshot(ctx context.Context) (graph.Head, *snapshot.Snapshot, error) {
	head, err := r.graph.ReadHead()
	if err != nil {
		return graph.Head{}, nil, err
	}
	if head.Commit == "" {
		snap, err := r.snaps.Empty(ctx)
		return head, snap, err
	}
	commit, err := r.graph.GetCommit(ctx, head.Commit)
	if err != nil {
		return graph.Head{}, nil, err
	}
	snap, err := r.snaps.Get(ctx, commit.SnapshotID)
	return head, snap, err
}

// workingSnapshot scans the tree and writes its snapshot.
func (r *Repository) workingSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	files, err := r.tree.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return r.snaps.Build(ctx, files)
}

// ensureCleanTree refuses to rewrite a working tree that holds
// uncommitted changes. With force set the check is skipped and the
// operation's final tree sync overwrites those changes.
func (r *Repository) ensureCleanTree(ctx context.Context, force bool) error {
	if force {
		return nil
	}
	_, committed, err := r.headSnapshot(ctx)
	if err != nil {
		return err
	}
	working, err := r.workingSnapshot(ctx)
	if err != nil {
		return err
	}
	if working.ID != committed.ID {
		return fmt.Errorf("%w: commit or stash local changes first", ErrDirtyWorkingTree)
	}
	return nil
}

// restoreTree makes the working tree match a target snapshot.
func (r *Repository) restoreTree(ctx context.Context, target *snapshot.Snapshot) error {
	current, err := r.workingSnapshot(ctx)
	if err != nil {
		return err
	}
	cs := checkout.Plan(current, target)
	if cs.Empty() {
		return nil
	}
	report, err := r.tree.Apply(ctx, cs, r.objects)
	if err != nil {
		return err
	}
	return r.planner.RecordApply(cs, report)
}

// restoreTreeToHead makes the working tree match the committed HEAD
// snapshot.
func (r *Repository) restoreTreeToHead(ctx context.Context) error {
	_, snap, err := r.headSnapshot(ctx)
	if err != nil {
		return err
	}
	return r.restoreTree(ctx, snap)
}
