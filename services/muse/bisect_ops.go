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
	"context"

	"github.com/cgcardona/maestro.stori.audio-sub000/services/muse/bisect"
)

// BisectStart opens a bisect session and checks out the first
// candidate.
//
// Description:
//
//	good and bad are refs bounding the regression: good is a commit
//	known to sound right, bad one known to be broken. The controller
//	detaches HEAD at the midpoint candidate; evaluate it and report
//	with BisectMark.
func (r *Repository) BisectStart(ctx context.Context, good, bad string) (*bisect.Status, error) {
	goodID, err := r.graph.ResolveRef(ctx, good)
	if err != nil {
		return nil, err
	}
	badID, err := r.graph.ResolveRef(ctx, bad)
	if err != nil {
		return nil, err
	}
	status, err := r.bisector.Start(ctx, goodID, badID)
	if err != nil {
		return nil, err
	}
	return status, r.syncAfterBisect(ctx, status)
}

// BisectMark reports a verdict for the current candidate and checks
// out the next one.
func (r *Repository) BisectMark(ctx context.Context, verdict bisect.Verdict) (*bisect.Status, error) {
	status, err := r.bisector.Mark(ctx, verdict)
	if err != nil {
		return nil, err
	}
	return status, r.syncAfterBisect(ctx, status)
}

// BisectStatus reports the session without changing it.
func (r *Repository) BisectStatus() (*bisect.Status, error) {
	return r.bisector.Status()
}

// BisectReset ends the session and restores the original checkout.
func (r *Repository) BisectReset(ctx context.Context) error {
	if err := r.bisector.Reset(ctx); err != nil {
		return err
	}
	return r.restoreTreeToHead(ctx)
}

// syncAfterBisect keeps the working tree at the commit HEAD was
// detached to.
func (r *Repository) syncAfterBisect(ctx context.Context, status *bisect.Status) error {
	if status.Done {
		return nil
	}
	return r.restoreTreeToHead(ctx)
}
