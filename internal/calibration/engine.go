// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration derives rigid-body marker geometry by averaging live
// marker positions.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
	"github.com/relabs-tech/mocap_bridge/internal/tracker"
)

// ErrCalibrationFailed is returned when a marker did not yield enough
// confident samples within the trial budget.
var ErrCalibrationFailed = errors.New("calibration failed")

const (
	DefaultTargetSamples = 100
	DefaultMaxTrials     = 2000

	// TempTrackerBase offsets temporary backend handles away from tracker ids.
	TempTrackerBase = 1 << 20
)

// Engine averages marker positions of a rigid tracker into its geometry.
type Engine struct {
	Backend backend.Backend

	// TargetSamples is the number of confident samples collected per marker.
	TargetSamples int
	// MaxTrials bounds the snapshots polled per marker.
	MaxTrials int
	// Interval is the pause between trials; zero polls back to back.
	Interval time.Duration
	// SnapshotCapacity is the number of markers other enabled backend
	// trackers may report alongside the temporary tracker's own.
	SnapshotCapacity int
}

// NewEngine returns an engine with the default budgets.
func NewEngine(b backend.Backend) *Engine {
	return &Engine{Backend: b, TargetSamples: DefaultTargetSamples, MaxTrials: DefaultMaxTrials}
}

// Calibrate returns the offsets of every marker of t relative to the mean
// position of its first marker. t must be a rigid tracker pending init and
// the backend session must be connected. No geometry is returned on failure.
func (e *Engine) Calibrate(ctx context.Context, t *tracker.Tracker) (geometry []r3.Vec, err error) {
	if t.Kind != tracker.KindRigid || t.State != tracker.StatePendingInit {
		return nil, fmt.Errorf("calibration: tracker %d is %s/%s, want rigid/pending-init", t.ID, t.Kind, t.State)
	}
	if len(t.MarkerIDs) < tracker.MinRigidMarkers {
		return nil, fmt.Errorf("calibration: tracker %d: %w", t.ID, tracker.ErrInsufficientMarkers)
	}
	target, trials := e.TargetSamples, e.MaxTrials
	if target <= 0 {
		target = DefaultTargetSamples
	}
	if trials <= 0 {
		trials = DefaultMaxTrials
	}

	handle := TempTrackerBase + t.ID
	if err := e.Backend.CreatePointTracker(handle, t.MarkerIDs); err != nil {
		return nil, fmt.Errorf("calibration: tracker %d: create temporary tracker: %w", t.ID, err)
	}
	defer func() {
		if derr := e.Backend.EnableTracker(handle, false); derr != nil {
			monitoring.Logf("calibration: tracker %d: disable temporary tracker: %v", t.ID, derr)
		}
		if derr := e.Backend.DestroyTracker(handle); derr != nil {
			monitoring.Logf("calibration: tracker %d: destroy temporary tracker: %v", t.ID, derr)
		}
	}()
	if err := e.Backend.EnableTracker(handle, true); err != nil {
		return nil, fmt.Errorf("calibration: tracker %d: enable temporary tracker: %w", t.ID, err)
	}
	if err := e.Backend.SetStreaming(true); err != nil {
		return nil, fmt.Errorf("calibration: tracker %d: enable streaming: %w", t.ID, err)
	}

	buf := make([]backend.Marker, max(e.SnapshotCapacity, 0)+len(t.MarkerIDs))
	means := make([]r3.Vec, len(t.MarkerIDs))
	for i, id := range t.MarkerIDs {
		sum, accepted, used, err := e.collect(ctx, buf, id, target, trials)
		if err != nil {
			return nil, fmt.Errorf("calibration: tracker %d marker %d: %w", t.ID, id, err)
		}
		if accepted < target {
			monitoring.Logf("calibration: tracker %d marker %d: %d/%d confident samples after %d trials", t.ID, id, accepted, target, used)
			return nil, fmt.Errorf("tracker %d marker %d: %d/%d samples in %d trials: %w", t.ID, id, accepted, target, used, ErrCalibrationFailed)
		}
		n := float64(accepted)
		means[i] = r3.Vec{X: sum.X / n, Y: sum.Y / n, Z: sum.Z / n}
	}

	geometry = make([]r3.Vec, len(means))
	for i := 1; i < len(means); i++ {
		geometry[i] = r3.Sub(means[i], means[0])
	}
	monitoring.Logf("calibration: tracker %d: geometry %v", t.ID, geometry)
	return geometry, nil
}

// collect polls a fresh snapshot per trial and sums the confident positions
// of marker id until target samples are accepted or trials run out.
func (e *Engine) collect(ctx context.Context, buf []backend.Marker, id, target, trials int) (sum r3.Vec, accepted, used int, err error) {
	for used < trials && accepted < target {
		if err := ctx.Err(); err != nil {
			return sum, accepted, used, err
		}
		used++

		clear(buf)
		n := e.Backend.Markers(buf)
		for _, m := range buf[:min(max(n, 0), len(buf))] {
			if m.ID == id && m.Cond > backend.ConfidenceThreshold {
				sum = r3.Add(sum, r3.Vec{X: m.X, Y: m.Y, Z: m.Z})
				accepted++
				break
			}
		}

		if e.Interval > 0 {
			timer := time.NewTimer(e.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sum, accepted, used, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return sum, accepted, used, nil
}
