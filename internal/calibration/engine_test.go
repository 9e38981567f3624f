// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
	"github.com/relabs-tech/mocap_bridge/internal/tracker"
)

func init() {
	monitoring.SetLogger(nil)
}

func rigidTracker(t *testing.T, markers ...int) *tracker.Tracker {
	t.Helper()
	r := tracker.NewRegistry()
	tr, err := r.Create(1)
	require.NoError(t, err)
	for _, m := range markers {
		require.NoError(t, r.AddMarker(1, m))
	}
	require.NoError(t, r.SetKind(1, tracker.KindRigid))
	return tr
}

func connected(t *testing.T, markers ...backend.Marker) *backend.Synthetic {
	t.Helper()
	s := backend.NewSynthetic()
	for _, m := range markers {
		s.SetMarker(m)
	}
	require.NoError(t, s.Connect(backend.Options{Address: t.Name()}))
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func TestCalibrate_FixedInput(t *testing.T) {
	positions := map[int]r3.Vec{
		4: {X: 1.5, Y: 2.25, Z: -0.5},
		7: {X: 2.5, Y: 2.25, Z: -0.5},
		9: {X: 1.5, Y: 3.75, Z: 0.125},
		2: {X: -3, Y: 0, Z: 8},
	}
	var markers []backend.Marker
	for id, p := range positions {
		markers = append(markers, backend.Marker{ID: id, X: p.X, Y: p.Y, Z: p.Z, Cond: 1})
	}
	s := connected(t, markers...)
	tr := rigidTracker(t, 4, 7, 9, 2)

	geometry, err := NewEngine(s).Calibrate(context.Background(), tr)
	require.NoError(t, err)
	require.Len(t, geometry, 4)

	assert.Equal(t, r3.Vec{}, geometry[0])
	first := positions[4]
	for i, id := range tr.MarkerIDs {
		assert.Equal(t, r3.Sub(positions[id], first), geometry[i], "marker %d", id)
	}
	assert.Zero(t, s.TrackerCount(), "temporary tracker must be destroyed")
	assert.True(t, s.Streaming())
}

func TestCalibrate_SharesSnapshotWithEnabledTrackers(t *testing.T) {
	s := connected(t,
		backend.Marker{ID: 0, X: 5, Cond: 1},
		backend.Marker{ID: 1, Cond: 1},
		backend.Marker{ID: 2, X: 1, Cond: 1},
		backend.Marker{ID: 3, Y: 1, Cond: 1},
	)
	require.NoError(t, s.CreatePointTracker(7, []int{0}))
	require.NoError(t, s.EnableTracker(7, true))
	tr := rigidTracker(t, 1, 2, 3)

	e := NewEngine(s)
	e.SnapshotCapacity = 4
	geometry, err := e.Calibrate(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{}, {X: 1}, {Y: 1}}, geometry)
	assert.Equal(t, 1, s.TrackerCount(), "only the temporary tracker is destroyed")
}

func TestCalibrate_NoConfidentSamples(t *testing.T) {
	s := connected(t,
		backend.Marker{ID: 1, X: 1, Cond: 0.1},
		backend.Marker{ID: 2, X: 2, Cond: 0.05},
		backend.Marker{ID: 3, X: 3, Cond: 0},
	)
	tr := rigidTracker(t, 1, 2, 3)

	e := NewEngine(s)
	e.MaxTrials = 50
	geometry, err := e.Calibrate(context.Background(), tr)
	assert.ErrorIs(t, err, ErrCalibrationFailed)
	assert.Nil(t, geometry)
	assert.Nil(t, tr.Geometry)

	calls, _ := s.Calls()
	assert.Equal(t, 50, calls, "aborts on the first exhausted marker")
	assert.Zero(t, s.TrackerCount())
}

func TestCalibrate_LaterMarkerMissing(t *testing.T) {
	s := connected(t,
		backend.Marker{ID: 1, X: 1, Cond: 1},
		backend.Marker{ID: 2, X: 2, Cond: 1},
	)
	tr := rigidTracker(t, 1, 2, 3)

	e := NewEngine(s)
	e.TargetSamples = 10
	e.MaxTrials = 20
	_, err := e.Calibrate(context.Background(), tr)
	assert.ErrorIs(t, err, ErrCalibrationFailed)

	calls, _ := s.Calls()
	assert.Equal(t, 10+10+20, calls)
	assert.Zero(t, s.TrackerCount())
}

func TestCalibrate_Rejects(t *testing.T) {
	s := connected(t)

	t.Run("point tracker", func(t *testing.T) {
		r := tracker.NewRegistry()
		tr, _ := r.Create(1)
		require.NoError(t, r.AddMarker(1, 1))
		require.NoError(t, r.SetKind(1, tracker.KindPoint))
		_, err := NewEngine(s).Calibrate(context.Background(), tr)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s.SetMarker(backend.Marker{ID: 1, Cond: 1})
		tr := rigidTracker(t, 1, 2, 3)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewEngine(s).Calibrate(ctx, tr)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, s.TrackerCount())
	})
}
