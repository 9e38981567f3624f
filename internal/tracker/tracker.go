// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker models logical trackers (single markers or rigid bodies),
// their configuration state machine, and their pose recording buffers.
package tracker

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/mocap_bridge/internal/transform"
)

var (
	ErrDuplicateMarker     = errors.New("marker already assigned")
	ErrMarkerRange         = errors.New("marker id out of range")
	ErrInsufficientMarkers = errors.New("rigid tracker needs at least 3 markers")
	ErrAlreadyStarted      = errors.New("tracker already started")
	ErrUnknownTracker      = errors.New("unknown tracker")
	ErrTrackerExists       = errors.New("tracker already exists")
)

// MaxMarkerID bounds backend marker ids: valid ids are [0, MaxMarkerID).
const MaxMarkerID = 1024

// MinRigidMarkers is the smallest marker set a rigid body can be built from.
const MinRigidMarkers = 3

// Kind selects how a tracker is realised on the backend.
type Kind int

const (
	KindNone Kind = iota
	KindPoint
	KindRigid
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindRigid:
		return "rigid"
	default:
		return "none"
	}
}

// State is the configuration lifecycle of a tracker.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StatePendingInit
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StatePendingInit:
		return "pending-init"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tracker is one logical tracker. ID doubles as the backend tracker handle.
//
// Kind, MarkerIDs and Geometry are structural and only change before the
// tracker is started. SampleCount, LastGoodPose and Recording are written by
// the acquisition loop and must be accessed under the session lock.
type Tracker struct {
	ID        int
	Kind      Kind
	MarkerIDs []int
	Geometry  []r3.Vec
	State     State

	SampleCount  int
	LastGoodPose transform.Raw
	Recording    Recording
}

// New returns a tracker in the Created state.
func New(id int) *Tracker {
	return &Tracker{ID: id, State: StateCreated}
}

func (t *Tracker) checkMutable() error {
	if t.State == StateStarted || t.State == StateStopped {
		return fmt.Errorf("tracker %d (%s): %w", t.ID, t.State, ErrAlreadyStarted)
	}
	return nil
}

// SetGeometry stores the calibrated marker offsets of a rigid tracker.
func (t *Tracker) SetGeometry(g []r3.Vec) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if t.Kind != KindRigid {
		return fmt.Errorf("tracker %d: geometry on %s tracker", t.ID, t.Kind)
	}
	if len(g) != len(t.MarkerIDs) {
		return fmt.Errorf("tracker %d: geometry has %d offsets for %d markers", t.ID, len(g), len(t.MarkerIDs))
	}
	t.Geometry = append([]r3.Vec(nil), g...)
	return nil
}

// MarkStarted moves a PendingInit tracker to Started and resets its
// diagnostics. Rigid trackers must have been calibrated first.
func (t *Tracker) MarkStarted() error {
	if t.State != StatePendingInit {
		return fmt.Errorf("tracker %d: cannot start from %s", t.ID, t.State)
	}
	if len(t.MarkerIDs) == 0 {
		return fmt.Errorf("tracker %d: no markers", t.ID)
	}
	if t.Kind == KindRigid && len(t.Geometry) != len(t.MarkerIDs) {
		return fmt.Errorf("tracker %d: rigid tracker is not calibrated", t.ID)
	}
	t.State = StateStarted
	t.SampleCount = 0
	return nil
}

// MarkStopped moves a Started tracker to Stopped.
func (t *Tracker) MarkStopped() {
	if t.State == StateStarted {
		t.State = StateStopped
	}
}

// Rearm returns a tracker left behind by an aborted start to PendingInit and
// drops its calibration so the next start runs it again.
func (t *Tracker) Rearm() {
	if t.State == StateStarted || t.State == StateStopped {
		t.State = StatePendingInit
	}
	if t.State == StatePendingInit {
		t.Geometry = nil
	}
	t.SampleCount = 0
	t.LastGoodPose = transform.Raw{}
}

// Release drops the session-scoped buffers of t.
func (t *Tracker) Release() {
	t.Geometry = nil
	t.Recording = Recording{}
}

// Valid reports whether t has produced at least one confident pose since it
// was started. Inert trackers never read as valid.
func (t *Tracker) Valid() bool {
	return t.State == StateStarted && t.SampleCount > 0
}

// Pose returns the last good pose transformed with scale and offset.
func (t *Tracker) Pose(scale, offset r3.Vec) transform.Pose {
	return transform.Apply(t.LastGoodPose, t.Kind == KindRigid, scale, offset)
}

func (t *Tracker) String() string {
	return fmt.Sprintf("tracker %d: kind=%s state=%s markers=%v geometry=%v samples=%d recording=%t buffered=%d last=%v",
		t.ID, t.Kind, t.State, t.MarkerIDs, t.Geometry, t.SampleCount,
		t.Recording.Enabled, len(t.Recording.Samples), t.LastGoodPose)
}
