// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"fmt"
)

// Registry is the ordered set of trackers plus the process-wide marker
// ownership table. It is not safe for concurrent use; structural changes
// happen before the session starts, and the session freezes the registry.
type Registry struct {
	trackers []*Tracker
	owners   map[int]int // marker id -> tracker id
	frozen   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[int]int)}
}

// Create adds a tracker with the given id.
func (r *Registry) Create(id int) (*Tracker, error) {
	if r.frozen {
		return nil, fmt.Errorf("create tracker %d: %w", id, ErrAlreadyStarted)
	}
	if _, ok := r.Get(id); ok {
		return nil, fmt.Errorf("create tracker %d: %w", id, ErrTrackerExists)
	}
	t := New(id)
	r.trackers = append(r.trackers, t)
	return t, nil
}

// Get returns the tracker with the given id.
func (r *Registry) Get(id int) (*Tracker, bool) {
	for _, t := range r.trackers {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Trackers returns the trackers in creation order.
func (r *Registry) Trackers() []*Tracker {
	return r.trackers
}

// Owner returns the id of the tracker owning markerID.
func (r *Registry) Owner(markerID int) (int, bool) {
	id, ok := r.owners[markerID]
	return id, ok
}

// AddMarker appends markerID to the tracker's marker set.
func (r *Registry) AddMarker(trackerID, markerID int) error {
	t, ok := r.Get(trackerID)
	if !ok {
		return fmt.Errorf("add marker %d: tracker %d: %w", markerID, trackerID, ErrUnknownTracker)
	}
	if err := t.checkMutable(); err != nil {
		return fmt.Errorf("add marker %d: %w", markerID, err)
	}
	if markerID < 0 || markerID >= MaxMarkerID {
		return fmt.Errorf("add marker %d to tracker %d: valid range is [0, %d): %w", markerID, trackerID, MaxMarkerID, ErrMarkerRange)
	}
	if owner, taken := r.owners[markerID]; taken {
		return fmt.Errorf("add marker %d to tracker %d: owned by tracker %d: %w", markerID, trackerID, owner, ErrDuplicateMarker)
	}

	r.owners[markerID] = trackerID
	t.MarkerIDs = append(t.MarkerIDs, markerID)
	t.Geometry = nil
	if t.State == StateCreated {
		t.State = StateConfigured
	}
	return nil
}

// SetKind fixes the tracker kind and moves it to PendingInit. Selecting
// Rigid with fewer than MinRigidMarkers markers leaves the tracker untouched.
func (r *Registry) SetKind(trackerID int, k Kind) error {
	t, ok := r.Get(trackerID)
	if !ok {
		return fmt.Errorf("set kind %s: tracker %d: %w", k, trackerID, ErrUnknownTracker)
	}
	if err := t.checkMutable(); err != nil {
		return fmt.Errorf("set kind %s: %w", k, err)
	}
	switch k {
	case KindRigid:
		if len(t.MarkerIDs) < MinRigidMarkers {
			return fmt.Errorf("tracker %d has %d markers: %w", trackerID, len(t.MarkerIDs), ErrInsufficientMarkers)
		}
	case KindPoint:
	default:
		return fmt.Errorf("tracker %d: unsupported kind %s", trackerID, k)
	}
	if t.Kind != k {
		t.Geometry = nil
	}
	t.Kind = k
	t.State = StatePendingInit
	return nil
}

// Freeze rejects further tracker creation. Called when the session starts.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Unfreeze allows tracker creation again after a start was rolled back.
func (r *Registry) Unfreeze() {
	r.frozen = false
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// MarkerCount returns the number of markers across all trackers.
func (r *Registry) MarkerCount() int {
	return len(r.owners)
}

// RigidCount returns the number of rigid trackers.
func (r *Registry) RigidCount() int {
	n := 0
	for _, t := range r.trackers {
		if t.Kind == KindRigid {
			n++
		}
	}
	return n
}
