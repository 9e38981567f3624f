// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"runtime"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
	"github.com/relabs-tech/mocap_bridge/internal/tracker"
	"github.com/relabs-tech/mocap_bridge/internal/transform"
)

// run is the acquisition loop. It polls back to back without sleeping and
// exits once the shutdown flag is observed.
func (s *Session) run() {
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := raisePriority(); err != nil {
		monitoring.Logf("session: cannot raise acquisition priority: %v", err)
	}

	monitoring.Logf("session: acquisition loop running")
	for !s.shutdown.Load() {
		s.step()
	}
	monitoring.Logf("session: acquisition loop stopped")
}

// step runs one acquisition iteration and reports whether the backend
// delivered anything. All trackers are updated from the same snapshot pair
// inside one critical section.
func (s *Session) step() bool {
	nm := min(s.backend.Markers(s.markers), len(s.markers))
	nr := min(s.backend.Rigids(s.rigids), len(s.rigids))
	if nm <= 0 && nr <= 0 {
		return false
	}
	markers := s.markers[:max(nm, 0)]
	rigids := s.rigids[:max(nr, 0)]

	now := s.clock.Now()
	ttl := s.ttl != nil && s.ttl.Level()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.registry.Trackers() {
		if t.State != tracker.StateStarted {
			continue
		}
		switch t.Kind {
		case tracker.KindRigid:
			r, ok := findRigid(rigids, t.ID)
			if !ok {
				continue
			}
			s.update(t, transform.Raw(r.Pose), r.Cond, now, ttl)
		case tracker.KindPoint:
			m, ok := findMarker(markers, t.MarkerIDs[0])
			if !ok {
				continue
			}
			raw := t.LastGoodPose
			raw[0], raw[1], raw[2] = m.X, m.Y, m.Z
			s.update(t, raw, m.Cond, now, ttl)
		}
	}
	return true
}

// update applies one reading to t. Callers hold s.mu.
func (s *Session) update(t *tracker.Tracker, raw transform.Raw, cond, now float64, ttl bool) {
	rigid := t.Kind == tracker.KindRigid

	if s.originPending && s.originID == t.ID {
		s.offset = r3.Scale(-1, raw.Position())
		s.originPending = false
		monitoring.Logf("session: tracker %d: origin reset, offset %v", t.ID, s.offset)
	}

	if t.Recording.Enabled {
		p := transform.Apply(raw, rigid, s.scale, s.offset)
		sample := tracker.Sample{Time: now, TTL: ttl, X: p.X, Y: p.Y, Z: p.Z}
		if rigid {
			sample.HasRot = true
			sample.Rot = [4]float64{p.QX, p.QY, p.QZ, p.QW}
		}
		t.Recording.Append(sample)
	}

	// Unconfident readings keep the previous pose.
	if cond > backend.ConfidenceThreshold {
		t.LastGoodPose = raw
		t.SampleCount++
	}
}

func findMarker(markers []backend.Marker, id int) (backend.Marker, bool) {
	for _, m := range markers {
		if m.ID == id {
			return m, true
		}
	}
	return backend.Marker{}, false
}

func findRigid(rigids []backend.Rigid, id int) (backend.Rigid, bool) {
	for _, r := range rigids {
		if r.ID == id {
			return r, true
		}
	}
	return backend.Rigid{}, false
}
