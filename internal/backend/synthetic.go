// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package backend

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	primaryMu sync.Mutex
	primaries = map[string]bool{}
)

type syntheticTracker struct {
	markerIDs []int
	geometry  []r3.Vec
	rigid     bool
	enabled   bool
}

// Synthetic is an in-process backend serving fixed or animated marker data.
// It backs the console demo and the package tests.
type Synthetic struct {
	mu sync.Mutex

	// ConnectErr, when set, makes Connect fail with ErrBackendUnavailable.
	ConnectErr error

	opts      Options
	connected bool
	streaming bool
	trackers  map[int]*syntheticTracker

	markers map[int]Marker
	rigids  map[int]Rigid

	animated bool
	start    time.Time

	markerCalls int
	rigidCalls  int
}

// NewSynthetic returns a backend with no markers.
func NewSynthetic() *Synthetic {
	return &Synthetic{
		trackers: make(map[int]*syntheticTracker),
		markers:  make(map[int]Marker),
		rigids:   make(map[int]Rigid),
	}
}

// NewAnimatedSynthetic returns a backend with count markers laid out on a
// small circle that drift smoothly over time.
func NewAnimatedSynthetic(count int) *Synthetic {
	s := NewSynthetic()
	s.animated = true
	s.start = time.Now()
	for i := 0; i < count; i++ {
		a := 2 * math.Pi * float64(i) / float64(count)
		s.markers[i] = Marker{ID: i, X: 0.1 * math.Cos(a), Y: 1.0, Z: 0.1 * math.Sin(a), Cond: 1}
	}
	return s
}

// SetMarker fixes the reported state of one marker.
func (s *Synthetic) SetMarker(m Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[m.ID] = m
}

// SetRigid fixes the reported pose of one rigid tracker. Without it, rigid
// poses are derived from the tracker's first marker.
func (s *Synthetic) SetRigid(r Rigid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rigids[r.ID] = r
}

// Connect opens the session. Only one primary session per address may run.
func (s *Synthetic) Connect(opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConnectErr != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, s.ConnectErr)
	}
	if s.connected {
		return fmt.Errorf("%w: already connected", ErrBackendUnavailable)
	}
	if opts.Flags&FlagSubordinate == 0 {
		primaryMu.Lock()
		taken := primaries[opts.Address]
		if !taken {
			primaries[opts.Address] = true
		}
		primaryMu.Unlock()
		if taken {
			return fmt.Errorf("%w: primary session already running on %q", ErrBackendUnavailable, opts.Address)
		}
	}
	s.opts = opts
	s.connected = true
	return nil
}

// Disconnect closes the session and drops all trackers.
func (s *Synthetic) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	if s.opts.Flags&FlagSubordinate == 0 {
		primaryMu.Lock()
		delete(primaries, s.opts.Address)
		primaryMu.Unlock()
	}
	s.connected = false
	s.streaming = false
	s.trackers = make(map[int]*syntheticTracker)
	return nil
}

func (s *Synthetic) createLocked(id int, t *syntheticTracker) error {
	if !s.connected {
		return fmt.Errorf("create tracker %d: not connected", id)
	}
	if _, ok := s.trackers[id]; ok {
		return fmt.Errorf("create tracker %d: handle in use", id)
	}
	s.trackers[id] = t
	return nil
}

// CreatePointTracker registers a point-style tracker over markerIDs.
func (s *Synthetic) CreatePointTracker(id int, markerIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(id, &syntheticTracker{markerIDs: append([]int(nil), markerIDs...)})
}

// CreateRigidTracker registers a rigid tracker with its marker geometry.
func (s *Synthetic) CreateRigidTracker(id int, markerIDs []int, geometry []r3.Vec) error {
	if len(markerIDs) != len(geometry) {
		return fmt.Errorf("create rigid %d: %d markers, %d offsets", id, len(markerIDs), len(geometry))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(id, &syntheticTracker{
		markerIDs: append([]int(nil), markerIDs...),
		geometry:  append([]r3.Vec(nil), geometry...),
		rigid:     true,
	})
}

// EnableTracker switches reporting for one tracker.
func (s *Synthetic) EnableTracker(id int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	if !ok {
		return fmt.Errorf("enable tracker %d: unknown handle", id)
	}
	t.enabled = enabled
	return nil
}

// DestroyTracker drops one tracker.
func (s *Synthetic) DestroyTracker(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trackers[id]; !ok {
		return fmt.Errorf("destroy tracker %d: unknown handle", id)
	}
	delete(s.trackers, id)
	return nil
}

// SetStreaming turns snapshot delivery on or off.
func (s *Synthetic) SetStreaming(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("streaming: not connected")
	}
	s.streaming = enabled
	return nil
}

// Streaming reports whether snapshot delivery is on.
func (s *Synthetic) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// TrackerCount returns the number of live tracker handles.
func (s *Synthetic) TrackerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}

// Calls returns how many marker and rigid snapshots were requested.
func (s *Synthetic) Calls() (markers, rigids int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markerCalls, s.rigidCalls
}

// motion mirrors the smooth sine drift of the orientation mock source.
func (s *Synthetic) motion() (r3.Vec, float64) {
	if !s.animated {
		return r3.Vec{}, 0
	}
	elapsed := time.Since(s.start).Seconds()
	d := r3.Vec{X: 0.2 * math.Sin(elapsed), Y: 0.1 * math.Cos(elapsed*0.7), Z: 0}
	yaw := math.Mod(elapsed*30, 360) * math.Pi / 180
	return d, yaw
}

func (s *Synthetic) markerLocked(id int, d r3.Vec) (Marker, bool) {
	m, ok := s.markers[id]
	if !ok {
		return Marker{}, false
	}
	m.X += d.X
	m.Y += d.Y
	m.Z += d.Z
	return m, true
}

// Markers reports every marker of every enabled tracker, ordered by id.
func (s *Synthetic) Markers(buf []Marker) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markerCalls++
	if !s.connected || !s.streaming {
		return 0
	}
	d, _ := s.motion()

	var ids []int
	for _, t := range s.trackers {
		if t.enabled {
			ids = append(ids, t.markerIDs...)
		}
	}
	sort.Ints(ids)

	n := 0
	for _, id := range ids {
		if n == len(buf) {
			break
		}
		if m, ok := s.markerLocked(id, d); ok {
			buf[n] = m
			n++
		}
	}
	return n
}

// Rigids reports every enabled rigid tracker, ordered by id.
func (s *Synthetic) Rigids(buf []Rigid) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rigidCalls++
	if !s.connected || !s.streaming {
		return 0
	}
	d, yaw := s.motion()

	var ids []int
	for id, t := range s.trackers {
		if t.enabled && t.rigid {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	n := 0
	for _, id := range ids {
		if n == len(buf) {
			break
		}
		if r, ok := s.rigids[id]; ok {
			buf[n] = r
			n++
			continue
		}
		first, ok := s.markerLocked(s.trackers[id].markerIDs[0], d)
		if !ok {
			continue
		}
		buf[n] = Rigid{
			ID:   id,
			Pose: [7]float64{first.X, first.Y, first.Z, math.Cos(yaw / 2), 0, math.Sin(yaw / 2), 0},
			Cond: first.Cond,
		}
		n++
	}
	return n
}
