// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session owns the backend connection, the tracker registry and the
// acquisition loop that keeps every tracker's last good pose fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/calibration"
	"github.com/relabs-tech/mocap_bridge/internal/clock"
	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
	"github.com/relabs-tech/mocap_bridge/internal/tracker"
	"github.com/relabs-tech/mocap_bridge/internal/transform"
)

var (
	ErrAlreadyStarted = tracker.ErrAlreadyStarted
	ErrClosed         = errors.New("session closed")
	ErrNoAddress      = errors.New("backend address not set")
	ErrFrequency      = fmt.Errorf("frequency must be in (0, %g]", backend.MaxFrequency)
)

const (
	DefaultFrequency     = backend.MaxFrequency
	DefaultRecordReserve = 60 * time.Second
)

// TTLSource reports the level of an external sync line.
type TTLSource interface {
	Level() bool
}

// Config wires a Session to its collaborators.
type Config struct {
	Backend backend.Backend

	// Clock timestamps samples; nil uses a clock started by New.
	Clock *clock.Clock
	// Calibration calibrates rigid trackers; nil uses the default budgets.
	Calibration *calibration.Engine
	// TTL, when set, is sampled once per acquisition iteration.
	TTL TTLSource
	// RecordReserve is the recording duration pre-allocated by BeginRecording.
	RecordReserve time.Duration
}

// Settings are the session-level parameters fixed at start.
type Settings struct {
	Address   string
	Frequency float64
	Flags     int
}

// Session is the single owned context shared by the command processor and
// the acquisition loop. One mutex guards every mutable tracker field, the
// global scale/offset and the pending origin reset.
//
// Start and Close must not run concurrently with each other or with
// structural commands; command.Processor serialises them.
type Session struct {
	mu sync.Mutex

	backend  backend.Backend
	registry *tracker.Registry
	clock    *clock.Clock
	engine   *calibration.Engine
	ttl      TTLSource
	reserve  time.Duration

	settings Settings

	scale         r3.Vec
	offset        r3.Vec
	originPending bool
	originID      int

	started   bool
	streaming bool
	closed    bool

	markers []backend.Marker
	rigids  []backend.Rigid

	shutdown  atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New returns an unstarted session with an empty registry.
func New(cfg Config) *Session {
	s := &Session{
		backend:  cfg.Backend,
		registry: tracker.NewRegistry(),
		clock:    cfg.Clock,
		engine:   cfg.Calibration,
		ttl:      cfg.TTL,
		reserve:  cfg.RecordReserve,
		settings: Settings{Frequency: DefaultFrequency},
		scale:    r3.Vec{X: 1, Y: 1, Z: 1},
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.engine == nil {
		s.engine = calibration.NewEngine(cfg.Backend)
	}
	if s.reserve <= 0 {
		s.reserve = DefaultRecordReserve
	}
	return s
}

// locked runs fn inside the shared critical section.
func (s *Session) locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Clock returns the session clock.
func (s *Session) Clock() *clock.Clock {
	return s.clock
}

// Started reports whether Start succeeded.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Streaming reports whether the backend is streaming for the acquisition loop.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Settings returns the session-level parameters.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) checkConfigurable(what string) error {
	if s.closed {
		return fmt.Errorf("%s: %w", what, ErrClosed)
	}
	if s.started {
		return fmt.Errorf("%s: session: %w", what, ErrAlreadyStarted)
	}
	return nil
}

// SetAddress sets the backend address. Rejected after start.
func (s *Session) SetAddress(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConfigurable("set address"); err != nil {
		return err
	}
	s.settings.Address = addr
	return nil
}

// SetFrequency sets the requested sample frequency in Hz, in (0, 960].
func (s *Session) SetFrequency(hz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConfigurable("set frequency"); err != nil {
		return err
	}
	if !(hz > 0 && hz <= backend.MaxFrequency) {
		return fmt.Errorf("set frequency %g: %w", hz, ErrFrequency)
	}
	s.settings.Frequency = hz
	return nil
}

// SetFlags sets the session flag bitmask. Unknown bits are logged and dropped.
func (s *Session) SetFlags(flags int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConfigurable("set flags"); err != nil {
		return err
	}
	if unknown := flags &^ backend.KnownFlags; unknown != 0 {
		monitoring.Logf("session: ignoring unknown flag bits 0x%x", unknown)
	}
	s.settings.Flags = flags & backend.KnownFlags
	return nil
}

// Configure runs a structural change against the registry inside the
// critical section. Tracker state validation happens in the registry.
func (s *Session) Configure(fn func(*tracker.Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.registry)
}

// Start connects to the backend, calibrates and creates every configured
// tracker, enables streaming and spawns the acquisition loop. A tracker that
// cannot be started stays inert; only a backend failure aborts Start.
func (s *Session) Start(ctx context.Context) error {
	if err := s.bringUp(ctx); err != nil {
		return err
	}
	s.done = make(chan struct{})
	go s.run()
	return nil
}

func (s *Session) bringUp(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkConfigurable("start"); err != nil {
		s.mu.Unlock()
		return err
	}
	settings := s.settings
	s.mu.Unlock()

	if settings.Address == "" {
		return fmt.Errorf("start: %w", ErrNoAddress)
	}
	opts := backend.Options{Address: settings.Address, Frequency: settings.Frequency, Flags: settings.Flags}
	if err := s.backend.Connect(opts); err != nil {
		monitoring.Logf("session: connect %s failed: %v", settings.Address, err)
		return fmt.Errorf("start: connect %s: %w", settings.Address, err)
	}

	s.locked(func() {
		s.started = true
		s.registry.Freeze()
		s.markers = make([]backend.Marker, s.registry.MarkerCount())
		s.rigids = make([]backend.Rigid, s.registry.RigidCount())
		s.engine.SnapshotCapacity = s.registry.MarkerCount()
	})
	monitoring.Logf("session: connected to %s at %g Hz (flags 0x%x), %d markers, %d rigids",
		settings.Address, settings.Frequency, settings.Flags, len(s.markers), len(s.rigids))

	for _, t := range s.registry.Trackers() {
		if err := s.initTracker(ctx, t); err != nil {
			monitoring.Logf("session: tracker %d stays inert: %v", t.ID, err)
		}
	}

	if err := s.backend.SetStreaming(true); err != nil {
		monitoring.Logf("session: enable streaming failed: %v", err)
		s.teardownBackend()
		s.locked(s.rearm)
		return fmt.Errorf("start: enable streaming: %w: %v", backend.ErrBackendUnavailable, err)
	}
	s.locked(func() { s.streaming = true })
	return nil
}

func (s *Session) initTracker(ctx context.Context, t *tracker.Tracker) error {
	switch {
	case t.State != tracker.StatePendingInit:
		return fmt.Errorf("cannot initialise from state %s", t.State)
	case len(t.MarkerIDs) == 0:
		monitoring.Logf("session: WARNING: tracker %d has no markers, skipping", t.ID)
		return nil
	}

	switch t.Kind {
	case tracker.KindRigid:
		geometry, err := s.engine.Calibrate(ctx, t)
		if err != nil {
			return err
		}
		var gerr error
		s.locked(func() { gerr = t.SetGeometry(geometry) })
		if gerr != nil {
			return gerr
		}
		if err := s.backend.CreateRigidTracker(t.ID, t.MarkerIDs, geometry); err != nil {
			return fmt.Errorf("create rigid tracker: %w", err)
		}
	case tracker.KindPoint:
		if err := s.backend.CreatePointTracker(t.ID, t.MarkerIDs); err != nil {
			return fmt.Errorf("create point tracker: %w", err)
		}
	}

	if err := s.backend.EnableTracker(t.ID, true); err != nil {
		if derr := s.backend.DestroyTracker(t.ID); derr != nil {
			monitoring.Logf("session: tracker %d: destroy after failed enable: %v", t.ID, derr)
		}
		return fmt.Errorf("enable tracker: %w", err)
	}

	var err error
	s.locked(func() { err = t.MarkStarted() })
	if err != nil {
		return err
	}
	monitoring.Logf("session: tracker %d started (%s, markers %v)", t.ID, t.Kind, t.MarkerIDs)
	return nil
}

// rearm undoes a failed start so a retry initialises every tracker again.
// Callers hold s.mu.
func (s *Session) rearm() {
	for _, t := range s.registry.Trackers() {
		t.Rearm()
	}
	s.registry.Unfreeze()
	s.markers = nil
	s.rigids = nil
	s.started = false
}

// Close stops the acquisition loop, destroys every backend tracker and
// releases session buffers. It is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.closed = true
		s.mu.Unlock()

		if started {
			if s.done != nil {
				s.shutdown.Store(true)
				<-s.done
			}
			err = s.teardownBackend()
		}

		s.locked(func() {
			for _, t := range s.registry.Trackers() {
				t.Release()
			}
			s.markers = nil
			s.rigids = nil
			s.started = false
			s.streaming = false
			s.originPending = false
		})
		monitoring.Logf("session: closed")
	})
	return err
}

func (s *Session) teardownBackend() error {
	var errs []error
	for _, t := range s.registry.Trackers() {
		var started bool
		s.locked(func() { started = t.State == tracker.StateStarted })
		if !started {
			continue
		}
		if err := s.backend.EnableTracker(t.ID, false); err != nil {
			errs = append(errs, fmt.Errorf("disable tracker %d: %w", t.ID, err))
		}
		if err := s.backend.DestroyTracker(t.ID); err != nil {
			errs = append(errs, fmt.Errorf("destroy tracker %d: %w", t.ID, err))
		}
		s.locked(t.MarkStopped)
	}
	if err := s.backend.SetStreaming(false); err != nil {
		errs = append(errs, fmt.Errorf("disable streaming: %w", err))
	}
	if err := s.backend.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	for _, err := range errs {
		monitoring.Logf("session: teardown: %v", err)
	}
	return errors.Join(errs...)
}

func (s *Session) lookup(id int) (*tracker.Tracker, error) {
	t, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("tracker %d: %w", id, tracker.ErrUnknownTracker)
	}
	return t, nil
}

// Pose returns the transformed last good pose of a tracker and whether it
// has ever been valid.
func (s *Session) Pose(id int) (transform.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.registry.Get(id)
	if !ok || !t.Valid() {
		return transform.Pose{}, false
	}
	return t.Pose(s.scale, s.offset), true
}

// Describe returns a one-line dump of a tracker's configuration and state.
func (s *Session) Describe(id int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	return t.String(), nil
}

// TrackerIDs returns the ids of all trackers in creation order.
func (s *Session) TrackerIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for _, t := range s.registry.Trackers() {
		ids = append(ids, t.ID)
	}
	return ids
}

// SetScale sets the per-axis output scale, effective from the next iteration.
func (s *Session) SetScale(v r3.Vec) {
	s.locked(func() { s.scale = v })
}

// SetOffset sets the per-axis output offset, effective from the next iteration.
func (s *Session) SetOffset(v r3.Vec) {
	s.locked(func() { s.offset = v })
}

// Transform returns the current global scale and offset.
func (s *Session) Transform() (scale, offset r3.Vec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale, s.offset
}

// RequestOriginReset marks tracker id as the next one whose pose zeroes the
// global offset. The request is consumed by one acquisition iteration.
func (s *Session) RequestOriginReset(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(id); err != nil {
		return err
	}
	s.originPending = true
	s.originID = id
	return nil
}

// OriginResetPending reports whether an origin reset request is waiting.
func (s *Session) OriginResetPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.originPending
}

// BeginRecording clears the tracker's buffer, reserves room for the
// configured recording duration and enables recording.
func (s *Session) BeginRecording(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.Recording.Begin(int(s.settings.Frequency * s.reserve.Seconds()))
	return nil
}

// StopRecording disables recording and keeps buffered samples.
func (s *Session) StopRecording(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.Recording.Stop()
	return nil
}

// ClearRecording empties the buffer without changing whether recording is on.
func (s *Session) ClearRecording(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.Recording.Clear()
	return nil
}

// Samples returns a copy of a tracker's buffered samples.
func (s *Session) Samples(id int) ([]tracker.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.Recording.Copy(), nil
}

// DumpRecording writes a tracker's buffered samples to path and returns the
// path actually written. The file is written outside the critical section.
func (s *Session) DumpRecording(id int, path string) (string, error) {
	samples, err := s.Samples(id)
	if err != nil {
		return "", err
	}
	written, err := tracker.Dump(path, samples)
	if err != nil {
		return written, err
	}
	monitoring.Logf("session: tracker %d: dumped %d samples to %s", id, len(samples), written)
	return written, nil
}

// SyncClock aligns sample timestamps to an external reference time in seconds.
func (s *Session) SyncClock(ref float64) {
	s.clock.Sync(ref)
	monitoring.Logf("session: clock synchronised to %.6f", ref)
}
