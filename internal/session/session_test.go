// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/clock"
	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
	"github.com/relabs-tech/mocap_bridge/internal/tracker"
	"github.com/relabs-tech/mocap_bridge/internal/transform"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeTTL bool

func (f fakeTTL) Level() bool { return bool(f) }

func fixedClock(elapsed time.Duration) *clock.Clock {
	return clock.NewWithSource(time.Unix(0, 0), func(time.Time) time.Duration { return elapsed })
}

func newSession(t *testing.T, b backend.Backend) *Session {
	t.Helper()
	s := New(Config{Backend: b, Clock: fixedClock(time.Second), TTL: fakeTTL(true), RecordReserve: time.Second})
	require.NoError(t, s.SetAddress(t.Name()))
	t.Cleanup(func() { s.Close() })
	return s
}

func addTracker(t *testing.T, s *Session, id int, kind tracker.Kind, markers ...int) {
	t.Helper()
	require.NoError(t, s.Configure(func(r *tracker.Registry) error {
		if _, err := r.Create(id); err != nil {
			return err
		}
		for _, m := range markers {
			if err := r.AddMarker(id, m); err != nil {
				return err
			}
		}
		return r.SetKind(id, kind)
	}))
}

func rigidBackend() *backend.Synthetic {
	b := backend.NewSynthetic()
	b.SetMarker(backend.Marker{ID: 1, X: 0, Y: 0, Z: 0, Cond: 1})
	b.SetMarker(backend.Marker{ID: 2, X: 1, Y: 0, Z: 0, Cond: 1})
	b.SetMarker(backend.Marker{ID: 3, X: 0, Y: 1, Z: 0, Cond: 1})
	return b
}

func trackerOf(t *testing.T, s *Session, id int) *tracker.Tracker {
	t.Helper()
	tr, ok := s.registry.Get(id)
	require.True(t, ok)
	return tr
}

func TestSession_EndToEndPoint(t *testing.T) {
	b := backend.NewSynthetic()
	b.SetMarker(backend.Marker{ID: 5, X: 1, Y: 2, Z: 3, Cond: 1})
	s := newSession(t, b)
	addTracker(t, s, 1, tracker.KindPoint, 5)

	require.NoError(t, s.bringUp(context.Background()))
	assert.True(t, s.Started())
	assert.True(t, s.Streaming())

	_, valid := s.Pose(1)
	assert.False(t, valid, "no confident sample yet")

	require.True(t, s.step())
	pose, valid := s.Pose(1)
	require.True(t, valid)
	assert.Equal(t, transform.Pose{X: -1, Y: 2, Z: 3, QW: 1}, pose)
}

func TestSession_PoseStaleness(t *testing.T) {
	b := rigidBackend()
	s := newSession(t, b)
	addTracker(t, s, 1, tracker.KindRigid, 1, 2, 3)
	require.NoError(t, s.bringUp(context.Background()))

	good := [7]float64{0.5, 0.25, -1, 1, 0, 0, 0}
	b.SetRigid(backend.Rigid{ID: 1, Pose: good, Cond: 1})
	require.True(t, s.step())
	before, valid := s.Pose(1)
	require.True(t, valid)

	b.SetRigid(backend.Rigid{ID: 1, Pose: [7]float64{9, 9, 9, 0, 1, 0, 0}, Cond: 0.05})
	for i := 0; i < 10; i++ {
		require.True(t, s.step())
	}

	after, valid := s.Pose(1)
	assert.True(t, valid)
	assert.Equal(t, before, after)
	tr := trackerOf(t, s, 1)
	assert.Equal(t, transform.Raw(good), tr.LastGoodPose)
	assert.Equal(t, 1, tr.SampleCount)
}

func TestSession_OriginResetIsOneShot(t *testing.T) {
	b := rigidBackend()
	s := newSession(t, b)
	addTracker(t, s, 1, tracker.KindRigid, 1, 2, 3)
	require.NoError(t, s.bringUp(context.Background()))

	b.SetRigid(backend.Rigid{ID: 1, Pose: [7]float64{2, 3, 4, 1, 0, 0, 0}, Cond: 1})
	require.NoError(t, s.RequestOriginReset(1))
	assert.True(t, s.OriginResetPending())

	require.True(t, s.step())
	assert.False(t, s.OriginResetPending())
	pose, valid := s.Pose(1)
	require.True(t, valid)
	assert.Zero(t, pose.X)
	assert.Zero(t, pose.Y)
	assert.Zero(t, pose.Z)
	_, offset := s.Transform()
	assert.Equal(t, r3.Vec{X: -2, Y: -3, Z: -4}, offset)

	b.SetRigid(backend.Rigid{ID: 1, Pose: [7]float64{3, 3, 4, 1, 0, 0, 0}, Cond: 1})
	require.True(t, s.step())
	pose, _ = s.Pose(1)
	assert.Equal(t, -1.0, pose.X, "second iteration must not reset again")
	_, offset = s.Transform()
	assert.Equal(t, r3.Vec{X: -2, Y: -3, Z: -4}, offset)
}

func TestSession_OriginResetTargetsOneTracker(t *testing.T) {
	b := backend.NewSynthetic()
	b.SetMarker(backend.Marker{ID: 1, X: 1, Y: 1, Z: 1, Cond: 1})
	b.SetMarker(backend.Marker{ID: 2, X: 5, Y: 6, Z: 7, Cond: 1})
	s := newSession(t, b)
	addTracker(t, s, 1, tracker.KindPoint, 1)
	addTracker(t, s, 2, tracker.KindPoint, 2)
	require.NoError(t, s.bringUp(context.Background()))

	require.NoError(t, s.RequestOriginReset(2))
	require.True(t, s.step())

	p2, _ := s.Pose(2)
	assert.Zero(t, p2.X)
	assert.Zero(t, p2.Y)
	assert.Zero(t, p2.Z)
	p1, _ := s.Pose(1)
	assert.Equal(t, 4.0, p1.X)
	assert.Equal(t, -5.0, p1.Y)
	assert.Equal(t, -6.0, p1.Z)

	assert.ErrorIs(t, s.RequestOriginReset(9), tracker.ErrUnknownTracker)
}

func TestSession_ScaleObservedNextIteration(t *testing.T) {
	b := backend.NewSynthetic()
	b.SetMarker(backend.Marker{ID: 5, X: 1, Y: 2, Z: 3, Cond: 1})
	s := newSession(t, b)
	addTracker(t, s, 1, tracker.KindPoint, 5)
	require.NoError(t, s.bringUp(context.Background()))
	require.NoError(t, s.BeginRecording(1))

	s.SetScale(r3.Vec{X: 2, Y: 2, Z: 2})
	s.SetOffset(r3.Vec{X: 1})
	require.True(t, s.step())

	samples, err := s.Samples(1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, tracker.Sample{Time: 1, TTL: true, X: -4, Y: 4, Z: 6}, samples[0])
}

func TestSession_Recording(t *testing.T) {
	b := rigidBackend()
	s := newSession(t, b)
	addTracker(t, s, 1, tracker.KindRigid, 1, 2, 3)
	require.NoError(t, s.SetFrequency(100))
	require.NoError(t, s.bringUp(context.Background()))

	require.NoError(t, s.BeginRecording(1))
	assert.Equal(t, 100, cap(trackerOf(t, s, 1).Recording.Samples))

	b.SetRigid(backend.Rigid{ID: 1, Pose: [7]float64{1, 2, 3, 1, 0, 0, 0}, Cond: 1})
	require.True(t, s.step())
	b.SetRigid(backend.Rigid{ID: 1, Pose: [7]float64{1, 2, 3, 0.5, 0.25, 0.125, 0.0625}, Cond: 0})
	require.True(t, s.step())

	samples, err := s.Samples(1)
	require.NoError(t, err)
	require.Len(t, samples, 2, "unconfident readings are still recorded")
	assert.Equal(t, tracker.Sample{Time: 1, TTL: true, X: -1, Y: 2, Z: 3, HasRot: true, Rot: [4]float64{0, 0, 0, -1}}, samples[0])
	assert.Equal(t, [4]float64{-0.25, 0.125, 0.0625, -0.5}, samples[1].Rot, "stored as consumer qx qy qz qw")

	require.NoError(t, s.StopRecording(1))
	require.True(t, s.step())
	samples, _ = s.Samples(1)
	assert.Len(t, samples, 2)

	path := filepath.Join(t.TempDir(), "rigid.txt")
	written, err := s.DumpRecording(1, path)
	require.NoError(t, err)
	assert.Equal(t, path, written)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, strings.Fields(lines[0]), 9)

	require.NoError(t, s.ClearRecording(1))
	samples, _ = s.Samples(1)
	assert.Empty(t, samples)
}

func TestSession_TrackerFailuresStayLocal(t *testing.T) {
	b := backend.NewSynthetic()
	b.SetMarker(backend.Marker{ID: 1, Cond: 0.05})
	b.SetMarker(backend.Marker{ID: 2, Cond: 0.05})
	b.SetMarker(backend.Marker{ID: 3, Cond: 0.05})
	b.SetMarker(backend.Marker{ID: 8, X: 1, Y: 1, Z: 1, Cond: 1})

	s := New(Config{Backend: b, Clock: fixedClock(0)})
	s.engine.MaxTrials = 20
	require.NoError(t, s.SetAddress(t.Name()))
	t.Cleanup(func() { s.Close() })

	addTracker(t, s, 1, tracker.KindRigid, 1, 2, 3)
	addTracker(t, s, 2, tracker.KindPoint)
	addTracker(t, s, 3, tracker.KindPoint, 8)
	require.NoError(t, s.Configure(func(r *tracker.Registry) error {
		_, err := r.Create(4)
		return err
	}))

	require.NoError(t, s.bringUp(context.Background()))

	rigid := trackerOf(t, s, 1)
	assert.Equal(t, tracker.StatePendingInit, rigid.State)
	assert.Nil(t, rigid.Geometry)
	assert.Equal(t, tracker.StatePendingInit, trackerOf(t, s, 2).State)
	assert.Equal(t, tracker.StateCreated, trackerOf(t, s, 4).State)
	assert.Equal(t, tracker.StateStarted, trackerOf(t, s, 3).State)
	assert.Equal(t, 1, b.TrackerCount(), "only the point tracker lives on the backend")

	require.True(t, s.step())
	_, valid := s.Pose(1)
	assert.False(t, valid)
	_, valid = s.Pose(2)
	assert.False(t, valid)
	_, valid = s.Pose(3)
	assert.True(t, valid)
}

func TestSession_StartFailures(t *testing.T) {
	t.Run("no address", func(t *testing.T) {
		s := New(Config{Backend: backend.NewSynthetic()})
		assert.ErrorIs(t, s.Start(context.Background()), ErrNoAddress)
		assert.False(t, s.Started())
	})

	t.Run("backend unavailable", func(t *testing.T) {
		b := backend.NewSynthetic()
		b.ConnectErr = errors.New("primary already running")
		s := newSession(t, b)
		addTracker(t, s, 1, tracker.KindPoint, 1)

		err := s.Start(context.Background())
		assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
		assert.False(t, s.Started())
		assert.False(t, s.registry.Frozen())

		b.ConnectErr = nil
		require.NoError(t, s.bringUp(context.Background()), "retry succeeds")
	})

	t.Run("start twice", func(t *testing.T) {
		s := newSession(t, backend.NewSynthetic())
		require.NoError(t, s.bringUp(context.Background()))
		assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	})
}

func TestSession_RigidCalibratesAfterEarlierTracker(t *testing.T) {
	b := rigidBackend()
	b.SetMarker(backend.Marker{ID: 0, X: 5, Cond: 1})
	s := newSession(t, b)
	addTracker(t, s, 1, tracker.KindPoint, 0)
	addTracker(t, s, 2, tracker.KindRigid, 1, 2, 3)

	require.NoError(t, s.bringUp(context.Background()))
	rigid := trackerOf(t, s, 2)
	assert.Equal(t, tracker.StateStarted, rigid.State)
	assert.Equal(t, []r3.Vec{{}, {X: 1}, {Y: 1}}, rigid.Geometry)
	assert.Equal(t, tracker.StateStarted, trackerOf(t, s, 1).State)
}

// flakyStreaming fails the failAt-th call enabling streaming.
type flakyStreaming struct {
	*backend.Synthetic
	failAt int
	calls  int
}

func (f *flakyStreaming) SetStreaming(enabled bool) error {
	if enabled {
		f.calls++
		if f.calls == f.failAt {
			return errors.New("stream refused")
		}
	}
	return f.Synthetic.SetStreaming(enabled)
}

func TestSession_RetryAfterStreamingFailure(t *testing.T) {
	b := rigidBackend()
	b.SetMarker(backend.Marker{ID: 5, X: 1, Y: 2, Z: 3, Cond: 1})
	flaky := &flakyStreaming{Synthetic: b, failAt: 2}
	s := newSession(t, flaky)
	addTracker(t, s, 1, tracker.KindRigid, 1, 2, 3)
	addTracker(t, s, 2, tracker.KindPoint, 5)

	err := s.bringUp(context.Background())
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.False(t, s.Started())
	assert.False(t, s.registry.Frozen())
	assert.Zero(t, b.TrackerCount())
	assert.Equal(t, tracker.StatePendingInit, trackerOf(t, s, 1).State)
	assert.Nil(t, trackerOf(t, s, 1).Geometry)
	assert.Equal(t, tracker.StatePendingInit, trackerOf(t, s, 2).State)

	require.NoError(t, s.bringUp(context.Background()), "retry is a fresh start")
	assert.Equal(t, tracker.StateStarted, trackerOf(t, s, 1).State)
	assert.Equal(t, tracker.StateStarted, trackerOf(t, s, 2).State)

	b.SetRigid(backend.Rigid{ID: 1, Pose: [7]float64{0, 0, 0, 1, 0, 0, 0}, Cond: 1})
	require.True(t, s.step())
	_, valid := s.Pose(1)
	assert.True(t, valid)
	_, valid = s.Pose(2)
	assert.True(t, valid)
}

func TestSession_SettingsRejectedAfterStart(t *testing.T) {
	s := newSession(t, backend.NewSynthetic())

	assert.ErrorIs(t, s.SetFrequency(0), ErrFrequency)
	assert.ErrorIs(t, s.SetFrequency(961), ErrFrequency)
	require.NoError(t, s.SetFrequency(960))
	require.NoError(t, s.SetFlags(backend.FlagPostProcess|1<<12))
	assert.Equal(t, backend.FlagPostProcess, s.Settings().Flags)

	require.NoError(t, s.bringUp(context.Background()))
	before := s.Settings()
	assert.ErrorIs(t, s.SetAddress("elsewhere"), ErrAlreadyStarted)
	assert.ErrorIs(t, s.SetFrequency(100), ErrAlreadyStarted)
	assert.ErrorIs(t, s.SetFlags(backend.FlagMode1), ErrAlreadyStarted)
	assert.Equal(t, before, s.Settings())

	err := s.Configure(func(r *tracker.Registry) error {
		_, err := r.Create(7)
		return err
	})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSession_RunAndClose(t *testing.T) {
	b := backend.NewSynthetic()
	b.SetMarker(backend.Marker{ID: 5, X: 1, Y: 2, Z: 3, Cond: 1})
	s := New(Config{Backend: b})
	require.NoError(t, s.SetAddress(t.Name()))
	addTracker(t, s, 1, tracker.KindPoint, 5)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, valid := s.Pose(1)
		return valid
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, s.Started())
	assert.False(t, b.Streaming())
	assert.Zero(t, b.TrackerCount())
	assert.Equal(t, tracker.StateStopped, trackerOf(t, s, 1).State)
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.SetAddress("x"), ErrClosed)

	markers, _ := b.Calls()
	time.Sleep(5 * time.Millisecond)
	after, _ := b.Calls()
	assert.Equal(t, markers, after, "loop must have exited")
}
