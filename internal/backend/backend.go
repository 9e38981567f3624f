// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package backend describes the motion-capture backend capability the bridge
// drives, and provides a synthetic implementation.
package backend

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrBackendUnavailable is returned when a session cannot be opened, for
// example because another primary session already owns the server.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Session flags. Bits outside KnownFlags are ignored.
const (
	FlagSubordinate = 1 << iota
	FlagPostProcess
	FlagMode1
	FlagMode2
	FlagMode3
	FlagMode4

	KnownFlags = FlagSubordinate | FlagPostProcess | FlagMode1 | FlagMode2 | FlagMode3 | FlagMode4
)

// ConfidenceThreshold is the confidence a marker or rigid reading must
// exceed to be trusted.
const ConfidenceThreshold = 0.1

// MaxFrequency is the highest sample frequency the backend accepts, in Hz.
const MaxFrequency = 960.0

// Marker is one marker in a snapshot.
type Marker struct {
	ID   int     `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Cond float64 `json:"cond"` // confidence; <= 0 means not seen
}

// Rigid is one rigid-body pose in a snapshot. Pose holds x, y, z, qw, qx, qy, qz.
type Rigid struct {
	ID   int        `json:"id"`
	Pose [7]float64 `json:"pose"`
	Cond float64    `json:"cond"`
}

// Options configures a backend session.
type Options struct {
	Address   string
	Frequency float64
	Flags     int
}

// Backend is the session capability of a motion-capture server. Snapshot
// calls fill the caller's buffer and return how many entries are new; a
// count <= 0 means nothing new. Implementations must return from every call
// in bounded time.
type Backend interface {
	Connect(opts Options) error
	Disconnect() error

	CreatePointTracker(id int, markerIDs []int) error
	CreateRigidTracker(id int, markerIDs []int, geometry []r3.Vec) error
	EnableTracker(id int, enabled bool) error
	DestroyTracker(id int) error

	SetStreaming(enabled bool) error

	Markers(buf []Marker) int
	Rigids(buf []Rigid) int
}
