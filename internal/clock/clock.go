// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package clock provides the monotonic elapsed-time source used to timestamp samples.
package clock

import (
	"math"
	"sync/atomic"
	"time"
)

// Clock reports seconds elapsed since construction, shifted by an optional
// offset set through Sync. It is safe for concurrent use.
type Clock struct {
	start  time.Time
	since  func(time.Time) time.Duration
	offset atomic.Uint64 // float64 bits
}

// New returns a Clock whose zero is the moment of the call.
func New() *Clock {
	return &Clock{start: time.Now(), since: time.Since}
}

// NewWithSource returns a Clock that measures elapsed time with since.
// Tests use it to drive time by hand.
func NewWithSource(start time.Time, since func(time.Time) time.Duration) *Clock {
	return &Clock{start: start, since: since}
}

// Elapsed returns raw seconds since construction, ignoring the sync offset.
func (c *Clock) Elapsed() float64 {
	return c.since(c.start).Seconds()
}

// Now returns the current timestamp in seconds, including the sync offset.
func (c *Clock) Now() float64 {
	return c.Elapsed() + c.Offset()
}

// Offset returns the offset applied by the last Sync.
func (c *Clock) Offset() float64 {
	return math.Float64frombits(c.offset.Load())
}

// Sync shifts the clock so that Now returns ref at the moment of the call
// and advances monotonically from there.
func (c *Clock) Sync(ref float64) {
	c.offset.Store(math.Float64bits(ref - c.Elapsed()))
}
