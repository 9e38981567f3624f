// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

// Sample is one recorded pose, already in the consumer convention.
// When HasRot is set, Rot holds the consumer quaternion as (qx, qy, qz, qw);
// the dump writes it in that order into the qw qx qy qz columns.
type Sample struct {
	Time   float64
	TTL    bool
	X      float64
	Y      float64
	Z      float64
	HasRot bool
	Rot    [4]float64
}

// Recording is the append-only sample log of one tracker.
type Recording struct {
	Enabled bool
	Samples []Sample
}

// Begin drops any buffered samples, reserves room for capacity samples and
// enables recording.
func (r *Recording) Begin(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	r.Samples = make([]Sample, 0, capacity)
	r.Enabled = true
}

// Stop disables recording and keeps the buffered samples.
func (r *Recording) Stop() {
	r.Enabled = false
}

// Clear empties the buffer without touching Enabled.
func (r *Recording) Clear() {
	r.Samples = make([]Sample, 0, cap(r.Samples))
}

// Append adds s when recording is enabled.
func (r *Recording) Append(s Sample) {
	if r.Enabled {
		r.Samples = append(r.Samples, s)
	}
}

// Copy returns the buffered samples in a fresh slice.
func (r *Recording) Copy() []Sample {
	return append([]Sample(nil), r.Samples...)
}
