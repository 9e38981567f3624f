// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transform maps backend-native poses into the consumer's coordinate
// and quaternion convention.
package transform

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is the canonical consumer-side pose: position plus a quaternion in
// (qx, qy, qz, qw) order.
type Pose struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	QX float64 `json:"qx"`
	QY float64 `json:"qy"`
	QZ float64 `json:"qz"`
	QW float64 `json:"qw"`
}

// Position returns the consumer position for a raw backend position.
// The first axis is mirrored because the backend frame is left-handed
// relative to the consumer's.
//
//	out.x = -scale.x * (x + offset.x)
//	out.y =  scale.y * (y + offset.y)
//	out.z =  scale.z * (z + offset.z)
func Position(raw, scale, offset r3.Vec) r3.Vec {
	return r3.Vec{
		X: -scale.X * (raw.X + offset.X),
		Y: scale.Y * (raw.Y + offset.Y),
		Z: scale.Z * (raw.Z + offset.Z),
	}
}

// Rotation relabels a backend quaternion (w, x, y, z) into the consumer
// convention and returns it as (qx, qy, qz, qw) = (-x, y, z, -w).
func Rotation(q quat.Number) (qx, qy, qz, qw float64) {
	return -q.Imag, q.Jmag, q.Kmag, -q.Real
}

// Raw is a backend pose as stored in a tracker: x, y, z, qw, qx, qy, qz.
type Raw [7]float64

// Position returns the positional part of r.
func (r Raw) Position() r3.Vec {
	return r3.Vec{X: r[0], Y: r[1], Z: r[2]}
}

// Quat returns the rotational part of r.
func (r Raw) Quat() quat.Number {
	return quat.Number{Real: r[3], Imag: r[4], Jmag: r[5], Kmag: r[6]}
}

// Apply transforms a raw pose. Point trackers carry no orientation and get
// the identity quaternion (0, 0, 0, 1).
func Apply(raw Raw, rigid bool, scale, offset r3.Vec) Pose {
	p := Position(raw.Position(), scale, offset)
	out := Pose{X: p.X, Y: p.Y, Z: p.Z, QW: 1}
	if rigid {
		out.QX, out.QY, out.QZ, out.QW = Rotation(raw.Quat())
	}
	return out
}
