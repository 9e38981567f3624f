// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ttl samples the external sync line stamped on every recorded sample.
package ttl

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Line is a GPIO input read once per acquisition iteration.
type Line struct {
	pin gpio.PinIn
}

// New wraps an already configured input pin.
func New(pin gpio.PinIn) *Line {
	return &Line{pin: pin}
}

// Open initialises periph and configures the named pin as a pulled-down input.
func Open(name string) (*Line, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("ttl: unknown GPIO pin %q", name)
	}
	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("ttl: configure %s: %w", name, err)
	}
	return New(pin), nil
}

// Level reports whether the line is high.
func (l *Line) Level() bool {
	return l.pin.Read() == gpio.High
}
