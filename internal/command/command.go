// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package command implements the synchronous command surface that configures
// trackers and drives the session lifecycle.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrArgs is returned when a command carries the wrong arguments.
var ErrArgs = errors.New("bad command arguments")

// ErrUnknownCode is returned for codes the processor does not handle.
var ErrUnknownCode = errors.New("unknown command code")

// Code identifies a per-tracker command.
type Code int

const (
	CodeDebug       Code = 0
	CodeSetScale    Code = 1
	CodeSetOffset   Code = 2
	CodeOriginReset Code = 3
	CodeCreate      Code = 5
	CodeAddMarker   Code = 10
	CodeSetRigid    Code = 11
	CodeSetPoint    Code = 12
	CodeStart       Code = 20
	CodeRecordBegin Code = 30
	CodeRecordStop  Code = 31
	CodeRecordDump  Code = 32
	CodeRecordClear Code = 33
	CodeSyncClock   Code = 40
)

var codeNames = map[Code]string{
	CodeDebug:       "debug",
	CodeSetScale:    "set-scale",
	CodeSetOffset:   "set-offset",
	CodeOriginReset: "origin-reset",
	CodeCreate:      "create",
	CodeAddMarker:   "add-marker",
	CodeSetRigid:    "set-rigid",
	CodeSetPoint:    "set-point",
	CodeStart:       "start",
	CodeRecordBegin: "record-begin",
	CodeRecordStop:  "record-stop",
	CodeRecordDump:  "record-dump",
	CodeRecordClear: "record-clear",
	CodeSyncClock:   "sync-clock",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Command is one per-tracker command as issued by the host.
type Command struct {
	Tracker int       `json:"tracker"`
	Code    Code      `json:"code"`
	Args    []float64 `json:"args,omitempty"`
	Path    string    `json:"path,omitempty"`
}

// Decode parses a JSON command.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

func (c Command) floats(n int) ([]float64, error) {
	if len(c.Args) != n {
		return nil, fmt.Errorf("%s wants %d values, got %d: %w", c.Code, n, len(c.Args), ErrArgs)
	}
	return c.Args, nil
}

func (c Command) integer() (int, error) {
	v, err := c.floats(1)
	if err != nil {
		return 0, err
	}
	if v[0] != math.Trunc(v[0]) || math.IsInf(v[0], 0) {
		return 0, fmt.Errorf("%s wants an integer, got %g: %w", c.Code, v[0], ErrArgs)
	}
	return int(v[0]), nil
}
