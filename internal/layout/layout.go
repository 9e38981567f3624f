// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package layout loads a YAML tracker layout and replays it as commands.
package layout

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/mocap_bridge/internal/command"
)

// Layout describes the trackers a bridge configures before start.
type Layout struct {
	// Scale and Offset, when set, hold three values each.
	Scale    []float64 `yaml:"scale,omitempty"`
	Offset   []float64 `yaml:"offset,omitempty"`
	Trackers []Tracker `yaml:"trackers"`
}

// Tracker is one tracker entry of a layout.
type Tracker struct {
	ID      int    `yaml:"id"`
	Kind    string `yaml:"kind"` // "point" or "rigid"
	Markers []int  `yaml:"markers"`
	// Record starts recording right after the session starts.
	Record bool `yaml:"record,omitempty"`
}

// Load reads a layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML layout.
func Parse(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	return &l, nil
}

// Commands returns the commands that configure the layout's trackers. They
// are issued before start.
func (l *Layout) Commands() ([]command.Command, error) {
	var cmds []command.Command
	for _, t := range l.Trackers {
		cmds = append(cmds, command.Command{Tracker: t.ID, Code: command.CodeCreate})
		for _, m := range t.Markers {
			cmds = append(cmds, command.Command{Tracker: t.ID, Code: command.CodeAddMarker, Args: []float64{float64(m)}})
		}
		switch t.Kind {
		case "point":
			cmds = append(cmds, command.Command{Tracker: t.ID, Code: command.CodeSetPoint})
		case "rigid":
			cmds = append(cmds, command.Command{Tracker: t.ID, Code: command.CodeSetRigid})
		default:
			return nil, fmt.Errorf("tracker %d: unknown kind %q", t.ID, t.Kind)
		}
	}
	if l.Scale != nil {
		cmds = append(cmds, command.Command{Code: command.CodeSetScale, Args: l.Scale})
	}
	if l.Offset != nil {
		cmds = append(cmds, command.Command{Code: command.CodeSetOffset, Args: l.Offset})
	}
	return cmds, nil
}

// PostStart returns the commands issued once the session is running.
func (l *Layout) PostStart() []command.Command {
	var cmds []command.Command
	for _, t := range l.Trackers {
		if t.Record {
			cmds = append(cmds, command.Command{Tracker: t.ID, Code: command.CodeRecordBegin})
		}
	}
	return cmds
}

// Executor runs commands. *command.Processor implements it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) error
}

// Apply configures every tracker of the layout. It stops at the first
// rejected command.
func (l *Layout) Apply(ctx context.Context, ex Executor) error {
	cmds, err := l.Commands()
	if err != nil {
		return err
	}
	for _, c := range cmds {
		if err := ex.Execute(ctx, c); err != nil {
			return fmt.Errorf("layout: %w", err)
		}
	}
	return nil
}
