// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/calibration"
	"github.com/relabs-tech/mocap_bridge/internal/command"
	"github.com/relabs-tech/mocap_bridge/internal/config"
	"github.com/relabs-tech/mocap_bridge/internal/layout"
	"github.com/relabs-tech/mocap_bridge/internal/session"
	"github.com/relabs-tech/mocap_bridge/internal/transform"
	"github.com/relabs-tech/mocap_bridge/internal/ttl"
)

// PoseMessage is the JSON payload published for one tracker.
type PoseMessage struct {
	Tracker int     `json:"tracker"`
	Time    float64 `json:"time"`
	transform.Pose
}

// newProcessor builds a session over b from the configuration and applies
// the session-level settings.
func newProcessor(cfg *config.Config, b backend.Backend) (*command.Processor, error) {
	engine := calibration.NewEngine(b)
	engine.TargetSamples = cfg.CalibrationTargetSamples
	engine.MaxTrials = cfg.CalibrationMaxTrials

	scfg := session.Config{
		Backend:       b,
		Calibration:   engine,
		RecordReserve: time.Duration(cfg.RecordReserveSeconds) * time.Second,
	}
	if cfg.TTLGPIOPin != "" {
		line, err := ttl.Open(cfg.TTLGPIOPin)
		if err != nil {
			return nil, err
		}
		scfg.TTL = line
		log.Printf("bridge: sampling TTL on %s", cfg.TTLGPIOPin)
	}

	proc := command.NewProcessor(session.New(scfg))
	if err := proc.SetAddress(cfg.BackendAddress); err != nil {
		return nil, err
	}
	if err := proc.SetFrequency(cfg.BackendFrequency); err != nil {
		return nil, err
	}
	if err := proc.SetFlags(cfg.BackendFlags); err != nil {
		return nil, err
	}
	return proc, nil
}

// startLayout configures the trackers of the layout file and starts the
// session.
func startLayout(ctx context.Context, proc *command.Processor, l *layout.Layout) error {
	if err := l.Apply(ctx, proc); err != nil {
		return err
	}
	if err := proc.Execute(ctx, command.Command{Code: command.CodeStart}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	for _, c := range l.PostStart() {
		if err := proc.Execute(ctx, c); err != nil {
			log.Printf("bridge: post-start %s on tracker %d failed: %v", c.Code, c.Tracker, err)
		}
	}
	return nil
}

// collectPoses returns a message for every tracker with a valid pose.
func collectPoses(s *session.Session) []PoseMessage {
	now := s.Clock().Now()
	var out []PoseMessage
	for _, id := range s.TrackerIDs() {
		pose, ok := s.Pose(id)
		if !ok {
			continue
		}
		out = append(out, PoseMessage{Tracker: id, Time: now, Pose: pose})
	}
	return out
}
