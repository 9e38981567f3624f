// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/mocap_bridge/internal/backend"
	"github.com/relabs-tech/mocap_bridge/internal/command"
	"github.com/relabs-tech/mocap_bridge/internal/layout"
	"github.com/relabs-tech/mocap_bridge/internal/session"
)

// demoLayout is one rigid body on markers 0-2 and a point on marker 3.
var demoLayout = layout.Layout{
	Trackers: []layout.Tracker{
		{ID: 1, Kind: "rigid", Markers: []int{0, 1, 2}},
		{ID: 2, Kind: "point", Markers: []int{3}},
	},
}

// RunConsole runs a session against the animated synthetic backend and
// prints poses until interrupted. It needs no broker or config file.
func RunConsole() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := backend.NewAnimatedSynthetic(4)
	proc := command.NewProcessor(session.New(session.Config{Backend: b}))
	defer proc.Close()

	if err := proc.SetAddress("synthetic"); err != nil {
		return err
	}
	if err := startLayout(ctx, proc, &demoLayout); err != nil {
		return err
	}
	log.Println("console: synthetic session started")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("console: shutting down")
			return nil
		case <-ticker.C:
			for _, p := range collectPoses(proc.Session()) {
				fmt.Println(formatPose(p))
			}
		}
	}
}
