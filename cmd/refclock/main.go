// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/spf13/pflag"

	"github.com/relabs-tech/mocap_bridge/internal/app"
	"github.com/relabs-tech/mocap_bridge/internal/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "mocap_config.txt", "path to the KEY=VALUE config file")
	pflag.Parse()

	log.Println("starting mocap-bridge reference clock (NMEA to MQTT)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunRefClock(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
