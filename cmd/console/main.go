// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/mocap_bridge/internal/app"
)

func main() {
	log.Println("starting mocap-bridge (synthetic console)")

	if err := app.RunConsole(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
