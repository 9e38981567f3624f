// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build linux

package session

import "golang.org/x/sys/unix"

// raisePriority gives the calling OS thread the highest nice priority.
// It needs CAP_SYS_NICE; callers log the failure and keep running.
func raisePriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), -20)
}
