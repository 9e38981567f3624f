// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package command

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
	"github.com/relabs-tech/mocap_bridge/internal/session"
	"github.com/relabs-tech/mocap_bridge/internal/tracker"
)

// Processor dispatches commands against a session one call at a time.
// Every rejection is logged with its cause and returned.
type Processor struct {
	mu      sync.Mutex
	session *session.Session
}

// NewProcessor returns a processor bound to s.
func NewProcessor(s *session.Session) *Processor {
	return &Processor{session: s}
}

// Session returns the bound session.
func (p *Processor) Session() *session.Session {
	return p.session
}

func (p *Processor) reject(what string, err error) error {
	if err != nil {
		monitoring.Logf("command: %s rejected: %v", what, err)
	}
	return err
}

// SetAddress sets the backend address. Rejected after start.
func (p *Processor) SetAddress(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reject("set address", p.session.SetAddress(addr))
}

// SetFrequency sets the sample frequency. Rejected after start or out of range.
func (p *Processor) SetFrequency(hz float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reject("set frequency", p.session.SetFrequency(hz))
}

// SetFlags sets the session flag bitmask. Rejected after start.
func (p *Processor) SetFlags(flags int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reject("set flags", p.session.SetFlags(flags))
}

// Close tears the session down. It is idempotent.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Close()
}

// Execute runs one per-tracker command.
func (p *Processor) Execute(ctx context.Context, cmd Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reject(fmt.Sprintf("tracker %d %s", cmd.Tracker, cmd.Code), p.execute(ctx, cmd))
}

func (p *Processor) execute(ctx context.Context, cmd Command) error {
	s := p.session
	id := cmd.Tracker

	switch cmd.Code {
	case CodeDebug:
		desc, err := s.Describe(id)
		if err != nil {
			return err
		}
		scale, offset := s.Transform()
		monitoring.Logf("command: %s scale=%v offset=%v settings=%+v started=%t streaming=%t",
			desc, scale, offset, s.Settings(), s.Started(), s.Streaming())
		return nil

	case CodeSetScale, CodeSetOffset:
		v, err := cmd.floats(3)
		if err != nil {
			return err
		}
		vec := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		if cmd.Code == CodeSetScale {
			s.SetScale(vec)
		} else {
			s.SetOffset(vec)
		}
		return nil

	case CodeOriginReset:
		return s.RequestOriginReset(id)

	case CodeCreate:
		return s.Configure(func(r *tracker.Registry) error {
			_, err := r.Create(id)
			return err
		})

	case CodeAddMarker:
		marker, err := cmd.integer()
		if err != nil {
			return err
		}
		return s.Configure(func(r *tracker.Registry) error {
			return r.AddMarker(id, marker)
		})

	case CodeSetRigid, CodeSetPoint:
		kind := tracker.KindPoint
		if cmd.Code == CodeSetRigid {
			kind = tracker.KindRigid
		}
		return s.Configure(func(r *tracker.Registry) error {
			return r.SetKind(id, kind)
		})

	case CodeStart:
		if err := s.Start(ctx); err != nil {
			return err
		}
		monitoring.Logf("command: session started by tracker %d", id)
		return nil

	case CodeRecordBegin:
		return s.BeginRecording(id)

	case CodeRecordStop:
		return s.StopRecording(id)

	case CodeRecordDump:
		_, err := s.DumpRecording(id, cmd.Path)
		return err

	case CodeRecordClear:
		return s.ClearRecording(id)

	case CodeSyncClock:
		v, err := cmd.floats(1)
		if err != nil {
			return err
		}
		s.SyncClock(v[0])
		return nil

	default:
		return fmt.Errorf("%w: %d", ErrUnknownCode, int(cmd.Code))
	}
}
