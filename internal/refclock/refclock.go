// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package refclock reads a GNSS receiver's NMEA stream and turns it into
// reference timestamps for the bridge clock.
package refclock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
)

// Reference is one time fix from the receiver.
type Reference struct {
	Time     time.Time `json:"time"`
	Source   string    `json:"source"` // sentence type, e.g. "RMC"
	Received time.Time `json:"received"`
}

// Seconds returns the reference as Unix seconds, corrected for the time
// elapsed since the sentence was read.
func (r Reference) Seconds(now time.Time) float64 {
	return float64(r.Time.UnixNano())/1e9 + now.Sub(r.Received).Seconds()
}

// Parse extracts a UTC time from an RMC or ZDA sentence. It reports false for
// other sentences, void fixes and sentences without a full date and time.
func Parse(line string) (time.Time, string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return time.Time{}, "", false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return time.Time{}, "", false
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC || !m.Date.Valid || !m.Time.Valid {
			return time.Time{}, "", false
		}
		return utc(2000+m.Date.YY, m.Date.MM, m.Date.DD, m.Time), nmea.TypeRMC, true
	case nmea.TypeZDA:
		m := sentence.(nmea.ZDA)
		if !m.Time.Valid || m.Year == 0 {
			return time.Time{}, "", false
		}
		return utc(int(m.Year), int(m.Month), int(m.Day), m.Time), nmea.TypeZDA, true
	default:
		return time.Time{}, "", false
	}
}

func utc(year, month, day int, t nmea.Time) time.Time {
	return time.Date(year, time.Month(month), day,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

// Open opens the receiver's serial port.
func Open(portName string, baud int) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	monitoring.Logf("refclock: serial port opened on %s at %d baud", portName, baud)
	return port, nil
}

// Run reads sentences from r until ctx is done or the stream ends, calling
// fn for every usable time fix. r is closed when ctx is cancelled.
func Run(ctx context.Context, r io.ReadCloser, fn func(Reference)) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if t, source, ok := Parse(line); ok {
				fn(Reference{Time: t, Source: source, Received: time.Now()})
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("refclock read: %w", err)
		}
	}
}
