// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/relabs-tech/mocap_bridge/internal/monitoring"
)

// ErrFileOpen is returned when neither the requested dump path nor the
// fallback path can be created.
var ErrFileOpen = errors.New("cannot open dump file")

// DefaultDumpFile is used when the requested dump path cannot be opened.
const DefaultDumpFile = "mocap_dump.txt"

// WriteSamples writes one space-separated line per sample:
//
//	time ttl x y z            (point)
//	time ttl x y z qw qx qy qz (rigid)
func WriteSamples(w io.Writer, samples []Sample) error {
	bw := bufio.NewWriter(w)
	for _, s := range samples {
		ttl := 0
		if s.TTL {
			ttl = 1
		}
		if _, err := fmt.Fprintf(bw, "%.12f %d %.12f %.12f %.12f", s.Time, ttl, s.X, s.Y, s.Z); err != nil {
			return err
		}
		if s.HasRot {
			if _, err := fmt.Fprintf(bw, " %.12f %.12f %.12f %.12f", s.Rot[0], s.Rot[1], s.Rot[2], s.Rot[3]); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Dump writes samples to path, falling back to DefaultDumpFile in the
// working directory when path cannot be created. It returns the path
// actually written.
func Dump(path string, samples []Sample) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		monitoring.Logf("tracker: cannot open dump file %q: %v, falling back to %s", path, err, DefaultDumpFile)
		path = DefaultDumpFile
		f, err = os.Create(path)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrFileOpen, path, err)
		}
	}

	if err := WriteSamples(f, samples); err != nil {
		f.Close()
		return path, fmt.Errorf("write dump %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("close dump %s: %w", path, err)
	}
	return path, nil
}
