// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"errors"
	"io"
)

const pumpChunkSize = 32 * 1024

// PumpResult reports how far each side of a bidirectional copy got.
// SourceDrained false with SinkDrained true means the child stopped
// accepting input early; the exit code says whether that was failure.
type PumpResult struct {
	SourceDrained bool
	SinkDrained   bool
}

// Pump feeds source to the child's input while concurrently draining the
// child's output to sink. Interleaving the two directions is what prevents
// the classic pipe deadlock where both ends block on a full buffer: the
// output side runs on its own goroutine, the input side on the calling
// goroutine.
//
// The write loop ends early, without error, when the child stops reading
// (broken pipe); partial input is not itself a failure. After the source
// side finishes, the child's input is closed so it can flush its output,
// and the output side is waited out.
func (s *Session) Pump(source io.Reader, sink io.Writer) PumpResult {
	if sink == nil {
		sink = io.Discard
	}
	type sinkOutcome struct {
		drained bool
	}
	sinkDone := make(chan sinkOutcome, 1)

	go func() {
		buf := make([]byte, pumpChunkSize)
		for {
			n, err := s.stdout.Read(buf)
			if n > 0 {
				if _, werr := sink.Write(buf[:n]); werr != nil {
					Logger.Debug("sink write failed", "error", werr)
					sinkDone <- sinkOutcome{drained: false}
					return
				}
			}
			if err != nil {
				// Clean end-of-stream means the child closed its output
				// after flushing; anything else is a torn pipe.
				sinkDone <- sinkOutcome{drained: err == io.EOF || errors.Is(err, io.ErrClosedPipe)}
				return
			}
		}
	}()

	sourceDrained := s.feedInput(source)

	// Closing input lets the child see end-of-input and finish writing.
	_ = s.stdin.Close()
	out := <-sinkDone

	return PumpResult{SourceDrained: sourceDrained, SinkDrained: out.drained}
}

// feedInput copies source to the child's stdin until the source is
// exhausted or the child's input becomes unusable.
func (s *Session) feedInput(source io.Reader) bool {
	if source == nil {
		return true
	}
	buf := make([]byte, pumpChunkSize)
	for {
		n, rerr := source.Read(buf)
		if n > 0 {
			if _, werr := s.stdin.Write(buf[:n]); werr != nil {
				// The child exited or closed stdin; its exit code carries
				// the verdict, a partial write is not an error here.
				Logger.Debug("child input closed early", "error", werr)
				return false
			}
		}
		if rerr == io.EOF {
			return true
		}
		if rerr != nil {
			Logger.Debug("source read failed", "error", rerr)
			return false
		}
	}
}
