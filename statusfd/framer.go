// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package statusfd

import (
	"bytes"
	"io"

	"github.com/gpgbridge/gpgbridge/internal/secmem"
)

// Mode selects how a Framer treats status markers in its input.
type Mode int

const (
	// Plain input carries no status lines; everything is ordinary text.
	Plain Mode = iota
	// Mixed input interleaves status lines with ordinary text on the same
	// stream, the engine's "status onto stdout" mode. A status line may cut
	// an ordinary line in half; the halves are rejoined.
	Mixed
	// StatusOnly input is a dedicated status descriptor; every line is a
	// status line.
	StatusOnly
)

const initialBufSize = 4096

var markerBytes = []byte(Marker)

// Framer turns a raw byte stream into a sequence of logical lines,
// separating embedded status-protocol lines from ordinary text. It never
// loses or duplicates a byte regardless of how the underlying reads chunk
// the input, and it blocks for at most one underlying read per call.
type Framer struct {
	r    io.Reader
	mode Mode

	buf   []byte
	start int // first unconsumed byte
	end   int // end of valid data
	carry []byte
	eof   bool
}

// NewFramer wraps r in mode.
func NewFramer(r io.Reader, mode Mode) *Framer {
	return &Framer{
		r:    r,
		mode: mode,
		buf:  make([]byte, initialBufSize),
	}
}

// ReadLine returns the next logical item from the stream: a decoded status
// event (ev != nil), or an ordinary text line (ev == nil). Status lines
// whose keyword is unknown are consumed and skipped. At end of stream any
// buffered remainder is flushed as a final text line, then io.EOF.
func (f *Framer) ReadLine() (text string, ev Event, err error) {
	for {
		if i := bytes.IndexByte(f.buf[f.start:f.end], '\n'); i >= 0 {
			line := f.buf[f.start : f.start+i]
			f.start += i + 1
			for len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			text, ev, ok := f.consume(line)
			if ok {
				return text, ev, nil
			}
			continue
		}

		if f.eof {
			// Flush whatever is left as a final, unterminated line.
			if f.start < f.end || len(f.carry) > 0 {
				line := f.buf[f.start:f.end]
				f.start = f.end
				text, ev, ok := f.consume(line)
				if ok {
					return text, ev, nil
				}
				// The remainder was a status line; fall through to EOF
				// unless a carried fragment is still pending.
				if len(f.carry) > 0 {
					t := string(f.carry)
					f.resetCarry()
					return t, nil, nil
				}
			}
			return "", nil, io.EOF
		}

		if err := f.fill(); err != nil {
			if err == io.EOF {
				f.eof = true
				continue
			}
			return "", nil, err
		}
	}
}

// consume classifies one complete line. ok reports whether the line
// produced something for the caller; a status line with an unknown keyword
// produces nothing.
func (f *Framer) consume(line []byte) (text string, ev Event, ok bool) {
	if f.mode == Plain {
		return f.takeText(line), nil, true
	}

	j := bytes.Index(line, markerBytes)
	if j < 0 {
		if f.mode == StatusOnly {
			// A dedicated status descriptor only carries status lines;
			// tolerate stray text by dropping it.
			return "", nil, false
		}
		return f.takeText(line), nil, true
	}

	if j > 0 {
		// The status line interrupted an ordinary line mid-flight. The
		// head belongs to the next ordinary line the stream completes.
		f.carry = append(f.carry, line[:j]...)
	}

	ev = DecodeLine(string(line[j+len(markerBytes):]))
	if ev == nil {
		return "", nil, false
	}
	return "", ev, true
}

// takeText prepends any carried fragment to line and returns the result.
func (f *Framer) takeText(line []byte) string {
	if len(f.carry) == 0 {
		return string(line)
	}
	out := make([]byte, 0, len(f.carry)+len(line))
	out = append(out, f.carry...)
	out = append(out, line...)
	f.resetCarry()
	return string(out)
}

// fill performs one read from the underlying source, compacting and growing
// the buffer as needed. Returns io.EOF when the source is exhausted.
func (f *Framer) fill() error {
	if f.end == len(f.buf) {
		if f.start > 0 {
			// Compact consumed bytes before considering growth.
			n := copy(f.buf, f.buf[f.start:f.end])
			secmem.Zero(f.buf[n:f.end])
			f.start, f.end = 0, n
		} else {
			grown := make([]byte, 2*len(f.buf))
			copy(grown, f.buf[:f.end])
			secmem.Zero(f.buf)
			f.buf = grown
		}
	}

	n, err := f.r.Read(f.buf[f.end:])
	f.end += n
	if n > 0 {
		// A read that returned data plus an error still produced bytes
		// the caller must see; surface the error on the next call.
		return nil
	}
	return err
}

// ZeroBuffers wipes the internal buffers. Called on disposal because the
// stream may have carried passphrase material.
func (f *Framer) ZeroBuffers() {
	secmem.Zero(f.buf)
	f.start, f.end = 0, 0
	f.resetCarry()
}

func (f *Framer) resetCarry() {
	secmem.Zero(f.carry)
	f.carry = f.carry[:0]
}
