// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"bytes"
	"testing"
)

// An echoing child must return exactly the bytes that were fed in,
// regardless of payload size relative to the pump's chunking.
func TestPumpEcho(t *testing.T) {
	pattern := []byte("0123456789abcdef")

	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"single chunk", pumpChunkSize / 2},
		{"exactly one chunk", pumpChunkSize},
		{"many chunks", 8*pumpChunkSize + 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := bytes.Repeat(pattern, tt.size/len(pattern)+1)[:tt.size]

			e := fakeEngine(t, "exec cat")
			s, err := e.Start(NewState(nil), Handlers{})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer s.Dispose()

			var out bytes.Buffer
			res := s.Pump(bytes.NewReader(input), &out)
			if err := s.Result(); err != nil {
				t.Fatalf("Result: %v", err)
			}
			if !res.SourceDrained || !res.SinkDrained {
				t.Errorf("pump result = %+v", res)
			}
			if !bytes.Equal(out.Bytes(), input) {
				t.Errorf("echoed %d bytes, want %d, content mismatch=%v",
					out.Len(), len(input), !bytes.Equal(out.Bytes(), input))
			}
		})
	}
}

// A child that stops reading its input early is not a pump failure; the
// exit code carries the verdict.
func TestPumpChildStopsReading(t *testing.T) {
	e := fakeEngine(t, `
head -c 10 > /dev/null
printf 'partial'
exit 0
`)
	s, err := e.Start(NewState(nil), Handlers{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Dispose()

	big := bytes.Repeat([]byte("x"), 4*pumpChunkSize)
	var out bytes.Buffer
	res := s.Pump(bytes.NewReader(big), &out)
	if err := s.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if !res.SinkDrained {
		t.Error("output side did not drain")
	}
	if out.String() != "partial" {
		t.Errorf("output = %q", out.String())
	}
}

func TestPumpNilSource(t *testing.T) {
	e := fakeEngine(t, `printf 'no input needed'`)
	s, err := e.Start(NewState(nil), Handlers{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Dispose()

	var out bytes.Buffer
	res := s.Pump(nil, &out)
	if err := s.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if !res.SourceDrained || !res.SinkDrained {
		t.Errorf("pump result = %+v", res)
	}
	if out.String() != "no input needed" {
		t.Errorf("output = %q", out.String())
	}
}
