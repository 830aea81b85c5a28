// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gpgbridge/gpgbridge/statusfd"
)

// fakeEngine creates an Engine whose binary is a shell script standing in
// for the real thing. The script sees the usual invocation: status on
// descriptor 3, commands on descriptor 4, payload on stdin/stdout.
func fakeEngine(t *testing.T, script string) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-gpg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	e, err := New(Config{Binary: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestNewDefaultsBinary(t *testing.T) {
	e, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	if e.Config().Binary != "gpg" {
		t.Errorf("Binary = %q, want gpg", e.Config().Binary)
	}
}

// Exit code 1 is success-with-warnings; only higher codes fail.
func TestResultExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		script string
		wantOK bool
	}{
		{"clean exit", "exit 0", true},
		{"warnings", "exit 1", true},
		{"failure", "exit 2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := fakeEngine(t, tt.script)
			s, err := e.Start(NewState(nil), Handlers{})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer s.Dispose()
			s.Pump(nil, nil)
			err = s.Result()
			if tt.wantOK && err != nil {
				t.Errorf("Result: %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("Result: expected an error")
			}
		})
	}
}

// Handlers bound at Start see even the events a fast child emits before
// the caller gets control back.
func TestStartHandlersSeeEarlyEvents(t *testing.T) {
	e := fakeEngine(t, `
printf '[GNUPG:] IMPORT_OK 1 0123456789ABCDEF0123456789ABCDEF01234567\n' >&3
exit 0
`)
	var got []statusfd.Event
	h := Handlers{OnEvent: func(ev statusfd.Event) { got = append(got, ev) }}
	s, err := e.Start(NewState(nil), h)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Dispose()

	s.Pump(nil, nil)
	if err := s.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
	for _, ev := range got {
		if ok, isImport := ev.(*statusfd.ImportOK); isImport {
			if ok.Fingerprint != "0123456789ABCDEF0123456789ABCDEF01234567" {
				t.Errorf("Fingerprint = %q", ok.Fingerprint)
			}
			return
		}
	}
	t.Errorf("IMPORT_OK never reached the handler; saw %d events", len(got))
}

// A hidden prompt must be answered with the operation-supplied secret,
// written to the command channel.
func TestHiddenPromptUsesSuppliedPassword(t *testing.T) {
	e := fakeEngine(t, `
printf '[GNUPG:] NEED_PASSPHRASE AAAABBBBCCCCDDDD AAAABBBBCCCCDDDD 1 0\n' >&3
printf '[GNUPG:] GET_HIDDEN passphrase.enter\n' >&3
read pw <&4
printf '%s' "$pw"
printf '[GNUPG:] GOOD_PASSPHRASE\n' >&3
`)
	s, err := e.Start(NewState(nil), Handlers{Password: []byte("sesame")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Dispose()

	var out bytes.Buffer
	s.Pump(nil, &out)
	if err := s.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if out.String() != "sesame" {
		t.Errorf("child received %q, want the supplied passphrase", out.String())
	}
	if s.State().Cancelled() {
		t.Error("session marked cancelled")
	}
}

// When the engine rejects the supplied passphrase, the retry must escalate
// to the interactive callback instead of resending the rejected secret.
func TestBadPassphraseEscalatesToCallback(t *testing.T) {
	e := fakeEngine(t, `
printf '[GNUPG:] NEED_PASSPHRASE AAAABBBBCCCCDDDD AAAABBBBCCCCDDDD 1 0\n' >&3
printf '[GNUPG:] GET_HIDDEN passphrase.enter\n' >&3
read first <&4
printf '[GNUPG:] BAD_PASSPHRASE AAAABBBBCCCCDDDD\n' >&3
printf '[GNUPG:] GET_HIDDEN passphrase.enter\n' >&3
read second <&4
printf '%s %s' "$first" "$second"
printf '[GNUPG:] GOOD_PASSPHRASE\n' >&3
`)
	e.Password = func(req *PasswordRequest) ([]byte, bool) {
		return []byte("fresh"), true
	}

	s, err := e.Start(NewState(nil), Handlers{Password: []byte("wrong")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Dispose()

	var out bytes.Buffer
	s.Pump(nil, &out)
	if err := s.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if out.String() != "wrong fresh" {
		t.Errorf("child received %q, want the supplied then the callback secret", out.String())
	}
	if !s.State().Reasons().Has(ReasonBadPassphrase) {
		t.Error("bad-passphrase flag not recorded")
	}
}

// With no passphrase source at all the prompt gets an empty answer and the
// session latches cancelled.
func TestHiddenPromptDeclined(t *testing.T) {
	e := fakeEngine(t, `
printf '[GNUPG:] GET_HIDDEN passphrase.enter\n' >&3
read pw <&4
printf '[GNUPG:] MISSING_PASSPHRASE\n' >&3
exit 2
`)
	s, err := e.Start(NewState(nil), Handlers{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Dispose()

	s.Pump(nil, nil)
	err = s.Result()
	if err == nil {
		t.Fatal("Result: expected an error")
	}
	if !s.State().Cancelled() {
		t.Error("declined prompt did not latch cancellation")
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || !opErr.Cancelled() {
		t.Errorf("error not classified as cancelled: %v", err)
	}
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("errors.Is(err, ErrCancelled) = false for %v", err)
	}
}
