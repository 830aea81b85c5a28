// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package keyedit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gpgbridge/gpgbridge/session"
)

// fakeEditEngine builds an Engine whose binary is a scripted stand-in for
// the interactive edit dialogue: status lines on stdout, answers read from
// stdin. Each answer the script receives is appended to the returned file
// so tests can assert the exact transcript.
func fakeEditEngine(t *testing.T, script string) (*session.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	answers := filepath.Join(dir, "answers")
	t.Setenv("KEYEDIT_ANSWERS", answers)

	path := filepath.Join(dir, "fake-gpg")
	prologue := `#!/bin/sh
emit() { printf '%s\n' "$1"; }
log() { printf '%s\n' "$1" >> "$KEYEDIT_ANSWERS"; }
ask() { emit "[GNUPG:] $1"; read answer; log "$answer"; }
`
	if err := os.WriteFile(path, []byte(prologue+script), 0o755); err != nil {
		t.Fatal(err)
	}

	e, err := session.New(session.Config{Binary: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, answers
}

func transcript(t *testing.T, answers string) []string {
	t.Helper()
	data, err := os.ReadFile(answers)
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestAddUIDTranscript(t *testing.T) {
	e, answers := fakeEditEngine(t, `
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'fpr:::::::::0123456789ABCDEF0123456789ABCDEF01234567:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
ask 'GET_LINE keyedit.prompt'
emit '[GNUPG:] GOT_IT'
ask 'GET_LINE keygen.name'
ask 'GET_LINE keygen.email'
ask 'GET_LINE keygen.comment'
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'fpr:::::::::0123456789ABCDEF0123456789ABCDEF01234567:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
emit 'uid:u::::1700000000::H2::Bob Example <bob@example.org>:::S9S8H10:'
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL keyedit.save.okay'
exit 0
`)

	err := Run(e, "alice@example.org", Options{}, &AddUIDCommand{
		Name:    "Bob Example",
		Email:   "bob@example.org",
		Comment: "",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := transcript(t, answers)
	want := []string{"adduid", "Bob Example", "bob@example.org", "", "save", "Y"}
	if len(got) != len(want) {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transcript[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// A command that must see a fresh listing before acting makes the session
// issue a list directive first, then selects by the refreshed numbering.
func TestDeleteUIDRequestsListing(t *testing.T) {
	e, answers := fakeEditEngine(t, `
ask 'GET_LINE keyedit.prompt'
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'fpr:::::::::0123456789ABCDEF0123456789ABCDEF01234567:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
emit 'uid:u::::1700000000::H2::Old Address <old@example.org>:::S9S8H10:'
ask 'GET_LINE keyedit.prompt'
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL keyedit.remove.uid.okay'
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL keyedit.save.okay'
exit 0
`)

	if err := Run(e, "alice@example.org", Options{}, &DeleteUIDCommand{Index: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := transcript(t, answers)
	want := []string{"list", "uid 2", "deluid", "Y", "save", "Y"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

// An empty queue still leaves the menu cleanly: the session saves and
// quits on its own.
func TestEmptyQueueSaves(t *testing.T) {
	e, answers := fakeEditEngine(t, `
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'fpr:::::::::0123456789ABCDEF0123456789ABCDEF01234567:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
ask 'GET_LINE keyedit.prompt'
exit 0
`)
	if err := Run(e, "alice@example.org", Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := transcript(t, answers)
	if len(got) != 1 || got[0] != "save" {
		t.Errorf("transcript = %q, want just save", got)
	}
}

// The engine asks the per-signature question once per signature on the
// selected user id; the walk answers no for non-matching signers and yes
// for the one the caller named.
func TestDeleteSignatureWalksAllSignatures(t *testing.T) {
	e, answers := fakeEditEngine(t, `
ask 'GET_LINE keyedit.prompt'
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'fpr:::::::::0123456789ABCDEF0123456789ABCDEF01234567:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
ask 'GET_LINE keyedit.prompt'
ask 'GET_LINE keyedit.prompt'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
emit 'sig:::1:AAAABBBBCCCCDDDD:1600000000::::Alice <alice@example.org>:13x:'
ask 'GET_BOOL keyedit.delsig.valid'
emit 'sig:::1:1111222233334444:1650000000::::Carol <carol@example.org>:10x:'
ask 'GET_BOOL keyedit.delsig.valid'
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL keyedit.save.okay'
exit 0
`)

	err := Run(e, "alice@example.org", Options{}, &DeleteSignatureCommand{
		Index:       1,
		SignerKeyID: "1111222233334444",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := transcript(t, answers)
	want := []string{"list", "uid 1", "delsig", "N", "Y", "save", "Y"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

// When a structural change is followed by a command that selects by
// position, the session re-requests the listing in between so the
// successor never acts on stale numbering.
func TestCompoundAddThenDelete(t *testing.T) {
	e, answers := fakeEditEngine(t, `
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'fpr:::::::::0123456789ABCDEF0123456789ABCDEF01234567:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
ask 'GET_LINE keyedit.prompt'
ask 'GET_LINE keygen.name'
ask 'GET_LINE keygen.email'
ask 'GET_LINE keygen.comment'
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
emit 'uid:u::::1700000000::H2::Bob Example <bob@example.org>:::S9S8H10:'
ask 'GET_LINE keyedit.prompt'
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
emit 'uid:u::::1700000000::H2::Bob Example <bob@example.org>:::S9S8H10:'
ask 'GET_LINE keyedit.prompt'
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL keyedit.remove.uid.okay'
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL keyedit.save.okay'
exit 0
`)

	err := Run(e, "alice@example.org", Options{},
		&AddUIDCommand{Name: "Bob Example", Email: "bob@example.org"},
		&DeleteUIDCommand{Index: LastUserID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := transcript(t, answers)
	want := []string{"adduid", "Bob Example", "bob@example.org", "",
		"list", "uid 2", "deluid", "Y", "save", "Y"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

// A child that leaves the menu with commands still queued must not pass
// as a clean session.
func TestEarlyExitLeavesQueueUnfinished(t *testing.T) {
	e, _ := fakeEditEngine(t, `
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
ask 'GET_LINE keyedit.prompt'
exit 0
`)
	err := Run(e, "alice@example.org", Options{},
		&AddUIDCommand{Name: "Bob Example", Email: "bob@example.org"},
		&ExpireCommand{Validity: "1y"})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("err = %v, want protocol violation", err)
	}
}

// The engine asking the same confirming question twice means it rejected
// the answer; the session must fail fast instead of looping.
func TestRepeatedPromptIsViolation(t *testing.T) {
	e, _ := fakeEditEngine(t, `
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL sign_uid.okay'
ask 'GET_BOOL sign_uid.okay'
exit 0
`)
	err := Run(e, "alice@example.org", Options{}, &SignKeyCommand{})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("err = %v, want protocol violation", err)
	}
}

// A prompt nobody anticipated, with the queue exhausted, is a violation
// rather than a hang.
func TestUnanticipatedPromptIsViolation(t *testing.T) {
	e, _ := fakeEditEngine(t, `
ask 'GET_LINE card_edit.prompt'
exit 0
`)
	err := Run(e, "alice@example.org", Options{})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("err = %v, want protocol violation", err)
	}
}

// The session default password answers hidden prompts mid-edit.
func TestEditSessionDefaultPassword(t *testing.T) {
	e, answers := fakeEditEngine(t, `
emit 'pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:'
emit 'uid:u::::1600000000::H1::Alice <alice@example.org>:::S9S8H10,p:'
ask 'GET_LINE keyedit.prompt'
emit '[GNUPG:] NEED_PASSPHRASE AAAABBBBCCCCDDDD AAAABBBBCCCCDDDD 1 0'
ask 'GET_HIDDEN passphrase.enter'
ask 'GET_LINE keygen.valid'
ask 'GET_LINE keyedit.prompt'
ask 'GET_BOOL keyedit.save.okay'
exit 0
`)

	err := Run(e, "alice@example.org",
		Options{DefaultPassword: []byte("letmein")},
		&ExpireCommand{Validity: "1y"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := transcript(t, answers)
	want := []string{"expire", "letmein", "1y", "save", "Y"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}
