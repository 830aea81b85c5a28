// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/gpgbridge/gpgbridge/internal/passcmd"
)

// PasswordRequest describes which secret the engine is asking for, so an
// interactive callback can prompt meaningfully. Exactly one of the
// key/symmetric/PIN shapes applies.
type PasswordRequest struct {
	// Hint is the engine's human-readable description of the key,
	// typically "KEYID user name <email>".
	Hint string

	MainKeyID string
	SubkeyID  string

	// Symmetric means a message cipher passphrase rather than a key one.
	Symmetric bool

	// PIN means a smartcard PIN.
	PIN          bool
	CardSerialNo string
}

// PasswordCallback supplies a passphrase for a request. Returning ok=false
// declines the request; the session is then marked cancelled and the child
// receives an empty answer so it can report a specific failure on its own.
// The returned slice is zeroed by the engine after use.
type PasswordCallback func(req *PasswordRequest) (secret []byte, ok bool)

// TerminalPrompt returns a PasswordCallback that reads from the controlling
// terminal with echo disabled.
func TerminalPrompt() PasswordCallback {
	return func(req *PasswordRequest) ([]byte, bool) {
		switch {
		case req.PIN:
			fmt.Fprintf(os.Stderr, "Enter PIN for card %s: ", req.CardSerialNo)
		case req.Symmetric:
			fmt.Fprint(os.Stderr, "Enter message passphrase: ")
		case req.Hint != "":
			fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", req.Hint)
		default:
			fmt.Fprint(os.Stderr, "Enter passphrase: ")
		}
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Logger.Debug("terminal passphrase read failed", "error", err)
			return nil, false
		}
		return secret, true
	}
}

// PassphraseCommandCallback returns a PasswordCallback backed by an
// external helper program, for unattended deployments.
func PassphraseCommandCallback(argv []string, env map[string]string) PasswordCallback {
	cfg := &passcmd.Config{Argv: argv, Env: env}
	return func(req *PasswordRequest) ([]byte, bool) {
		secret, err := passcmd.Run(cfg)
		if err != nil {
			Logger.Debug("passphrase command failed", "error", err)
			return nil, false
		}
		return secret, true
	}
}
