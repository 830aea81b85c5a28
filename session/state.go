// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"strings"
	"sync"

	"github.com/gpgbridge/gpgbridge/internal/secmem"
	"github.com/gpgbridge/gpgbridge/statusfd"
)

// FailureReason is a bitset of suspected failure causes. The wrapped engine
// has no single authoritative error code, so independent flags accumulate
// from status events and diagnostic text and are reported together.
type FailureReason uint32

const (
	ReasonBadPassphrase FailureReason = 1 << iota
	ReasonMissingPublicKey
	ReasonMissingSecretKey
	ReasonInvalidRecipient
	ReasonUntrustedRecipient
	ReasonUnsupportedAlgorithm
	ReasonKeyringLocked
	ReasonKeyNotFound
	ReasonSecretKeyExists
	ReasonNoData
	ReasonBadSignature
	ReasonCancelled
)

// Has reports whether flag is set.
func (r FailureReason) Has(flag FailureReason) bool { return r&flag != 0 }

// State is the per-invocation accumulator: failure flags, the passphrase
// bookkeeping, and the cancellation latch. One State lives exactly as long
// as one child process.
type State struct {
	mu sync.Mutex

	reasons FailureReason

	// hint is the most recent USERID_HINT text, kept so the passphrase
	// callback can show which key needs unlocking.
	hint string

	// lastRequest is the most recent NEED_PASSPHRASE* event. The protocol
	// guarantees it precedes the GET_HIDDEN prompt it belongs to; the
	// prompt alone does not say whether a key, symmetric or PIN secret is
	// wanted.
	lastRequest statusfd.Event

	defaultPassword []byte
	triedDefault    bool
	triedSupplied   bool

	cancelled bool
}

// NewState returns a State optionally seeded with a default passphrase.
// The State takes ownership of defaultPassword and zeroes it on Dispose.
func NewState(defaultPassword []byte) *State {
	return &State{defaultPassword: defaultPassword}
}

// Flag sets a failure reason. Flags are monotonic for the session.
func (s *State) Flag(r FailureReason) {
	s.mu.Lock()
	s.reasons |= r
	s.mu.Unlock()
}

// Reasons returns the accumulated flag set.
func (s *State) Reasons() FailureReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasons
}

// Cancel marks the session cancelled by the user.
func (s *State) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.reasons |= ReasonCancelled
	s.mu.Unlock()
}

// Cancelled reports whether the user declined a passphrase request.
func (s *State) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Hint returns the most recent user-id hint.
func (s *State) Hint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hint
}

// Dispose zeroes any secret still held.
func (s *State) Dispose() {
	s.mu.Lock()
	secmem.Zero(s.defaultPassword)
	s.defaultPassword = nil
	s.mu.Unlock()
}

// Observe folds one status event into the state. This runs on the status
// reader goroutine; it must never panic on unexpected events.
func (s *State) Observe(ev statusfd.Event) {
	switch e := ev.(type) {
	case *statusfd.UserIDHint:
		s.mu.Lock()
		s.hint = e.UserID
		s.mu.Unlock()
	case *statusfd.NeedPassphrase, *statusfd.NeedPassphraseSym, *statusfd.NeedPassphrasePIN:
		s.mu.Lock()
		s.lastRequest = ev
		s.mu.Unlock()
	case *statusfd.BadPassphrase:
		// A cached default that was wrong must not be retried blindly,
		// but the flag itself stays set even if a later attempt succeeds.
		s.mu.Lock()
		s.reasons |= ReasonBadPassphrase
		secmem.Zero(s.defaultPassword)
		s.defaultPassword = nil
		s.mu.Unlock()
	case *statusfd.NoPubkey:
		s.Flag(ReasonMissingPublicKey)
	case *statusfd.NoSeckey:
		s.Flag(ReasonMissingSecretKey)
	case *statusfd.InvRecp:
		// Reason code 10 is "not trusted"; everything else is unusable.
		if e.Reason == 10 {
			s.Flag(ReasonUntrustedRecipient)
		} else {
			s.Flag(ReasonInvalidRecipient)
		}
	case *statusfd.InvSgnr:
		s.Flag(ReasonMissingSecretKey)
	case *statusfd.NoData:
		s.Flag(ReasonNoData)
	case *statusfd.BadSig:
		s.Flag(ReasonBadSignature)
	}
}

// passphraseRequest builds the caller-visible request from the remembered
// NEED_PASSPHRASE* event and hint.
func (s *State) passphraseRequest() *PasswordRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := &PasswordRequest{Hint: s.hint}
	switch e := s.lastRequest.(type) {
	case *statusfd.NeedPassphrase:
		req.MainKeyID = e.MainKeyID
		req.SubkeyID = e.SubkeyID
	case *statusfd.NeedPassphraseSym:
		req.Symmetric = true
	case *statusfd.NeedPassphrasePIN:
		req.PIN = true
		req.CardSerialNo = e.SerialNo
	}
	return req
}

// nextPassword returns the next passphrase to try, following the attempt
// order: operation-supplied, session default, interactive callback. The
// second return is false when every source is exhausted or declined.
// The returned slice is owned by the caller, which must zero it after use.
func (s *State) nextPassword(supplied []byte, cb PasswordCallback) ([]byte, bool) {
	s.mu.Lock()
	if len(supplied) > 0 && !s.triedSupplied {
		s.triedSupplied = true
		s.mu.Unlock()
		return clone(supplied), true
	}
	if len(s.defaultPassword) > 0 && !s.triedDefault {
		s.triedDefault = true
		pw := clone(s.defaultPassword)
		s.mu.Unlock()
		return pw, true
	}
	s.mu.Unlock()

	if cb == nil {
		return nil, false
	}
	pw, ok := cb(s.passphraseRequest())
	if !ok {
		return nil, false
	}
	return pw, true
}

// retryPassword re-arms the attempt order after a bad passphrase. The
// supplied secret stays latched: resending a rejected answer verbatim
// cannot succeed, so the next prompt falls through to the later sources.
// The recorded failure flag is untouched.
func (s *State) retryPassword() {
	s.mu.Lock()
	s.triedDefault = false
	s.mu.Unlock()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// diagnosticFlags maps known fragments of the engine's free-text stderr
// wording to failure flags. This is a best-effort compatibility shim over
// undocumented wording: a miss leaves the flag unset, never errors.
var diagnosticFlags = []struct {
	substr string
	reason FailureReason
}{
	{"file write error", ReasonKeyringLocked},
	{"file rename error", ReasonKeyringLocked},
	{"lock not made", ReasonKeyringLocked},
	{"not found on keyserver", ReasonKeyNotFound},
	{"No keyserver available", ReasonKeyNotFound},
	{"keyserver receive failed", ReasonKeyNotFound},
	{"not found: No public key", ReasonKeyNotFound},
	{"already in secret keyring", ReasonSecretKeyExists},
	{"unknown cipher algorithm", ReasonUnsupportedAlgorithm},
	{"unsupported algorithm", ReasonUnsupportedAlgorithm},
	{"unknown digest algorithm", ReasonUnsupportedAlgorithm},
	{"unusable public key", ReasonInvalidRecipient},
	{"skipped: public key not found", ReasonInvalidRecipient},
	{"There is no assurance this key belongs", ReasonUntrustedRecipient},
	{"no valid OpenPGP data found", ReasonNoData},
	{"decryption failed: No secret key", ReasonMissingSecretKey},
}

// classifyDiagnostic matches one stderr line against the heuristic table.
func (s *State) classifyDiagnostic(line string) {
	for _, df := range diagnosticFlags {
		if strings.Contains(line, df.substr) {
			s.Flag(df.reason)
		}
	}
}
