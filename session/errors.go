// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadPassphrase indicates a wrong passphrase for a secret key.
	ErrBadPassphrase = errors.New("bad passphrase")

	// ErrMissingPublicKey indicates a required public key is not in the keyring.
	ErrMissingPublicKey = errors.New("public key not available")

	// ErrMissingSecretKey indicates a required secret key is not in the keyring.
	ErrMissingSecretKey = errors.New("secret key not available")

	// ErrInvalidRecipient indicates an unusable or unknown recipient.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrUntrustedRecipient indicates a recipient key without sufficient validity.
	ErrUntrustedRecipient = errors.New("recipient key not trusted")

	// ErrUnsupportedAlgorithm indicates the engine met an algorithm it cannot handle.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrKeyringLocked indicates the keyring files could not be written.
	ErrKeyringLocked = errors.New("keyring locked or not writable")

	// ErrKeyNotFound indicates a key lookup (local or keyserver) found nothing.
	ErrKeyNotFound = errors.New("key not found")

	// ErrSecretKeyExists indicates an import would clobber an existing secret key.
	ErrSecretKeyExists = errors.New("secret key already exists")

	// ErrNoData indicates the input carried no usable OpenPGP data.
	ErrNoData = errors.New("no valid data found")

	// ErrBadSignature indicates a signature that failed verification.
	ErrBadSignature = errors.New("bad signature")

	// ErrCancelled indicates the user declined a passphrase request.
	// Callers typically suppress error UI for this one.
	ErrCancelled = errors.New("operation cancelled")
)

// reasonErrors pairs each failure-reason flag with its sentinel, in the
// order they are reported.
var reasonErrors = []struct {
	reason FailureReason
	err    error
}{
	{ReasonBadPassphrase, ErrBadPassphrase},
	{ReasonMissingPublicKey, ErrMissingPublicKey},
	{ReasonMissingSecretKey, ErrMissingSecretKey},
	{ReasonInvalidRecipient, ErrInvalidRecipient},
	{ReasonUntrustedRecipient, ErrUntrustedRecipient},
	{ReasonUnsupportedAlgorithm, ErrUnsupportedAlgorithm},
	{ReasonKeyringLocked, ErrKeyringLocked},
	{ReasonKeyNotFound, ErrKeyNotFound},
	{ReasonSecretKeyExists, ErrSecretKeyExists},
	{ReasonNoData, ErrNoData},
	{ReasonBadSignature, ErrBadSignature},
	{ReasonCancelled, ErrCancelled},
}

// OperationError is the classified failure of one engine invocation: the
// child's exit code plus every failure reason the session could deduce.
// errors.Is matches any sentinel whose flag is set.
type OperationError struct {
	ExitCode int
	Reasons  FailureReason
}

func (e *OperationError) Error() string {
	var parts []string
	for _, re := range reasonErrors {
		if e.Reasons.Has(re.reason) {
			parts = append(parts, re.err.Error())
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("engine exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("engine exited with code %d: %s", e.ExitCode, strings.Join(parts, "; "))
}

// Is reports whether target is a sentinel matching one of the accumulated
// failure reasons.
func (e *OperationError) Is(target error) bool {
	for _, re := range reasonErrors {
		if e.Reasons.Has(re.reason) && target == re.err {
			return true
		}
	}
	return false
}

// Cancelled reports whether the failure was a user cancellation.
func (e *OperationError) Cancelled() bool {
	return e.Reasons.Has(ReasonCancelled)
}
