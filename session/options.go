// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"time"

	"github.com/gpgbridge/gpgbridge/statusfd"
)

// EncryptOptions configures Encrypt.
type EncryptOptions struct {
	// Recipients are key IDs, fingerprints or user-id patterns.
	Recipients []string

	// Symmetric encrypts with a passphrase instead of (or in addition to)
	// recipient keys.
	Symmetric bool

	// Sign additionally signs with LocalUser (or the default secret key).
	Sign      bool
	LocalUser string

	Armor bool

	// AlwaysTrust skips the recipient-validity check.
	AlwaysTrust bool

	// Password is tried first when the engine asks for a passphrase.
	// The engine takes ownership and zeroes it when the operation ends.
	Password []byte
}

// SignOptions configures Sign.
type SignOptions struct {
	LocalUser string
	Detached  bool
	ClearSign bool
	Armor     bool
	Password  []byte
}

// DecryptOptions configures Decrypt.
type DecryptOptions struct {
	Password []byte
}

// ExportOptions configures Export.
type ExportOptions struct {
	// Patterns select the keys; empty exports everything.
	Patterns []string
	Secret   bool
	Armor    bool
}

// DeleteKeyOptions configures DeleteKey.
type DeleteKeyOptions struct {
	// Secret also deletes the secret part. The engine refuses to delete a
	// public key while its secret part exists, so Secret must be set for
	// such keys.
	Secret bool
}

// KeyParams drives unattended key generation.
type KeyParams struct {
	Type      string // e.g. "RSA", "EDDSA"; empty lets the engine default
	Length    int
	SubkeyTyp string
	SubkeyLen int

	NameReal    string
	NameComment string
	NameEmail   string

	// ExpireDate uses the engine's syntax: "0" (never), "2y", "180d", or
	// an ISO date. Empty means never.
	ExpireDate string

	// Passphrase protects the generated key; nil with NoProtection false
	// makes the engine ask through the usual password flow.
	Passphrase   []byte
	NoProtection bool
}

// SignatureStatus is the verification verdict for one signature.
type SignatureStatus int

const (
	SigStatusGood SignatureStatus = iota
	SigStatusBad
	SigStatusExpired    // good signature, but past its own expiry
	SigStatusExpiredKey // good signature by an expired key
	SigStatusRevokedKey // good signature by a revoked key
	SigStatusError      // could not be checked (missing key, bad packet)
)

func (s SignatureStatus) String() string {
	switch s {
	case SigStatusGood:
		return "good"
	case SigStatusBad:
		return "bad"
	case SigStatusExpired:
		return "expired"
	case SigStatusExpiredKey:
		return "expired key"
	case SigStatusRevokedKey:
		return "revoked key"
	}
	return "error"
}

// SignatureResult is one verified (or failed) signature.
type SignatureResult struct {
	Status             SignatureStatus
	KeyID              string
	UserID             string
	Fingerprint        string
	PrimaryFingerprint string
	Created            time.Time
	PubkeyAlgo         string
	HashAlgo           string
	Trust              statusfd.TrustDegree
	MissingKey         bool
}

// VerifyResult aggregates every signature of one message.
type VerifyResult struct {
	Signatures []*SignatureResult
}

// AllGood reports whether at least one signature exists and every one of
// them verified good.
func (r *VerifyResult) AllGood() bool {
	if len(r.Signatures) == 0 {
		return false
	}
	for _, sig := range r.Signatures {
		if sig.Status != SigStatusGood {
			return false
		}
	}
	return true
}

// ImportResult aggregates an import or keyserver receive run.
type ImportResult struct {
	Considered      int
	Imported        int
	Unchanged       int
	SecretRead      int
	SecretImported  int
	SecretUnchanged int
	NotImported     int

	// Fingerprints of keys the run touched, in report order.
	Fingerprints []string
}

// ExportResult reports how many keys an export produced.
type ExportResult struct {
	Considered int
	Exported   int
}
