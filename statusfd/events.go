// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

// Package statusfd decodes the machine-readable status channel of a
// GnuPG-compatible engine: the "[GNUPG:] KEYWORD args..." line protocol,
// either on a dedicated descriptor or interleaved with ordinary output.
package statusfd

import "time"

// Event is one decoded status message. Each concrete type corresponds to
// one protocol keyword and carries only the fields that keyword emits.
// Events are immutable after construction.
type Event interface {
	isEvent()
}

// event is embedded by every concrete Event type.
type event struct{}

func (event) isEvent() {}

// InputType distinguishes the three kinds of input the engine can request.
type InputType int

const (
	InputLine InputType = iota
	InputBool
	InputHidden
)

func (t InputType) String() string {
	switch t {
	case InputLine:
		return "line"
	case InputBool:
		return "bool"
	case InputHidden:
		return "hidden"
	}
	return "unknown"
}

// InputRequest is the distinguished "engine wants input" event (GET_LINE,
// GET_BOOL, GET_HIDDEN). The engine produces no further output until the
// prompt identified by PromptID is answered on the command channel.
type InputRequest struct {
	event
	Type     InputType
	PromptID string
}

// GotIt acknowledges an answered prompt.
type GotIt struct{ event }

// Signature verification.

type NewSig struct {
	event
	Signer string
}

type GoodSig struct {
	event
	KeyID  string
	UserID string
}

type ExpSig struct {
	event
	KeyID  string
	UserID string
}

type ExpKeySig struct {
	event
	KeyID  string
	UserID string
}

type RevKeySig struct {
	event
	KeyID  string
	UserID string
}

type BadSig struct {
	event
	KeyID  string
	UserID string
}

// ErrSig reports a signature that could not be checked at all.
type ErrSig struct {
	event
	KeyID       string
	PubkeyAlgo  string
	HashAlgo    string
	SigClass    string
	Created     time.Time
	ReasonCode  int
	Fingerprint string
}

// ValidSig carries the full details of a verified signature; it accompanies
// a GoodSig/ExpSig/ExpKeySig for the same signature.
type ValidSig struct {
	event
	Fingerprint        string
	Created            time.Time
	Expires            time.Time
	Version            int
	PubkeyAlgo         string
	HashAlgo           string
	SigClass           string
	PrimaryFingerprint string
}

type SigID struct {
	event
	ID      string
	Created time.Time
}

// TrustDegree is the engine's computed validity of the signing key.
type TrustDegree int

const (
	TrustUndefined TrustDegree = iota
	TrustNever
	TrustMarginal
	TrustFully
	TrustUltimate
)

func (d TrustDegree) String() string {
	switch d {
	case TrustNever:
		return "never"
	case TrustMarginal:
		return "marginal"
	case TrustFully:
		return "fully"
	case TrustUltimate:
		return "ultimate"
	}
	return "undefined"
}

type TrustLevel struct {
	event
	Degree TrustDegree
	Model  string
}

// Key status.

type KeyExpired struct {
	event
	ExpiredAt time.Time
}

type KeyRevoked struct{ event }

type NoPubkey struct {
	event
	KeyID string
}

type NoSeckey struct {
	event
	KeyID string
}

type KeyConsidered struct {
	event
	Fingerprint string
	Flags       int
}

type AlreadySigned struct {
	event
	KeyID string
}

// Import / export.

type Imported struct {
	event
	KeyID  string
	UserID string
}

type ImportOK struct {
	event
	Reason      int
	Fingerprint string
}

type ImportProblem struct {
	event
	Reason      int
	Fingerprint string
}

// ImportRes summarizes a whole import run.
type ImportRes struct {
	event
	Count           int
	NoUserID        int
	Imported        int
	Unchanged       int
	NewUserIDs      int
	NewSubkeys      int
	NewSignatures   int
	NewRevocations  int
	SecretRead      int
	SecretImported  int
	SecretUnchanged int
	NotImported     int
}

type Exported struct {
	event
	Fingerprint string
}

type ExportRes struct {
	event
	Count    int
	Secret   int
	Exported int
}

// Encryption / decryption / signing markers.

type BeginDecryption struct{ event }
type EndDecryption struct{ event }
type DecryptionOkay struct{ event }
type DecryptionFailed struct{ event }
type EndEncryption struct{ event }
type BeginSigning struct{ event }

type BeginEncryption struct {
	event
	MDCMethod  int
	CipherAlgo string
}

// SigCreated reports a signature this invocation produced.
type SigCreated struct {
	event
	Type        byte
	PubkeyAlgo  string
	HashAlgo    string
	SigClass    string
	Created     time.Time
	Fingerprint string
}

type Plaintext struct {
	event
	Format  byte
	Created time.Time
	Name    string
}

type PlaintextLength struct {
	event
	Length uint64
}

// EncTo names one recipient key of the message being decrypted.
type EncTo struct {
	event
	KeyID      string
	PubkeyAlgo string
}

// Passphrase flow.

// UserIDHint precedes a passphrase request and names the key the
// passphrase is for, in human-readable form.
type UserIDHint struct {
	event
	KeyID  string
	UserID string
}

type NeedPassphrase struct {
	event
	MainKeyID  string
	SubkeyID   string
	PubkeyAlgo string
}

type NeedPassphraseSym struct {
	event
	CipherAlgo string
	S2KMode    int
	S2KHash    int
}

type NeedPassphrasePIN struct {
	event
	CardType string
	ChvNo    string
	SerialNo string
}

type MissingPassphrase struct{ event }

type BadPassphrase struct {
	event
	KeyID string
}

type GoodPassphrase struct{ event }

type PinentryLaunched struct {
	event
	Info string
}

// Errors and progress.

// InvRecp reports an unusable recipient; InvSgnr an unusable signing key.
type InvRecp struct {
	event
	Reason    int
	Recipient string
}

type InvSgnr struct {
	event
	Reason int
	Sender string
}

type NoData struct {
	event
	Code int
}

type Unexpected struct{ event }

// ErrorEvent is the generic "ERROR <location> <code>" report.
type ErrorEvent struct {
	event
	Location string
	Code     int
}

type Failure struct {
	event
	Operation string
	Code      int
}

type Success struct {
	event
	Operation string
}

type Progress struct {
	event
	What    string
	Char    string
	Current int
	Total   int
}

// Key generation / deletion.

type KeyCreated struct {
	event
	Type        byte
	Fingerprint string
	Handle      string
}

type KeyNotCreated struct {
	event
	Handle string
}

type DeleteProblem struct {
	event
	Reason int
}

type CardCtrl struct {
	event
	What   int
	Serial string
}
