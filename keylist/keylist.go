// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

// Package keylist parses the colon-delimited machine-readable key listing
// format ("fixed list mode") emitted by a GnuPG-compatible engine. The same
// record layout appears in three places: plain keyring listings, keyserver
// search results, and the reduced listing the engine re-emits inside an
// interactive edit session.
package keylist

import (
	"strconv"
	"strings"
	"time"

	"github.com/gpgbridge/gpgbridge/statusfd"
)

// Key is one primary key with its attached user IDs, subkeys, and
// signatures, as the engine currently lists it. Records are transient:
// a listing is re-parsed whenever the keyring may have changed.
type Key struct {
	Secret       bool // sec/ssb rather than pub/sub records
	Validity     string
	Length       int
	Algo         string
	KeyID        string
	Created      time.Time
	Expires      time.Time
	OwnerTrust   string
	Capabilities string
	Fingerprint  string
	UserIDs      []*UserID
	Subkeys      []*Subkey
	Signatures   []*Signature // direct key signatures preceding any uid
}

// UserID is one uid or uat record attached to a key. Primary, Selected and
// Preferences are only populated in edit-session listings, where the engine
// appends them as a trailing flag field.
type UserID struct {
	Validity    string
	Value       string
	IsAttribute bool
	Created     time.Time
	Hash        string
	Preferences string
	Primary     bool
	Selected    bool
	Signatures  []*Signature
}

// Subkey is one sub or ssb record.
type Subkey struct {
	Secret       bool
	Validity     string
	Length       int
	Algo         string
	KeyID        string
	Created      time.Time
	Expires      time.Time
	Capabilities string
	Fingerprint  string
}

// Signature is one sig or rev record, attached to the most recent uid
// (or to the key itself when it precedes any uid).
type Signature struct {
	Class             string
	SignerKeyID       string
	SignerUserID      string
	SignerFingerprint string
	Created           time.Time
	Revocation        bool
	Exportable        bool
}

// Revoked reports whether the key's validity marks it revoked.
func (k *Key) Revoked() bool { return k.Validity == "r" }

// Expired reports whether the key's validity marks it expired.
func (k *Key) Expired() bool { return k.Validity == "e" }

// PrimaryUserID returns the uid flagged primary, or the first uid.
func (k *Key) PrimaryUserID() *UserID {
	for _, uid := range k.UserIDs {
		if uid.Primary {
			return uid
		}
	}
	if len(k.UserIDs) > 0 {
		return k.UserIDs[0]
	}
	return nil
}

// Parser accumulates keys from listing lines fed one at a time. It is
// incremental because inside an edit session listing lines arrive
// interleaved with prompt traffic.
type Parser struct {
	keys    []*Key
	cur     *Key
	curUID  *UserID
	lastSub *Subkey
}

// NewParser returns an empty Parser.
func NewParser() *Parser { return &Parser{} }

// IsListingLine reports whether line looks like a listing record a Parser
// would consume.
func IsListingLine(line string) bool {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return false
	}
	switch line[:i] {
	case "pub", "sec", "sub", "ssb", "fpr", "uid", "uat", "sig", "rev", "rvk", "tru", "grp":
		return true
	}
	return false
}

// Feed consumes one line. It returns true when the line was a listing
// record, false when it was something else (the caller keeps it).
func (p *Parser) Feed(line string) bool {
	fields := strings.Split(line, ":")
	if len(fields) < 2 {
		return false
	}

	switch fields[0] {
	case "pub", "sec":
		p.flush()
		p.cur = &Key{
			Secret:       fields[0] == "sec",
			Validity:     field(fields, 1),
			Length:       atoi(field(fields, 2)),
			Algo:         statusfd.PubkeyAlgoName(field(fields, 3)),
			KeyID:        field(fields, 4),
			Created:      statusfd.ParseTime(field(fields, 5)),
			Expires:      statusfd.ParseTime(field(fields, 6)),
			OwnerTrust:   field(fields, 8),
			Capabilities: field(fields, 11),
		}
		p.curUID = nil
		p.lastSub = nil

	case "sub", "ssb":
		if p.cur == nil {
			return true
		}
		sub := &Subkey{
			Secret:       fields[0] == "ssb",
			Validity:     field(fields, 1),
			Length:       atoi(field(fields, 2)),
			Algo:         statusfd.PubkeyAlgoName(field(fields, 3)),
			KeyID:        field(fields, 4),
			Created:      statusfd.ParseTime(field(fields, 5)),
			Expires:      statusfd.ParseTime(field(fields, 6)),
			Capabilities: field(fields, 11),
		}
		p.cur.Subkeys = append(p.cur.Subkeys, sub)
		p.lastSub = sub
		p.curUID = nil

	case "fpr":
		// A fingerprint record belongs to the key or subkey it follows.
		// Never overwrite a fingerprint already known.
		fpr := field(fields, 9)
		if fpr == "" || p.cur == nil {
			return true
		}
		if p.lastSub != nil {
			if p.lastSub.Fingerprint == "" {
				p.lastSub.Fingerprint = fpr
			}
		} else if p.cur.Fingerprint == "" {
			p.cur.Fingerprint = fpr
		}

	case "uid", "uat":
		if p.cur == nil {
			return true
		}
		uid := &UserID{
			Validity:    field(fields, 1),
			IsAttribute: fields[0] == "uat",
			Created:     statusfd.ParseTime(field(fields, 5)),
			Hash:        field(fields, 7),
			Value:       unescapeColons(field(fields, 9)),
		}
		uid.Preferences, uid.Primary, uid.Selected = parseEditFlags(field(fields, 12))
		p.cur.UserIDs = append(p.cur.UserIDs, uid)
		p.curUID = uid
		p.lastSub = nil

	case "sig", "rev":
		if p.cur == nil {
			return true
		}
		sig := &Signature{
			Class:        field(fields, 10),
			SignerKeyID:  field(fields, 4),
			SignerUserID: unescapeColons(field(fields, 9)),
			Created:      statusfd.ParseTime(field(fields, 5)),
			Revocation:   fields[0] == "rev",
		}
		if len(fields) > 12 {
			sig.SignerFingerprint = field(fields, 12)
		}
		// A signature class ending in "x" marks an exportable signature,
		// "l" a local one.
		sig.Exportable = strings.HasSuffix(sig.Class, "x")
		if p.curUID != nil {
			p.curUID.Signatures = append(p.curUID.Signatures, sig)
		} else {
			p.cur.Signatures = append(p.cur.Signatures, sig)
		}

	case "rvk", "tru", "grp":
		// Revocation-key, trust-database and keygrip records carry nothing
		// this layer tracks; consume them so callers see a clean stream.

	default:
		return false
	}
	return true
}

// Keys finalizes the listing and returns every key parsed so far.
func (p *Parser) Keys() []*Key {
	p.flush()
	return p.keys
}

func (p *Parser) flush() {
	if p.cur != nil {
		p.keys = append(p.keys, p.cur)
		p.cur = nil
	}
	p.curUID = nil
	p.lastSub = nil
}

// Parse consumes a complete listing held in text.
func Parse(text string) []*Key {
	p := NewParser()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		p.Feed(line)
	}
	return p.Keys()
}

// parseEditFlags splits the edit-session flag field: the preference string
// first, then flag letters "p" (primary) and "s" (selected), all
// comma-separated. Empty outside edit sessions.
func parseEditFlags(s string) (prefs string, primary, selected bool) {
	if s == "" {
		return "", false, false
	}
	for i, part := range strings.Split(s, ",") {
		switch {
		case i == 0:
			prefs = part
		case part == "p":
			primary = true
		case part == "s":
			selected = true
		}
	}
	return prefs, primary, selected
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// unescapeColons reverses the C-style escaping the listing applies to
// field values: ':' is emitted as \x3a and '\' as \\.
func unescapeColons(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if hi, ok1 := unhex(s[i+2]); ok1 {
				if lo, ok2 := unhex(s[i+3]); ok2 {
					b.WriteByte(hi<<4 | lo)
					i += 4
					continue
				}
			}
		}
		if c == '\\' && i+1 < len(s) && s[i+1] == '\\' {
			b.WriteByte('\\')
			i += 2
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
