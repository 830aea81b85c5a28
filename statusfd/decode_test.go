// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package statusfd

import (
	"reflect"
	"testing"
	"time"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			"goodsig",
			"GOODSIG AAAABBBBCCCCDDDD Alice <alice@example.org>",
			&GoodSig{KeyID: "AAAABBBBCCCCDDDD", UserID: "Alice <alice@example.org>"},
		},
		{
			"badsig",
			"BADSIG AAAABBBBCCCCDDDD Mallory",
			&BadSig{KeyID: "AAAABBBBCCCCDDDD", UserID: "Mallory"},
		},
		{
			"validsig",
			"VALIDSIG 0123456789ABCDEF0123456789ABCDEF01234567 2024-01-01 1700000000 0 4 0 1 8 00 FEDCBA9876543210FEDCBA9876543210FEDCBA98",
			&ValidSig{
				Fingerprint:        "0123456789ABCDEF0123456789ABCDEF01234567",
				Created:            time.Unix(1700000000, 0).UTC(),
				Version:            4,
				PubkeyAlgo:         "RSA",
				HashAlgo:           "SHA256",
				SigClass:           "00",
				PrimaryFingerprint: "FEDCBA9876543210FEDCBA9876543210FEDCBA98",
			},
		},
		{
			"errsig missing key",
			"ERRSIG AAAABBBBCCCCDDDD 1 8 00 1700000000 9 -",
			&ErrSig{
				KeyID:      "AAAABBBBCCCCDDDD",
				PubkeyAlgo: "RSA",
				HashAlgo:   "SHA256",
				SigClass:   "00",
				Created:    time.Unix(1700000000, 0).UTC(),
				ReasonCode: 9,
				Fingerprint: "-",
			},
		},
		{
			"trust",
			"TRUST_ULTIMATE 0 pgp",
			&TrustLevel{Degree: TrustUltimate, Model: "pgp"},
		},
		{
			"need passphrase",
			"NEED_PASSPHRASE AAAABBBBCCCCDDDD 1111222233334444 1 0",
			&NeedPassphrase{MainKeyID: "AAAABBBBCCCCDDDD", SubkeyID: "1111222233334444", PubkeyAlgo: "RSA"},
		},
		{
			"get hidden",
			"GET_HIDDEN passphrase.enter",
			&InputRequest{Type: InputHidden, PromptID: "passphrase.enter"},
		},
		{
			"get bool",
			"GET_BOOL delete_key.okay",
			&InputRequest{Type: InputBool, PromptID: "delete_key.okay"},
		},
		{
			"get line",
			"GET_LINE keyedit.prompt",
			&InputRequest{Type: InputLine, PromptID: "keyedit.prompt"},
		},
		{
			"import result",
			"IMPORT_RES 2 0 1 0 1 0 0 0 0 0 0 0 0 0",
			&ImportRes{Count: 2, Imported: 1, Unchanged: 1},
		},
		{
			"key created",
			"KEY_CREATED B 0123456789ABCDEF0123456789ABCDEF01234567",
			&KeyCreated{Type: 'B', Fingerprint: "0123456789ABCDEF0123456789ABCDEF01234567"},
		},
		{
			"escaped argument keeps its space",
			"USERID_HINT AAAABBBBCCCCDDDD Alice%20Example",
			&UserIDHint{KeyID: "AAAABBBBCCCCDDDD", UserID: "Alice Example"},
		},
		{
			"inv recp",
			"INV_RECP 10 bob@example.org",
			&InvRecp{Reason: 10, Recipient: "bob@example.org"},
		},
		{
			"failure",
			"FAILURE decrypt 11",
			&Failure{Operation: "decrypt", Code: 11},
		},
		{
			"short argument list",
			"BAD_PASSPHRASE",
			&BadPassphrase{},
		},
		{"unknown keyword", "FANCY_NEW_THING a b c", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeLine(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeLine(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

// Every registered keyword must decode without panicking on an empty
// argument list.
func TestDecodeTotality(t *testing.T) {
	for keyword := range decoders {
		if ev := Decode(keyword, nil); ev == nil {
			t.Errorf("Decode(%q, nil) = nil, want an event", keyword)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"0", time.Time{}},
		{"1700000000", time.Unix(1700000000, 0).UTC()},
		{"20240115T120000", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"garbage", time.Time{}},
	}
	for _, tt := range tests {
		if got := ParseTime(tt.in); !got.Equal(tt.want) {
			t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAlgoNames(t *testing.T) {
	if got := PubkeyAlgoName("17"); got != "DSA" {
		t.Errorf("PubkeyAlgoName(17) = %q", got)
	}
	if got := CipherAlgoName("9"); got != "AES256" {
		t.Errorf("CipherAlgoName(9) = %q", got)
	}
	if got := HashAlgoName("999"); got != "999" {
		t.Errorf("HashAlgoName fallback = %q, want raw code", got)
	}
}
