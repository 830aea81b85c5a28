// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package statusfd

import (
	"strconv"
	"strings"
	"time"
)

// Marker is the literal token that opens every status line.
const Marker = "[GNUPG:]"

// Decode parses one status line's keyword and argument list into a typed
// event. Unknown keywords yield nil: the protocol grows keywords over time
// and an engine must never fail a whole line for one it does not know.
// Arguments must already be percent-unescaped.
func Decode(keyword string, args []string) Event {
	ctor, ok := decoders[keyword]
	if !ok {
		return nil
	}
	return ctor(args)
}

// DecodeLine splits a full status line (everything after the marker) and
// decodes it. Fields are split before unescaping so an escaped space
// inside an argument stays part of that argument. Returns nil for empty
// or unknown lines.
func DecodeLine(line string) Event {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	for i, f := range args {
		args[i] = Unescape(f)
	}
	return Decode(fields[0], args)
}

// decoders maps each known keyword to its event constructor. Constructors
// tolerate short argument lists: optional trailing fields simply decode to
// their zero values.
var decoders = map[string]func(args []string) Event{
	"NEWSIG":    func(a []string) Event { return &NewSig{Signer: arg(a, 0)} },
	"GOODSIG":   func(a []string) Event { return &GoodSig{KeyID: arg(a, 0), UserID: rest(a, 1)} },
	"EXPSIG":    func(a []string) Event { return &ExpSig{KeyID: arg(a, 0), UserID: rest(a, 1)} },
	"EXPKEYSIG": func(a []string) Event { return &ExpKeySig{KeyID: arg(a, 0), UserID: rest(a, 1)} },
	"REVKEYSIG": func(a []string) Event { return &RevKeySig{KeyID: arg(a, 0), UserID: rest(a, 1)} },
	"BADSIG":    func(a []string) Event { return &BadSig{KeyID: arg(a, 0), UserID: rest(a, 1)} },
	"ERRSIG": func(a []string) Event {
		return &ErrSig{
			KeyID:       arg(a, 0),
			PubkeyAlgo:  PubkeyAlgoName(arg(a, 1)),
			HashAlgo:    HashAlgoName(arg(a, 2)),
			SigClass:    arg(a, 3),
			Created:     ParseTime(arg(a, 4)),
			ReasonCode:  atoi(arg(a, 5)),
			Fingerprint: arg(a, 6),
		}
	},
	"VALIDSIG": func(a []string) Event {
		return &ValidSig{
			Fingerprint:        arg(a, 0),
			Created:            ParseTime(arg(a, 2)),
			Expires:            ParseTime(arg(a, 3)),
			Version:            atoi(arg(a, 4)),
			PubkeyAlgo:         PubkeyAlgoName(arg(a, 6)),
			HashAlgo:           HashAlgoName(arg(a, 7)),
			SigClass:           arg(a, 8),
			PrimaryFingerprint: arg(a, 9),
		}
	},
	"SIG_ID": func(a []string) Event { return &SigID{ID: arg(a, 0), Created: ParseTime(arg(a, 1))} },

	"TRUST_UNDEFINED": trustDecoder(TrustUndefined),
	"TRUST_NEVER":     trustDecoder(TrustNever),
	"TRUST_MARGINAL":  trustDecoder(TrustMarginal),
	"TRUST_FULLY":     trustDecoder(TrustFully),
	"TRUST_ULTIMATE":  trustDecoder(TrustUltimate),

	"KEYEXPIRED":     func(a []string) Event { return &KeyExpired{ExpiredAt: ParseTime(arg(a, 0))} },
	"KEYREVOKED":     func(a []string) Event { return &KeyRevoked{} },
	"NO_PUBKEY":      func(a []string) Event { return &NoPubkey{KeyID: arg(a, 0)} },
	"NO_SECKEY":      func(a []string) Event { return &NoSeckey{KeyID: arg(a, 0)} },
	"KEY_CONSIDERED": func(a []string) Event { return &KeyConsidered{Fingerprint: arg(a, 0), Flags: atoi(arg(a, 1))} },
	"ALREADY_SIGNED": func(a []string) Event { return &AlreadySigned{KeyID: arg(a, 0)} },

	"IMPORTED":       func(a []string) Event { return &Imported{KeyID: arg(a, 0), UserID: rest(a, 1)} },
	"IMPORT_OK":      func(a []string) Event { return &ImportOK{Reason: atoi(arg(a, 0)), Fingerprint: arg(a, 1)} },
	"IMPORT_PROBLEM": func(a []string) Event { return &ImportProblem{Reason: atoi(arg(a, 0)), Fingerprint: arg(a, 1)} },
	"IMPORT_RES": func(a []string) Event {
		return &ImportRes{
			Count:           atoi(arg(a, 0)),
			NoUserID:        atoi(arg(a, 1)),
			Imported:        atoi(arg(a, 2)),
			Unchanged:       atoi(arg(a, 4)),
			NewUserIDs:      atoi(arg(a, 5)),
			NewSubkeys:      atoi(arg(a, 6)),
			NewSignatures:   atoi(arg(a, 7)),
			NewRevocations:  atoi(arg(a, 8)),
			SecretRead:      atoi(arg(a, 9)),
			SecretImported:  atoi(arg(a, 10)),
			SecretUnchanged: atoi(arg(a, 11)),
			NotImported:     atoi(arg(a, 13)),
		}
	},
	"EXPORTED": func(a []string) Event { return &Exported{Fingerprint: arg(a, 0)} },
	"EXPORT_RES": func(a []string) Event {
		return &ExportRes{Count: atoi(arg(a, 0)), Secret: atoi(arg(a, 1)), Exported: atoi(arg(a, 2))}
	},

	"BEGIN_DECRYPTION":  func(a []string) Event { return &BeginDecryption{} },
	"END_DECRYPTION":    func(a []string) Event { return &EndDecryption{} },
	"DECRYPTION_OKAY":   func(a []string) Event { return &DecryptionOkay{} },
	"DECRYPTION_FAILED": func(a []string) Event { return &DecryptionFailed{} },
	"BEGIN_ENCRYPTION": func(a []string) Event {
		return &BeginEncryption{MDCMethod: atoi(arg(a, 0)), CipherAlgo: CipherAlgoName(arg(a, 1))}
	},
	"END_ENCRYPTION": func(a []string) Event { return &EndEncryption{} },
	"BEGIN_SIGNING":  func(a []string) Event { return &BeginSigning{} },
	"SIG_CREATED": func(a []string) Event {
		return &SigCreated{
			Type:        firstByte(arg(a, 0)),
			PubkeyAlgo:  PubkeyAlgoName(arg(a, 1)),
			HashAlgo:    HashAlgoName(arg(a, 2)),
			SigClass:    arg(a, 3),
			Created:     ParseTime(arg(a, 4)),
			Fingerprint: arg(a, 5),
		}
	},
	"PLAINTEXT": func(a []string) Event {
		return &Plaintext{Format: firstByte(arg(a, 0)), Created: ParseTime(arg(a, 1)), Name: rest(a, 2)}
	},
	"PLAINTEXT_LENGTH": func(a []string) Event { return &PlaintextLength{Length: uint64(atoi(arg(a, 0)))} },
	"ENC_TO": func(a []string) Event {
		return &EncTo{KeyID: arg(a, 0), PubkeyAlgo: PubkeyAlgoName(arg(a, 1))}
	},

	"USERID_HINT": func(a []string) Event { return &UserIDHint{KeyID: arg(a, 0), UserID: rest(a, 1)} },
	"NEED_PASSPHRASE": func(a []string) Event {
		return &NeedPassphrase{MainKeyID: arg(a, 0), SubkeyID: arg(a, 1), PubkeyAlgo: PubkeyAlgoName(arg(a, 2))}
	},
	"NEED_PASSPHRASE_SYM": func(a []string) Event {
		return &NeedPassphraseSym{CipherAlgo: CipherAlgoName(arg(a, 0)), S2KMode: atoi(arg(a, 1)), S2KHash: atoi(arg(a, 2))}
	},
	"NEED_PASSPHRASE_PIN": func(a []string) Event {
		return &NeedPassphrasePIN{CardType: arg(a, 0), ChvNo: arg(a, 1), SerialNo: arg(a, 2)}
	},
	"MISSING_PASSPHRASE": func(a []string) Event { return &MissingPassphrase{} },
	"BAD_PASSPHRASE":     func(a []string) Event { return &BadPassphrase{KeyID: arg(a, 0)} },
	"GOOD_PASSPHRASE":    func(a []string) Event { return &GoodPassphrase{} },
	"PINENTRY_LAUNCHED":  func(a []string) Event { return &PinentryLaunched{Info: rest(a, 0)} },

	"GET_LINE":   inputDecoder(InputLine),
	"GET_BOOL":   inputDecoder(InputBool),
	"GET_HIDDEN": inputDecoder(InputHidden),
	"GOT_IT":     func(a []string) Event { return &GotIt{} },

	"INV_RECP":   func(a []string) Event { return &InvRecp{Reason: atoi(arg(a, 0)), Recipient: rest(a, 1)} },
	"INV_SGNR":   func(a []string) Event { return &InvSgnr{Reason: atoi(arg(a, 0)), Sender: rest(a, 1)} },
	"NODATA":     func(a []string) Event { return &NoData{Code: atoi(arg(a, 0))} },
	"UNEXPECTED": func(a []string) Event { return &Unexpected{} },
	"ERROR":      func(a []string) Event { return &ErrorEvent{Location: arg(a, 0), Code: atoi(arg(a, 1))} },
	"FAILURE":    func(a []string) Event { return &Failure{Operation: arg(a, 0), Code: atoi(arg(a, 1))} },
	"SUCCESS":    func(a []string) Event { return &Success{Operation: arg(a, 0)} },
	"PROGRESS": func(a []string) Event {
		return &Progress{What: arg(a, 0), Char: arg(a, 1), Current: atoi(arg(a, 2)), Total: atoi(arg(a, 3))}
	},

	"KEY_CREATED": func(a []string) Event {
		return &KeyCreated{Type: firstByte(arg(a, 0)), Fingerprint: arg(a, 1), Handle: arg(a, 2)}
	},
	"KEY_NOT_CREATED": func(a []string) Event { return &KeyNotCreated{Handle: arg(a, 0)} },
	"DELETE_PROBLEM":  func(a []string) Event { return &DeleteProblem{Reason: atoi(arg(a, 0))} },
	"CARDCTRL":        func(a []string) Event { return &CardCtrl{What: atoi(arg(a, 0)), Serial: arg(a, 1)} },
}

// The first TRUST_* argument is an error code; the validation model
// follows it.
func trustDecoder(d TrustDegree) func([]string) Event {
	return func(a []string) Event { return &TrustLevel{Degree: d, Model: arg(a, 1)} }
}

func inputDecoder(t InputType) func([]string) Event {
	return func(a []string) Event { return &InputRequest{Type: t, PromptID: arg(a, 0)} }
}

// arg returns args[i] or "" when the list is shorter; the protocol marks
// many trailing fields optional.
func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// rest joins args[i:] with single spaces. Used for free-text trailing
// fields (user IDs) that were split by the tokenizer.
func rest(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return strings.Join(args[i:], " ")
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func firstByte(s string) byte {
	if s == "" {
		return 0
	}
	return s[0]
}

// ParseTime accepts the two timestamp encodings the protocol uses:
// Unix-epoch seconds, or ISO-8601 basic format (20060102T150405).
// Empty and "0" both mean "not present".
func ParseTime(s string) time.Time {
	if s == "" || s == "0" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if t, err := time.Parse("20060102T150405", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// Numeric algorithm codes, per RFC 4880 registries. Unrecognized codes fall
// back to the raw numeric string so a newer engine never breaks decoding.

var pubkeyAlgoNames = map[string]string{
	"1":   "RSA",
	"2":   "RSA-E",
	"3":   "RSA-S",
	"16":  "ELG-E",
	"17":  "DSA",
	"18":  "ECDH",
	"19":  "ECDSA",
	"20":  "ELG",
	"22":  "EdDSA",
	"105": "Ed25519",
	"110": "X25519",
}

var cipherAlgoNames = map[string]string{
	"0":  "NONE",
	"1":  "IDEA",
	"2":  "3DES",
	"3":  "CAST5",
	"4":  "BLOWFISH",
	"7":  "AES",
	"8":  "AES192",
	"9":  "AES256",
	"10": "TWOFISH",
	"11": "CAMELLIA128",
	"12": "CAMELLIA192",
	"13": "CAMELLIA256",
}

var hashAlgoNames = map[string]string{
	"1":  "MD5",
	"2":  "SHA1",
	"3":  "RIPEMD160",
	"8":  "SHA256",
	"9":  "SHA384",
	"10": "SHA512",
	"11": "SHA224",
	"12": "SHA3-256",
	"14": "SHA3-512",
}

// PubkeyAlgoName maps a numeric public-key algorithm code to its canonical
// name, falling back to the code itself.
func PubkeyAlgoName(code string) string {
	if name, ok := pubkeyAlgoNames[code]; ok {
		return name
	}
	return code
}

// CipherAlgoName maps a numeric symmetric-cipher code to its canonical name.
func CipherAlgoName(code string) string {
	if name, ok := cipherAlgoNames[code]; ok {
		return name
	}
	return code
}

// HashAlgoName maps a numeric hash-algorithm code to its canonical name.
func HashAlgoName(code string) string {
	if name, ok := hashAlgoNames[code]; ok {
		return name
	}
	return code
}
