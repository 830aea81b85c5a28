// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package keyedit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gpgbridge/gpgbridge/statusfd"
)

// LastUserID selects the highest-numbered user id, i.e. the one most
// recently added.
const LastUserID = -1

// resolveUID maps a 1-based user-id index (or LastUserID) to the menu's
// numbering, validated against the current listing.
func resolveUID(ctx *Context, index int) (int, error) {
	if ctx.Current == nil {
		return 0, fmt.Errorf("%w: no key listing available", ErrProtocolViolation)
	}
	n := len(ctx.Current.UserIDs)
	if index == LastUserID {
		index = n
	}
	if index < 1 || index > n {
		return 0, fmt.Errorf("user id %d out of range (key has %d)", index, n)
	}
	return index, nil
}

func resolveSubkey(ctx *Context, index int) (int, error) {
	if ctx.Current == nil {
		return 0, fmt.Errorf("%w: no key listing available", ErrProtocolViolation)
	}
	n := len(ctx.Current.Subkeys)
	if index < 1 || index > n {
		return 0, fmt.Errorf("subkey %d out of range (key has %d)", index, n)
	}
	return index, nil
}

// QuitCommand leaves the menu, saving or discarding pending changes.
type QuitCommand struct {
	Save bool

	sent bool
}

func (c *QuitCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			// The engine came back to the menu after quit was issued.
			return Continue, ctx.Send("quit")
		}
		c.sent = true
		if c.Save {
			return Continue, ctx.Send("save")
		}
		return Continue, ctx.Send("quit")
	case "keyedit.save.okay":
		if c.Save {
			return Continue, ctx.Send("Y")
		}
		return Continue, ctx.Send("N")
	}
	return Next, nil
}

// AddUIDCommand adds a user id. Name, Email and Comment map onto the
// three generation prompts; empty values are sent as empty answers.
type AddUIDCommand struct {
	Name    string
	Email   string
	Comment string

	// MakePrimary enqueues a follow-up that marks the new user id
	// primary once it shows up in the listing.
	MakePrimary bool
	// Preferences, when non-empty, enqueues a follow-up setpref for the
	// new user id.
	Preferences string

	sent bool
}

func (c *AddUIDCommand) MutatesListing() bool { return true }

func (c *AddUIDCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			// Back at the menu: the user id exists now. Queue the
			// follow-ups against the refreshed listing and let the next
			// command take this prompt.
			if c.MakePrimary {
				ctx.Enqueue(&PrimaryUIDCommand{Index: LastUserID})
			}
			if c.Preferences != "" {
				ctx.Enqueue(&SetPreferencesCommand{Index: LastUserID, Preferences: c.Preferences})
			}
			return Next, nil
		}
		c.sent = true
		return Continue, ctx.Send("adduid")
	case "keygen.name":
		return Continue, ctx.Send(c.Name)
	case "keygen.email":
		return Continue, ctx.Send(c.Email)
	case "keygen.comment":
		return Continue, ctx.Send(c.Comment)
	}
	return Next, nil
}

// selector issues "uid N" or "key N" selections before a subcommand.
type selector struct {
	directive string // "uid" or "key"
	index     int
	selected  bool
}

func (s *selector) select_(ctx *Context, resolved int) error {
	s.selected = true
	return ctx.Send(fmt.Sprintf("%s %d", s.directive, resolved))
}

// DeleteUIDCommand removes one user id by listing position.
type DeleteUIDCommand struct {
	Index int

	sel  selector
	sent bool
}

func (c *DeleteUIDCommand) NeedsFreshListing() bool { return true }
func (c *DeleteUIDCommand) MutatesListing() bool    { return true }

func (c *DeleteUIDCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if !c.sel.selected {
			n, err := resolveUID(ctx, c.Index)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "uid", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("deluid")
	case "keyedit.remove.uid.okay":
		return Continue, ctx.Send("Y")
	}
	return Next, nil
}

// RevokeUIDCommand revokes one user id, citing "no longer valid" as the
// revocation reason.
type RevokeUIDCommand struct {
	Index int

	sel  selector
	sent bool
}

func (c *RevokeUIDCommand) NeedsFreshListing() bool { return true }
func (c *RevokeUIDCommand) MutatesListing() bool    { return true }

func (c *RevokeUIDCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if !c.sel.selected {
			n, err := resolveUID(ctx, c.Index)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "uid", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("revuid")
	case "keyedit.revoke.uid.okay":
		return Continue, ctx.Send("Y")
	case "ask_revocation_reason.code":
		// 4 = user id is no longer valid.
		return Continue, ctx.Send("4")
	case "ask_revocation_reason.text":
		return Continue, ctx.Send("")
	case "ask_revocation_reason.okay":
		return Continue, ctx.Send("Y")
	}
	return Next, nil
}

// PrimaryUIDCommand flags one user id as primary. It is a no-op when the
// original listing already had that user id primary and nothing changed
// it since.
type PrimaryUIDCommand struct {
	Index int

	sent bool
}

func (c *PrimaryUIDCommand) NeedsFreshListing() bool { return true }
func (c *PrimaryUIDCommand) MutatesListing() bool    { return true }

func (c *PrimaryUIDCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	if promptID != menuPrompt {
		return Next, nil
	}
	if c.sent {
		return Next, nil
	}
	n, err := resolveUID(ctx, c.Index)
	if err != nil {
		return Continue, err
	}
	if ctx.Current.UserIDs[n-1].Primary {
		return Next, nil
	}
	c.sent = true
	if err := ctx.Send(fmt.Sprintf("uid %d", n)); err != nil {
		return Continue, err
	}
	return Continue, ctx.Send("primary")
}

// SetPreferencesCommand replaces the cipher, digest and compression
// preference string on one user id.
type SetPreferencesCommand struct {
	Index       int
	Preferences string

	sel  selector
	sent bool
}

func (c *SetPreferencesCommand) NeedsFreshListing() bool { return true }
func (c *SetPreferencesCommand) MutatesListing() bool    { return true }

func (c *SetPreferencesCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if !c.sel.selected {
			n, err := resolveUID(ctx, c.Index)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "uid", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("setpref " + c.Preferences)
	case "keyedit.setpref.okay":
		return Continue, ctx.Send("Y")
	}
	return Next, nil
}

// AddSubkeyCommand adds a subkey through the generation sub-dialogue.
// Algo is the menu selection (e.g. "4" for RSA sign-only on current
// engines), Length the key size in bits, Validity an expiry spec like
// "1y" or "0" for never.
type AddSubkeyCommand struct {
	Algo     string
	Length   int
	Validity string

	sent bool
}

func (c *AddSubkeyCommand) MutatesListing() bool { return true }

func (c *AddSubkeyCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		c.sent = true
		return Continue, ctx.Send("addkey")
	case "keygen.algo":
		return Continue, ctx.Send(c.Algo)
	case "keygen.size":
		return Continue, ctx.Send(strconv.Itoa(c.Length))
	case "keygen.curve":
		return Continue, ctx.Send(c.Algo)
	case "keygen.valid":
		if c.Validity == "" {
			return Continue, ctx.Send("0")
		}
		return Continue, ctx.Send(c.Validity)
	}
	return Next, nil
}

// DeleteSubkeyCommand removes one subkey by listing position.
type DeleteSubkeyCommand struct {
	Index int

	sel  selector
	sent bool
}

func (c *DeleteSubkeyCommand) NeedsFreshListing() bool { return true }
func (c *DeleteSubkeyCommand) MutatesListing() bool    { return true }

func (c *DeleteSubkeyCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if !c.sel.selected {
			n, err := resolveSubkey(ctx, c.Index)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "key", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("delkey")
	case "keyedit.remove.subkey.okay":
		return Continue, ctx.Send("Y")
	}
	return Next, nil
}

// RevokeSubkeyCommand revokes one subkey without citing a reason.
type RevokeSubkeyCommand struct {
	Index int

	sel  selector
	sent bool
}

func (c *RevokeSubkeyCommand) NeedsFreshListing() bool { return true }
func (c *RevokeSubkeyCommand) MutatesListing() bool    { return true }

func (c *RevokeSubkeyCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if !c.sel.selected {
			n, err := resolveSubkey(ctx, c.Index)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "key", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("revkey")
	case "keyedit.revoke.subkey.okay":
		return Continue, ctx.Send("Y")
	case "ask_revocation_reason.code":
		return Continue, ctx.Send("0")
	case "ask_revocation_reason.text":
		return Continue, ctx.Send("")
	case "ask_revocation_reason.okay":
		return Continue, ctx.Send("Y")
	}
	return Next, nil
}

// ExpireCommand changes the expiry of the primary key, or of one subkey
// when SubkeyIndex is non-zero.
type ExpireCommand struct {
	// Validity is the engine's expiry notation: "0" never, "30d", "6m",
	// "2y", or an absolute ISO date.
	Validity    string
	SubkeyIndex int

	sel  selector
	sent bool
}

func (c *ExpireCommand) MutatesListing() bool { return true }

func (c *ExpireCommand) NeedsFreshListing() bool { return c.SubkeyIndex != 0 }

func (c *ExpireCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if c.SubkeyIndex != 0 && !c.sel.selected {
			n, err := resolveSubkey(ctx, c.SubkeyIndex)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "key", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("expire")
	case "keygen.valid":
		return Continue, ctx.Send(c.Validity)
	}
	return Next, nil
}

// ChangePassphraseCommand rewraps the secret key. The old passphrase goes
// through the standard password resolution; the new one is supplied here
// and zeroed is the caller's responsibility.
type ChangePassphraseCommand struct {
	New []byte

	sent    bool
	oldSent bool
}

func (c *ChangePassphraseCommand) HandlesHidden() bool { return true }

func (c *ChangePassphraseCommand) Prompt(ctx *Context, promptID string, inputType statusfd.InputType) (Result, error) {
	if inputType == statusfd.InputHidden {
		if !c.oldSent {
			// First hidden prompt unlocks the key with the old secret.
			c.oldSent = true
			ctx.AnswerHidden()
			return Continue, nil
		}
		// Everything after that is the new passphrase, asked twice.
		return Continue, ctx.SendSecret(c.New)
	}
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		c.sent = true
		return Continue, ctx.Send("passwd")
	case "change_passwd.empty.okay":
		if len(c.New) == 0 {
			return Continue, ctx.Send("Y")
		}
		return Continue, ctx.Send("N")
	}
	return Next, nil
}

// SetOwnerTrustCommand sets the key's owner trust. Level follows the
// menu numbering: 1 unknown, 2 none, 3 marginal, 4 full, 5 ultimate.
type SetOwnerTrustCommand struct {
	Level int

	sent bool
}

func (c *SetOwnerTrustCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		c.sent = true
		return Continue, ctx.Send("trust")
	case "edit_ownertrust.value":
		return Continue, ctx.Send(strconv.Itoa(c.Level))
	case "edit_ownertrust.set_ultimate.okay":
		return Continue, ctx.Send("Y")
	}
	return Next, nil
}

// SignKeyCommand certifies the key's user ids with the session's signing
// key.
type SignKeyCommand struct {
	// Local makes a non-exportable certification; Trust a trust
	// signature.
	Local bool
	Trust bool
	// CertLevel answers the certification class question (0 generic
	// through 3 thorough). Zero sends the engine's default.
	CertLevel int
	// TrustDepth and TrustValue apply to trust signatures only.
	TrustDepth int
	TrustValue int

	sent bool
}

func (c *SignKeyCommand) MutatesListing() bool { return true }

func (c *SignKeyCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		c.sent = true
		switch {
		case c.Trust:
			return Continue, ctx.Send("tsign")
		case c.Local:
			return Continue, ctx.Send("lsign")
		default:
			return Continue, ctx.Send("sign")
		}
	case "sign_uid.okay":
		return Continue, ctx.Send("Y")
	case "sign_uid.class":
		if c.CertLevel == 0 {
			return Continue, ctx.Send("")
		}
		return Continue, ctx.Send(strconv.Itoa(c.CertLevel))
	case "sign_uid.expire":
		return Continue, ctx.Send("Y")
	case "trustsig_prompt.trust_value":
		return Continue, ctx.Send(strconv.Itoa(c.TrustValue))
	case "trustsig_prompt.trust_depth":
		return Continue, ctx.Send(strconv.Itoa(c.TrustDepth))
	case "trustsig_prompt.trust_regexp":
		return Continue, ctx.Send("")
	}
	return Next, nil
}

// sigCursor tracks the signature most recently printed by the engine
// during delsig/revsig, so confirmation prompts can be matched against
// the signer the caller named.
type sigCursor struct {
	keyID string
}

func (s *sigCursor) observe(line string) {
	if !strings.HasPrefix(line, "sig:") && !strings.HasPrefix(line, "rev:") {
		return
	}
	fields := strings.Split(line, ":")
	if len(fields) > 4 {
		s.keyID = fields[4]
	}
}

// matches reports whether the cursor's signature was issued by keyID,
// comparing on the long key-id suffix so short ids still match.
func (s *sigCursor) matches(keyID string) bool {
	if s.keyID == "" || keyID == "" {
		return false
	}
	return strings.HasSuffix(s.keyID, keyID) || strings.HasSuffix(keyID, s.keyID)
}

// DeleteSignatureCommand removes certifications made by SignerKeyID from
// one user id. The engine walks every signature on the selected user id
// and asks per signature; the command answers yes only for the matching
// signer.
type DeleteSignatureCommand struct {
	Index       int
	SignerKeyID string

	sel    selector
	sent   bool
	cursor sigCursor
}

func (c *DeleteSignatureCommand) NeedsFreshListing() bool { return true }
func (c *DeleteSignatureCommand) MutatesListing() bool    { return true }

func (c *DeleteSignatureCommand) HandleLine(ctx *Context, line string) error {
	c.cursor.observe(line)
	return nil
}

// RepeatsPrompt marks the per-signature questions: the engine asks one
// per signature on the selected user id.
func (c *DeleteSignatureCommand) RepeatsPrompt(promptID string) bool {
	switch promptID {
	case "keyedit.delsig.valid", "keyedit.delsig.unknown",
		"keyedit.delsig.invalid", "keyedit.delsig.selfsig":
		return true
	}
	return false
}

func (c *DeleteSignatureCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if !c.sel.selected {
			n, err := resolveUID(ctx, c.Index)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "uid", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("delsig")
	case "keyedit.delsig.valid", "keyedit.delsig.unknown", "keyedit.delsig.invalid":
		if c.cursor.matches(c.SignerKeyID) {
			return Continue, ctx.Send("Y")
		}
		return Continue, ctx.Send("N")
	case "keyedit.delsig.selfsig":
		// Never remove the self-signature.
		return Continue, ctx.Send("N")
	}
	return Next, nil
}

// RevokeSignatureCommand revokes certifications made by SignerKeyID on
// one user id.
type RevokeSignatureCommand struct {
	Index       int
	SignerKeyID string

	sel    selector
	sent   bool
	cursor sigCursor
}

func (c *RevokeSignatureCommand) NeedsFreshListing() bool { return true }
func (c *RevokeSignatureCommand) MutatesListing() bool    { return true }

func (c *RevokeSignatureCommand) HandleLine(ctx *Context, line string) error {
	c.cursor.observe(line)
	return nil
}

func (c *RevokeSignatureCommand) RepeatsPrompt(promptID string) bool {
	return promptID == "ask_revoke_sig.one"
}

func (c *RevokeSignatureCommand) Prompt(ctx *Context, promptID string, _ statusfd.InputType) (Result, error) {
	switch promptID {
	case menuPrompt:
		if c.sent {
			return Next, nil
		}
		if !c.sel.selected {
			n, err := resolveUID(ctx, c.Index)
			if err != nil {
				return Continue, err
			}
			c.sel = selector{directive: "uid", index: n}
			return Continue, c.sel.select_(ctx, n)
		}
		c.sent = true
		return Continue, ctx.Send("revsig")
	case "ask_revoke_sig.one":
		if c.cursor.matches(c.SignerKeyID) {
			return Continue, ctx.Send("Y")
		}
		return Continue, ctx.Send("N")
	case "ask_revoke_sig.okay":
		return Continue, ctx.Send("Y")
	case "ask_revocation_reason.code":
		return Continue, ctx.Send("0")
	case "ask_revocation_reason.text":
		return Continue, ctx.Send("")
	case "ask_revocation_reason.okay":
		return Continue, ctx.Send("Y")
	}
	return Next, nil
}
