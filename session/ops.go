// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gpgbridge/gpgbridge/internal/secmem"
	"github.com/gpgbridge/gpgbridge/keylist"
	"github.com/gpgbridge/gpgbridge/statusfd"
)

// Encrypt encrypts src into dst for the given recipients and/or a
// symmetric passphrase.
func (e *Engine) Encrypt(src io.Reader, dst io.Writer, opts EncryptOptions) error {
	args := []string{"--batch", "--yes"}
	if opts.Armor {
		args = append(args, "--armor")
	}
	if opts.AlwaysTrust {
		args = append(args, "--trust-model", "always")
	}
	if opts.LocalUser != "" {
		args = append(args, "--local-user", opts.LocalUser)
	}
	for _, r := range opts.Recipients {
		args = append(args, "--recipient", r)
	}
	switch {
	case opts.Symmetric && len(opts.Recipients) > 0:
		args = append(args, "--symmetric", "--encrypt")
	case opts.Symmetric:
		args = append(args, "--symmetric")
	default:
		args = append(args, "--encrypt")
	}
	if opts.Sign {
		args = append(args, "--sign")
	}

	s, err := e.Start(NewState(nil), Handlers{Password: opts.Password}, args...)
	if err != nil {
		return err
	}
	defer s.Dispose()

	res := s.Pump(src, dst)
	if err := s.Result(); err != nil {
		return err
	}
	if !res.SourceDrained || !res.SinkDrained {
		return errors.New("encryption stream ended prematurely")
	}
	return nil
}

// Decrypt decrypts src into dst and returns verification results for any
// signatures the message carried.
func (e *Engine) Decrypt(src io.Reader, dst io.Writer, opts DecryptOptions) (*VerifyResult, error) {
	collector := newVerifyCollector()
	s, err := e.Start(NewState(nil),
		Handlers{Password: opts.Password, OnEvent: collector.observe},
		"--batch", "--decrypt")
	if err != nil {
		return nil, err
	}
	defer s.Dispose()

	res := s.Pump(src, dst)
	if err := s.Result(); err != nil {
		return collector.result(), err
	}
	if !res.SinkDrained {
		return collector.result(), errors.New("decryption stream ended prematurely")
	}
	return collector.result(), nil
}

// Sign signs src into dst.
func (e *Engine) Sign(src io.Reader, dst io.Writer, opts SignOptions) error {
	args := []string{"--batch", "--yes"}
	if opts.Armor {
		args = append(args, "--armor")
	}
	if opts.LocalUser != "" {
		args = append(args, "--local-user", opts.LocalUser)
	}
	switch {
	case opts.ClearSign:
		args = append(args, "--clearsign")
	case opts.Detached:
		args = append(args, "--detach-sign")
	default:
		args = append(args, "--sign")
	}

	s, err := e.Start(NewState(nil), Handlers{Password: opts.Password}, args...)
	if err != nil {
		return err
	}
	defer s.Dispose()

	res := s.Pump(src, dst)
	if err := s.Result(); err != nil {
		return err
	}
	if !res.SourceDrained || !res.SinkDrained {
		return errors.New("signing stream ended prematurely")
	}
	return nil
}

// Verify checks an inline or clearsigned message read from src.
func (e *Engine) Verify(src io.Reader) (*VerifyResult, error) {
	return e.verify(src, "--verify")
}

// VerifyDetached checks the detached signature at sigPath against the data
// read from src.
func (e *Engine) VerifyDetached(sigPath string, src io.Reader) (*VerifyResult, error) {
	return e.verify(src, "--verify", sigPath, "-")
}

func (e *Engine) verify(src io.Reader, args ...string) (*VerifyResult, error) {
	collector := newVerifyCollector()
	s, err := e.Start(NewState(nil), Handlers{OnEvent: collector.observe},
		append([]string{"--batch"}, args...)...)
	if err != nil {
		return nil, err
	}
	defer s.Dispose()

	s.Pump(src, io.Discard)
	if err := s.Result(); err != nil {
		// A bad signature still produces a result the caller wants to see.
		return collector.result(), err
	}
	return collector.result(), nil
}

// Import reads keys from src into the keyring.
func (e *Engine) Import(src io.Reader) (*ImportResult, error) {
	collector := newImportCollector()
	s, err := e.Start(NewState(nil), Handlers{OnEvent: collector.observe},
		"--batch", "--import")
	if err != nil {
		return nil, err
	}
	defer s.Dispose()

	s.Pump(src, io.Discard)
	if err := s.Result(); err != nil {
		return collector.result, err
	}
	e.InvalidateKeyCache()
	return collector.result, nil
}

// Export writes the selected keys to dst.
func (e *Engine) Export(dst io.Writer, opts ExportOptions) (*ExportResult, error) {
	args := []string{"--batch"}
	if opts.Armor {
		args = append(args, "--armor")
	}
	if opts.Secret {
		args = append(args, "--export-secret-keys")
	} else {
		args = append(args, "--export")
	}
	args = append(args, opts.Patterns...)

	result := &ExportResult{}
	h := Handlers{OnEvent: func(ev statusfd.Event) {
		if res, ok := ev.(*statusfd.ExportRes); ok {
			result.Considered = res.Count
			result.Exported = res.Exported
		}
	}}
	s, err := e.Start(NewState(nil), h, args...)
	if err != nil {
		return nil, err
	}
	defer s.Dispose()

	res := s.Pump(nil, dst)
	if err := s.Result(); err != nil {
		return result, err
	}
	if !res.SinkDrained {
		return result, errors.New("export stream ended prematurely")
	}
	return result, nil
}

// GenerateKey creates a new key pair unattended and returns its
// fingerprint. The parameter block (which may carry the passphrase) is
// zeroed before returning.
func (e *Engine) GenerateKey(params KeyParams) (string, error) {
	block := buildParamBlock(params)
	defer secmem.Zero(block)

	var fingerprint string
	h := Handlers{OnEvent: func(ev statusfd.Event) {
		if created, ok := ev.(*statusfd.KeyCreated); ok {
			fingerprint = created.Fingerprint
		}
	}}
	s, err := e.Start(NewState(nil), h, "--batch", "--gen-key")
	if err != nil {
		return "", err
	}
	defer s.Dispose()

	s.Pump(bytes.NewReader(block), io.Discard)
	if err := s.Result(); err != nil {
		return "", err
	}
	if fingerprint == "" {
		return "", errors.New("engine reported no created key")
	}
	e.InvalidateKeyCache()
	return fingerprint, nil
}

// buildParamBlock renders the engine's unattended-generation directives.
func buildParamBlock(params KeyParams) []byte {
	var b bytes.Buffer
	writeParam := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, value)
		}
	}

	b.WriteString("%echo generating key\n")
	if params.Type == "" {
		b.WriteString("Key-Type: default\n")
	} else {
		writeParam("Key-Type", params.Type)
	}
	if params.Length > 0 {
		fmt.Fprintf(&b, "Key-Length: %d\n", params.Length)
	}
	writeParam("Subkey-Type", params.SubkeyTyp)
	if params.SubkeyLen > 0 {
		fmt.Fprintf(&b, "Subkey-Length: %d\n", params.SubkeyLen)
	}
	writeParam("Name-Real", params.NameReal)
	writeParam("Name-Comment", params.NameComment)
	writeParam("Name-Email", params.NameEmail)
	if params.ExpireDate != "" {
		writeParam("Expire-Date", params.ExpireDate)
	} else {
		b.WriteString("Expire-Date: 0\n")
	}
	switch {
	case params.NoProtection:
		b.WriteString("%no-protection\n")
	case len(params.Passphrase) > 0:
		b.WriteString("Passphrase: ")
		b.Write(params.Passphrase)
		b.WriteByte('\n')
	}
	b.WriteString("%commit\n")
	return b.Bytes()
}

// DeleteKey removes a key from the keyring.
func (e *Engine) DeleteKey(fingerprint string, opts DeleteKeyOptions) error {
	args := []string{"--batch", "--yes"}
	if opts.Secret {
		args = append(args, "--delete-secret-and-public-key")
	} else {
		args = append(args, "--delete-keys")
	}
	args = append(args, fingerprint)

	// --yes suppresses most confirmations, but deletion of a secret key
	// still asks explicitly.
	h := Handlers{OnInput: func(s *Session, req *statusfd.InputRequest) bool {
		if req.Type == statusfd.InputBool && strings.HasPrefix(req.PromptID, "delete_key") {
			if err := s.SendLine("Y"); err != nil {
				Logger.Debug("delete confirmation failed", "error", err)
			}
			return true
		}
		return false
	}}
	s, err := e.Start(NewState(nil), h, args...)
	if err != nil {
		return err
	}
	defer s.Dispose()

	s.Pump(nil, io.Discard)
	if err := s.Result(); err != nil {
		return err
	}
	e.InvalidateKeyCache()
	return nil
}

// ListKeys lists public keys matching the patterns; no pattern lists the
// whole keyring. A pattern that matches nothing is an empty result, not an
// error. Full listings are cached until the keyring changes.
func (e *Engine) ListKeys(patterns ...string) ([]*keylist.Key, error) {
	if len(patterns) == 0 {
		e.mu.Lock()
		cached := e.cachedKeys
		e.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
	}

	keys, err := e.listKeys("--list-keys", patterns)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		e.mu.Lock()
		e.cachedKeys = keys
		e.mu.Unlock()
	}
	return keys, nil
}

// ListSecretKeys lists secret keys matching the patterns.
func (e *Engine) ListSecretKeys(patterns ...string) ([]*keylist.Key, error) {
	return e.listKeys("--list-secret-keys", patterns)
}

func (e *Engine) listKeys(mode string, patterns []string) ([]*keylist.Key, error) {
	args := []string{"--batch", "--with-colons", "--fixed-list-mode", "--with-fingerprint", mode}
	args = append(args, patterns...)

	s, err := e.Start(NewState(nil), Handlers{}, args...)
	if err != nil {
		return nil, err
	}
	defer s.Dispose()

	var out bytes.Buffer
	s.Pump(nil, &out)
	if err := s.Result(); err != nil {
		// "No such key" is an expected outcome for a lookup; only report
		// failures that carry some other classified reason.
		var opErr *OperationError
		if errors.As(err, &opErr) && opErr.Reasons&^ReasonKeyNotFound == 0 {
			return nil, nil
		}
		return nil, err
	}
	return keylist.Parse(out.String()), nil
}

// InvalidateKeyCache drops the cached full key listing. Mutating
// operations call it automatically; the keyring watcher calls it when
// another process touches the keyring.
func (e *Engine) InvalidateKeyCache() {
	e.mu.Lock()
	e.cachedKeys = nil
	e.mu.Unlock()
}

// SearchKeys queries the configured keyserver. A pattern that matches
// nothing is an empty result, not an error.
func (e *Engine) SearchKeys(pattern string) ([]*keylist.Key, error) {
	args := []string{"--batch", "--with-colons"}
	args = append(args, e.keyserverArgs()...)
	args = append(args, "--search-keys", pattern)

	s, err := e.StartInteractive(NewState(nil), args...)
	if err != nil {
		return nil, err
	}
	defer s.Dispose()

	var keys []*keylist.Key
	var cur *keylist.Key
	for {
		line, ev, err := s.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if ev != nil {
			// The only prompt search mode issues is the result-selection
			// menu; quitting it ends the listing.
			if req, ok := ev.(*statusfd.InputRequest); ok {
				if req.Type == statusfd.InputHidden {
					s.AnswerHidden()
					continue
				}
				if err := s.SendLine("q"); err != nil {
					return nil, err
				}
			}
			continue
		}
		if k := parseSearchKey(line, &cur); k != nil {
			keys = append(keys, k)
		}
	}

	if err := s.Result(); err != nil {
		var opErr *OperationError
		if errors.As(err, &opErr) && opErr.Reasons&^ReasonKeyNotFound == 0 {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// parseSearchKey consumes one line of the keyserver search listing, whose
// pub records use a reduced layout: keyid, algo, length, created, expires,
// flags. uid records attach to the preceding pub.
func parseSearchKey(line string, cur **keylist.Key) *keylist.Key {
	fields := strings.Split(line, ":")
	switch fields[0] {
	case "pub":
		if len(fields) < 2 {
			return nil
		}
		k := &keylist.Key{
			KeyID:   searchField(fields, 1),
			Algo:    statusfd.PubkeyAlgoName(searchField(fields, 2)),
			Created: statusfd.ParseTime(searchField(fields, 4)),
			Expires: statusfd.ParseTime(searchField(fields, 5)),
		}
		if n := searchField(fields, 3); n != "" {
			fmt.Sscanf(n, "%d", &k.Length)
		}
		if strings.Contains(searchField(fields, 6), "r") {
			k.Validity = "r"
		}
		*cur = k
		return k
	case "uid":
		if *cur == nil {
			return nil
		}
		(*cur).UserIDs = append((*cur).UserIDs, &keylist.UserID{
			Value:   statusfd.Unescape(searchField(fields, 1)),
			Created: statusfd.ParseTime(searchField(fields, 2)),
		})
	}
	return nil
}

func searchField(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// RecvKeys fetches keys from the configured keyserver into the keyring.
func (e *Engine) RecvKeys(keyIDs ...string) (*ImportResult, error) {
	args := []string{"--batch"}
	args = append(args, e.keyserverArgs()...)
	args = append(args, "--recv-keys")
	args = append(args, keyIDs...)

	collector := newImportCollector()
	s, err := e.Start(NewState(nil), Handlers{OnEvent: collector.observe}, args...)
	if err != nil {
		return nil, err
	}
	defer s.Dispose()

	s.Pump(nil, io.Discard)
	if err := s.Result(); err != nil {
		return collector.result, err
	}
	e.InvalidateKeyCache()
	return collector.result, nil
}

// SendKeys publishes keys to the configured keyserver.
func (e *Engine) SendKeys(keyIDs ...string) error {
	args := []string{"--batch"}
	args = append(args, e.keyserverArgs()...)
	args = append(args, "--send-keys")
	args = append(args, keyIDs...)

	s, err := e.Start(NewState(nil), Handlers{}, args...)
	if err != nil {
		return err
	}
	defer s.Dispose()

	s.Pump(nil, io.Discard)
	return s.Result()
}

func (e *Engine) keyserverArgs() []string {
	if e.cfg.Keyserver == "" {
		return nil
	}
	return []string{"--keyserver", e.cfg.Keyserver}
}

// verifyCollector folds the signature-verification event stream into
// SignatureResults. The protocol emits one NEWSIG per signature, then the
// verdict keyword, then VALIDSIG and TRUST_* refinements for the same
// signature.
type verifyCollector struct {
	signatures []*SignatureResult
	cur        *SignatureResult
}

func newVerifyCollector() *verifyCollector { return &verifyCollector{} }

func (c *verifyCollector) begin(status SignatureStatus, keyID, userID string) {
	c.cur = &SignatureResult{Status: status, KeyID: keyID, UserID: userID}
	c.signatures = append(c.signatures, c.cur)
}

func (c *verifyCollector) observe(ev statusfd.Event) {
	switch e := ev.(type) {
	case *statusfd.GoodSig:
		c.begin(SigStatusGood, e.KeyID, e.UserID)
	case *statusfd.BadSig:
		c.begin(SigStatusBad, e.KeyID, e.UserID)
	case *statusfd.ExpSig:
		c.begin(SigStatusExpired, e.KeyID, e.UserID)
	case *statusfd.ExpKeySig:
		c.begin(SigStatusExpiredKey, e.KeyID, e.UserID)
	case *statusfd.RevKeySig:
		c.begin(SigStatusRevokedKey, e.KeyID, e.UserID)
	case *statusfd.ErrSig:
		c.begin(SigStatusError, e.KeyID, "")
		c.cur.Created = e.Created
		c.cur.PubkeyAlgo = e.PubkeyAlgo
		c.cur.HashAlgo = e.HashAlgo
		// Reason code 9 is "missing public key".
		c.cur.MissingKey = e.ReasonCode == 9
	case *statusfd.ValidSig:
		if c.cur != nil {
			c.cur.Fingerprint = e.Fingerprint
			c.cur.PrimaryFingerprint = e.PrimaryFingerprint
			c.cur.Created = e.Created
			c.cur.PubkeyAlgo = e.PubkeyAlgo
			c.cur.HashAlgo = e.HashAlgo
		}
	case *statusfd.TrustLevel:
		if c.cur != nil {
			c.cur.Trust = e.Degree
		}
	}
}

func (c *verifyCollector) result() *VerifyResult {
	return &VerifyResult{Signatures: c.signatures}
}

// importCollector folds IMPORT_OK/IMPORT_RES events into an ImportResult.
type importCollector struct {
	result *ImportResult
}

func newImportCollector() *importCollector {
	return &importCollector{result: &ImportResult{}}
}

func (c *importCollector) observe(ev statusfd.Event) {
	switch e := ev.(type) {
	case *statusfd.ImportOK:
		if e.Fingerprint != "" {
			c.result.Fingerprints = append(c.result.Fingerprints, e.Fingerprint)
		}
	case *statusfd.ImportRes:
		c.result.Considered = e.Count
		c.result.Imported = e.Imported
		c.result.Unchanged = e.Unchanged
		c.result.SecretRead = e.SecretRead
		c.result.SecretImported = e.SecretImported
		c.result.SecretUnchanged = e.SecretUnchanged
		c.result.NotImported = e.NotImported
	}
}
