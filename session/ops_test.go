// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gpgbridge/gpgbridge/statusfd"
)

// End-to-end decrypt against a scripted child: ciphertext in, plaintext
// out, signature verdicts collected from the status channel.
func TestDecryptEndToEnd(t *testing.T) {
	e := fakeEngine(t, `
printf '[GNUPG:] BEGIN_DECRYPTION\n' >&3
cat
printf '[GNUPG:] DECRYPTION_OKAY\n' >&3
printf '[GNUPG:] GOODSIG AAAABBBBCCCCDDDD Alice <alice@example.org>\n' >&3
printf '[GNUPG:] VALIDSIG 0123456789ABCDEF0123456789ABCDEF01234567 2024-01-15 1700000000 0 4 0 1 8 00 0123456789ABCDEF0123456789ABCDEF01234567\n' >&3
printf '[GNUPG:] TRUST_ULTIMATE 0 pgp\n' >&3
printf '[GNUPG:] END_DECRYPTION\n' >&3
`)
	ciphertext := []byte("pretend this is OpenPGP data")
	var plaintext bytes.Buffer

	result, err := e.Decrypt(bytes.NewReader(ciphertext), &plaintext, DecryptOptions{})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plaintext.Bytes(), ciphertext) {
		t.Errorf("plaintext = %q", plaintext.String())
	}
	if len(result.Signatures) != 1 {
		t.Fatalf("got %d signatures, want 1", len(result.Signatures))
	}
	sig := result.Signatures[0]
	if sig.Status != SigStatusGood {
		t.Errorf("Status = %v", sig.Status)
	}
	if sig.Fingerprint != "0123456789ABCDEF0123456789ABCDEF01234567" {
		t.Errorf("Fingerprint = %q", sig.Fingerprint)
	}
	if sig.Trust != statusfd.TrustUltimate {
		t.Errorf("Trust = %v", sig.Trust)
	}
	if !result.AllGood() {
		t.Error("AllGood = false for a single good signature")
	}
}

func TestDecryptNoSecretKey(t *testing.T) {
	e := fakeEngine(t, `
cat > /dev/null
echo 'gpg: decryption failed: No secret key' >&2
printf '[GNUPG:] DECRYPTION_FAILED\n' >&3
exit 2
`)
	_, err := e.Decrypt(strings.NewReader("data"), &bytes.Buffer{}, DecryptOptions{})
	if err == nil {
		t.Fatal("Decrypt: expected an error")
	}
	if !errors.Is(err, ErrMissingSecretKey) {
		t.Errorf("error not classified: %v", err)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	e := fakeEngine(t, `
cat > /dev/null
printf '[GNUPG:] NEWSIG\n' >&3
printf '[GNUPG:] BADSIG AAAABBBBCCCCDDDD Mallory <mallory@example.org>\n' >&3
exit 1
`)
	result, err := e.Verify(strings.NewReader("tampered"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(result.Signatures) != 1 || result.Signatures[0].Status != SigStatusBad {
		t.Fatalf("signatures = %+v", result.Signatures)
	}
	if result.AllGood() {
		t.Error("AllGood = true for a bad signature")
	}
}

func TestVerifyMissingKey(t *testing.T) {
	e := fakeEngine(t, `
cat > /dev/null
printf '[GNUPG:] NEWSIG\n' >&3
printf '[GNUPG:] ERRSIG AAAABBBBCCCCDDDD 1 8 00 1700000000 9 -\n' >&3
exit 2
`)
	result, err := e.Verify(strings.NewReader("data"))
	if err == nil {
		t.Fatal("Verify: expected an error")
	}
	// Even a failed verification reports what it saw.
	if len(result.Signatures) != 1 {
		t.Fatalf("signatures = %+v", result.Signatures)
	}
	sig := result.Signatures[0]
	if sig.Status != SigStatusError || !sig.MissingKey {
		t.Errorf("sig = %+v", sig)
	}
}

func TestImport(t *testing.T) {
	e := fakeEngine(t, `
cat > /dev/null
printf '[GNUPG:] IMPORT_OK 1 0123456789ABCDEF0123456789ABCDEF01234567\n' >&3
printf '[GNUPG:] IMPORT_RES 1 0 1 0 0 0 0 0 0 0 0 0 0 0\n' >&3
`)
	result, err := e.Import(strings.NewReader("key material"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Imported != 1 || result.Considered != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Fingerprints) != 1 {
		t.Errorf("fingerprints = %v", result.Fingerprints)
	}
}

func TestGenerateKey(t *testing.T) {
	e := fakeEngine(t, `
cat > /dev/null
printf '[GNUPG:] KEY_CREATED B 0123456789ABCDEF0123456789ABCDEF01234567\n' >&3
`)
	fpr, err := e.GenerateKey(KeyParams{
		NameReal:     "Test Key",
		NameEmail:    "test@example.org",
		NoProtection: true,
	})
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if fpr != "0123456789ABCDEF0123456789ABCDEF01234567" {
		t.Errorf("fingerprint = %q", fpr)
	}
}

func TestGenerateKeyNothingCreated(t *testing.T) {
	e := fakeEngine(t, `cat > /dev/null`)
	if _, err := e.GenerateKey(KeyParams{NoProtection: true}); err == nil {
		t.Error("GenerateKey: expected an error when no KEY_CREATED arrives")
	}
}

func TestBuildParamBlock(t *testing.T) {
	block := string(buildParamBlock(KeyParams{
		Type:        "RSA",
		Length:      3072,
		NameReal:    "Alice",
		NameEmail:   "alice@example.org",
		NameComment: "work",
		ExpireDate:  "2y",
		Passphrase:  []byte("s3cret"),
	}))

	for _, want := range []string{
		"Key-Type: RSA\n",
		"Key-Length: 3072\n",
		"Name-Real: Alice\n",
		"Name-Email: alice@example.org\n",
		"Name-Comment: work\n",
		"Expire-Date: 2y\n",
		"Passphrase: s3cret\n",
		"%commit\n",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("param block missing %q:\n%s", want, block)
		}
	}

	minimal := string(buildParamBlock(KeyParams{NoProtection: true}))
	if !strings.Contains(minimal, "Key-Type: default\n") {
		t.Errorf("no default key type:\n%s", minimal)
	}
	if !strings.Contains(minimal, "%no-protection\n") {
		t.Errorf("no %%no-protection directive:\n%s", minimal)
	}
	if !strings.Contains(minimal, "Expire-Date: 0\n") {
		t.Errorf("no default expiry:\n%s", minimal)
	}
}

func TestListKeys(t *testing.T) {
	e := fakeEngine(t, `
cat <<'EOF'
pub:u:3072:1:AAAABBBBCCCCDDDD:1600000000:::u:::scESC:
fpr:::::::::0123456789ABCDEF0123456789ABCDEF01234567:
uid:u::::1600000000::H::Alice <alice@example.org>:
EOF
`)
	keys, err := e.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].KeyID != "AAAABBBBCCCCDDDD" {
		t.Fatalf("keys = %+v", keys)
	}

	// The full listing is cached until invalidated.
	again, err := e.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys (cached): %v", err)
	}
	if len(again) != 1 || again[0] != keys[0] {
		t.Error("second full listing did not come from the cache")
	}
	e.InvalidateKeyCache()
}

// A lookup that matches nothing is an empty result, not an error.
func TestListKeysNotFound(t *testing.T) {
	e := fakeEngine(t, `
echo 'gpg: key "nobody@example.org" not found: No public key' >&2
exit 2
`)
	keys, err := e.ListKeys("nobody@example.org")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if keys != nil {
		t.Errorf("keys = %+v, want nil", keys)
	}
}

func TestSearchKeys(t *testing.T) {
	e := fakeEngine(t, `
cat <<'EOF'
pub:AAAABBBBCCCCDDDD:1:3072:1600000000::
uid:Alice <alice@example.org>:1600000000::
pub:5555666677778888:22:255:1650000000::r
uid:Bob <bob@example.org>:1650000000::
EOF
printf '[GNUPG:] GET_LINE keysearch.prompt\n'
read answer
`)
	e.cfg.Keyserver = "hkps://keys.example.org"

	keys, err := e.SearchKeys("example.org")
	if err != nil {
		t.Fatalf("SearchKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0].KeyID != "AAAABBBBCCCCDDDD" || keys[0].Algo != "RSA" || keys[0].Length != 3072 {
		t.Errorf("keys[0] = %+v", keys[0])
	}
	if len(keys[0].UserIDs) != 1 || keys[0].UserIDs[0].Value != "Alice <alice@example.org>" {
		t.Errorf("keys[0] uids = %+v", keys[0].UserIDs)
	}
	if !keys[1].Revoked() {
		t.Error("revocation flag lost")
	}
}

func TestDeleteKeyConfirms(t *testing.T) {
	e := fakeEngine(t, `
printf '[GNUPG:] GET_BOOL delete_key.secret.okay\n' >&3
read answer <&4
[ "$answer" = "Y" ] || exit 2
`)
	err := e.DeleteKey("0123456789ABCDEF0123456789ABCDEF01234567", DeleteKeyOptions{Secret: true})
	if err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
}

func TestEncryptPassesThrough(t *testing.T) {
	e := fakeEngine(t, `
printf '[GNUPG:] BEGIN_ENCRYPTION 2 9\n' >&3
cat
printf '[GNUPG:] END_ENCRYPTION\n' >&3
`)
	var out bytes.Buffer
	err := e.Encrypt(strings.NewReader("payload"), &out, EncryptOptions{
		Recipients:  []string{"alice@example.org"},
		AlwaysTrust: true,
	})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if out.String() != "payload" {
		t.Errorf("output = %q", out.String())
	}
}

func TestEncryptUntrustedRecipient(t *testing.T) {
	e := fakeEngine(t, `
cat > /dev/null
printf '[GNUPG:] INV_RECP 10 bob@example.org\n' >&3
exit 2
`)
	err := e.Encrypt(strings.NewReader("x"), &bytes.Buffer{}, EncryptOptions{
		Recipients: []string{"bob@example.org"},
	})
	if !errors.Is(err, ErrUntrustedRecipient) {
		t.Errorf("error not classified as untrusted recipient: %v", err)
	}
}
