// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gpgbridge/gpgbridge/keyedit"
	"github.com/gpgbridge/gpgbridge/keylist"
	"github.com/gpgbridge/gpgbridge/session"
)

func cmdList(engine *session.Engine, patterns []string, secret bool) error {
	var keys []*keylist.Key
	var err error
	if secret {
		keys, err = engine.ListSecretKeys(patterns...)
	} else {
		keys, err = engine.ListKeys(patterns...)
	}
	if err != nil {
		return err
	}
	for _, key := range keys {
		printKey(key)
	}
	return nil
}

func printKey(key *keylist.Key) {
	kind := "pub"
	if key.Secret {
		kind = "sec"
	}
	fmt.Printf("%s   %s/%s %s", kind, key.Algo, key.KeyID, key.Created.Format("2006-01-02"))
	switch {
	case key.Revoked():
		fmt.Print(" [revoked]")
	case key.Expired():
		fmt.Print(" [expired]")
	case !key.Expires.IsZero():
		fmt.Printf(" [expires %s]", key.Expires.Format("2006-01-02"))
	}
	fmt.Println()
	if key.Fingerprint != "" {
		fmt.Printf("      %s\n", key.Fingerprint)
	}
	for _, uid := range key.UserIDs {
		marker := " "
		if uid.Primary {
			marker = "*"
		}
		fmt.Printf("uid %s %s\n", marker, uid.Value)
	}
	for _, sub := range key.Subkeys {
		fmt.Printf("sub   %s/%s [%s]\n", sub.Algo, sub.KeyID, sub.Capabilities)
	}
}

func cmdEncrypt(engine *session.Engine, args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	var recipients stringList
	fs.Var(&recipients, "r", "recipient (repeatable)")
	armor := fs.Bool("a", false, "ASCII-armored output")
	symmetric := fs.Bool("symmetric", false, "passphrase encryption instead of recipient keys")
	sign := fs.Bool("sign", false, "also sign with the default key")
	localUser := fs.String("u", "", "signing key when -sign is set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(recipients) == 0 && !*symmetric {
		return fmt.Errorf("encrypt needs at least one -r recipient or -symmetric")
	}

	return engine.Encrypt(os.Stdin, os.Stdout, session.EncryptOptions{
		Recipients: recipients,
		Symmetric:  *symmetric,
		Sign:       *sign,
		LocalUser:  *localUser,
		Armor:      *armor,
	})
}

func cmdDecrypt(engine *session.Engine) error {
	result, err := engine.Decrypt(os.Stdin, os.Stdout, session.DecryptOptions{})
	if err != nil {
		return err
	}
	reportSignatures(result)
	return nil
}

func cmdSign(engine *session.Engine, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	armor := fs.Bool("a", false, "ASCII-armored output")
	detach := fs.Bool("detach", false, "detached signature")
	clear := fs.Bool("clearsign", false, "cleartext signature")
	localUser := fs.String("u", "", "signing key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return engine.Sign(os.Stdin, os.Stdout, session.SignOptions{
		LocalUser: *localUser,
		Detached:  *detach,
		ClearSign: *clear,
		Armor:     *armor,
	})
}

func cmdVerify(engine *session.Engine) error {
	result, err := engine.Verify(os.Stdin)
	if err != nil {
		return err
	}
	reportSignatures(result)
	if !result.AllGood() {
		return fmt.Errorf("verification failed")
	}
	return nil
}

func reportSignatures(result *session.VerifyResult) {
	for _, sig := range result.Signatures {
		who := sig.UserID
		if who == "" {
			who = sig.KeyID
		}
		fmt.Fprintf(os.Stderr, "signature from %s: %s", who, sig.Status)
		if sig.MissingKey {
			fmt.Fprint(os.Stderr, " (public key not available)")
		}
		fmt.Fprintln(os.Stderr)
	}
}

func cmdImport(engine *session.Engine) error {
	result, err := engine.Import(os.Stdin)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "considered %d, imported %d, unchanged %d\n",
		result.Considered, result.Imported, result.Unchanged)
	return nil
}

func cmdExport(engine *session.Engine, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	armor := fs.Bool("a", false, "ASCII-armored output")
	secret := fs.Bool("secret", false, "export secret keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := engine.Export(os.Stdout, session.ExportOptions{
		Patterns: fs.Args(),
		Secret:   *secret,
		Armor:    *armor,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d of %d keys\n", result.Exported, result.Considered)
	return nil
}

func cmdGenerate(engine *session.Engine, args []string) error {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	name := fs.String("name", "", "real name")
	email := fs.String("email", "", "email address")
	comment := fs.String("comment", "", "comment")
	keyType := fs.String("type", "", "key type (default lets the engine choose)")
	length := fs.Int("length", 0, "key length in bits")
	expire := fs.String("expire", "", "expiry (0, 2y, 180d, ISO date)")
	noProtect := fs.Bool("no-protection", false, "generate without a passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" {
		return fmt.Errorf("gen needs -name and -email")
	}

	fingerprint, err := engine.GenerateKey(session.KeyParams{
		Type:         *keyType,
		Length:       *length,
		NameReal:     *name,
		NameEmail:    *email,
		NameComment:  *comment,
		ExpireDate:   *expire,
		NoProtection: *noProtect,
	})
	if err != nil {
		return err
	}
	fmt.Println(fingerprint)
	return nil
}

func cmdDelete(engine *session.Engine, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	secret := fs.Bool("secret", false, "also delete the secret part")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("delete needs exactly one fingerprint")
	}
	return engine.DeleteKey(fs.Arg(0), session.DeleteKeyOptions{Secret: *secret})
}

func cmdSearch(engine *session.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("search needs exactly one pattern")
	}
	keys, err := engine.SearchKeys(args[0])
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "no keys found")
		return nil
	}
	for _, key := range keys {
		printKey(key)
	}
	return nil
}

func cmdRecv(engine *session.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("recv needs at least one key id")
	}
	result, err := engine.RecvKeys(args...)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "imported %d of %d keys\n", result.Imported, result.Considered)
	return nil
}

func cmdSend(engine *session.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("send needs at least one key id")
	}
	return engine.SendKeys(args...)
}

func cmdAddUID(engine *session.Engine, args []string) error {
	fs := flag.NewFlagSet("adduid", flag.ExitOnError)
	key := fs.String("key", "", "key to edit (fingerprint, key id or pattern)")
	name := fs.String("name", "", "real name")
	email := fs.String("email", "", "email address")
	comment := fs.String("comment", "", "comment")
	primary := fs.Bool("primary", false, "mark the new user id primary")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" || *name == "" || *email == "" {
		return fmt.Errorf("adduid needs -key, -name and -email")
	}

	return keyedit.Run(engine, *key, keyedit.Options{}, &keyedit.AddUIDCommand{
		Name:        *name,
		Email:       *email,
		Comment:     *comment,
		MakePrimary: *primary,
	})
}

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
