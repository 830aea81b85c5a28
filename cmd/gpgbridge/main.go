// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

// gpgbridge is a command-line front end for the engine wrapper: encrypt,
// decrypt, sign and verify streams, manage the keyring, and talk to
// keyservers, all through a GnuPG-compatible child process.
//
// Usage:
//
//	gpgbridge [-c config.yaml] list [pattern...]
//	gpgbridge [-c config.yaml] encrypt -r <recipient> [-a] < in > out
//	gpgbridge [-c config.yaml] decrypt < in > out
//	gpgbridge [-c config.yaml] sign [-a] [--detach] [-u <key>] < in > out
//	gpgbridge [-c config.yaml] verify < in
//	gpgbridge [-c config.yaml] import < keys
//	gpgbridge [-c config.yaml] export [-a] [--secret] [pattern...] > keys
//	gpgbridge [-c config.yaml] gen -name <name> -email <email>
//	gpgbridge [-c config.yaml] delete [--secret] <fingerprint>
//	gpgbridge [-c config.yaml] search <pattern>
//	gpgbridge [-c config.yaml] recv <keyid...>
//	gpgbridge [-c config.yaml] send <keyid...>
//	gpgbridge [-c config.yaml] adduid -key <key> -name <name> -email <email>
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/gpgbridge/gpgbridge/session"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "", "engine configuration file (YAML)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gpgbridge — drive a GnuPG-compatible engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  gpgbridge [-c config.yaml] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list [pattern...]       List public keys\n")
		fmt.Fprintf(os.Stderr, "  list-secret [pattern]   List secret keys\n")
		fmt.Fprintf(os.Stderr, "  encrypt -r <recipient>  Encrypt stdin to stdout\n")
		fmt.Fprintf(os.Stderr, "  decrypt                 Decrypt stdin to stdout\n")
		fmt.Fprintf(os.Stderr, "  sign                    Sign stdin to stdout\n")
		fmt.Fprintf(os.Stderr, "  verify                  Verify a signed message on stdin\n")
		fmt.Fprintf(os.Stderr, "  import                  Import keys from stdin\n")
		fmt.Fprintf(os.Stderr, "  export [pattern...]     Export keys to stdout\n")
		fmt.Fprintf(os.Stderr, "  gen -name -email        Generate a new key pair\n")
		fmt.Fprintf(os.Stderr, "  delete <fingerprint>    Delete a key\n")
		fmt.Fprintf(os.Stderr, "  search <pattern>        Search the keyserver\n")
		fmt.Fprintf(os.Stderr, "  recv <keyid...>         Fetch keys from the keyserver\n")
		fmt.Fprintf(os.Stderr, "  send <keyid...>         Publish keys to the keyserver\n")
		fmt.Fprintf(os.Stderr, "  adduid -key -name -email  Add a user id to a key\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := session.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = session.LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	engine, err := session.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Without a configured passphrase helper, ask on the terminal.
	if engine.Password == nil {
		engine.Password = session.TerminalPrompt()
	}

	if err := dispatch(engine, args[0], args[1:]); err != nil {
		if errors.Is(err, session.ErrCancelled) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(engine *session.Engine, command string, args []string) error {
	switch command {
	case "list":
		return cmdList(engine, args, false)
	case "list-secret":
		return cmdList(engine, args, true)
	case "encrypt":
		return cmdEncrypt(engine, args)
	case "decrypt":
		return cmdDecrypt(engine)
	case "sign":
		return cmdSign(engine, args)
	case "verify":
		return cmdVerify(engine)
	case "import":
		return cmdImport(engine)
	case "export":
		return cmdExport(engine, args)
	case "gen":
		return cmdGenerate(engine, args)
	case "delete":
		return cmdDelete(engine, args)
	case "search":
		return cmdSearch(engine, args)
	case "recv":
		return cmdRecv(engine, args)
	case "send":
		return cmdSend(engine, args)
	case "adduid":
		return cmdAddUID(engine, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
