// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

// Package passcmd runs an external helper program to obtain a passphrase
// non-interactively, for deployments where no TTY is available and the
// engine's own pinentry is disabled.
package passcmd

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gpgbridge/gpgbridge/internal/secmem"
)

const (
	// commandTimeout bounds the helper's runtime; a hung helper must not
	// hang the whole engine session behind it.
	commandTimeout = 5 * time.Second

	// maxOutputBytes caps helper stdout (8 KB).
	maxOutputBytes = 8 * 1024
)

// Config describes the helper invocation.
type Config struct {
	Argv []string          // command and arguments; argv[0] must be absolute
	Env  map[string]string // explicit environment (process env is never inherited)
}

// Run executes the helper and returns the passphrase it printed.
//
// Output contract:
//   - Exactly one trailing newline is stripped (not TrimSpace)
//   - NUL bytes are rejected
//   - Output prefixed with "base64:" is base64-decoded, "hex:" hex-decoded
//   - Otherwise output is returned as raw bytes
//
// The returned slice must be zeroed by the caller after use.
func Run(cfg *Config) ([]byte, error) {
	resolvedPath, err := validateArgv(cfg.Argv)
	if err != nil {
		return nil, err
	}

	// A process group so that children of the helper die with it on timeout.
	cmd := exec.Command(resolvedPath, cfg.Argv[1:]...) //nolint:gosec // validated above
	cmd.Env = buildEnv(cfg.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = nil

	var stdoutBuf bytes.Buffer
	defer secmem.ZeroBuffer(&stdoutBuf)
	lw := &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stdout = lw

	// Never capture stderr: a misbehaving helper could echo the secret.
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("passphrase command: failed to start: %w", err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case runErr := <-waitDone:
		if runErr != nil {
			return nil, fmt.Errorf("passphrase command: %w", runErr)
		}
	case <-time.After(commandTimeout):
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-waitDone
		return nil, fmt.Errorf("passphrase command: timed out after %s", commandTimeout)
	}

	if lw.truncated {
		return nil, fmt.Errorf("passphrase command: stdout exceeded %d bytes", maxOutputBytes)
	}

	raw := make([]byte, stdoutBuf.Len())
	copy(raw, stdoutBuf.Bytes())
	defer secmem.Zero(raw)

	// Strip exactly one trailing newline; leading and trailing spaces are
	// part of the passphrase.
	out := raw
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
		if len(out) > 0 && out[len(out)-1] == '\r' {
			out = out[:len(out)-1]
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("passphrase command: produced empty output")
	}
	if bytes.ContainsRune(out, 0) {
		return nil, fmt.Errorf("passphrase command: output contains NUL bytes")
	}

	return decodeOutput(out)
}

// Validate checks a configuration without running it.
func Validate(cfg *Config) error {
	_, err := validateArgv(cfg.Argv)
	return err
}

// decodeOutput handles base64: and hex: prefixed output, or returns a copy
// of the raw bytes so the caller can zero the original independently.
func decodeOutput(out []byte) ([]byte, error) {
	if encoded, ok := bytes.CutPrefix(out, []byte("base64:")); ok {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
		n, err := base64.StdEncoding.Decode(decoded, encoded)
		if err != nil {
			secmem.Zero(decoded)
			return nil, fmt.Errorf("passphrase command: invalid base64 output: %w", err)
		}
		return decoded[:n], nil
	}
	if encoded, ok := bytes.CutPrefix(out, []byte("hex:")); ok {
		decoded := make([]byte, hex.DecodedLen(len(encoded)))
		n, err := hex.Decode(decoded, encoded)
		if err != nil {
			secmem.Zero(decoded)
			return nil, fmt.Errorf("passphrase command: invalid hex output: %w", err)
		}
		return decoded[:n], nil
	}
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func validateArgv(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("passphrase command: argv must be non-empty")
	}
	path := argv[0]
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("passphrase command: argv[0] must be an absolute path, got %q", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("passphrase command: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("passphrase command: %s is a directory, not an executable", path)
	}
	perm := info.Mode().Perm()
	if perm&0111 == 0 {
		return "", fmt.Errorf("passphrase command: %s is not executable (mode %04o)", path, perm)
	}
	// A group- or world-writable helper can be swapped for one that leaks
	// the passphrase.
	if perm&0022 != 0 {
		return "", fmt.Errorf("passphrase command: %s is group or world writable (mode %04o)", path, perm)
	}
	return path, nil
}

func buildEnv(declared map[string]string) []string {
	if len(declared) == 0 {
		return []string{}
	}
	env := make([]string, 0, len(declared))
	for k, v := range declared {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter stops writing after a byte limit, remembering that output
// was truncated. Reported lengths stay full so the child never sees a
// short-write error.
type limitedWriter struct {
	w         io.Writer
	remaining int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		lw.truncated = true
		return len(p), nil
	}
	originalLen := len(p)
	if int64(originalLen) > lw.remaining {
		p = p[:lw.remaining]
		lw.truncated = true
	}
	n, err := lw.w.Write(p)
	lw.remaining -= int64(n)
	if err != nil {
		return n, err
	}
	return originalLen, nil
}
