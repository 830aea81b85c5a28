// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

// Package secmem holds the secret-hygiene helpers shared across the engine:
// constant-time buffer zeroing and optional process hardening.
package secmem

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"os"
	"syscall"
)

// Zero overwrites a byte slice with zeros using constant-time copy
// to prevent compiler optimization from eliding the operation.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// ZeroBuffer zeros the internal contents of a bytes.Buffer.
func ZeroBuffer(buf *bytes.Buffer) {
	Zero(buf.Bytes())
	buf.Reset()
}

// LockMemory attempts to lock all memory pages to prevent swapping to disk.
// Passphrases pass through this process; a swapped page outlives the session.
func LockMemory() error {
	if err := syscall.Mlockall(syscall.MCL_CURRENT | syscall.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall failed: %w\n\nTo fix this, run:\n  sudo setcap cap_ipc_lock+ep %s", err, os.Args[0])
	}
	return nil
}

// DisableCoreDumps prevents core dumps which could leak passphrase material.
func DisableCoreDumps() error {
	var rlimit syscall.Rlimit
	rlimit.Max = 0
	rlimit.Cur = 0
	if err := syscall.Setrlimit(syscall.RLIMIT_CORE, &rlimit); err != nil {
		return fmt.Errorf("failed to disable core dumps: %w", err)
	}
	return nil
}
