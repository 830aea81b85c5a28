// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"log/slog"
	"os"
)

// Logger is the package logger. Debug output (child argv, raw status lines,
// diagnostic lines) is enabled with the GPGBRIDGE_DEBUG environment
// variable. Passphrases are never logged at any level.
var Logger = newLogger()

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("GPGBRIDGE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}
