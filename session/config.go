// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration.
type Config struct {
	// Binary is the engine executable, looked up on PATH when relative.
	Binary string `yaml:"binary"`

	// HomeDir is passed as the engine's home directory (keyrings, trust
	// database). Empty means the engine's own default.
	HomeDir string `yaml:"homedir"`

	// Keyserver is used by the keyserver operations.
	Keyserver string `yaml:"keyserver"`

	// ExtraArgs are appended verbatim to every invocation, before the
	// operation's own arguments.
	ExtraArgs []string `yaml:"extra_args"`

	// PassphraseCommandArgv, when set, makes the engine obtain passphrases
	// from an external helper instead of an interactive callback.
	PassphraseCommandArgv []string          `yaml:"passphrase_command_argv"`
	PassphraseCommandEnv  map[string]string `yaml:"passphrase_command_env"`

	// RequireMemoryProtection fails engine construction when memory pages
	// cannot be locked or core dumps cannot be disabled.
	RequireMemoryProtection bool `yaml:"require_memory_protection"`

	// WatchKeyring enables the filesystem watcher that invalidates the
	// cached key listing when the keyring files change.
	WatchKeyring bool `yaml:"watch_keyring"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Binary: "gpg",
	}
}

// LoadConfig loads a YAML configuration file. Relative paths in the file
// (homedir, passphrase command argv[0]) are resolved against the file's
// own directory.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	baseDir := filepath.Dir(path)
	cfg.HomeDir = resolvePath(cfg.HomeDir, baseDir)
	if len(cfg.PassphraseCommandArgv) > 0 {
		cfg.PassphraseCommandArgv[0] = resolvePath(cfg.PassphraseCommandArgv[0], baseDir)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// resolvePath resolves path relative to baseDir if not absolute.
// Returns path unchanged if empty or already absolute.
func resolvePath(path, baseDir string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
