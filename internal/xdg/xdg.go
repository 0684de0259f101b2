// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package xdg provides XDG Base Directory paths for gatekeep.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "gatekeep"

// ConfigDir returns $XDG_CONFIG_HOME/gatekeep, falling back to ~/.config/gatekeep.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile is the configuration file read when --config is not given.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// CertsDir holds certificates generated for the gRPC listener.
func CertsDir() string {
	return filepath.Join(ConfigDir(), "certs")
}

// DefaultConfigFile returns ConfigFile if it exists, otherwise "".
func DefaultConfigFile() string {
	path := ConfigFile()
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}
