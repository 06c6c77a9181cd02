// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"os"
	"path/filepath"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

//go:embed aria.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns the per-user config location,
// typically ~/.config/aria/aria.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", ariaerr.Errorf(ariaerr.CodeConfigLoadReadFailure, "resolving config directory: %w", err)
	}
	return filepath.Join(dir, "aria", "aria.yaml"), nil
}

// WriteDefault writes the commented default config to path. An existing
// file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return ariaerr.New(ariaerr.CodeConfigValidateInvalidValue, "config file already exists",
				ariaerr.Field("path", path))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ariaerr.Wrapf(err, ariaerr.CodeConfigLoadReadFailure, "creating config directory")
	}
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		return ariaerr.Wrapf(err, ariaerr.CodeConfigLoadReadFailure, "writing config %s", path)
	}
	return nil
}
