// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// readableByOthers covers the group and world read bits.
const readableByOthers fs.FileMode = 0o044

// InsecurePermissions reports whether the file at path can be read by users
// other than its owner. Bot tokens and API keys live in this file.
func InsecurePermissions(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&readableByOthers != 0, nil
}

// WarnInsecurePermissions logs a warning when the config file is group or
// world readable. It never fails startup.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}

	insecure, err := InsecurePermissions(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return
	}
	if insecure {
		slog.Warn("config file has insecure permissions, secrets may be readable by other users",
			"path", path,
			"recommended", "0600",
		)
	}
}
