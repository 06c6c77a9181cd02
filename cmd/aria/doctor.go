// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sigil-dev/aria/internal/channel/telegram"
	"github.com/sigil-dev/aria/internal/config"
	"github.com/sigil-dev/aria/internal/provider"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

const doctorCheckTimeout = 10 * time.Second

// doctorHTTPClient is used for provider key and bot token checks.
var doctorHTTPClient = &http.Client{Timeout: doctorCheckTimeout}

type check struct {
	name string
	fn   func(ctx context.Context) string
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the config file, provider API keys, the Telegram bot token, storage and the running instance.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	client, addr := adminClientFromCmd(cmd)

	cfg, cfgErr := loadConfig(cmd)

	checks := []check{
		{"Binary", func(context.Context) string {
			return fmt.Sprintf("aria %s (%s/%s, %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		}},
		{"Config", func(context.Context) string { return checkConfig(cfg, cfgErr) }},
	}
	if cfg != nil {
		for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
			pc := cfg.Providers[name]
			checks = append(checks, check{"Provider " + name, func(ctx context.Context) string {
				return checkProvider(ctx, name, pc)
			}})
		}
		checks = append(checks,
			check{"Telegram", func(ctx context.Context) string { return checkTelegram(ctx, cfg.Telegram) }},
			check{"Storage", func(context.Context) string { return checkStorage(cfg.Storage) }},
		)
	}
	checks = append(checks, check{"Running instance", func(ctx context.Context) string {
		return checkInstance(ctx, client, addr)
	}})

	for _, c := range checks {
		ctx, cancel := context.WithTimeout(cmd.Context(), doctorCheckTimeout)
		result := c.fn(ctx)
		cancel()
		if _, err := fmt.Fprintf(w, "%-22s %s\n", c.name+":", result); err != nil {
			return err
		}
	}
	return nil
}

func checkConfig(cfg *config.Config, err error) string {
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}

	var notes []string
	if cfg.File == "" {
		notes = append(notes, "using defaults (no config file found, run 'aria config init')")
	} else {
		notes = append(notes, "loaded from "+cfg.File)
		if insecure, _ := config.InsecurePermissions(cfg.File); insecure {
			notes = append(notes, "WARNING: readable by other users, chmod 600 it")
		}
	}
	for _, u := range cfg.Unresolved {
		notes = append(notes, fmt.Sprintf("unresolved secret %s (%s)", u.ConfigKey, u.URI))
	}
	return strings.Join(notes, "; ")
}

func checkProvider(ctx context.Context, name string, pc config.ProviderConfig) string {
	if pc.APIKey == "" {
		return "no api_key configured"
	}
	if err := provider.CheckKey(ctx, doctorHTTPClient, name, pc.APIKey, pc.Endpoint); err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return "api key accepted"
}

func checkTelegram(ctx context.Context, tc config.TelegramConfig) string {
	if !tc.Enabled {
		return "disabled"
	}
	if err := telegram.ValidateToken(ctx, doctorHTTPClient, tc.APIEndpoint, tc.Token); err != nil {
		if ariaerr.HasCode(err, ariaerr.CodeChannelConfigInvalid) {
			return "error: bot token rejected"
		}
		return fmt.Sprintf("error: %s", err)
	}
	return "bot token accepted"
}

func checkStorage(sc config.StorageConfig) string {
	path := sc.DataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Not created until first start.
		return fmt.Sprintf("%s at %s (not created yet)", sc.Backend, sc.DataDir)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("%s at %s (unable to check disk space: %s)", sc.Backend, sc.DataDir, err)
	}
	availBytes := stat.Bavail * uint64(stat.Bsize)
	return fmt.Sprintf("%s at %s, %s available", sc.Backend, sc.DataDir, formatBytes(availBytes))
}

func checkInstance(ctx context.Context, client *adminClient, addr string) string {
	var body statusBody
	if err := client.getJSON(ctx, "/api/v1/status", nil, &body); err != nil {
		if ariaerr.HasCode(err, ariaerr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'aria start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s (version %s)", body.Status, addr, body.Version)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
