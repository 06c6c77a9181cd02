// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/aria/internal/config"
	"github.com/sigil-dev/aria/internal/secrets"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// secretStoreFactory creates the secret store. Tests substitute the mock
// keyring.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start aria",
		Long:  "Load configuration, connect providers, storage and channels, and serve the admin API until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override the admin API listen address (host:port)")

	return cmd
}

// loadConfig loads the config named by --config, resolving keyring secrets.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, secretStoreFactory())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	gw, err := WireGateway(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("aria started",
		"listen", cfg.Server.Listen,
		"storage", cfg.Storage.Backend,
		"telegram", cfg.Telegram.Enabled,
		"providers", gw.Providers.Names(),
	)
	if err := gw.Start(ctx); err != nil {
		return ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "running aria")
	}
	slog.Info("aria stopped")
	return nil
}
