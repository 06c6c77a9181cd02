// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const defaultAdminAddress = "127.0.0.1:18790"

// NewRootCmd creates the root aria command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aria",
		Short:         "Aria, a chat assistant with conversation context and long-term memory",
		Long:          "Aria connects chat channels to language models, keeps short-term conversation context and learns long-term facts about participants.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("address", defaultAdminAddress, "admin API address (host:port)")
	root.PersistentFlags().String("token", "", "admin API bearer token (default $ARIA_ADMIN_TOKEN)")

	root.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newDoctorCmd(),
		newMemoryCmd(),
		newConversationCmd(),
		newSecretCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return root
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
