// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage short-term conversation context",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <key>",
		Short: "Forget a conversation's context",
		Long:  "Clear cached and stored context for a conversation key such as dm:<user-id> or <chat-id>:<user-id>.",
		Args:  cobra.ExactArgs(1),
		RunE:  runConversationClear,
	})
	return cmd
}

func runConversationClear(cmd *cobra.Command, args []string) error {
	client, addr := adminClientFromCmd(cmd)

	path := "/api/v1/conversations/" + url.PathEscape(args[0])
	if err := client.do(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
		if notRunning(cmd, addr, err) {
			return nil
		}
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared conversation %s\n", args[0])
	return nil
}
