// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/aria/internal/store"
)

type memoryView struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Importance  int    `json:"importance"`
	Type        string `json:"type"`
	AccessCount int    `json:"access_count"`
}

type deletedBody struct {
	Deleted int64 `json:"deleted"`
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage long-term memories",
	}

	cmd.AddCommand(
		newMemoryListCmd(),
		newMemoryForgetCmd(),
		newMemoryStatsCmd(),
		newMemoryPruneCmd(),
	)

	return cmd
}

func newMemoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's memories",
		Args:  cobra.ExactArgs(1),
		RunE:  runMemoryList,
	}
	cmd.Flags().String("tenant", "", "only memories from this group (empty lists every scope)")
	cmd.Flags().Int("limit", 50, "maximum memories to show (1-500)")
	cmd.Flags().Int("offset", 0, "memories to skip")
	return cmd
}

func newMemoryForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <user-id>",
		Short: "Delete a user's memories",
		Long:  "Delete every memory about a user, or only those from one group with --tenant.",
		Args:  cobra.ExactArgs(1),
		RunE:  runMemoryForget,
	}
	cmd.Flags().String("tenant", "", "only forget memories from this group")
	return cmd
}

func newMemoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		RunE:  runMemoryStats,
	}
}

func newMemoryPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Prune stale, unimportant memories now",
		RunE:  runMemoryPrune,
	}
}

func userPath(userID string) string {
	return "/api/v1/users/" + url.PathEscape(userID) + "/memories"
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	client, addr := adminClientFromCmd(cmd)
	out := cmd.OutOrStdout()

	tenant, _ := cmd.Flags().GetString("tenant")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	q := url.Values{}
	if tenant != "" {
		q.Set("tenant", tenant)
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var body struct {
		Memories []memoryView `json:"memories"`
	}
	if err := client.getJSON(cmd.Context(), userPath(args[0]), q, &body); err != nil {
		if notRunning(cmd, addr, err) {
			return nil
		}
		return err
	}

	if len(body.Memories) == 0 {
		_, _ = fmt.Fprintln(out, "No memories found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSCOPE\tTYPE\tIMPORTANCE\tKEY\tVALUE")
	for _, m := range body.Memories {
		scope := m.TenantID
		if scope == "" {
			scope = "dm"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", m.ID, scope, m.Type, m.Importance, m.Key, m.Value)
	}
	return tw.Flush()
}

func runMemoryForget(cmd *cobra.Command, args []string) error {
	client, addr := adminClientFromCmd(cmd)

	tenant, _ := cmd.Flags().GetString("tenant")
	q := url.Values{}
	if tenant != "" {
		q.Set("tenant", tenant)
	}

	var body deletedBody
	if err := client.do(cmd.Context(), http.MethodDelete, userPath(args[0]), q, &body); err != nil {
		if notRunning(cmd, addr, err) {
			return nil
		}
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d memories for %s\n", body.Deleted, args[0])
	return nil
}

func runMemoryStats(cmd *cobra.Command, _ []string) error {
	client, addr := adminClientFromCmd(cmd)
	out := cmd.OutOrStdout()

	var stats store.MemoryStats
	if err := client.getJSON(cmd.Context(), "/api/v1/memories/stats", nil, &stats); err != nil {
		if notRunning(cmd, addr, err) {
			return nil
		}
		return err
	}

	_, _ = fmt.Fprintf(out, "Total memories:      %d\n", stats.Total)
	_, _ = fmt.Fprintf(out, "Average importance:  %.1f\n", stats.AverageImportance)
	_, _ = fmt.Fprintf(out, "Total recalls:       %d\n", stats.TotalAccessCount)
	for _, t := range slices.Sorted(maps.Keys(stats.ByType)) {
		_, _ = fmt.Fprintf(out, "  %-8s %d\n", t, stats.ByType[t])
	}
	if len(stats.TopUsers) > 0 {
		_, _ = fmt.Fprintln(out, "Top users:")
		for _, u := range stats.TopUsers {
			_, _ = fmt.Fprintf(out, "  %-20s %d\n", u.UserID, u.Count)
		}
	}
	return nil
}

func runMemoryPrune(cmd *cobra.Command, _ []string) error {
	client, addr := adminClientFromCmd(cmd)

	var body deletedBody
	if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/memories/prune", nil, &body); err != nil {
		if notRunning(cmd, addr, err) {
			return nil
		}
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d stale memories\n", body.Deleted)
	return nil
}
