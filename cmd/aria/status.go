// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/aria/internal/maintenance"
	"github.com/sigil-dev/aria/pkg/health"
)

type statusBody struct {
	Status              string                        `json:"status"`
	Version             string                        `json:"version"`
	Uptime              string                        `json:"uptime"`
	ProvidersConfigured bool                          `json:"providers_configured"`
	Providers           []providerStatus              `json:"providers"`
	CachedConversations int                           `json:"cached_conversations"`
	Maintenance         map[string]maintenance.Result `json:"maintenance"`
}

type providerStatus struct {
	Name string `json:"name"`
	health.Metrics
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running instance's status",
		Long:  "Query the admin API for overall status, provider circuit breakers, cache size and maintenance runs.",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client, addr := adminClientFromCmd(cmd)
	out := cmd.OutOrStdout()

	var body statusBody
	if err := client.getJSON(cmd.Context(), "/api/v1/status", nil, &body); err != nil {
		if notRunning(cmd, addr, err) {
			return nil
		}
		return err
	}

	_, _ = fmt.Fprintf(out, "aria %s at %s: %s (up %s)\n", body.Version, addr, body.Status, body.Uptime)
	_, _ = fmt.Fprintf(out, "Cached conversations: %d\n", body.CachedConversations)

	if len(body.Providers) > 0 {
		_, _ = fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "PROVIDER\tCIRCUIT\tFAILURES\tAVAILABLE")
		for _, p := range body.Providers {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", p.Name, p.State, p.ConsecutiveFailures, p.Available)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(body.Maintenance) > 0 {
		_, _ = fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "JOB\tLAST RUN\tREMOVED\tERROR")
		for _, name := range slices.Sorted(maps.Keys(body.Maintenance)) {
			r := body.Maintenance[name]
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", name, r.At.Format(time.RFC3339), r.Removed, r.Error)
		}
		return tw.Flush()
	}
	return nil
}
