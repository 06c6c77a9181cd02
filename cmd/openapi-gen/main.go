// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Command openapi-gen writes the admin API's OpenAPI document to a file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sigil-dev/aria/internal/maintenance"
	"github.com/sigil-dev/aria/internal/server"
	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/health"
)

const defaultOutPath = "api/openapi/spec.json"

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := defaultOutPath
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := writeSpec(outPath, spec); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

func writeSpec(path string, spec []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ariaerr.Errorf(ariaerr.CodeCLISetupFailure, "creating output dir: %w", err)
	}
	if err := os.WriteFile(path, spec, 0o644); err != nil {
		return ariaerr.Errorf(ariaerr.CodeCLISetupFailure, "writing spec: %w", err)
	}
	return nil
}

// generateSpec registers every route against no-op services and returns the
// document huma derives from the handler types.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", Version: "dev"})
	if err != nil {
		return nil, ariaerr.Errorf(ariaerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	srv.RegisterServices(&server.Services{
		Memories:      stubMemories{},
		Conversations: stubConversations{},
		Providers:     stubProviders{},
		Maintenance:   stubMaintenance{},
		StartedAt:     time.Now(),
	})
	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// No-op services for spec generation. Handlers are never invoked.

type stubMemories struct{}

func (stubMemories) ListMemories(context.Context, string, string, store.ListOpts) ([]*store.MemoryRecord, error) {
	return nil, nil
}
func (stubMemories) ForgetUser(context.Context, string, string) (int64, error) { return 0, nil }
func (stubMemories) Stats(context.Context) (*store.MemoryStats, error)         { return &store.MemoryStats{}, nil }
func (stubMemories) PruneStale(context.Context) (int64, error)                 { return 0, nil }

type stubConversations struct{}

func (stubConversations) Clear(context.Context, string) error { return nil }
func (stubConversations) Len() int                            { return 0 }

type stubProviders struct{}

func (stubProviders) Configured() bool                   { return false }
func (stubProviders) Names() []string                    { return nil }
func (stubProviders) Metrics() map[string]health.Metrics { return nil }

type stubMaintenance struct{}

func (stubMaintenance) Results() map[string]maintenance.Result { return nil }
