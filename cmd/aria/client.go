// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// defaultHTTPClient is shared by admin API commands.
var defaultHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}

// adminClient talks to a running aria's admin API.
type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAdminClient(addr, token string) *adminClient {
	return &adminClient{
		baseURL: "http://" + addr,
		token:   token,
		http:    defaultHTTPClient,
	}
}

// adminClientFromCmd reads --address and --token, falling back to
// ARIA_ADMIN_TOKEN for the token.
func adminClientFromCmd(cmd *cobra.Command) (*adminClient, string) {
	addr, _ := cmd.Flags().GetString("address")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		v := viper.New()
		_ = v.BindEnv("token", "ARIA_ADMIN_TOKEN")
		token = v.GetString("token")
	}
	return newAdminClient(addr, token), addr
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// do sends a request and decodes a JSON response into dest when dest is
// non-nil. Connection failures carry CodeCLIGatewayNotRunning.
func (c *adminClient) do(ctx context.Context, method, path string, query url.Values, dest any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return ariaerr.Errorf(ariaerr.CodeCLIRequestFailure, "building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return ariaerr.New(ariaerr.CodeCLIGatewayNotRunning, "aria is not running (connection refused)")
		}
		return ariaerr.Errorf(ariaerr.CodeCLIRequestFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := string(body)
		var ae apiError
		if json.Unmarshal(body, &ae) == nil {
			switch {
			case ae.Detail != "":
				msg = ae.Detail
			case ae.Error != "":
				msg = ae.Error
			case ae.Title != "":
				msg = ae.Title
			}
		}
		return ariaerr.Errorf(ariaerr.CodeCLIRequestFailure, "admin API returned %d: %s", resp.StatusCode, msg)
	}

	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return ariaerr.Errorf(ariaerr.CodeCLIResponseInvalid, "invalid response: %w", err)
	}
	return nil
}

func (c *adminClient) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	return c.do(ctx, http.MethodGet, path, query, dest)
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// notRunning prints the standard message when err means aria is down and
// reports whether it did.
func notRunning(cmd *cobra.Command, addr string, err error) bool {
	if !ariaerr.HasCode(err, ariaerr.CodeCLIGatewayNotRunning) {
		return false
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "aria at %s is not running (connection refused)\n", addr)
	return true
}
