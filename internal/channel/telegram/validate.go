// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// ValidateToken calls getMe to verify the bot token without starting the
// adapter. An empty endpoint uses the public Bot API.
func ValidateToken(ctx context.Context, client *http.Client, endpoint, token string) error {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return ValidateTokenWithURL(ctx, client, fmt.Sprintf(endpoint, token, "getMe"))
}

// ValidateTokenWithURL performs the getMe check against a prebuilt URL.
func ValidateTokenWithURL(ctx context.Context, client *http.Client, url string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ariaerr.Wrap(err, ariaerr.CodeChannelBackendFailure, "building telegram validation request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return ariaerr.Wrap(err, ariaerr.CodeChannelBackendFailure, "validating telegram token")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ariaerr.Errorf(ariaerr.CodeChannelConfigInvalid, "invalid telegram bot token (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return ariaerr.Errorf(ariaerr.CodeChannelBackendFailure, "telegram validation failed (HTTP %d)", resp.StatusCode)
	}
	return nil
}
