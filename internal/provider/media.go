// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

// DefaultMaxMediaBytes bounds a single inlined media item.
const DefaultMaxMediaBytes = 10 << 20

// MediaFetcher downloads remote media so it can be inlined into a request.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref types.MediaRef) (types.InlineDataPart, error)
}

// HTTPMediaFetcher fetches media over HTTP(S) with a size cap.
type HTTPMediaFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPMediaFetcher creates a fetcher. A nil client gets a 30s-timeout
// default; maxBytes <= 0 uses DefaultMaxMediaBytes.
func NewHTTPMediaFetcher(client *http.Client, maxBytes int64) *HTTPMediaFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMediaBytes
	}
	return &HTTPMediaFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads ref. The MIME type comes from ref when set, otherwise from
// the response Content-Type.
func (f *HTTPMediaFetcher) Fetch(ctx context.Context, ref types.MediaRef) (types.InlineDataPart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return types.InlineDataPart{}, fetchErr(err, "building media request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return types.InlineDataPart{}, fetchErr(err, "fetching media")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.InlineDataPart{}, ariaerr.New(ariaerr.CodeProviderMediaFetchFailure,
			fmt.Sprintf("fetching media: status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return types.InlineDataPart{}, ariaerr.Wrap(err, ariaerr.CodeProviderMediaFetchFailure, "reading media body")
	}
	if int64(len(data)) > f.maxBytes {
		return types.InlineDataPart{}, ariaerr.New(ariaerr.CodeProviderMediaFetchFailure,
			fmt.Sprintf("media exceeds %d bytes", f.maxBytes))
	}

	mimeType := ref.MIMEType
	if mimeType == "" {
		if mt, _, perr := mime.ParseMediaType(resp.Header.Get("Content-Type")); perr == nil {
			mimeType = mt
		}
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return types.InlineDataPart{MIMEType: mimeType, Data: data}, nil
}

// fetchErr wraps err without the request URL. Telegram file URLs carry
// the bot token in their path.
func fetchErr(err error, msg string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return ariaerr.Wrap(err, ariaerr.CodeProviderMediaFetchFailure, msg)
}

// mediaHost is the scheme and host of raw, for logs.
func mediaHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Scheme + "://" + u.Host
}

// fetchAll resolves every ref, logging and dropping the ones that fail.
func fetchAll(ctx context.Context, f MediaFetcher, refs []types.MediaRef) []types.Part {
	if f == nil || len(refs) == 0 {
		return nil
	}
	parts := make([]types.Part, 0, len(refs))
	for i, ref := range refs {
		part, err := f.Fetch(ctx, ref)
		if err != nil {
			slog.Warn("dropping media item", "index", i, "host", mediaHost(ref.URL), "error", err)
			continue
		}
		parts = append(parts, part)
	}
	return parts
}
