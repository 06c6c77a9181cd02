// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/sigil-dev/aria/internal/provider"
	"github.com/sigil-dev/aria/pkg/types"
)

// ConvertTurns exposes convertTurns for white-box testing.
var ConvertTurns = func(turns []types.Turn) []anthropicsdk.MessageParam {
	return convertTurns(turns)
}

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(req provider.Request) anthropicsdk.MessageNewParams {
	return buildParams(req)
}

// ExtractSchema exposes extractSchema for white-box testing.
var ExtractSchema = extractSchema
