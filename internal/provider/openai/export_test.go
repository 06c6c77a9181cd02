// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"
	"github.com/sigil-dev/aria/internal/provider"
	"github.com/sigil-dev/aria/pkg/types"
)

// ConvertTurns exposes convertTurns for white-box testing.
var ConvertTurns = func(turns []types.Turn, systemPrompt string) []openaisdk.ChatCompletionMessageParamUnion {
	return convertTurns(turns, systemPrompt)
}

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(req provider.Request) openaisdk.ChatCompletionNewParams {
	return buildParams(req)
}
