// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"github.com/sigil-dev/aria/pkg/types"
	"google.golang.org/genai"
)

// ConvertTurns exposes convertTurns for white-box testing.
var ConvertTurns = func(turns []types.Turn) []*genai.Content {
	return convertTurns(turns)
}
