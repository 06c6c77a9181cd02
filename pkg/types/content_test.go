// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sigil-dev/aria/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, types.RoleUser.Valid())
	assert.True(t, types.RoleAssistant.Valid())
	assert.False(t, types.Role("system").Valid())
	assert.False(t, types.Role("").Valid())
}

func TestTurn_TextIgnoresNonTextParts(t *testing.T) {
	turn := types.Turn{
		Role: types.RoleUser,
		Parts: []types.Part{
			types.TextPart{Text: "look at this"},
			types.InlineDataPart{MIMEType: "image/png", Data: []byte{1, 2}},
			types.TextPart{Text: "and this"},
			types.FunctionCallPart{Name: "lookup"},
		},
	}
	assert.Equal(t, "look at this\nand this", turn.Text())
}

func TestTurn_HasContent(t *testing.T) {
	assert.False(t, types.Turn{}.HasContent())
	assert.False(t, types.Turn{Parts: []types.Part{types.TextPart{Text: "   "}}}.HasContent())
	assert.True(t, types.Turn{Parts: []types.Part{types.TextPart{Text: "hi"}}}.HasContent())
	assert.True(t, types.Turn{Parts: []types.Part{types.InlineDataPart{Data: []byte{0}}}}.HasContent())
}

func TestTurn_JSONPreservesEveryVariant(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := types.Turn{
		Role:      types.RoleAssistant,
		Timestamp: ts,
		Sender:    &types.Attribution{ID: "42", Username: "ada"},
		Parts: []types.Part{
			types.TextPart{Text: "hello"},
			types.InlineDataPart{MIMEType: "image/jpeg", Data: []byte("raw")},
			types.FunctionCallPart{ID: "c1", Name: "weather", Args: map[string]any{"city": "Oslo"}},
			types.FunctionResultPart{ID: "c1", Name: "weather", Response: map[string]any{"temp": float64(3)}},
		},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out types.Turn
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestTurn_UnmarshalSkipsUnknownParts(t *testing.T) {
	raw := `{"role":"tool","parts":[{"type":"video","text":"x"},{"type":"text","text":"kept"}]}`

	var out types.Turn
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	assert.Equal(t, types.Role("tool"), out.Role)
	require.Len(t, out.Parts, 1)
	assert.Equal(t, types.TextPart{Text: "kept"}, out.Parts[0])
	assert.True(t, out.Timestamp.IsZero())
}

func TestAttribution_Label(t *testing.T) {
	var nilAttr *types.Attribution
	assert.Equal(t, "", nilAttr.Label())
	assert.Equal(t, "42", (&types.Attribution{ID: "42"}).Label())
	assert.Equal(t, "ada", (&types.Attribution{ID: "42", Username: "ada"}).Label())
	assert.Equal(t, "Ada L.", (&types.Attribution{ID: "42", Username: "ada", DisplayName: "Ada L."}).Label())
}
