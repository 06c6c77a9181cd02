// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the conversation model accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Part is one segment of a turn. Concrete part types implement the
// unexported isPart marker, so the set of variants is closed.
type Part interface{ isPart() }

// TextPart is plain UTF-8 text.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// InlineDataPart is binary content sent inline with the request.
type InlineDataPart struct {
	MIMEType string
	Data     []byte
}

func (InlineDataPart) isPart() {}

// FunctionCallPart is a tool invocation requested by the model.
type FunctionCallPart struct {
	ID   string
	Name string
	Args map[string]any
}

func (FunctionCallPart) isPart() {}

// FunctionResultPart carries the outcome of a FunctionCallPart back to the model.
type FunctionResultPart struct {
	ID       string
	Name     string
	Response map[string]any
}

func (FunctionResultPart) isPart() {}

// Attribution identifies who authored a user turn in multi-user channels.
type Attribution struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Label returns the most human-friendly name available.
func (a *Attribution) Label() string {
	if a == nil {
		return ""
	}
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.Username != "":
		return a.Username
	default:
		return a.ID
	}
}

// Turn is one role-tagged message unit.
type Turn struct {
	Role      Role
	Parts     []Part
	Timestamp time.Time
	Sender    *Attribution
}

// Text concatenates the text parts of the turn, ignoring every other variant.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if tp, ok := p.(TextPart); ok {
			if sb.Len() > 0 && tp.Text != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// HasContent reports whether at least one part carries a payload.
func (t Turn) HasContent() bool {
	for _, p := range t.Parts {
		switch v := p.(type) {
		case TextPart:
			if strings.TrimSpace(v.Text) != "" {
				return true
			}
		case InlineDataPart:
			if len(v.Data) > 0 {
				return true
			}
		case FunctionCallPart:
			if v.Name != "" {
				return true
			}
		case FunctionResultPart:
			if v.Name != "" {
				return true
			}
		}
	}
	return false
}

// MediaRef points at remote media to be fetched and inlined before a model call.
type MediaRef struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type,omitempty"`
}

const (
	partTypeText           = "text"
	partTypeInlineData     = "inline_data"
	partTypeFunctionCall   = "function_call"
	partTypeFunctionResult = "function_result"
)

type wirePart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	MIMEType string         `json:"mime_type,omitempty"`
	Data     []byte         `json:"data,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

type wireTurn struct {
	Role      Role         `json:"role"`
	Parts     []wirePart   `json:"parts"`
	Timestamp time.Time    `json:"timestamp,omitzero"`
	Sender    *Attribution `json:"sender,omitempty"`
}

// MarshalJSON encodes the turn with a type discriminator on every part.
func (t Turn) MarshalJSON() ([]byte, error) {
	w := wireTurn{
		Role:      t.Role,
		Parts:     make([]wirePart, 0, len(t.Parts)),
		Timestamp: t.Timestamp,
		Sender:    t.Sender,
	}
	for _, p := range t.Parts {
		switch v := p.(type) {
		case TextPart:
			w.Parts = append(w.Parts, wirePart{Type: partTypeText, Text: v.Text})
		case InlineDataPart:
			w.Parts = append(w.Parts, wirePart{Type: partTypeInlineData, MIMEType: v.MIMEType, Data: v.Data})
		case FunctionCallPart:
			w.Parts = append(w.Parts, wirePart{Type: partTypeFunctionCall, ID: v.ID, Name: v.Name, Args: v.Args})
		case FunctionResultPart:
			w.Parts = append(w.Parts, wirePart{Type: partTypeFunctionResult, ID: v.ID, Name: v.Name, Response: v.Response})
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a turn leniently: parts with an unknown type are
// skipped and the role is kept verbatim so callers can decide what to drop.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var w wireTurn
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.Role = w.Role
	t.Timestamp = w.Timestamp
	t.Sender = w.Sender
	t.Parts = make([]Part, 0, len(w.Parts))
	for _, p := range w.Parts {
		switch p.Type {
		case partTypeText:
			t.Parts = append(t.Parts, TextPart{Text: p.Text})
		case partTypeInlineData:
			t.Parts = append(t.Parts, InlineDataPart{MIMEType: p.MIMEType, Data: p.Data})
		case partTypeFunctionCall:
			t.Parts = append(t.Parts, FunctionCallPart{ID: p.ID, Name: p.Name, Args: p.Args})
		case partTypeFunctionResult:
			t.Parts = append(t.Parts, FunctionResultPart{ID: p.ID, Name: p.Name, Response: p.Response})
		}
	}
	return nil
}
