// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package assistant

import (
	"context"
	"strings"

	"github.com/sigil-dev/aria/internal/memory"
	"github.com/sigil-dev/aria/pkg/types"
)

// Mode is how the assistant engages with a message.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeDM      Mode = "dm"
	ModeMention Mode = "mention"
	ModeAmbient Mode = "ambient"
)

// UserPreferences are a sender's personal settings.
type UserPreferences struct {
	// IgnoreMe opts the sender out of every assistant interaction.
	IgnoreMe bool
	// DisableDMs turns off replies to the sender's direct messages.
	DisableDMs bool
	Memory     memory.Preferences
}

// InboundMessage is one message delivered by a channel adapter.
type InboundMessage struct {
	ID        string
	ChannelID string
	// TenantID is the community the message was posted in; empty for
	// direct messages.
	TenantID string
	IsDirect bool
	Sender   types.Attribution
	// Automated marks messages from bots, webhooks and system events.
	Automated    bool
	Text         string
	Media        []types.MediaRef
	MentionsBot  bool
	RepliesToBot bool
	Prefs        UserPreferences
}

// HasContent reports whether the message carries text or media.
func (m InboundMessage) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || len(m.Media) > 0
}

// OutboundMessage is a reply handed back to the channel adapter.
type OutboundMessage struct {
	ChannelID string
	ReplyTo   string
	Text      string
}

// Sender delivers replies to the messaging platform.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// ConversationKey groups the turns of one sender in one place: "dm:<sender>"
// for direct messages and "<channel>:<sender>" otherwise.
func ConversationKey(msg InboundMessage) string {
	if msg.IsDirect {
		return "dm:" + msg.Sender.ID
	}
	return msg.ChannelID + ":" + msg.Sender.ID
}
