// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package assistant decides whether inbound messages deserve a reply and
// produces it: eligibility, rate limiting, tenant auto-disable, prompt
// composition with recalled memories, generation and asynchronous memory
// extraction.
package assistant

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/sigil-dev/aria/internal/memory"
	"github.com/sigil-dev/aria/internal/provider"
	"github.com/sigil-dev/aria/internal/security/scanner"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

// Defaults applied by New for unset Config fields.
const (
	DefaultSystemPrompt     = "You are Aria, a friendly and concise assistant in a group chat. Answer helpfully and keep replies short."
	DefaultFallbackMessage  = "Sorry, I couldn't come up with a reply right now. Please try again in a moment."
	DefaultOptOutNotice     = "You've opted out of assistant replies, so I won't respond to your messages."
	DefaultMaxTokens        = 1024
	DefaultUserCooldown     = 3 * time.Second
	DefaultAmbientCooldown  = 2 * time.Second
	DefaultFailureThreshold = 5
	DefaultFailureWindow    = 10 * time.Minute
	DefaultHistoryTurns     = 20
	DefaultExtractionWindow = 10

	extractionTimeout = 60 * time.Second
	cleanupInterval   = 5 * time.Minute
	noticeRetention   = 10 * time.Minute
)

// Config tunes the orchestrator.
type Config struct {
	Enabled   bool
	DMEnabled bool

	SystemPrompt    string
	FallbackMessage string
	// OptOutNotice is sent once to opted-out senders who address the
	// assistant. Empty disables the notice.
	OptOutNotice string
	MaxTokens    int
	Temperature  *float32

	UserCooldown     time.Duration
	AmbientCooldown  time.Duration
	FailureThreshold int
	FailureWindow    time.Duration

	HistoryTurns     int
	RecallLimit      int
	ExtractionWindow int

	// AmbientChannels reply to every eligible message.
	AmbientChannels []string
	// MentionOnlyChannels never run in ambient mode, even when listed in
	// AmbientChannels.
	MentionOnlyChannels []string
	// DisabledTenants have the assistant switched off.
	DisabledTenants []string
}

func (c *Config) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.FallbackMessage == "" {
		c.FallbackMessage = DefaultFallbackMessage
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.UserCooldown <= 0 {
		c.UserCooldown = DefaultUserCooldown
	}
	if c.AmbientCooldown <= 0 {
		c.AmbientCooldown = DefaultAmbientCooldown
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = DefaultHistoryTurns
	}
	if c.ExtractionWindow <= 0 {
		c.ExtractionWindow = DefaultExtractionWindow
	}
}

// Model generates replies.
type Model interface {
	Generate(ctx context.Context, task provider.TaskType, req provider.GenerateRequest) (*provider.GenerateResult, error)
	Configured() bool
}

// History is the short-term conversation context.
type History interface {
	Append(ctx context.Context, key string, role types.Role, parts []types.Part, sender *types.Attribution) error
	History(ctx context.Context, key string, maxMessages int) ([]types.Turn, error)
}

// Memory is the long-term memory store.
type Memory interface {
	RecallMemories(ctx context.Context, query, userID, tenantID string, limit int, prefs memory.Preferences) ([]memory.Recalled, error)
	ExtractAndStore(ctx context.Context, turns []types.Turn, userID, tenantID string) (int, error)
}

// Orchestrator is the per-message entry point. It is safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	model   Model
	history History
	memory  Memory
	sender  Sender

	ambient     map[string]bool
	mentionOnly map[string]bool
	disabled    map[string]bool

	limiter *cooldownLimiter
	guard   *tenantGuard

	noticeMu sync.Mutex
	noticed  map[string]time.Time

	nowFunc    func() time.Time
	background conc.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates an orchestrator. mem may be nil to run without long-term
// memory. The periodic cleanup of rate-limit and failure tables runs until
// Close.
func New(cfg Config, model Model, history History, mem Memory, sender Sender) (*Orchestrator, error) {
	if model == nil || history == nil || sender == nil {
		return nil, ariaerr.New(ariaerr.CodeAssistantInvalidInput, "model, history and sender are required")
	}
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:         cfg,
		model:       model,
		history:     history,
		memory:      mem,
		sender:      sender,
		ambient:     toSet(cfg.AmbientChannels),
		mentionOnly: toSet(cfg.MentionOnlyChannels),
		disabled:    toSet(cfg.DisabledTenants),
		limiter:     newCooldownLimiter(),
		guard:       newTenantGuard(cfg.FailureThreshold, cfg.FailureWindow),
		noticed:     make(map[string]time.Time),
		nowFunc:     time.Now,
		done:        make(chan struct{}),
	}
	go o.cleanupLoop()
	return o, nil
}

// SetNowFunc overrides the clock. For tests.
func (o *Orchestrator) SetNowFunc(fn func() time.Time) { o.nowFunc = fn }

// Close stops the cleanup loop and waits for in-flight memory extraction.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() { close(o.done) })
	if r := o.background.WaitAndRecover(); r != nil {
		return ariaerr.Wrap(r.AsError(), ariaerr.CodeAssistantBackgroundFailure, "background task panicked")
	}
	return nil
}

func (o *Orchestrator) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := o.nowFunc()
			o.limiter.cleanup(now, max(o.cfg.UserCooldown, o.cfg.AmbientCooldown))
			o.guard.cleanup(now)
			o.noticeMu.Lock()
			for id, at := range o.noticed {
				if now.Sub(at) > noticeRetention {
					delete(o.noticed, id)
				}
			}
			o.noticeMu.Unlock()
		case <-o.done:
			return
		}
	}
}

// ShouldRespond decides how the assistant engages with msg. Opted-out
// senders who address the assistant get the opt-out notice at most once
// per message.
func (o *Orchestrator) ShouldRespond(ctx context.Context, msg InboundMessage) Mode {
	if msg.Automated || msg.Sender.ID == "" || !msg.HasContent() {
		return ModeNone
	}
	addressed := msg.IsDirect || msg.MentionsBot || msg.RepliesToBot
	if msg.Prefs.IgnoreMe {
		if addressed {
			o.sendOptOutNotice(ctx, msg)
		}
		return ModeNone
	}
	if !o.cfg.Enabled || !o.model.Configured() {
		return ModeNone
	}

	if msg.IsDirect {
		if !o.cfg.DMEnabled || msg.Prefs.DisableDMs {
			return ModeNone
		}
		return ModeDM
	}

	if msg.TenantID != "" {
		if o.disabled[msg.TenantID] {
			return ModeNone
		}
		if o.guard.disabled(msg.TenantID, o.nowFunc()) {
			slog.Debug("assistant: tenant auto-disabled, ignoring message", "tenant_id", msg.TenantID)
			return ModeNone
		}
	}
	switch {
	case msg.MentionsBot || msg.RepliesToBot:
		return ModeMention
	case o.ambient[msg.ChannelID] && !o.mentionOnly[msg.ChannelID]:
		return ModeAmbient
	default:
		return ModeNone
	}
}

func (o *Orchestrator) sendOptOutNotice(ctx context.Context, msg InboundMessage) {
	if o.cfg.OptOutNotice == "" {
		return
	}
	if msg.ID != "" {
		o.noticeMu.Lock()
		_, seen := o.noticed[msg.ID]
		if !seen {
			o.noticed[msg.ID] = o.nowFunc()
		}
		o.noticeMu.Unlock()
		if seen {
			return
		}
	}
	err := o.sender.Send(ctx, OutboundMessage{ChannelID: msg.ChannelID, ReplyTo: msg.ID, Text: o.cfg.OptOutNotice})
	if err != nil {
		slog.Warn("assistant: sending opt-out notice", "user_id", msg.Sender.ID, "error", err)
	}
}

// HandleMessage produces and sends a reply for msg in mode. Messages inside
// a cooldown are dropped silently. Generation failures send the fallback
// message and count against the tenant; memory extraction runs in the
// background after a successful reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg InboundMessage, mode Mode) {
	if mode == ModeNone {
		return
	}
	now := o.nowFunc()
	if !o.limiter.allow(now, o.cooldownKeys(msg, mode)) {
		slog.Debug("assistant: rate limited", "user_id", msg.Sender.ID, "channel_id", msg.ChannelID, "mode", mode)
		return
	}

	key := ConversationKey(msg)
	sender := msg.Sender

	history, err := o.history.History(ctx, key, o.cfg.HistoryTurns)
	if err != nil {
		slog.Warn("assistant: loading history", "conversation_key", key, "error", err)
		history = nil
	}
	if parts := userParts(msg); len(parts) > 0 {
		if err := o.history.Append(ctx, key, types.RoleUser, parts, &sender); err != nil {
			slog.Warn("assistant: appending user turn", "conversation_key", key, "error", err)
		}
	}

	recalled := o.recall(ctx, msg)
	res, err := o.model.Generate(ctx, provider.TaskChat, provider.GenerateRequest{
		SystemPrompt: composeSystemPrompt(o.cfg.SystemPrompt, sender, recalled),
		History:      history,
		UserInput:    msg.Text,
		Sender:       &sender,
		MaxTokens:    o.cfg.MaxTokens,
		Temperature:  o.cfg.Temperature,
		Media:        msg.Media,
	})
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = ariaerr.New(ariaerr.CodeAssistantGenerateFailure, "model returned an empty reply")
	}
	if err != nil {
		o.fail(ctx, msg, err)
		return
	}

	reply := strings.TrimSpace(res.Text)
	if redacted, found := scanner.Default().Redact(reply); found.Found() {
		slog.Warn("assistant: redacted credentials from reply", "conversation_key", key, "rules", found.Rules())
		reply = redacted
	}
	if err := o.sender.Send(ctx, OutboundMessage{ChannelID: msg.ChannelID, ReplyTo: msg.ID, Text: reply}); err != nil {
		slog.Error("assistant: sending reply", "channel_id", msg.ChannelID, "error",
			ariaerr.Wrap(err, ariaerr.CodeAssistantSendFailure, "sending reply"))
		o.guard.recordFailure(msg.TenantID, o.nowFunc())
		return
	}
	if err := o.history.Append(ctx, key, types.RoleAssistant, []types.Part{types.TextPart{Text: reply}}, nil); err != nil {
		slog.Warn("assistant: appending assistant turn", "conversation_key", key, "error", err)
	}
	o.guard.reset(msg.TenantID)

	slog.Debug("assistant: replied",
		"conversation_key", key, "mode", mode, "tokens", res.TokensUsed, "latency", res.Latency, "memories", len(recalled))
	o.extractAsync(ctx, key, msg)
}

func (o *Orchestrator) cooldownKeys(msg InboundMessage, mode Mode) map[string]time.Duration {
	keys := map[string]time.Duration{
		"user:" + msg.ChannelID + ":" + msg.Sender.ID: o.cfg.UserCooldown,
	}
	if mode == ModeAmbient {
		keys["channel:"+msg.ChannelID] = o.cfg.AmbientCooldown
	}
	return keys
}

func (o *Orchestrator) recall(ctx context.Context, msg InboundMessage) []memory.Recalled {
	if o.memory == nil || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	recalled, err := o.memory.RecallMemories(ctx, msg.Text, msg.Sender.ID, msg.TenantID, o.cfg.RecallLimit, msg.Prefs.Memory)
	if err != nil {
		slog.Warn("assistant: recalling memories", "user_id", msg.Sender.ID, "error", err)
		return nil
	}
	return recalled
}

func (o *Orchestrator) fail(ctx context.Context, msg InboundMessage, err error) {
	slog.Error("assistant: generating reply",
		"user_id", msg.Sender.ID, "tenant_id", msg.TenantID, "code", ariaerr.CodeOf(err), "error", err)
	o.guard.recordFailure(msg.TenantID, o.nowFunc())
	if serr := o.sender.Send(ctx, OutboundMessage{ChannelID: msg.ChannelID, ReplyTo: msg.ID, Text: o.cfg.FallbackMessage}); serr != nil {
		slog.Warn("assistant: sending fallback message", "channel_id", msg.ChannelID, "error", serr)
	}
}

// extractAsync mines the latest window for facts without holding up the
// reply. It outlives ctx.
func (o *Orchestrator) extractAsync(ctx context.Context, key string, msg InboundMessage) {
	if o.memory == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	o.background.Go(func() {
		ctx, cancel := context.WithTimeout(bg, extractionTimeout)
		defer cancel()

		turns, err := o.history.History(ctx, key, o.cfg.ExtractionWindow)
		if err != nil {
			slog.Warn("assistant: loading extraction window", "conversation_key", key, "error", err)
			return
		}
		n, err := o.memory.ExtractAndStore(ctx, turns, msg.Sender.ID, msg.TenantID)
		if err != nil {
			slog.Warn("assistant: memory extraction", "user_id", msg.Sender.ID, "error", err)
			return
		}
		if n > 0 {
			slog.Debug("assistant: stored memories", "user_id", msg.Sender.ID, "count", n)
		}
	})
}

// userParts is the history form of an inbound message. Attachments are
// recorded as text markers; their bytes are only sent to the model.
func userParts(msg InboundMessage) []types.Part {
	var parts []types.Part
	if text := strings.TrimSpace(msg.Text); text != "" {
		parts = append(parts, types.TextPart{Text: text})
	}
	for _, ref := range msg.Media {
		kind := ref.MIMEType
		if kind == "" {
			kind = "media"
		}
		parts = append(parts, types.TextPart{Text: "[" + kind + " attachment]"})
	}
	return parts
}

// composeSystemPrompt appends recalled memories to the base prompt.
func composeSystemPrompt(base string, sender types.Attribution, recalled []memory.Recalled) string {
	if len(recalled) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\nWhat you remember about ")
	if label := sender.Label(); label != "" {
		sb.WriteString(label)
	} else {
		sb.WriteString("this user")
	}
	sb.WriteString(":\n")
	for _, m := range recalled {
		sb.WriteString("- ")
		sb.WriteString(m.Key)
		sb.WriteString(": ")
		sb.WriteString(m.Value)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			set[it] = true
		}
	}
	return set
}
