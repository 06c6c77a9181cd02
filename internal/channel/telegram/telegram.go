// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package telegram connects the assistant to Telegram through the Bot API.
package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sourcegraph/conc/pool"

	"github.com/sigil-dev/aria/internal/assistant"
	"github.com/sigil-dev/aria/internal/memory"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

const (
	// maxMessageRunes stays under Telegram's 4096 character limit.
	maxMessageRunes       = 4000
	pollTimeoutSeconds    = 30
	defaultMaxConcurrency = 8
)

// Bot is the slice of the Bot API the adapter uses.
type Bot interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	Me() tgbotapi.User
}

type botAPI struct {
	*tgbotapi.BotAPI
}

func (b botAPI) Me() tgbotapi.User { return b.Self }

// BotFactory connects to the Bot API. Tests swap it for a fake.
type BotFactory func(token, apiEndpoint string, client *http.Client) (Bot, error)

// DefaultBotFactory authenticates against the real Bot API.
func DefaultBotFactory(token, apiEndpoint string, client *http.Client) (Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return botAPI{BotAPI: api}, nil
}

// Handler decides on and answers inbound messages.
type Handler interface {
	ShouldRespond(ctx context.Context, msg assistant.InboundMessage) assistant.Mode
	HandleMessage(ctx context.Context, msg assistant.InboundMessage, mode assistant.Mode)
}

// Config configures the adapter.
type Config struct {
	Token string
	// APIEndpoint is a printf pattern taking the token and method name.
	APIEndpoint    string
	MaxConcurrency int

	// IgnoreUsers and DisableDMUsers hold Telegram user ids or usernames.
	IgnoreUsers    []string
	DisableDMUsers []string
	CombineScopes  bool
	GlobalRecall   bool
}

// Adapter turns Telegram updates into assistant messages and delivers the
// assistant's replies.
type Adapter struct {
	cfg       Config
	bot       Bot
	self      tgbotapi.User
	ignore    map[string]bool
	disableDM map[string]bool
}

// New connects to Telegram with the given factory; a nil factory uses
// DefaultBotFactory.
func New(cfg Config, client *http.Client, factory BotFactory) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ariaerr.New(ariaerr.CodeChannelConfigInvalid, "telegram token is required")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	if factory == nil {
		factory = DefaultBotFactory
	}
	bot, err := factory(cfg.Token, cfg.APIEndpoint, client)
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeChannelBackendFailure, "connecting to telegram")
	}
	return NewWithBot(cfg, bot), nil
}

// NewWithBot builds an adapter around an already connected bot.
func NewWithBot(cfg Config, bot Bot) *Adapter {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	a := &Adapter{
		cfg:       cfg,
		bot:       bot,
		self:      bot.Me(),
		ignore:    normalizeUsers(cfg.IgnoreUsers),
		disableDM: normalizeUsers(cfg.DisableDMUsers),
	}
	slog.Info("telegram: connected", "bot", a.self.UserName, "id", a.self.ID)
	return a
}

// Run long-polls for updates and dispatches each message to h until ctx is
// canceled. In-flight handlers finish before Run returns.
func (a *Adapter) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := a.bot.GetUpdatesChan(u)

	workers := pool.New().WithMaxGoroutines(a.cfg.MaxConcurrency)
	defer workers.Wait()

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			workers.Go(func() { a.dispatch(ctx, h, msg) })
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, h Handler, raw *tgbotapi.Message) {
	msg, ok := a.ToInbound(raw)
	if !ok {
		return
	}
	mode := h.ShouldRespond(ctx, msg)
	if mode == assistant.ModeNone {
		return
	}
	h.HandleMessage(ctx, msg, mode)
}

// ToInbound converts a Telegram message. It reports false for messages that
// carry no chat.
func (a *Adapter) ToInbound(raw *tgbotapi.Message) (assistant.InboundMessage, bool) {
	if raw == nil || raw.Chat == nil {
		return assistant.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(raw.Chat.ID, 10)
	msg := assistant.InboundMessage{
		ID:        strconv.Itoa(raw.MessageID),
		ChannelID: chatID,
		IsDirect:  raw.Chat.IsPrivate(),
		Text:      raw.Text,
		Automated: raw.From == nil || raw.From.IsBot || raw.SenderChat != nil,
	}
	if !msg.IsDirect {
		msg.TenantID = chatID
	}

	entities := raw.Entities
	if msg.Text == "" {
		msg.Text = raw.Caption
		entities = raw.CaptionEntities
	}

	if raw.From != nil {
		msg.Sender = types.Attribution{
			ID:          strconv.FormatInt(raw.From.ID, 10),
			Username:    raw.From.UserName,
			DisplayName: strings.TrimSpace(raw.From.FirstName + " " + raw.From.LastName),
		}
		msg.Prefs = a.preferences(raw.From)
	}

	msg.MentionsBot = a.mentionsBot(msg.Text, entities)
	msg.RepliesToBot = raw.ReplyToMessage != nil &&
		raw.ReplyToMessage.From != nil &&
		raw.ReplyToMessage.From.ID == a.self.ID

	if len(raw.Photo) > 0 {
		// Sizes are ordered smallest first.
		photo := raw.Photo[len(raw.Photo)-1]
		url, err := a.bot.GetFileDirectURL(photo.FileID)
		if err != nil {
			slog.Warn("telegram: resolving photo failed", "file_id", photo.FileID, "error", err)
		} else {
			msg.Media = append(msg.Media, types.MediaRef{URL: url, MIMEType: "image/jpeg"})
		}
	}
	return msg, true
}

func (a *Adapter) preferences(from *tgbotapi.User) assistant.UserPreferences {
	id := strconv.FormatInt(from.ID, 10)
	name := strings.ToLower(from.UserName)
	matches := func(set map[string]bool) bool {
		return set[id] || (name != "" && set[name])
	}
	return assistant.UserPreferences{
		IgnoreMe:   matches(a.ignore),
		DisableDMs: matches(a.disableDM),
		Memory: memory.Preferences{
			CombineScopes: a.cfg.CombineScopes,
			GlobalRecall:  a.cfg.GlobalRecall,
		},
	}
}

func (a *Adapter) mentionsBot(text string, entities []tgbotapi.MessageEntity) bool {
	handle := "@" + strings.ToLower(a.self.UserName)
	for _, e := range entities {
		switch e.Type {
		case "mention":
			if a.self.UserName != "" && strings.ToLower(entityText(text, e)) == handle {
				return true
			}
		case "text_mention":
			if e.User != nil && e.User.ID == a.self.ID {
				return true
			}
		}
	}
	return false
}

// entityText slices text by an entity's UTF-16 offset and length.
func entityText(text string, e tgbotapi.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

// Send delivers a reply, splitting long text into several messages. Only
// the first chunk is threaded under the original message.
func (a *Adapter) Send(_ context.Context, out assistant.OutboundMessage) error {
	chatID, err := strconv.ParseInt(out.ChannelID, 10, 64)
	if err != nil {
		return ariaerr.Wrapf(err, ariaerr.CodeChannelConfigInvalid, "invalid chat id %q", out.ChannelID)
	}
	replyTo := 0
	if out.ReplyTo != "" {
		if replyTo, err = strconv.Atoi(out.ReplyTo); err != nil {
			return ariaerr.Wrapf(err, ariaerr.CodeChannelConfigInvalid, "invalid reply id %q", out.ReplyTo)
		}
	}

	for i, chunk := range SplitMessage(out.Text, maxMessageRunes) {
		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		if i == 0 {
			tgMsg.ReplyToMessageID = replyTo
		}
		if _, err := a.bot.Send(tgMsg); err != nil {
			return ariaerr.Wrap(err, ariaerr.CodeChannelBackendFailure, "sending telegram message",
				ariaerr.Field("chat_id", out.ChannelID))
		}
	}
	return nil
}

// SplitMessage breaks text into chunks of at most limit runes, preferring
// to cut at the last newline inside each window.
func SplitMessage(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if chunk := strings.TrimSpace(string(runes)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func normalizeUsers(users []string) map[string]bool {
	set := make(map[string]bool, len(users))
	for _, u := range users {
		u = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
		if u != "" {
			set[u] = true
		}
	}
	return set
}
