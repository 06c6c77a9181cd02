// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sigil-dev/aria/internal/provider"
	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

const (
	maxFacts         = 3
	extractMaxTokens = 512
	maxSnippetRunes  = 200
)

const extractionPrompt = `You extract durable facts about one participant of a chat.

Rules:
1. Only facts the participant stated or clearly implied about themselves, their community or a topic they care about.
2. No speculation, no greetings, nothing about the assistant.
3. At most 3 facts. Return [] when nothing is worth remembering.
4. importance is an integer from 1 (trivia) to 10 (identity-level).
5. memoryType is one of: user, guild, topic.

Respond with a JSON array only:
[{"key":"short label","value":"the fact","importance":5,"memoryType":"user"}]`

var extractTemperature = float32(0.2)

// ExtractFacts asks the extraction model for up to three facts about userID
// from turns. Windows shorter than MinTurns yield nothing. Unparseable model
// output is logged and yields an empty list; only the model call itself can
// fail.
func (s *Service) ExtractFacts(ctx context.Context, turns []types.Turn, userID, tenantID string) ([]Fact, error) {
	if len(turns) < s.cfg.MinTurns {
		return nil, nil
	}
	transcript := buildTranscript(turns, userID)
	if transcript == "" {
		return nil, nil
	}

	res, err := s.model.Generate(ctx, provider.TaskExtraction, provider.GenerateRequest{
		SystemPrompt: extractionPrompt,
		UserInput:    fmt.Sprintf("Participant id: %s\n\nConversation:\n%s", userID, transcript),
		MaxTokens:    extractMaxTokens,
		Temperature:  &extractTemperature,
	})
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "extracting facts",
			ariaerr.FieldUserID(userID), ariaerr.FieldTenantID(tenantID))
	}

	facts, err := ParseFacts(res.Text)
	if err != nil {
		slog.Warn("memory: discarding unparseable extraction output",
			"user_id", userID, "tenant_id", tenantID, "error", err)
		return nil, nil
	}
	return facts, nil
}

// ExtractAndStore runs ExtractFacts over turns and stores every fact,
// returning how many were stored. Individual store failures are logged.
func (s *Service) ExtractAndStore(ctx context.Context, turns []types.Turn, userID, tenantID string) (int, error) {
	facts, err := s.ExtractFacts(ctx, turns, userID, tenantID)
	if err != nil {
		return 0, err
	}
	snippet := lastUserSnippet(turns, userID)
	stored := 0
	for _, f := range facts {
		if _, err := s.StoreMemory(ctx, f, userID, tenantID, snippet); err != nil {
			slog.Warn("memory: storing extracted fact", "user_id", userID, "tenant_id", tenantID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

// ParseFacts decodes the extraction model output. Markdown fences and prose
// around the array are tolerated; elements missing a key or value are
// skipped and at most three facts are returned.
func ParseFacts(raw string) ([]Fact, error) {
	body := stripFences(raw)
	start := strings.IndexByte(body, '[')
	end := strings.LastIndexByte(body, ']')
	if start < 0 || end < start {
		return nil, ariaerr.New(ariaerr.CodeMemoryExtractParseFailure, "no JSON array in extraction output")
	}
	body = body[start : end+1]
	if !gjson.Valid(body) {
		return nil, ariaerr.New(ariaerr.CodeMemoryExtractParseFailure, "extraction output is not valid JSON")
	}

	var facts []Fact
	for _, item := range gjson.Parse(body).Array() {
		if !item.IsObject() {
			continue
		}
		f := Fact{
			Key:        strings.TrimSpace(item.Get("key").String()),
			Value:      strings.TrimSpace(item.Get("value").String()),
			Importance: int(item.Get("importance").Int()),
			Type:       store.MemoryType(strings.ToLower(strings.TrimSpace(item.Get("memoryType").String()))),
		}
		if f.Key == "" || f.Value == "" {
			continue
		}
		if f.Importance == 0 {
			f.Importance = 5
		}
		f.Importance = max(1, min(10, f.Importance))
		if !f.Type.Valid() {
			f.Type = store.MemoryTypeUser
		}
		facts = append(facts, f)
		if len(facts) == maxFacts {
			break
		}
	}
	return facts, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// buildTranscript renders text turns as "Name: text" lines. Turns by userID
// are marked so the model knows whom to extract facts about.
func buildTranscript(turns []types.Turn, userID string) string {
	var sb strings.Builder
	for _, t := range turns {
		text := strings.TrimSpace(t.Text())
		if text == "" {
			continue
		}
		sb.WriteString(speaker(t, userID))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String())
}

func speaker(t types.Turn, userID string) string {
	if t.Role == types.RoleAssistant {
		return "Assistant"
	}
	label := t.Sender.Label()
	if label == "" {
		label = "User"
	}
	if t.Sender != nil && t.Sender.ID == userID {
		return label + " (participant)"
	}
	return label
}

func lastUserSnippet(turns []types.Turn, userID string) string {
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != types.RoleUser {
			continue
		}
		if t.Sender != nil && t.Sender.ID != userID {
			continue
		}
		text := strings.TrimSpace(t.Text())
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > maxSnippetRunes {
			text = string(r[:maxSnippetRunes])
		}
		return text
	}
	return ""
}
