// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"log/slog"
	"strings"
)

// TaskType is the logical purpose of a model call.
type TaskType string

const (
	TaskChat       TaskType = "chat"
	TaskEmbedding  TaskType = "embedding"
	TaskExtraction TaskType = "extraction"
	TaskReasoning  TaskType = "reasoning"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskChat, TaskEmbedding, TaskExtraction, TaskReasoning:
		return true
	default:
		return false
	}
}

// Models holds the configured "provider/model" reference per task.
// Empty references mean "not configured".
type Models struct {
	Chat       string
	Embedding  string
	Extraction string
	Reasoning  string
}

// ModelRouter maps task types to model references. It holds no mutable
// state and is safe for concurrent use.
type ModelRouter struct {
	models Models
}

// NewModelRouter creates a router over the given model table.
func NewModelRouter(models Models) *ModelRouter {
	return &ModelRouter{models: models}
}

// GetModel returns the model reference serving task along with the task
// type that actually resolved it. Reasoning and extraction fall back to the
// chat model when no dedicated model is configured; unknown task types log a
// warning and fall back to chat.
func (r *ModelRouter) GetModel(task TaskType) (string, TaskType) {
	switch task {
	case TaskChat:
		return r.models.Chat, TaskChat
	case TaskEmbedding:
		return r.models.Embedding, TaskEmbedding
	case TaskReasoning:
		if r.models.Reasoning != "" {
			return r.models.Reasoning, TaskReasoning
		}
		return r.models.Chat, TaskChat
	case TaskExtraction:
		if r.models.Extraction != "" {
			return r.models.Extraction, TaskExtraction
		}
		return r.models.Chat, TaskChat
	default:
		slog.Warn("unknown task type, falling back to chat model", "task", string(task))
		return r.models.Chat, TaskChat
	}
}

// ParseRef splits a "provider/model" reference on the first "/".
// A reference without a slash is treated as a bare provider name.
func ParseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
