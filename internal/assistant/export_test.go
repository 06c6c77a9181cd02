// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package assistant

var ComposeSystemPrompt = composeSystemPrompt

// LimiterSize reports how many cooldown keys are tracked.
func (o *Orchestrator) LimiterSize() int { return o.limiter.len() }
