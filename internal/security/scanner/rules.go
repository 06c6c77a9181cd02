// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scanner

import "regexp"

// CredentialRules returns the built-in API key, token and connection string
// patterns.
func CredentialRules() []Rule {
	return []Rule{
		{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), SeverityHigh},
		{"anthropic_api_key", regexp.MustCompile(`sk-ant-api\d{2}-[A-Za-z0-9_-]{20,}`), SeverityHigh},
		{"openai_api_key", regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{20,}`), SeverityHigh},
		{"openai_legacy_key", regexp.MustCompile(`sk-[A-Za-z0-9]{40,}`), SeverityMedium},
		{"openrouter_api_key", regexp.MustCompile(`sk-or-v1-[a-f0-9]{64}`), SeverityHigh},
		{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), SeverityHigh},
		{"telegram_bot_token", regexp.MustCompile(`\b\d{8,10}:AA[A-Za-z0-9_-]{33}\b`), SeverityHigh},
		{"github_pat", regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), SeverityHigh},
		{"github_fine_grained_pat", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`), SeverityHigh},
		{"slack_token", regexp.MustCompile(`xox[bpas]-[A-Za-z0-9-]{10,}`), SeverityHigh},
		{"npm_token", regexp.MustCompile(`npm_[A-Za-z0-9]{36}`), SeverityHigh},
		{"vault_token", regexp.MustCompile(`hvs\.[A-Za-z0-9_-]{24,}`), SeverityHigh},
		{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`), SeverityHigh},
		{"pem_private_key", regexp.MustCompile(`-----BEGIN\s+(?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), SeverityHigh},
		{"database_connection_string", regexp.MustCompile(`(?i)(?:postgres(?:ql)?|mysql|mongodb|redis|jdbc:[a-z]+)://[^\s:@]+:(?:[^@\s%]|%[0-9A-Fa-f]{2})+@(?:\[[0-9A-Fa-f:]+\]|[^\s/:]+)(?:[:/][^\s]*)?`), SeverityHigh},
		{"azure_connection_string", regexp.MustCompile(`(?i)AccountKey\s*=\s*[A-Za-z0-9+/=]{20,}`), SeverityHigh},
		{"keyring_uri", regexp.MustCompile(`keyring://[^\s]+`), SeverityMedium},
	}
}
