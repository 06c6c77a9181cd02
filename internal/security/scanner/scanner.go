// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package scanner finds credentials in free text so they can be kept out of
// long-term memory and outbound replies.
package scanner

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// Placeholder replaces every redacted region.
const Placeholder = "[REDACTED]"

// DefaultMaxContentLength is the largest input Scan inspects rule by rule
// (1MB). Anything longer is reported as a single match.
const DefaultMaxContentLength = 1 << 20

// Severity indicates how confident a rule is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Valid reports whether the severity is a known level.
func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityMedium
}

// Rule is a named credential pattern.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity Severity
}

// Match is a single rule hit. Location and Length are byte offsets into
// Result.Content.
type Match struct {
	Rule     string
	Location int
	Length   int
	Severity Severity
}

// Result holds the outcome of a scan.
type Result struct {
	// Content is the normalized input the match offsets refer to.
	Content string
	Matches []Match
}

// Found reports whether any rule matched.
func (r Result) Found() bool { return len(r.Matches) > 0 }

// Rules returns the distinct names of the matched rules, sorted.
func (r Result) Rules() []string {
	names := lo.Uniq(lo.Map(r.Matches, func(m Match, _ int) string { return m.Rule }))
	slices.Sort(names)
	return names
}

// Scanner matches text against a fixed rule set. It is safe for concurrent
// use.
type Scanner struct {
	rules            []Rule
	maxContentLength int
}

// New validates rules and returns a scanner over them.
func New(rules []Rule) (*Scanner, error) {
	for i, r := range rules {
		if r.Name == "" {
			return nil, ariaerr.Errorf(ariaerr.CodeSecurityScannerFailure, "rule %d has empty name", i)
		}
		if r.Pattern == nil {
			return nil, ariaerr.Errorf(ariaerr.CodeSecurityScannerFailure, "rule %d (%s) has nil pattern", i, r.Name)
		}
		if !r.Severity.Valid() {
			return nil, ariaerr.Errorf(ariaerr.CodeSecurityScannerFailure, "rule %d (%s) has invalid severity %q", i, r.Name, r.Severity)
		}
	}
	return &Scanner{rules: slices.Clone(rules), maxContentLength: DefaultMaxContentLength}, nil
}

var defaultScanner = sync.OnceValue(func() *Scanner {
	s, err := New(CredentialRules())
	if err != nil {
		panic(err)
	}
	return s
})

// Default returns the shared scanner over CredentialRules.
func Default() *Scanner { return defaultScanner() }

// invisibleChars strips zero-width and other invisible code points that
// would otherwise split a key and hide it from the patterns.
var invisibleChars = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u061c", "", // Arabic letter mark
	"\u180e", "", // Mongolian vowel separator
	"\u2060", "", // word joiner
	"\u2061", "",
	"\u2062", "",
	"\u2063", "",
	"\u2064", "",
)

func normalize(s string) string {
	return norm.NFKC.String(invisibleChars.Replace(s))
}

// Scan normalizes content (NFKC, invisible characters removed) and returns
// every rule match against the normalized text.
func (s *Scanner) Scan(content string) Result {
	content = normalize(content)
	if len(content) > s.maxContentLength {
		return Result{Content: content, Matches: []Match{{
			Rule:     "content_too_large",
			Length:   len(content),
			Severity: SeverityHigh,
		}}}
	}

	res := Result{Content: content}
	for _, rule := range s.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(content, -1) {
			res.Matches = append(res.Matches, Match{
				Rule:     rule.Name,
				Location: loc[0],
				Length:   loc[1] - loc[0],
				Severity: rule.Severity,
			})
		}
	}
	return res
}

// Redact replaces every match in content with Placeholder. Content without
// matches is returned unchanged; otherwise the result is built from the
// normalized text.
func (s *Scanner) Redact(content string) (string, Result) {
	res := s.Scan(content)
	if !res.Found() {
		return content, res
	}
	return redact(res.Content, res.Matches), res
}

// redact merges overlapping matches and substitutes each span once.
func redact(content string, matches []Match) string {
	sorted := slices.Clone(matches)
	slices.SortFunc(sorted, func(a, b Match) int { return a.Location - b.Location })

	type span struct{ start, end int }
	spans := []span{{sorted[0].Location, sorted[0].Location + sorted[0].Length}}
	for _, m := range sorted[1:] {
		last := &spans[len(spans)-1]
		end := m.Location + m.Length
		if m.Location <= last.end {
			last.end = max(last.end, end)
			continue
		}
		spans = append(spans, span{m.Location, end})
	}

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, sp := range spans {
		b.WriteString(content[pos:sp.start])
		b.WriteString(Placeholder)
		pos = min(sp.end, len(content))
	}
	b.WriteString(content[pos:])
	return b.String()
}

// OnlyPlaceholders reports whether s has no content left besides
// placeholders, whitespace and punctuation.
func OnlyPlaceholders(s string) bool {
	rest := strings.ReplaceAll(s, Placeholder, "")
	return strings.TrimFunc(rest, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' || r > 0x7f)
	}) == ""
}
