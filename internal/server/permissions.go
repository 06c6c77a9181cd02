// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Permissions required by the admin routes.
const (
	PermStatusRead         = "status.read"
	PermMemoriesRead       = "memories.read"
	PermMemoriesWrite      = "memories.write"
	PermConversationsWrite = "conversations.write"
)

// KnownPermissions lists every permission a route can require.
var KnownPermissions = []string{PermStatusRead, PermMemoriesRead, PermMemoriesWrite, PermConversationsWrite}

// MatchPermission reports whether pattern grants perm. Both are
// dot-separated; a "*" segment matches one or more segments and a "*"
// inside a segment matches any run of characters in that segment.
func MatchPermission(pattern, perm string) bool {
	if !validDotted(pattern) || !validDotted(perm) {
		return false
	}
	return matchSegments(strings.Split(pattern, "."), strings.Split(perm, "."))
}

func matchSegments(pattern, perm []string) bool {
	if len(pattern) == 0 {
		return len(perm) == 0
	}
	if len(perm) == 0 {
		return false
	}
	if pattern[0] == "*" {
		for next := 1; next <= len(perm); next++ {
			if matchSegments(pattern[1:], perm[next:]) {
				return true
			}
		}
		return false
	}
	return matchSegment(pattern[0], perm[0]) && matchSegments(pattern[1:], perm[1:])
}

func matchSegment(pattern, text string) bool {
	if pattern == text {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	pi, ti := 0, 0
	star, mark := -1, 0
	for ti < len(text) {
		switch {
		case pi < len(pattern) && pattern[pi] == text[ti]:
			pi++
			ti++
		case pi < len(pattern) && pattern[pi] == '*':
			star, mark = pi, ti
			pi++
		case star != -1:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

func validDotted(s string) bool {
	return s != "" && !strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".") && !strings.Contains(s, "..")
}

// Can reports whether any of the user's permission patterns grants perm.
func (u *AuthenticatedUser) Can(perm string) bool {
	for _, p := range u.Permissions {
		if MatchPermission(p, perm) {
			return true
		}
	}
	return false
}

// requirePermission rejects requests whose token lacks perm. Requests pass
// through when authentication is disabled.
func requirePermission(api huma.API, perm string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		user := UserFromContext(ctx.Context())
		if user == nil || user.Can(perm) {
			next(ctx)
			return
		}
		slog.Warn("server: permission denied", "token", user.ID, "permission", perm, "path", ctx.URL().Path)
		_ = huma.WriteErr(api, ctx, http.StatusForbidden, "token lacks permission "+perm)
	}
}
