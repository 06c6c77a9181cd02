// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

type contextKey int

const authUserKey contextKey = iota

// AuthenticatedUser is the identity behind a validated bearer token.
type AuthenticatedUser struct {
	ID          string
	Name        string
	Permissions []string
}

// NewAuthenticatedUser validates and builds an AuthenticatedUser.
func NewAuthenticatedUser(id, name string, permissions []string) (*AuthenticatedUser, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ariaerr.New(ariaerr.CodeServerConfigInvalid, "user id is required")
	}
	return &AuthenticatedUser{ID: id, Name: name, Permissions: slices.Clone(permissions)}, nil
}

// TokenValidator resolves a bearer token to a user. Implementations return
// an unauthorized or forbidden coded error for rejected tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*AuthenticatedUser, error)
}

// Token is one configured admin token.
type Token struct {
	Name        string
	Token       string
	Permissions []string
}

type tokenEntry struct {
	hash [sha256.Size]byte
	user *AuthenticatedUser
}

// StaticTokens validates against a fixed token list. Only SHA-256 digests
// are kept, and every entry is compared in constant time.
type StaticTokens struct {
	entries []tokenEntry
}

// NewStaticTokens hashes the configured tokens. Empty tokens are rejected.
func NewStaticTokens(tokens []Token) (*StaticTokens, error) {
	st := &StaticTokens{}
	for i, t := range tokens {
		if t.Token == "" {
			return nil, ariaerr.Errorf(ariaerr.CodeServerConfigInvalid, "server token %d is empty", i)
		}
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		perms := t.Permissions
		if len(perms) == 0 {
			perms = []string{"*"}
		}
		user, err := NewAuthenticatedUser(name, name, perms)
		if err != nil {
			return nil, err
		}
		st.entries = append(st.entries, tokenEntry{hash: sha256.Sum256([]byte(t.Token)), user: user})
	}
	return st, nil
}

// ValidateToken implements TokenValidator.
func (s *StaticTokens) ValidateToken(_ context.Context, token string) (*AuthenticatedUser, error) {
	candidate := sha256.Sum256([]byte(token))
	var match *AuthenticatedUser
	for i := range s.entries {
		if subtle.ConstantTimeCompare(candidate[:], s.entries[i].hash[:]) == 1 && match == nil {
			match = s.entries[i].user
		}
	}
	if match == nil {
		return nil, ariaerr.New(ariaerr.CodeServerAuthUnauthorized, "invalid token")
	}
	return match, nil
}

// UserFromContext returns the authenticated user, or nil when auth is off.
func UserFromContext(ctx context.Context) *AuthenticatedUser {
	user, _ := ctx.Value(authUserKey).(*AuthenticatedUser)
	return user
}

// NewAuthMiddleware requires "Authorization: Bearer <token>" on every path
// not listed in public.
func NewAuthMiddleware(validator TokenValidator, public []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(public, r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, "authorization header required")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeAuthError(w, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
				return
			}

			user, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				status := ariaerr.HTTPStatus(err)
				if status != http.StatusForbidden {
					status = http.StatusUnauthorized
				}
				slog.Warn("server: rejected admin request", "path", r.URL.Path, "remote", r.RemoteAddr, "status", status)
				if status == http.StatusForbidden {
					writeAuthError(w, status, "forbidden")
				} else {
					writeAuthError(w, status, "invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authUserKey, user)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.Warn("server: writing auth error failed", "error", err)
	}
}
