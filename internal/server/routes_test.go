// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/aria/internal/maintenance"
	"github.com/sigil-dev/aria/internal/server"
	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/health"
)

type mockMemories struct {
	records  []*store.MemoryRecord
	listOpts store.ListOpts
	listArgs [2]string
	forgot   [2]string
	pruned   int
	err      error
}

func (m *mockMemories) ListMemories(_ context.Context, userID, tenantID string, opts store.ListOpts) ([]*store.MemoryRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if userID == "" {
		return nil, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "user id is required")
	}
	m.listArgs = [2]string{userID, tenantID}
	m.listOpts = opts
	return m.records, nil
}

func (m *mockMemories) ForgetUser(_ context.Context, userID, tenantID string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.forgot = [2]string{userID, tenantID}
	return 3, nil
}

func (m *mockMemories) Stats(context.Context) (*store.MemoryStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &store.MemoryStats{
		Total:             2,
		ByType:            map[store.MemoryType]int{store.MemoryTypeUser: 2},
		TopUsers:          []store.UserCount{{UserID: "u1", Count: 2}},
		AverageImportance: 6.5,
	}, nil
}

func (m *mockMemories) PruneStale(context.Context) (int64, error) {
	m.pruned++
	return 7, m.err
}

type mockConversations struct {
	cleared []string
}

func (m *mockConversations) Clear(_ context.Context, key string) error {
	m.cleared = append(m.cleared, key)
	return nil
}

func (m *mockConversations) Len() int { return 4 }

type mockProviders struct{ configured bool }

func (m mockProviders) Configured() bool { return m.configured }
func (m mockProviders) Names() []string  { return []string{"openai", "google"} }
func (m mockProviders) Metrics() map[string]health.Metrics {
	return map[string]health.Metrics{
		"google": {State: health.CircuitClosed, Available: true},
		"openai": {State: health.CircuitOpen, ConsecutiveFailures: 5},
	}
}

type mockMaintenance struct{}

func (mockMaintenance) Results() map[string]maintenance.Result {
	return map[string]maintenance.Result{maintenance.JobPrune: {Removed: 2}}
}

func newServices() *server.Services {
	return &server.Services{
		Memories:      &mockMemories{},
		Conversations: &mockConversations{},
		Providers:     mockProviders{configured: true},
		Maintenance:   mockMaintenance{},
		StartedAt:     time.Now().Add(-time.Minute),
	}
}

func newRouteServer(t *testing.T, svc *server.Services) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", Version: "1.2.3"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	srv.RegisterServices(svc)
	return srv
}

func do(t *testing.T, srv *server.Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

// deleted decodes a {"deleted": n} body; huma may add a $schema field.
func deleted(t *testing.T, w *httptest.ResponseRecorder) int64 {
	t.Helper()
	var body struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Deleted
}

func TestServer_New_EmptyListenAddr(t *testing.T) {
	_, err := server.New(server.Config{})
	require.Error(t, err)
	assert.True(t, ariaerr.HasCode(err, ariaerr.CodeServerConfigInvalid))
}

func TestServer_HealthAndOpenAPI(t *testing.T) {
	srv := newRouteServer(t, newServices())

	w := do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = do(t, srv, http.MethodGet, "/openapi.json")
	require.Equal(t, http.StatusOK, w.Code)
	for _, path := range []string{"/api/v1/status", "/api/v1/users/{userId}/memories", "/api/v1/memories/stats", "/api/v1/memories/prune", "/api/v1/conversations/{key}"} {
		assert.Contains(t, w.Body.String(), path)
	}
}

func TestStatus(t *testing.T) {
	srv := newRouteServer(t, newServices())

	w := do(t, srv, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status              string `json:"status"`
		Version             string `json:"version"`
		ProvidersConfigured bool   `json:"providers_configured"`
		Providers           []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"providers"`
		CachedConversations int                           `json:"cached_conversations"`
		Maintenance         map[string]maintenance.Result `json:"maintenance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.True(t, body.ProvidersConfigured)
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "google", body.Providers[0].Name)
	assert.Equal(t, "open", body.Providers[1].State)
	assert.Equal(t, 4, body.CachedConversations)
	assert.Equal(t, int64(2), body.Maintenance[maintenance.JobPrune].Removed)
}

func TestStatus_DegradedWithoutProviders(t *testing.T) {
	svc := newServices()
	svc.Providers = mockProviders{}
	srv := newRouteServer(t, svc)

	w := do(t, srv, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestListMemories(t *testing.T) {
	mem := &mockMemories{records: []*store.MemoryRecord{{
		ID: "m1", UserID: "u1", TenantID: "g1", Key: "food", Value: "likes pizza",
		Importance: 7, Type: store.MemoryTypeUser, CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}}}
	svc := newServices()
	svc.Memories = mem
	srv := newRouteServer(t, svc)

	w := do(t, srv, http.MethodGet, "/api/v1/users/u1/memories?tenant=g1&limit=10&offset=5")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, [2]string{"u1", "g1"}, mem.listArgs)
	assert.Equal(t, store.ListOpts{Limit: 10, Offset: 5}, mem.listOpts)

	var body struct {
		Memories []server.MemoryView `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Memories, 1)
	assert.Equal(t, "likes pizza", body.Memories[0].Value)
	assert.Equal(t, "user", body.Memories[0].Type)

	w = do(t, srv, http.MethodGet, "/api/v1/users/u1/memories")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]string{"u1", ""}, mem.listArgs)
	assert.Equal(t, 50, mem.listOpts.Limit)
}

func TestListMemories_ErrorStatus(t *testing.T) {
	svc := newServices()
	svc.Memories = &mockMemories{err: ariaerr.New(ariaerr.CodeMemoryStoreFailure, "db gone")}
	srv := newRouteServer(t, svc)

	w := do(t, srv, http.MethodGet, "/api/v1/users/u1/memories")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/users/u1/memories?limit=0")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestForgetMemories(t *testing.T) {
	mem := &mockMemories{}
	svc := newServices()
	svc.Memories = mem
	srv := newRouteServer(t, svc)

	w := do(t, srv, http.MethodDelete, "/api/v1/users/u1/memories?tenant=g1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), deleted(t, w))
	assert.Equal(t, [2]string{"u1", "g1"}, mem.forgot)

	w = do(t, srv, http.MethodDelete, "/api/v1/users/u1/memories")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]string{"u1", ""}, mem.forgot)
}

func TestMemoryStatsAndPrune(t *testing.T) {
	mem := &mockMemories{}
	svc := newServices()
	svc.Memories = mem
	srv := newRouteServer(t, svc)

	w := do(t, srv, http.MethodGet, "/api/v1/memories/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats store.MemoryStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByType[store.MemoryTypeUser])

	w = do(t, srv, http.MethodPost, "/api/v1/memories/prune")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), deleted(t, w))
	assert.Equal(t, 1, mem.pruned)
}

func TestClearConversation(t *testing.T) {
	conv := &mockConversations{}
	svc := newServices()
	svc.Conversations = conv
	srv := newRouteServer(t, svc)

	w := do(t, srv, http.MethodDelete, "/api/v1/conversations/dm:42")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"dm:42"}, conv.cleared)
}
