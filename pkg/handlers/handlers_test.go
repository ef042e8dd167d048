/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammujacic/podex-sub004/pkg/agent"
	"github.com/ammujacic/podex-sub004/pkg/auth"
	"github.com/ammujacic/podex-sub004/pkg/database/client"
	"github.com/ammujacic/podex-sub004/pkg/dockerhost"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/hub"
	"github.com/ammujacic/podex-sub004/pkg/llm"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu             sync.Mutex
	sessions       map[string]*client.Session
	workspaces     map[string]*client.Workspace
	deviceSessions map[string]*client.DeviceSession
	pods           map[string]*client.LocalPod
	audits         []*client.AuditLog
}

func newMemStore() *memStore {
	return &memStore{
		sessions:       make(map[string]*client.Session),
		workspaces:     make(map[string]*client.Workspace),
		deviceSessions: make(map[string]*client.DeviceSession),
		pods:           make(map[string]*client.LocalPod),
	}
}

func (s *memStore) GetSession(_ context.Context, sessionId string) (*client.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionId]
	if !ok {
		return nil, commonerrors.NewNotFoundWithMessage("session " + sessionId + " not found.")
	}
	copied := *session
	return &copied, nil
}

func (s *memStore) UpsertSession(_ context.Context, session *client.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.SessionId] = &copied
	return nil
}

func (s *memStore) SelectSessions(_ context.Context, query sqrl.Sqlizer, limit, _ int) ([]*client.Session, error) {
	_, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client.Session
	for _, session := range s.sessions {
		for _, arg := range args {
			if arg == session.UserId {
				copied := *session
				out = append(out, &copied)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) DeleteSession(_ context.Context, sessionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionId)
	return nil
}

func (s *memStore) TouchSession(_ context.Context, sessionId string) error { return nil }

func (s *memStore) GetWorkspace(_ context.Context, workspaceId string) (*client.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workspace, ok := s.workspaces[workspaceId]
	if !ok {
		return nil, commonerrors.NewNotFound("workspace", workspaceId)
	}
	copied := *workspace
	return &copied, nil
}

func (s *memStore) GetDeviceSession(_ context.Context, sessionId string) (*client.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.deviceSessions[sessionId]
	if !ok {
		return nil, commonerrors.NewNotFoundWithMessage("device session " + sessionId + " not found.")
	}
	copied := *session
	return &copied, nil
}

func (s *memStore) InsertDeviceSession(_ context.Context, session *client.DeviceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.deviceSessions[session.SessionId] = &copied
	return nil
}

func (s *memStore) ListDeviceSessions(_ context.Context, userId string) ([]*client.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client.DeviceSession
	for _, session := range s.deviceSessions {
		if session.UserId == userId && !session.IsRevoked {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) RevokeDeviceSession(_ context.Context, sessionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.deviceSessions[sessionId]; ok {
		session.IsRevoked = true
	}
	return nil
}

func (s *memStore) RevokeUserDeviceSessions(ctx context.Context, userId, keepSessionId string) ([]string, error) {
	sessions, err := s.ListDeviceSessions(ctx, userId)
	if err != nil {
		return nil, err
	}
	var jtis []string
	for _, session := range sessions {
		if session.SessionId == keepSessionId {
			continue
		}
		if err = s.RevokeDeviceSession(ctx, session.SessionId); err != nil {
			return jtis, err
		}
		jtis = append(jtis, session.RefreshTokenJti)
	}
	return jtis, nil
}

func (s *memStore) TouchDeviceSession(_ context.Context, sessionId string) error { return nil }

func (s *memStore) GetLocalPod(_ context.Context, podId string) (*client.LocalPod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pod, ok := s.pods[podId]
	if !ok {
		return nil, commonerrors.NewNotFoundWithMessage("local pod " + podId + " not found.")
	}
	copied := *pod
	return &copied, nil
}

func (s *memStore) InsertLocalPod(_ context.Context, pod *client.LocalPod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *pod
	s.pods[pod.PodId] = &copied
	return nil
}

func (s *memStore) ListLocalPods(_ context.Context, userId string) ([]*client.LocalPod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client.LocalPod
	for _, pod := range s.pods {
		if pod.UserId == userId {
			copied := *pod
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) SetLocalPodStatus(_ context.Context, podId, status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pod, ok := s.pods[podId]; ok {
		pod.Status = status
	}
	return nil
}

func (s *memStore) TouchLocalPodHeartbeat(_ context.Context, podId string, workspaces int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pod, ok := s.pods[podId]; ok {
		pod.CurrentWorkspaces = workspaces
	}
	return nil
}

func (s *memStore) InsertAuditLog(_ context.Context, log *client.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, log)
	return nil
}

func (s *memStore) auditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

// stubProvider keeps handler tests independent of any LLM backend.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }
func (stubProvider) Chat(context.Context, *llm.Request) (*llm.Response, error) {
	return nil, commonerrors.NewTransport("no provider in tests")
}
func (stubProvider) ChatStream(context.Context, *llm.Request) (llm.Stream, error) {
	return nil, commonerrors.NewTransport("no provider in tests")
}
func (stubProvider) ListModels(context.Context) ([]llm.ModelInfo, error) { return nil, nil }
func (stubProvider) IsAvailable(context.Context) bool                    { return false }

type capturingRunner struct {
	mu    sync.Mutex
	calls []*executor.ToolCall
	out   *executor.ToolResult
}

func (r *capturingRunner) RunTool(_ context.Context, call *executor.ToolCall) (*executor.ToolResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.out, nil
}

func (r *capturingRunner) lastCall() *executor.ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

type staticAllowlist struct{ entries []string }

func (l *staticAllowlist) Get(context.Context, string) ([]string, error) { return l.entries, nil }
func (l *staticAllowlist) Append(_ context.Context, _, entry string) error {
	l.entries = append(l.entries, entry)
	return nil
}

type handlerRig struct {
	store   *memStore
	tokens  *auth.TokenManager
	handler *Handler
	engine  *gin.Engine
	queue   *taskqueue.Queue
	runner  *capturingRunner
	hub     *hub.Hub
	audit   *AuditWriter
}

func newHandlerRig(t *testing.T) *handlerRig {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore()
	tokens, err := auth.NewTokenManager("handler-test-secret", 30*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	blacklist := auth.NewBlacklist(rdb)
	devices := auth.NewDeviceFlow(rdb, tokens, 15*time.Minute, 1, "https://podex.test/activate")
	queue := taskqueue.NewQueue(rdb, 5*time.Minute)
	realtime := hub.NewHub(hub.WithDisconnectGrace(20 * time.Millisecond))
	yjs := hub.NewYjsStore()
	registry := dockerhost.NewRegistry()
	audit := NewAuditWriter(store, 10*time.Millisecond)

	catalog := executor.NewCatalogWithTools(map[executor.ToolCategory][]string{
		executor.CategoryRead:    {"read_file", "git_status", "git_branch", "git_diff", "git_log"},
		executor.CategoryWrite:   {"git_commit", "git_push"},
		executor.CategoryCommand: {"run_command"},
	})
	runner := &capturingRunner{out: &executor.ToolResult{Output: "clean", ExitCode: 0}}
	exec := executor.NewExecutor(catalog, executor.NewApprovals(time.Minute),
		executor.NewHookRunner(0), runner, &staticAllowlist{}, audit, nil)
	agents := agent.NewManager(queue, stubProvider{}, exec, catalog, nil)
	t.Cleanup(agents.StopAll)

	handler := NewHandler(store, tokens, blacklist, devices, exec, agents,
		queue, realtime, yjs, registry, audit)
	engine := gin.New()
	InitRouters(engine, handler)
	return &handlerRig{
		store:   store,
		tokens:  tokens,
		handler: handler,
		engine:  engine,
		queue:   queue,
		runner:  runner,
		hub:     realtime,
		audit:   audit,
	}
}

func (rig *handlerRig) accessToken(t *testing.T, userId, deviceSession string) string {
	t.Helper()
	token, _, err := rig.tokens.IssueAccessToken(userId, deviceSession)
	require.NoError(t, err)
	return token
}

func (rig *handlerRig) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", JsonContentType)
	if token != "" {
		req.Header.Set("Authorization", bearerPrefix+token)
	}
	w := httptest.NewRecorder()
	rig.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (rig *handlerRig) createSession(t *testing.T, token, title string) string {
	t.Helper()
	w := rig.do(t, http.MethodPost, "/api/v1/sessions", token, gin.H{
		"title": title, "agent_mode": "auto", "workspace_id": "ws1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody(t, w)["SessionId"].(string)
}

func TestAuthorizeRejectsMissingToken(t *testing.T) {
	rig := newHandlerRig(t)
	w := rig.do(t, http.MethodGet, "/api/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCookieAuthRequiresCsrf(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")

	body, _ := json.Marshal(gin.H{"title": "csrf check"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", JsonContentType)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	w := httptest.NewRecorder()
	rig.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", JsonContentType)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	req.AddCookie(&http.Cookie{Name: CsrfCookie, Value: "tok123"})
	req.Header.Set(CsrfHeader, "tok123")
	w = httptest.NewRecorder()
	rig.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBearerSkipsCsrf(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")
	w := rig.do(t, http.MethodPost, "/api/v1/sessions", token, gin.H{"title": "bearer"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSessionLifecycle(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")
	sessionId := rig.createSession(t, token, "lifecycle")

	w := rig.do(t, http.MethodGet, "/api/v1/sessions/"+sessionId, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodPost, "/api/v1/sessions/"+sessionId+"/archive", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = rig.do(t, http.MethodPost, "/api/v1/sessions/"+sessionId+"/archive", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(t, http.MethodPost, "/api/v1/sessions/"+sessionId+"/unarchive", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodDelete, "/api/v1/sessions/"+sessionId, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/v1/sessions/"+sessionId, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionOwnershipHiddenAsNotFound(t *testing.T) {
	rig := newHandlerRig(t)
	owner := rig.accessToken(t, "u1", "")
	other := rig.accessToken(t, "u2", "")
	sessionId := rig.createSession(t, owner, "private")

	w := rig.do(t, http.MethodGet, "/api/v1/sessions/"+sessionId, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGitStatusDispatchesReadTool(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")
	sessionId := rig.createSession(t, token, "git")

	w := rig.do(t, http.MethodGet, "/api/v1/sessions/"+sessionId+"/git/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "clean", decodeBody(t, w)["output"])

	call := rig.runner.lastCall()
	require.NotNil(t, call)
	assert.Equal(t, "git_status", call.Tool)
	assert.Equal(t, executor.ModeSovereign, call.Mode)
	assert.Equal(t, "ws1", call.WorkspaceId)
}

func TestGitCheckoutRejectsUnsafeRef(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")
	sessionId := rig.createSession(t, token, "git refs")

	w := rig.do(t, http.MethodPost, "/api/v1/sessions/"+sessionId+"/git/checkout",
		token, gin.H{"branch": "main; rm -rf /"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, rig.runner.lastCall())
}

func TestGitOpsRequireWorkspace(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")
	w := rig.do(t, http.MethodPost, "/api/v1/sessions", token, gin.H{"title": "no workspace"})
	require.Equal(t, http.StatusOK, w.Code)
	sessionId := decodeBody(t, w)["SessionId"].(string)

	w = rig.do(t, http.MethodGet, "/api/v1/sessions/"+sessionId+"/git/status", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTaskEnqueues(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")
	sessionId := rig.createSession(t, token, "tasks")

	w := rig.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/tasks", sessionId),
		token, gin.H{"description": "summarize the repo", "priority": "high"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	taskId := decodeBody(t, w)["task_id"].(string)

	task, err := rig.queue.GetTask(context.Background(), taskId)
	require.NoError(t, err)
	assert.Equal(t, "summarize the repo", task.Description)
	assert.Equal(t, taskqueue.PriorityHigh, task.Priority)
}

func TestCreateTaskRejectsUnknownPriority(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")
	sessionId := rig.createSession(t, token, "tasks")

	w := rig.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/tasks", sessionId),
		token, gin.H{"description": "x", "priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeviceGrantFlow(t *testing.T) {
	rig := newHandlerRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/auth/device/code", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	codes := decodeBody(t, w)
	deviceCode := codes["device_code"].(string)
	userCode := codes["user_code"].(string)

	// Approve from a signed-in browser session, then exchange.
	userToken := rig.accessToken(t, "u1", "")
	w = rig.do(t, http.MethodPost, "/api/v1/auth/device/authorize", userToken,
		gin.H{"user_code": userCode, "approve": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = rig.do(t, http.MethodPost, "/api/v1/auth/device/token", "",
		gin.H{"device_code": deviceCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	grant := decodeBody(t, w)
	claims, err := rig.tokens.Verify(grant["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	// The device session materialized with the refresh JTI.
	sessions, err := rig.store.ListDeviceSessions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotEmpty(t, sessions[0].RefreshTokenJti)

	// A code is exchangeable exactly once.
	w = rig.do(t, http.MethodPost, "/api/v1/auth/device/token", "",
		gin.H{"device_code": deviceCode})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, auth.ErrInvalidGrant, decodeBody(t, w)["error"])
}

func TestDeviceTokenPendingAndSlowDown(t *testing.T) {
	rig := newHandlerRig(t)
	w := rig.do(t, http.MethodPost, "/api/v1/auth/device/code", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	deviceCode := decodeBody(t, w)["device_code"].(string)

	w = rig.do(t, http.MethodPost, "/api/v1/auth/device/token", "", gin.H{"device_code": deviceCode})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, auth.ErrAuthorizationPending, decodeBody(t, w)["error"])

	w = rig.do(t, http.MethodPost, "/api/v1/auth/device/token", "", gin.H{"device_code": deviceCode})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, auth.ErrSlowDown, decodeBody(t, w)["error"])
}

func TestRevokeDeviceSessionsKeepCurrent(t *testing.T) {
	rig := newHandlerRig(t)
	ctx := context.Background()
	require.NoError(t, rig.store.InsertDeviceSession(ctx, &client.DeviceSession{
		SessionId: "dev1", UserId: "u1", DeviceType: "web", RefreshTokenJti: "jti-1",
	}))
	require.NoError(t, rig.store.InsertDeviceSession(ctx, &client.DeviceSession{
		SessionId: "dev2", UserId: "u1", DeviceType: "cli", RefreshTokenJti: "jti-2",
	}))

	token := rig.accessToken(t, "u1", "dev1")
	w := rig.do(t, http.MethodDelete, "/api/v1/auth/sessions?keep_current=true", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, w)["revoked"])

	sessions, err := rig.store.ListDeviceSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "dev1", sessions[0].SessionId)

	revoked, err := rig.handler.blacklist.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevokeSingleDeviceSessionBlacklistsJti(t *testing.T) {
	rig := newHandlerRig(t)
	ctx := context.Background()
	require.NoError(t, rig.store.InsertDeviceSession(ctx, &client.DeviceSession{
		SessionId: "dev9", UserId: "u1", DeviceType: "cli", RefreshTokenJti: "jti-9",
	}))

	token := rig.accessToken(t, "u1", "")
	w := rig.do(t, http.MethodDelete, "/api/v1/auth/sessions/dev9", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	revoked, err := rig.handler.blacklist.IsRevoked(ctx, "jti-9")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Another user cannot revoke it.
	other := rig.accessToken(t, "u2", "")
	require.NoError(t, rig.store.InsertDeviceSession(ctx, &client.DeviceSession{
		SessionId: "dev10", UserId: "u1", DeviceType: "cli", RefreshTokenJti: "jti-10",
	}))
	w = rig.do(t, http.MethodDelete, "/api/v1/auth/sessions/dev10", other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterLocalPodReturnsTokenOnce(t *testing.T) {
	rig := newHandlerRig(t)
	token := rig.accessToken(t, "u1", "")

	w := rig.do(t, http.MethodPost, "/api/v1/pods", token, gin.H{"name": "homelab"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	podId := body["pod_id"].(string)
	podToken := body["token"].(string)
	assert.NotEmpty(t, podToken)

	pod, err := rig.store.GetLocalPod(context.Background(), podId)
	require.NoError(t, err)
	assert.NotEqual(t, podToken, pod.TokenHash)
	require.NoError(t, auth.VerifyPodToken(podToken, pod.TokenHash))

	w = rig.do(t, http.MethodGet, "/api/v1/pods", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "homelab")
	assert.NotContains(t, w.Body.String(), podToken)
}

func TestAuditWriterFlushesEntries(t *testing.T) {
	store := newMemStore()
	writer := NewAuditWriter(store, 5*time.Millisecond)
	writer.Start()
	writer.Record(context.Background(), &executor.AuditEntry{
		UserId: "u1", SessionId: "s1", Tool: "read_file", Outcome: "success",
	})
	require.Eventually(t, func() bool { return store.auditCount() == 1 },
		time.Second, 5*time.Millisecond)
	writer.Stop()
}

func TestMutatingRequestsAreAudited(t *testing.T) {
	rig := newHandlerRig(t)
	rig.audit.Start()
	defer rig.audit.Stop()
	token := rig.accessToken(t, "u1", "")
	rig.createSession(t, token, "audited")
	require.Eventually(t, func() bool { return rig.store.auditCount() >= 1 },
		time.Second, 10*time.Millisecond)
}
