/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"net/http"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ammujacic/podex-sub004/pkg/agent"
	"github.com/ammujacic/podex-sub004/pkg/auth"
	"github.com/ammujacic/podex-sub004/pkg/database/client"
	"github.com/ammujacic/podex-sub004/pkg/dockerhost"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/hub"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
)

const JsonContentType = "application/json"

// Cookie-bound browser auth. The CSRF cookie is readable by scripts on
// purpose; its value has to be echoed back in the header on every mutation.
const (
	TokenCookie = "podex_token"
	CsrfCookie  = "podex_csrf"
	CsrfHeader  = "X-Podex-Csrf"
)

// Gin context keys set by the auth middleware.
const (
	ctxUserId        = "podexUserId"
	ctxDeviceSession = "podexDeviceSession"
	ctxAccessJti     = "podexAccessJti"
	ctxCookieAuth    = "podexCookieAuth"
)

// Store is the persistence surface the HTTP layer needs. The database client
// is the production implementation.
type Store interface {
	GetSession(ctx context.Context, sessionId string) (*client.Session, error)
	UpsertSession(ctx context.Context, session *client.Session) error
	SelectSessions(ctx context.Context, query sqrl.Sqlizer, limit, offset int) ([]*client.Session, error)
	DeleteSession(ctx context.Context, sessionId string) error
	TouchSession(ctx context.Context, sessionId string) error

	GetWorkspace(ctx context.Context, workspaceId string) (*client.Workspace, error)

	GetDeviceSession(ctx context.Context, sessionId string) (*client.DeviceSession, error)
	InsertDeviceSession(ctx context.Context, session *client.DeviceSession) error
	ListDeviceSessions(ctx context.Context, userId string) ([]*client.DeviceSession, error)
	RevokeDeviceSession(ctx context.Context, sessionId string) error
	RevokeUserDeviceSessions(ctx context.Context, userId, keepSessionId string) ([]string, error)
	TouchDeviceSession(ctx context.Context, sessionId string) error

	GetLocalPod(ctx context.Context, podId string) (*client.LocalPod, error)
	InsertLocalPod(ctx context.Context, pod *client.LocalPod) error
	ListLocalPods(ctx context.Context, userId string) ([]*client.LocalPod, error)
	SetLocalPodStatus(ctx context.Context, podId, status, lastError string) error
	TouchLocalPodHeartbeat(ctx context.Context, podId string, workspaces int) error

	InsertAuditLog(ctx context.Context, log *client.AuditLog) error
}

type handleFunc func(*gin.Context) (interface{}, error)

// handle executes the handler function and processes the response/error
func handle(c *gin.Context, fn handleFunc) {
	response, err := fn(c)
	if err != nil {
		commonerrors.AbortWithApiError(c, err)
		return
	}
	code := http.StatusOK
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	switch responseType := response.(type) {
	case []byte:
		c.Data(code, JsonContentType, responseType)
	case string:
		c.Data(code, JsonContentType, []byte(responseType))
	default:
		c.JSON(code, responseType)
	}
}

// Handler carries the coordinator surface behind the HTTP and WebSocket
// routes.
type Handler struct {
	store     Store
	tokens    *auth.TokenManager
	blacklist *auth.Blacklist
	devices   *auth.DeviceFlow
	executor  *executor.Executor
	agents    *agent.Manager
	queue     *taskqueue.Queue
	hub       *hub.Hub
	yjs       *hub.YjsStore
	registry  *dockerhost.Registry
	audit     *AuditWriter

	upgrader websocket.Upgrader
}

func NewHandler(store Store, tokens *auth.TokenManager, blacklist *auth.Blacklist,
	devices *auth.DeviceFlow, exec *executor.Executor, agents *agent.Manager,
	queue *taskqueue.Queue, h *hub.Hub, yjs *hub.YjsStore,
	registry *dockerhost.Registry, audit *AuditWriter) *Handler {
	return &Handler{
		store:     store,
		tokens:    tokens,
		blacklist: blacklist,
		devices:   devices,
		executor:  exec,
		agents:    agents,
		queue:     queue,
		hub:       h,
		yjs:       yjs,
		registry:  registry,
		audit:     audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// currentUserId returns the authenticated user, set by the Authorize
// middleware.
func currentUserId(c *gin.Context) string {
	return c.GetString(ctxUserId)
}

// ownedSession loads a session and enforces ownership. Foreign sessions are
// reported as not found so ids cannot be probed.
func (h *Handler) ownedSession(c *gin.Context, sessionId string) (*client.Session, error) {
	session, err := h.store.GetSession(c.Request.Context(), sessionId)
	if err != nil {
		return nil, err
	}
	if session.UserId != currentUserId(c) {
		return nil, commonerrors.NewNotFoundWithMessage("session " + sessionId + " not found.")
	}
	return session, nil
}
