/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/agent"
	"github.com/ammujacic/podex-sub004/pkg/database/client"
	dbutils "github.com/ammujacic/podex-sub004/pkg/database/utils"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type createSessionRequest struct {
	Title       string `json:"title" binding:"required"`
	AgentMode   string `json:"agent_mode"`
	Model       string `json:"model"`
	RepoUrl     string `json:"repo_url"`
	WorkspaceId string `json:"workspace_id"`
}

type createTaskRequest struct {
	Description string            `json:"description" binding:"required"`
	Priority    string            `json:"priority"`
	AgentRole   string            `json:"agent_role"`
	Context     map[string]string `json:"context"`
}

type resolveApprovalRequest struct {
	Approved       bool `json:"approved"`
	AddToAllowlist bool `json:"add_to_allowlist"`
}

// listSessions returns the caller's sessions, newest activity first. The
// status query parameter narrows to active or archived.
func (h *Handler) listSessions(c *gin.Context) (interface{}, error) {
	query := sqrl.And{sqrl.Eq{"user_id": currentUserId(c)}}
	if status := c.Query("status"); status != "" {
		query = append(query, sqrl.Eq{"status": status})
	}
	limit, offset := pagination(c)
	sessions, err := h.store.SelectSessions(c.Request.Context(), query, limit, offset)
	if err != nil {
		return nil, err
	}
	return gin.H{"sessions": sessions}, nil
}

func (h *Handler) createSession(c *gin.Context) (interface{}, error) {
	request := &createSessionRequest{}
	if err := c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	now := time.Now().UTC()
	session := &client.Session{
		SessionId:    uuid.NewString(),
		UserId:       currentUserId(c),
		Title:        request.Title,
		Status:       client.SessionActive,
		AgentMode:    string(executor.ParseMode(request.AgentMode)),
		Model:        dbutils.NullString(request.Model),
		WorkspaceId:  dbutils.NullString(request.WorkspaceId),
		RepoUrl:      dbutils.NullString(request.RepoUrl),
		CreatedAt:    pq.NullTime{Time: now, Valid: true},
		LastActivity: pq.NullTime{Time: now, Valid: true},
	}
	if err := h.store.UpsertSession(c.Request.Context(), session); err != nil {
		return nil, err
	}
	klog.InfoS("session created", "sessionId", session.SessionId, "userId", session.UserId)
	return session, nil
}

func (h *Handler) getSession(c *gin.Context) (interface{}, error) {
	return h.ownedSession(c, c.Param("id"))
}

func (h *Handler) archiveSession(c *gin.Context) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	if session.Status == client.SessionArchived {
		return nil, commonerrors.NewConflict("session " + session.SessionId + " is already archived")
	}
	session.Status = client.SessionArchived
	session.ArchivedAt = pq.NullTime{Time: time.Now().UTC(), Valid: true}
	if err = h.store.UpsertSession(c.Request.Context(), session); err != nil {
		return nil, err
	}
	h.agents.Stop(session.SessionId)
	return session, nil
}

func (h *Handler) unarchiveSession(c *gin.Context) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	if session.Status != client.SessionArchived {
		return nil, commonerrors.NewConflict("session " + session.SessionId + " is not archived")
	}
	session.Status = client.SessionActive
	session.ArchivedAt = pq.NullTime{}
	session.LastActivity = pq.NullTime{Time: time.Now().UTC(), Valid: true}
	if err = h.store.UpsertSession(c.Request.Context(), session); err != nil {
		return nil, err
	}
	return session, nil
}

// deleteSession tears a session down: worker stopped, queued work cancelled,
// collaborative state freed, then the record removed.
func (h *Handler) deleteSession(c *gin.Context) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	h.agents.Stop(session.SessionId)
	h.cancelSessionTasks(ctx, session.SessionId)
	h.yjs.DropSession(session.SessionId)
	if err = h.store.DeleteSession(ctx, session.SessionId); err != nil {
		return nil, err
	}
	klog.InfoS("session deleted", "sessionId", session.SessionId, "userId", session.UserId)
	return gin.H{"deleted": session.SessionId}, nil
}

// createTask enqueues agent work and lazily starts the session's worker.
func (h *Handler) createTask(c *gin.Context) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	request := &createTaskRequest{}
	if err = c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	priority, err := parsePriority(request.Priority)
	if err != nil {
		return nil, err
	}
	taskId, err := h.queue.Enqueue(c.Request.Context(), &taskqueue.Task{
		SessionId:   session.SessionId,
		AgentRole:   request.AgentRole,
		Description: request.Description,
		Priority:    priority,
		Context:     request.Context,
	})
	if err != nil {
		return nil, err
	}
	h.ensureWorker(session)
	return gin.H{"task_id": taskId}, nil
}

// listTasks reports the session's queue state with the task bodies that are
// still retained.
func (h *Handler) listTasks(c *gin.Context) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	pending, err := h.queue.ListPending(ctx, session.SessionId)
	if err != nil {
		return nil, err
	}
	active, err := h.queue.ListActive(ctx, session.SessionId)
	if err != nil {
		return nil, err
	}
	completed, err := h.queue.ListCompleted(ctx, session.SessionId)
	if err != nil {
		return nil, err
	}
	tasks := make([]*taskqueue.Task, 0, len(pending)+len(active)+len(completed))
	for _, id := range append(append(append([]string{}, pending...), active...), completed...) {
		task, err := h.queue.GetTask(ctx, id)
		if commonerrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return gin.H{
		"pending":   pending,
		"active":    active,
		"completed": completed,
		"tasks":     tasks,
	}, nil
}

func (h *Handler) cancelTask(c *gin.Context) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	taskId := c.Param("taskId")
	task, err := h.queue.GetTask(c.Request.Context(), taskId)
	if err != nil {
		return nil, err
	}
	if task.SessionId != session.SessionId {
		return nil, commonerrors.NewNotFoundWithMessage("task " + taskId + " not found.")
	}
	if err = h.queue.Cancel(c.Request.Context(), taskId); err != nil {
		return nil, err
	}
	return gin.H{"cancelled": taskId}, nil
}

// resolveApproval delivers the user's decision to the executor future the
// agent loop is blocked on.
func (h *Handler) resolveApproval(c *gin.Context) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	request := &resolveApprovalRequest{}
	if err = c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	approvalId := c.Param("approvalId")
	if err = h.executor.ResolveApproval(approvalId, request.Approved, request.AddToAllowlist); err != nil {
		return nil, err
	}
	klog.InfoS("approval resolved", "sessionId", session.SessionId,
		"approvalId", approvalId, "approved", request.Approved)
	return gin.H{"approval_id": approvalId, "approved": request.Approved}, nil
}

// ensureWorker starts the session's agent worker if none is running. The
// worker outlives the request; shutdown is handled by the manager.
func (h *Handler) ensureWorker(session *client.Session) {
	if h.agents.Running(session.SessionId) {
		return
	}
	err := h.agents.Start(context.Background(), agent.Config{
		SessionId:   session.SessionId,
		WorkspaceId: session.WorkspaceId.String,
		UserId:      session.UserId,
		AgentId:     uuid.NewString(),
		Mode:        executor.ParseMode(session.AgentMode),
		Model:       session.Model.String,
	})
	if err != nil && !commonerrors.IsConflict(err) {
		klog.ErrorS(err, "failed to start session worker", "sessionId", session.SessionId)
	}
}

func (h *Handler) cancelSessionTasks(ctx context.Context, sessionId string) {
	pending, _ := h.queue.ListPending(ctx, sessionId)
	active, _ := h.queue.ListActive(ctx, sessionId)
	for _, taskId := range append(pending, active...) {
		if err := h.queue.Cancel(ctx, taskId); err != nil && !commonerrors.IsNotFound(err) {
			klog.ErrorS(err, "failed to cancel task", "sessionId", sessionId, "taskId", taskId)
		}
	}
}

func parsePriority(raw string) (taskqueue.Priority, error) {
	switch taskqueue.Priority(strings.ToUpper(strings.TrimSpace(raw))) {
	case "":
		return taskqueue.PriorityMedium, nil
	case taskqueue.PriorityHigh:
		return taskqueue.PriorityHigh, nil
	case taskqueue.PriorityMedium:
		return taskqueue.PriorityMedium, nil
	case taskqueue.PriorityLow:
		return taskqueue.PriorityLow, nil
	}
	return "", commonerrors.NewBadRequest("unknown priority " + raw)
}

func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
