/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ammujacic/podex-sub004/pkg/database/client"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
)

// Git endpoints run inside the session's workspace as tool calls, so they
// share the executor's containment checks and audit trail with agent work.
// The calls carry sovereign mode: the user clicking the button is the
// approval.

// refPattern accepts git ref names that are safe to embed in a command line.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

type gitCommitRequest struct {
	Message string `json:"message" binding:"required"`
}

type gitRefRequest struct {
	Branch string `json:"branch" binding:"required"`
}

type gitCompareRequest struct {
	Base string `json:"base" binding:"required"`
	Head string `json:"head" binding:"required"`
}

func (h *Handler) gitStatus(c *gin.Context) (interface{}, error) {
	return h.dispatchGit(c, "git_status", nil)
}

func (h *Handler) gitBranches(c *gin.Context) (interface{}, error) {
	return h.dispatchGit(c, "git_branch", nil)
}

func (h *Handler) gitCommit(c *gin.Context) (interface{}, error) {
	request := &gitCommitRequest{}
	if err := c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	return h.dispatchGit(c, "git_commit", map[string]interface{}{"message": request.Message})
}

func (h *Handler) gitPush(c *gin.Context) (interface{}, error) {
	return h.dispatchGit(c, "git_push", nil)
}

func (h *Handler) gitPull(c *gin.Context) (interface{}, error) {
	return h.dispatchGit(c, "run_command", map[string]interface{}{
		"command": "git pull --ff-only",
	})
}

func (h *Handler) gitCheckout(c *gin.Context) (interface{}, error) {
	request := &gitRefRequest{}
	if err := c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	if err := validateRef(request.Branch); err != nil {
		return nil, err
	}
	return h.dispatchGit(c, "run_command", map[string]interface{}{
		"command": fmt.Sprintf("git checkout %s", request.Branch),
	})
}

func (h *Handler) gitCompare(c *gin.Context) (interface{}, error) {
	request, err := bindCompare(c)
	if err != nil {
		return nil, err
	}
	return h.dispatchGit(c, "git_diff", map[string]interface{}{
		"base": request.Base,
		"head": request.Head,
	})
}

// gitMergePreview reports what a merge would produce without touching the
// worktree.
func (h *Handler) gitMergePreview(c *gin.Context) (interface{}, error) {
	request, err := bindCompare(c)
	if err != nil {
		return nil, err
	}
	return h.dispatchGit(c, "run_command", map[string]interface{}{
		"command": fmt.Sprintf("git merge-tree --write-tree %s %s", request.Base, request.Head),
	})
}

func bindCompare(c *gin.Context) (*gitCompareRequest, error) {
	request := &gitCompareRequest{}
	if err := c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	if err := validateRef(request.Base); err != nil {
		return nil, err
	}
	if err := validateRef(request.Head); err != nil {
		return nil, err
	}
	return request, nil
}

func (h *Handler) dispatchGit(c *gin.Context, tool string, args map[string]interface{}) (interface{}, error) {
	session, err := h.ownedSession(c, c.Param("id"))
	if err != nil {
		return nil, err
	}
	workspaceId, err := sessionWorkspace(session)
	if err != nil {
		return nil, err
	}
	result, err := h.executor.Dispatch(c.Request.Context(), &executor.ToolCall{
		SessionId:   session.SessionId,
		UserId:      session.UserId,
		WorkspaceId: workspaceId,
		Mode:        executor.ModeSovereign,
		Tool:        tool,
		Args:        args,
	})
	if err != nil {
		return nil, err
	}
	return gin.H{"output": result.Output, "exit_code": result.ExitCode}, nil
}

func sessionWorkspace(session *client.Session) (string, error) {
	if !session.WorkspaceId.Valid || session.WorkspaceId.String == "" {
		return "", commonerrors.NewBadRequest("session " + session.SessionId + " has no workspace")
	}
	return session.WorkspaceId.String, nil
}

func validateRef(ref string) error {
	if !refPattern.MatchString(ref) || strings.Contains(ref, "..") {
		return commonerrors.NewBadRequest("invalid git ref " + ref)
	}
	return nil
}
