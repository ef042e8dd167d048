/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/utils/json"
	"github.com/ammujacic/podex-sub004/pkg/utils/stringutil"
)

const argsDigestLimit = 256

// ToolCall is one tool invocation flowing from the agent loop.
type ToolCall struct {
	SessionId   string
	AgentId     string
	UserId      string
	WorkspaceId string
	Mode        AgentMode
	Tool        string
	Args        map[string]interface{}
}

// ToolResult is the outcome handed back to the agent loop.
type ToolResult struct {
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToolRunner performs the actual tool work once permission checks pass. The
// orchestrator-backed runner is the production implementation.
type ToolRunner interface {
	RunTool(ctx context.Context, call *ToolCall) (*ToolResult, error)
}

// AuditEntry is the structured record of one tool invocation.
type AuditEntry struct {
	UserId     string
	SessionId  string
	AgentId    string
	Tool       string
	ArgsDigest string
	ApprovalId string
	Outcome    string
	DurationMs int64
}

// AuditSink receives audit entries; the server wires it to the relational
// store through a buffered flush worker.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry)
}

// ApprovalNotifier surfaces a pending approval to the user, typically through
// the session room.
type ApprovalNotifier func(sessionId, approvalId string, call *ToolCall)

// Executor runs the permission engine and dispatch pipeline for tool calls.
type Executor struct {
	catalog    *Catalog
	approvals  *Approvals
	hooks      *HookRunner
	runner     ToolRunner
	allowlists AllowlistStore
	audit      AuditSink
	notify     ApprovalNotifier
}

func NewExecutor(catalog *Catalog, approvals *Approvals, hooks *HookRunner,
	runner ToolRunner, allowlists AllowlistStore, audit AuditSink, notify ApprovalNotifier) *Executor {
	return &Executor{
		catalog:    catalog,
		approvals:  approvals,
		hooks:      hooks,
		runner:     runner,
		allowlists: allowlists,
		audit:      audit,
		notify:     notify,
	}
}

// CheckPermission evaluates the mode matrix against the session allowlist.
func (e *Executor) CheckPermission(ctx context.Context, mode AgentMode, tool string, args map[string]interface{}, sessionId string) PermissionResult {
	allowlist, err := e.allowlists.Get(ctx, sessionId)
	if err != nil {
		klog.ErrorS(err, "failed to load session allowlist", "sessionId", sessionId)
	}
	return e.catalog.CheckPermission(mode, tool, commandArg(args), allowlist)
}

// Dispatch runs one tool call end to end: permission check, approval
// round-trip when required, path containment for write tools, execution and
// audit. Denials come back as forbidden errors.
func (e *Executor) Dispatch(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	start := time.Now()
	permission := e.CheckPermission(ctx, call.Mode, call.Tool, call.Args, call.SessionId)
	if !permission.Allowed {
		e.record(ctx, call, "", "denied", start)
		return nil, commonerrors.NewForbidden(permission.Error)
	}

	approvalId := ""
	if permission.RequiresApproval {
		approvalId = e.approvals.Create(call.SessionId, call.Tool)
		if e.notify != nil {
			e.notify(call.SessionId, approvalId, call)
		}
		decision, err := e.approvals.Wait(ctx, approvalId)
		if err != nil {
			e.record(ctx, call, approvalId, "approval_expired", start)
			return nil, err
		}
		if !decision.Approved {
			e.record(ctx, call, approvalId, "rejected", start)
			return nil, commonerrors.NewForbidden("the user rejected " + call.Tool)
		}
		if decision.AddToAllowlist && e.catalog.CategoryOf(call.Tool) == CategoryCommand {
			e.appendToAllowlist(ctx, call)
		}
	}

	if e.catalog.CategoryOf(call.Tool) == CategoryWrite {
		if err := validateWritePath(call.Args); err != nil {
			e.record(ctx, call, approvalId, "denied", start)
			return nil, err
		}
	}

	result, err := e.runner.RunTool(ctx, call)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if result.ExitCode != 0 {
		outcome = "failed"
	}
	e.record(ctx, call, approvalId, outcome, start)
	return result, err
}

// ResolveApproval delivers a user decision to the pending future.
func (e *Executor) ResolveApproval(approvalId string, approved, addToAllowlist bool) error {
	return e.approvals.Resolve(approvalId, approved, addToAllowlist)
}

// Hooks exposes the hook runner for lifecycle events.
func (e *Executor) Hooks() *HookRunner {
	return e.hooks
}

// appendToAllowlist persists the raw command after re-validating it, so a
// string tainted between approval request and resolution is never stored.
func (e *Executor) appendToAllowlist(ctx context.Context, call *ToolCall) {
	command := commandArg(call.Args)
	if !ValidateCommand(command) {
		klog.InfoS("refusing to allowlist tainted command", "sessionId", call.SessionId)
		return
	}
	if err := e.allowlists.Append(ctx, call.SessionId, command); err != nil {
		klog.ErrorS(err, "failed to append allowlist entry", "sessionId", call.SessionId)
	}
}

func (e *Executor) record(ctx context.Context, call *ToolCall, approvalId, outcome string, start time.Time) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, &AuditEntry{
		UserId:     call.UserId,
		SessionId:  call.SessionId,
		AgentId:    call.AgentId,
		Tool:       call.Tool,
		ArgsDigest: stringutil.Truncate(string(json.MarshalSilently(call.Args)), argsDigestLimit),
		ApprovalId: approvalId,
		Outcome:    outcome,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func commandArg(args map[string]interface{}) string {
	if args == nil {
		return ""
	}
	command, _ := args["command"].(string)
	return command
}

// validateWritePath enforces workspace containment on the path argument of
// write tools: relative, no traversal, no null bytes.
func validateWritePath(args map[string]interface{}) error {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil
	}
	if strings.Contains(path, "\x00") {
		return commonerrors.NewBadRequest("path contains null bytes")
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return commonerrors.NewBadRequest("absolute paths are not allowed")
	}
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return commonerrors.NewBadRequest("path escapes the workspace root")
	}
	return nil
}
