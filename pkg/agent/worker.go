/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package agent runs the per-session agent loop: dequeue a task, stream the
// model's answer into the session room, dispatch requested tools through the
// permission engine, and settle the task on the queue.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/llm"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
	jsonutil "github.com/ammujacic/podex-sub004/pkg/utils/json"
)

const (
	// failurePrefix marks tool failures the user sees in the transcript.
	failurePrefix = "❌ Execution failed: "

	defaultPollInterval = 2 * time.Second
	defaultMaxTurns     = 25

	systemPrompt = "You are a coding agent working inside a cloud development workspace. " +
		"Use the provided tools to inspect and modify the repository. " +
		"Prefer small, verifiable steps and report what you did."
)

// Emitter pushes realtime events into the session room.
type Emitter func(sessionId, event string, data interface{})

// Config describes one session worker.
type Config struct {
	SessionId    string
	WorkspaceId  string
	UserId       string
	AgentId      string
	AgentRole    string
	Mode         executor.AgentMode
	Model        string
	PollInterval time.Duration
	MaxTurns     int
}

// Worker drains one session's task queue against one model provider.
type Worker struct {
	cfg      Config
	queue    *taskqueue.Queue
	provider llm.Provider
	executor *executor.Executor
	catalog  *executor.Catalog
	emit     Emitter
	stopCh   chan struct{}
}

func NewWorker(cfg Config, queue *taskqueue.Queue, provider llm.Provider,
	exec *executor.Executor, catalog *executor.Catalog, emit Emitter) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.Mode == "" {
		cfg.Mode = executor.ModeAsk
	}
	return &Worker{
		cfg:      cfg,
		queue:    queue,
		provider: provider,
		executor: exec,
		catalog:  catalog,
		emit:     emit,
		stopCh:   make(chan struct{}),
	}
}

// Run polls the session queue until the context is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		task, err := w.queue.Dequeue(ctx, w.cfg.SessionId, w.cfg.AgentRole, w.cfg.AgentId)
		if err != nil {
			klog.ErrorS(err, "dequeue failed", "sessionId", w.cfg.SessionId)
		} else if task != nil {
			w.process(ctx, task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

// process runs one task to completion: a conversation loop that alternates
// model turns and tool dispatches until the model stops asking for tools.
func (w *Worker) process(ctx context.Context, task *taskqueue.Task) {
	klog.InfoS("task started", "taskId", task.Id, "sessionId", task.SessionId, "priority", task.Priority)
	w.emitEvent("task_progress", map[string]interface{}{
		"task_id": task.Id,
		"status":  taskqueue.StatusRunning,
	})

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: taskPrompt(task)},
	}
	tools := toolDefs(w.catalog)

	for turn := 0; turn < w.cfg.MaxTurns; turn++ {
		text, toolCalls, err := w.streamTurn(ctx, messages, tools)
		if err != nil {
			w.failTask(ctx, task, err.Error(), commonerrors.IsRetryable(err))
			return
		}
		if len(toolCalls) == 0 {
			w.completeTask(ctx, task, text)
			return
		}
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})
		for _, call := range toolCalls {
			resultContent, err := w.dispatchTool(ctx, call)
			if err != nil {
				// Transport and timeout failures bounce the whole task back to
				// the queue; everything else is surfaced to the model.
				if commonerrors.IsRetryable(err) {
					w.failTask(ctx, task, err.Error(), true)
					return
				}
				resultContent = failurePrefix + err.Error()
				w.emitEvent("agent_message", map[string]interface{}{
					"task_id": task.Id,
					"content": resultContent,
				})
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallId: call.Id,
				Content:    resultContent,
			})
		}
	}
	w.failTask(ctx, task, fmt.Sprintf("agent stopped after %d turns without finishing", w.cfg.MaxTurns), false)
}

// streamTurn runs one model turn, forwarding text deltas to the session room
// and collecting the tool calls the model requested.
func (w *Worker) streamTurn(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (string, []llm.ToolCall, error) {
	stream, err := w.provider.ChatStream(ctx, &llm.Request{
		Model:    w.cfg.Model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	var toolCalls []llm.ToolCall
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		switch delta.Type {
		case llm.DeltaText:
			text.WriteString(delta.Text)
			w.emitEvent("agent_message_delta", map[string]interface{}{
				"agent_id": w.cfg.AgentId,
				"content":  delta.Text,
			})
		case llm.DeltaToolCall:
			toolCalls = append(toolCalls, *delta.ToolCall)
		case llm.DeltaUsage:
			klog.V(4).InfoS("token usage", "sessionId", w.cfg.SessionId,
				"input", delta.Usage.InputTokens, "output", delta.Usage.OutputTokens)
		}
	}
	return text.String(), toolCalls, nil
}

// dispatchTool runs one requested tool through the permission engine and
// renders its result for the model.
func (w *Worker) dispatchTool(ctx context.Context, call llm.ToolCall) (string, error) {
	var args map[string]interface{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", commonerrors.NewBadRequest(fmt.Sprintf("malformed arguments for %s: %v", call.Name, err))
		}
	}
	w.emitEvent("agent_tool_call", map[string]interface{}{
		"agent_id": w.cfg.AgentId,
		"tool":     call.Name,
		"args":     args,
	})
	result, err := w.executor.Dispatch(ctx, &executor.ToolCall{
		SessionId:   w.cfg.SessionId,
		AgentId:     w.cfg.AgentId,
		UserId:      w.cfg.UserId,
		WorkspaceId: w.cfg.WorkspaceId,
		Mode:        w.cfg.Mode,
		Tool:        call.Name,
		Args:        args,
	})
	if err != nil {
		return "", err
	}
	w.emitEvent("agent_tool_result", map[string]interface{}{
		"agent_id":  w.cfg.AgentId,
		"tool":      call.Name,
		"exit_code": result.ExitCode,
	})
	if result.ExitCode != 0 {
		return fmt.Sprintf("exit code %d\n%s", result.ExitCode, result.Output), nil
	}
	return result.Output, nil
}

func (w *Worker) completeTask(ctx context.Context, task *taskqueue.Task, text string) {
	result := jsonutil.MarshalSilently(map[string]string{"response": text})
	if err := w.queue.Complete(ctx, task.Id, result); err != nil {
		klog.ErrorS(err, "failed to complete task", "taskId", task.Id)
	}
	w.emitEvent("agent_message", map[string]interface{}{
		"task_id": task.Id,
		"content": text,
	})
	klog.InfoS("task completed", "taskId", task.Id, "sessionId", task.SessionId)
}

func (w *Worker) failTask(ctx context.Context, task *taskqueue.Task, reason string, retry bool) {
	if err := w.queue.Fail(ctx, task.Id, reason, retry); err != nil {
		klog.ErrorS(err, "failed to fail task", "taskId", task.Id)
	}
	if !retry {
		w.emitEvent("agent_message", map[string]interface{}{
			"task_id": task.Id,
			"content": failurePrefix + reason,
		})
	}
	klog.ErrorS(nil, "task failed", "taskId", task.Id, "retry", retry, "reason", reason)
}

func (w *Worker) emitEvent(event string, data interface{}) {
	if w.emit != nil {
		w.emit(w.cfg.SessionId, event, data)
	}
}

func taskPrompt(task *taskqueue.Task) string {
	var b strings.Builder
	b.WriteString(task.Description)
	if len(task.Context) > 0 {
		b.WriteString("\n\nContext:")
		for key, value := range task.Context {
			b.WriteString(fmt.Sprintf("\n- %s: %s", key, value))
		}
	}
	return b.String()
}
