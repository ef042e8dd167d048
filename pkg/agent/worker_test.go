/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package agent

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/llm"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
)

// scriptedProvider replays one canned turn per ChatStream call.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]llm.Delta
	requests []*llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	return nil, commonerrors.NewBadRequest("not used")
}

func (p *scriptedProvider) ChatStream(_ context.Context, req *llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.turns) == 0 {
		return nil, commonerrors.NewTransport("provider unreachable")
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]
	return &scriptedStream{deltas: turn}, nil
}

func (p *scriptedProvider) ListModels(_ context.Context) ([]llm.ModelInfo, error) {
	return nil, nil
}

func (p *scriptedProvider) IsAvailable(_ context.Context) bool { return true }

type scriptedStream struct {
	deltas []llm.Delta
	i      int
}

func (s *scriptedStream) Recv() (llm.Delta, error) {
	if s.i >= len(s.deltas) {
		return llm.Delta{}, io.EOF
	}
	delta := s.deltas[s.i]
	s.i++
	return delta, nil
}

func (s *scriptedStream) Close() error { return nil }

type recordingRunner struct {
	mu     sync.Mutex
	calls  []*executor.ToolCall
	result *executor.ToolResult
	err    error
}

func (r *recordingRunner) RunTool(_ context.Context, call *executor.ToolCall) (*executor.ToolResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type listAllowlist struct{ entries []string }

func (l *listAllowlist) Get(_ context.Context, _ string) ([]string, error) { return l.entries, nil }
func (l *listAllowlist) Append(_ context.Context, _, entry string) error {
	l.entries = append(l.entries, entry)
	return nil
}

type agentRig struct {
	queue    *taskqueue.Queue
	provider *scriptedProvider
	runner   *recordingRunner
	worker   *Worker
	events   []string
	mu       sync.Mutex
}

func newAgentRig(t *testing.T, mode executor.AgentMode) *agentRig {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog := executor.NewCatalogWithTools(map[executor.ToolCategory][]string{
		executor.CategoryRead:    {"read_file", "list_directory"},
		executor.CategoryCommand: {"run_command"},
	})
	rig := &agentRig{
		queue:    taskqueue.NewQueue(rdb, 5*time.Minute),
		provider: &scriptedProvider{},
		runner:   &recordingRunner{result: &executor.ToolResult{Output: "main.go", ExitCode: 0}},
	}
	exec := executor.NewExecutor(catalog, executor.NewApprovals(time.Minute),
		executor.NewHookRunner(0), rig.runner, &listAllowlist{entries: []string{"ls"}}, nil, nil)

	rig.worker = NewWorker(Config{
		SessionId: "sess1",
		UserId:    "u1",
		AgentId:   "agent1",
		Mode:      mode,
		Model:     "test-model",
	}, rig.queue, rig.provider, exec, catalog, func(_, event string, _ interface{}) {
		rig.mu.Lock()
		rig.events = append(rig.events, event)
		rig.mu.Unlock()
	})
	return rig
}

func (rig *agentRig) enqueue(t *testing.T) string {
	t.Helper()
	taskId, err := rig.queue.Enqueue(context.Background(), &taskqueue.Task{
		SessionId:   "sess1",
		Description: "list the repository files",
	})
	require.NoError(t, err)
	return taskId
}

func (rig *agentRig) eventNames() []string {
	rig.mu.Lock()
	defer rig.mu.Unlock()
	return append([]string(nil), rig.events...)
}

func TestProcessPlainAnswerCompletesTask(t *testing.T) {
	rig := newAgentRig(t, executor.ModeAuto)
	taskId := rig.enqueue(t)
	ctx := context.Background()

	rig.provider.turns = [][]llm.Delta{{
		{Type: llm.DeltaText, Text: "all "},
		{Type: llm.DeltaText, Text: "done"},
		{Type: llm.DeltaStop, StopReason: "end_turn"},
	}}

	task, err := rig.queue.Dequeue(ctx, "sess1", "", "agent1")
	require.NoError(t, err)
	rig.worker.process(ctx, task)

	settled, err := rig.queue.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, settled.Status)
	assert.JSONEq(t, `{"response":"all done"}`, string(settled.Result))
	assert.Contains(t, rig.eventNames(), "agent_message_delta")
	assert.Contains(t, rig.eventNames(), "agent_message")
}

func TestProcessToolRoundTrip(t *testing.T) {
	rig := newAgentRig(t, executor.ModeAuto)
	taskId := rig.enqueue(t)
	ctx := context.Background()

	rig.provider.turns = [][]llm.Delta{
		{
			{Type: llm.DeltaToolCall, ToolCall: &llm.ToolCall{
				Id: "t1", Name: "read_file", Arguments: json.RawMessage(`{"path":"main.go"}`),
			}},
			{Type: llm.DeltaStop, StopReason: "tool_use"},
		},
		{
			{Type: llm.DeltaText, Text: "it reads main.go"},
			{Type: llm.DeltaStop, StopReason: "end_turn"},
		},
	}

	task, err := rig.queue.Dequeue(ctx, "sess1", "", "agent1")
	require.NoError(t, err)
	rig.worker.process(ctx, task)

	require.Len(t, rig.runner.calls, 1)
	assert.Equal(t, "read_file", rig.runner.calls[0].Tool)
	assert.Equal(t, "main.go", rig.runner.calls[0].Args["path"])

	settled, err := rig.queue.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, settled.Status)

	// The second model turn saw the tool result message.
	require.Len(t, rig.provider.requests, 2)
	second := rig.provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "t1", last.ToolCallId)
	assert.Equal(t, "main.go", last.Content)
}

func TestProcessPermissionDenialSurfacesToModel(t *testing.T) {
	rig := newAgentRig(t, executor.ModePlan)
	taskId := rig.enqueue(t)
	ctx := context.Background()

	rig.provider.turns = [][]llm.Delta{
		{
			{Type: llm.DeltaToolCall, ToolCall: &llm.ToolCall{
				Id: "t1", Name: "run_command", Arguments: json.RawMessage(`{"command":"ls"}`),
			}},
		},
		{
			{Type: llm.DeltaText, Text: "understood, staying in plan mode"},
		},
	}

	task, err := rig.queue.Dequeue(ctx, "sess1", "", "agent1")
	require.NoError(t, err)
	rig.worker.process(ctx, task)

	// The tool never ran; the denial became a prefixed tool result.
	assert.Empty(t, rig.runner.calls)
	require.Len(t, rig.provider.requests, 2)
	second := rig.provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, failurePrefix)

	settled, err := rig.queue.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, settled.Status)
}

func TestProcessTransportErrorRequeuesTask(t *testing.T) {
	rig := newAgentRig(t, executor.ModeAuto)
	taskId := rig.enqueue(t)
	ctx := context.Background()

	// No scripted turns: ChatStream answers with a transport error.
	task, err := rig.queue.Dequeue(ctx, "sess1", "", "agent1")
	require.NoError(t, err)
	rig.worker.process(ctx, task)

	settled, err := rig.queue.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, settled.Status)
	assert.Equal(t, 1, settled.RetryCount)
}

func TestProcessMaxTurnsFailsTask(t *testing.T) {
	rig := newAgentRig(t, executor.ModeAuto)
	rig.worker.cfg.MaxTurns = 2
	taskId := rig.enqueue(t)
	ctx := context.Background()

	toolTurn := []llm.Delta{{Type: llm.DeltaToolCall, ToolCall: &llm.ToolCall{
		Id: "t1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a"}`),
	}}}
	rig.provider.turns = [][]llm.Delta{toolTurn, toolTurn}

	task, err := rig.queue.Dequeue(ctx, "sess1", "", "agent1")
	require.NoError(t, err)
	rig.worker.process(ctx, task)

	settled, err := rig.queue.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusFailed, settled.Status)
	assert.Contains(t, settled.Error, "turns")
}

func TestManagerLifecycle(t *testing.T) {
	rig := newAgentRig(t, executor.ModeAuto)
	catalog := executor.NewCatalogWithTools(map[executor.ToolCategory][]string{
		executor.CategoryRead: {"read_file"},
	})
	manager := NewManager(rig.queue, rig.provider, nil, catalog, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Config{SessionId: "sess1", PollInterval: 10 * time.Millisecond}
	require.NoError(t, manager.Start(ctx, cfg))
	assert.True(t, manager.Running("sess1"))

	err := manager.Start(ctx, cfg)
	assert.True(t, commonerrors.IsConflict(err))

	manager.Stop("sess1")
	require.Eventually(t, func() bool { return !manager.Running("sess1") },
		time.Second, 10*time.Millisecond)
}

func TestTaskPromptIncludesContext(t *testing.T) {
	prompt := taskPrompt(&taskqueue.Task{
		Description: "fix the bug",
		Context:     map[string]string{"branch": "main"},
	})
	assert.Contains(t, prompt, "fix the bug")
	assert.Contains(t, prompt, "branch: main")
}
