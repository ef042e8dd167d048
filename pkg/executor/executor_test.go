/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

func testCatalog() *Catalog {
	return NewCatalogWithTools(defaultCategories)
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		input string
		want  AgentMode
	}{
		{"plan", ModePlan},
		{"PLAN", ModePlan},
		{" Auto ", ModeAuto},
		{"sovereign", ModeSovereign},
		{"ask", ModeAsk},
		{"", ModeAsk},
		{"yolo", ModeAsk},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ParseMode(tc.input), "input %q", tc.input)
	}
}

func TestPlanModeDeniesMutations(t *testing.T) {
	catalog := testCatalog()

	for _, tool := range []string{"write_file", "run_command", "deploy_preview"} {
		result := catalog.CheckPermission(ModePlan, tool, "", nil)
		assert.False(t, result.Allowed, "tool %s", tool)
		assert.Contains(t, result.Error, "Plan mode")
	}

	result := catalog.CheckPermission(ModePlan, "read_file", "", nil)
	assert.True(t, result.Allowed)
	assert.False(t, result.RequiresApproval)
}

func TestSovereignModeAllowsEverything(t *testing.T) {
	catalog := testCatalog()
	for _, tool := range []string{"read_file", "write_file", "run_command", "deploy_preview"} {
		result := catalog.CheckPermission(ModeSovereign, tool, "rm -rf build", nil)
		assert.True(t, result.Allowed, "tool %s", tool)
		assert.False(t, result.RequiresApproval, "tool %s", tool)
	}
}

func TestAskModeRequiresApproval(t *testing.T) {
	catalog := testCatalog()

	result := catalog.CheckPermission(ModeAsk, "write_file", "", nil)
	assert.True(t, result.Allowed)
	assert.True(t, result.RequiresApproval)
	assert.False(t, result.CanAddToAllowlist)

	result = catalog.CheckPermission(ModeAsk, "run_command", "ls", nil)
	assert.True(t, result.RequiresApproval)
	assert.True(t, result.CanAddToAllowlist)
}

func TestAutoModeUsesAllowlist(t *testing.T) {
	catalog := testCatalog()
	allowlist := []string{"npm install", "pytest"}

	result := catalog.CheckPermission(ModeAuto, "run_command", "npm install lodash", allowlist)
	assert.True(t, result.Allowed)
	assert.False(t, result.RequiresApproval)

	result = catalog.CheckPermission(ModeAuto, "run_command", "npm test", allowlist)
	assert.True(t, result.Allowed)
	assert.True(t, result.RequiresApproval)
	assert.True(t, result.CanAddToAllowlist)

	result = catalog.CheckPermission(ModeAuto, "write_file", "", nil)
	assert.True(t, result.Allowed)
	assert.False(t, result.RequiresApproval)

	result = catalog.CheckPermission(ModeAuto, "deploy_preview", "", nil)
	assert.True(t, result.RequiresApproval)
}

func TestUnknownToolDenied(t *testing.T) {
	result := testCatalog().CheckPermission(ModeSovereign, "format_disk", "", nil)
	assert.False(t, result.Allowed)
}

func TestIsCommandAllowed(t *testing.T) {
	allowlist := []string{"npm install", "pytest"}

	testCases := []struct {
		command string
		want    bool
	}{
		{"npm install lodash", true},
		{"npm install", true},
		{"pytest tests/", true},
		{"pytest", true},
		{"npm test", false},
		{"npm install && rm -rf /", false},
		{"npm installxyz", false},
		{"", false},
		{"   ", false},
		{"pytest; echo pwned", false},
		{"pytest `id`", false},
		{"pytest $(id)", false},
		{"pytest ${HOME}", false},
		{"pytest <(cat /etc/passwd)", false},
		{"pytest\nrm -rf /", false},
		{"echo hi | tee out", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, IsCommandAllowed(tc.command, allowlist), "command %q", tc.command)
	}
}

func TestGlobEntriesNeverMatch(t *testing.T) {
	allowlist := []string{"npm *", "pytest[s]", "go?"}

	assert.False(t, IsCommandAllowed("npm install", allowlist))
	assert.False(t, IsCommandAllowed("npm *", allowlist))
	assert.False(t, IsCommandAllowed("pytests", allowlist))
	assert.False(t, IsCommandAllowed("gos", allowlist))
}

func TestBaseNameMatch(t *testing.T) {
	allowlist := []string{"ls"}
	assert.True(t, IsCommandAllowed("ls -la /tmp", allowlist))
	assert.False(t, IsCommandAllowed("lsof", allowlist))
}

func TestApprovalResolveTwice(t *testing.T) {
	approvals := NewApprovals(time.Minute)
	id := approvals.Create("s1", "run_command")

	var decision Decision
	var waitErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		decision, waitErr = approvals.Wait(context.Background(), id)
	}()

	require.NoError(t, approvals.Resolve(id, true, true))
	<-done
	require.NoError(t, waitErr)
	assert.True(t, decision.Approved)
	assert.True(t, decision.AddToAllowlist)

	err := approvals.Resolve(id, true, false)
	assert.True(t, commonerrors.IsNotFound(err))
	assert.Zero(t, approvals.Pending())
}

func TestApprovalSweeperExpiresStaleEntries(t *testing.T) {
	approvals := NewApprovals(10 * time.Millisecond)
	approvals.Create("s1", "run_command")

	time.Sleep(20 * time.Millisecond)
	approvals.sweep()
	assert.Zero(t, approvals.Pending())
}

func TestSanitizeEnv(t *testing.T) {
	env := map[string]string{
		"MY_VAR":       "ok",
		"LD_PRELOAD":   "/tmp/evil.so",
		"ld_preload":   "/tmp/evil.so",
		"PATH":         "/tmp",
		"NODE_OPTIONS": "--require evil",
		"9BAD":         "x",
		"BAD-KEY":      "x",
		"NULLED":       "a\x00b",
	}
	out := SanitizeEnv(env)

	assert.Equal(t, map[string]string{"MY_VAR": "ok", "NULLED": "ab"}, out)
}

func TestSanitizeEnvTruncatesLongValues(t *testing.T) {
	long := make([]byte, 10000)
	for i := range long {
		long[i] = 'a'
	}
	out := SanitizeEnv(map[string]string{"BIG": string(long)})
	assert.Len(t, out["BIG"], maxEnvValueBytes)
}

func TestLexCommand(t *testing.T) {
	testCases := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{name: "plain", command: "npm run build", want: []string{"npm", "run", "build"}},
		{name: "single quotes", command: "echo 'hello world'", want: []string{"echo", "hello world"}},
		{name: "double quotes", command: `echo "a b" c`, want: []string{"echo", "a b", "c"}},
		{name: "escaped space", command: `touch a\ b`, want: []string{"touch", "a b"}},
		{name: "escaped quote in double quotes", command: `echo "say \"hi\""`, want: []string{"echo", `say "hi"`}},
		{name: "unterminated quote", command: "echo 'oops", wantErr: true},
		{name: "metacharacter", command: "echo hi; rm -rf /", wantErr: true},
		{name: "empty", command: "   ", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			argv, err := LexCommand(tc.command)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, argv)
		})
	}
}

func TestHookHistoryBounded(t *testing.T) {
	runner := NewHookRunner(time.Second)
	for i := 0; i < hookHistorySize+20; i++ {
		runner.record(&HookResult{Name: "h", ExitCode: i})
	}
	history := runner.History()
	require.Len(t, history, hookHistorySize)
	assert.Equal(t, 20, history[0].ExitCode)
	assert.Equal(t, hookHistorySize+19, history[len(history)-1].ExitCode)
}

func TestValidateWritePath(t *testing.T) {
	testCases := []struct {
		path    string
		wantErr bool
	}{
		{"src/main.go", false},
		{"a.txt", false},
		{"./nested/../a.txt", false},
		{"/etc/passwd", true},
		{"../outside.txt", true},
		{"nested/../../outside.txt", true},
		{"bad\x00name", true},
	}
	for _, tc := range testCases {
		err := validateWritePath(map[string]interface{}{"path": tc.path})
		if tc.wantErr {
			assert.Error(t, err, "path %q", tc.path)
		} else {
			assert.NoError(t, err, "path %q", tc.path)
		}
	}
}

type memAllowlist struct {
	mu      sync.Mutex
	entries map[string][]string
}

func newMemAllowlist() *memAllowlist {
	return &memAllowlist{entries: make(map[string][]string)}
}

func (m *memAllowlist) Get(_ context.Context, sessionId string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[sessionId], nil
}

func (m *memAllowlist) Append(_ context.Context, sessionId, command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionId] = append(m.entries[sessionId], command)
	return nil
}

type stubRunner struct {
	result *ToolResult
	calls  int
}

func (s *stubRunner) RunTool(context.Context, *ToolCall) (*ToolResult, error) {
	s.calls++
	return s.result, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []*AuditEntry
}

func (m *memAudit) Record(_ context.Context, entry *AuditEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *memAudit) last(t *testing.T) *AuditEntry {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.entries)
	return m.entries[len(m.entries)-1]
}

func TestDispatchDeniedInPlanMode(t *testing.T) {
	runner := &stubRunner{result: &ToolResult{}}
	audit := &memAudit{}
	e := NewExecutor(testCatalog(), NewApprovals(time.Minute), NewHookRunner(time.Second),
		runner, newMemAllowlist(), audit, nil)

	_, err := e.Dispatch(context.Background(), &ToolCall{
		SessionId: "s1", UserId: "u1", Mode: ModePlan, Tool: "write_file",
		Args: map[string]interface{}{"path": "a.txt", "content": "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Plan mode")
	assert.Zero(t, runner.calls)
	assert.Equal(t, "denied", audit.last(t).Outcome)
}

func TestDispatchApprovalRoundTrip(t *testing.T) {
	runner := &stubRunner{result: &ToolResult{Output: "done"}}
	audit := &memAudit{}
	allowlists := newMemAllowlist()
	approvalCh := make(chan string, 1)
	e := NewExecutor(testCatalog(), NewApprovals(time.Minute), NewHookRunner(time.Second),
		runner, allowlists, audit, func(sessionId, approvalId string, call *ToolCall) {
			approvalCh <- approvalId
		})

	resultCh := make(chan *ToolResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := e.Dispatch(context.Background(), &ToolCall{
			SessionId: "s1", UserId: "u1", Mode: ModeAsk, Tool: "run_command",
			Args: map[string]interface{}{"command": "npm install"},
		})
		resultCh <- result
		errCh <- err
	}()

	approvalId := <-approvalCh
	require.NoError(t, e.ResolveApproval(approvalId, true, true))

	require.NoError(t, <-errCh)
	result := <-resultCh
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 1, runner.calls)

	entries, err := allowlists.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"npm install"}, entries)
	assert.Equal(t, "success", audit.last(t).Outcome)
}

func TestDispatchRejectedApproval(t *testing.T) {
	runner := &stubRunner{result: &ToolResult{}}
	audit := &memAudit{}
	approvalCh := make(chan string, 1)
	e := NewExecutor(testCatalog(), NewApprovals(time.Minute), NewHookRunner(time.Second),
		runner, newMemAllowlist(), audit, func(_, approvalId string, _ *ToolCall) {
			approvalCh <- approvalId
		})

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Dispatch(context.Background(), &ToolCall{
			SessionId: "s1", UserId: "u1", Mode: ModeAsk, Tool: "write_file",
			Args: map[string]interface{}{"path": "a.txt"},
		})
		errCh <- err
	}()

	require.NoError(t, e.ResolveApproval(<-approvalCh, false, false))

	err := <-errCh
	require.Error(t, err)
	assert.Zero(t, runner.calls)
	assert.Equal(t, "rejected", audit.last(t).Outcome)
}

func TestRedisAllowlistRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisAllowlist(rdb)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s1", "npm install"))
	require.NoError(t, store.Append(ctx, "s1", "pytest"))
	err := store.Append(ctx, "s1", "rm -rf / && echo done")
	assert.True(t, commonerrors.IsBadRequest(err))

	entries, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"npm install", "pytest"}, entries)
}
