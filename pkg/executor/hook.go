/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	// DefaultHookTimeout bounds one hook execution.
	DefaultHookTimeout = 30 * time.Second

	// hookHistorySize is the retained result window.
	hookHistorySize = 100
)

// platformEnvKeys are the only coordinator-provided variables a hook sees, on
// top of its sanitized caller-provided ones.
var platformEnvKeys = []string{
	"PODEX_SESSION_ID",
	"PODEX_WORKSPACE_ID",
	"PODEX_HOOK_NAME",
	"PODEX_EVENT",
}

// HookResult records one hook run.
type HookResult struct {
	Name       string    `json:"name"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	DurationMs int64     `json:"duration_ms"`
	RanAt      time.Time `json:"ran_at"`
}

// HookRunner executes lifecycle hook commands directly, never through a
// shell, and keeps a bounded history of results.
type HookRunner struct {
	timeout time.Duration

	mu      sync.Mutex
	history []*HookResult
}

func NewHookRunner(timeout time.Duration) *HookRunner {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	return &HookRunner{timeout: timeout}
}

// LexCommand splits a hook command into an argv array with shell-lexer rules:
// single quotes are literal, double quotes allow backslash escapes, unquoted
// backslash escapes the next byte. No expansion of any kind is performed.
func LexCommand(command string) ([]string, error) {
	if !ValidateCommand(command) {
		return nil, commonerrors.NewBadRequest("hook command contains forbidden characters")
	}
	var argv []string
	var current strings.Builder
	inToken := false
	i := 0
	for i < len(command) {
		ch := command[i]
		switch {
		case ch == ' ' || ch == '\t':
			if inToken {
				argv = append(argv, current.String())
				current.Reset()
				inToken = false
			}
			i++
		case ch == '\'':
			inToken = true
			end := strings.IndexByte(command[i+1:], '\'')
			if end < 0 {
				return nil, commonerrors.NewBadRequest("unterminated single quote in hook command")
			}
			current.WriteString(command[i+1 : i+1+end])
			i += end + 2
		case ch == '"':
			inToken = true
			i++
			closed := false
			for i < len(command) {
				if command[i] == '\\' && i+1 < len(command) {
					current.WriteByte(command[i+1])
					i += 2
					continue
				}
				if command[i] == '"' {
					closed = true
					i++
					break
				}
				current.WriteByte(command[i])
				i++
			}
			if !closed {
				return nil, commonerrors.NewBadRequest("unterminated double quote in hook command")
			}
		case ch == '\\' && i+1 < len(command):
			inToken = true
			current.WriteByte(command[i+1])
			i += 2
		default:
			inToken = true
			current.WriteByte(ch)
			i++
		}
	}
	if inToken {
		argv = append(argv, current.String())
	}
	if len(argv) == 0 {
		return nil, commonerrors.NewBadRequest("empty hook command")
	}
	return argv, nil
}

// Run lexes and executes one hook with a bounded environment and deadline.
// The environment is the sanitized caller-provided set plus the whitelisted
// platform variables. The result lands in history regardless of outcome.
func (r *HookRunner) Run(ctx context.Context, name, command, workingDir string, env, platform map[string]string) (*HookResult, error) {
	argv, err := LexCommand(command)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workingDir
	cmd.Env = buildHookEnv(env, platform)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	result := &HookResult{
		Name:       name,
		Command:    command,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
		RanAt:      start.UTC(),
	}
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("hook timed out after %s", r.timeout)
	case runErr != nil:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Stderr = runErr.Error()
		}
	}
	r.record(result)
	if result.ExitCode != 0 {
		klog.InfoS("hook finished with failure", "hook", name, "exitCode", result.ExitCode)
	}
	return result, nil
}

// History returns the retained hook results, oldest first.
func (r *HookRunner) History() []*HookResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*HookResult, len(r.history))
	copy(out, r.history)
	return out
}

// record pushes and trims, keeping the newest hookHistorySize entries.
func (r *HookRunner) record(result *HookResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, result)
	if len(r.history) > hookHistorySize {
		r.history = r.history[len(r.history)-hookHistorySize:]
	}
}

func buildHookEnv(env, platform map[string]string) []string {
	sanitized := SanitizeEnv(env)
	out := make([]string, 0, len(sanitized)+len(platformEnvKeys))
	for key, value := range sanitized {
		out = append(out, key+"="+value)
	}
	for _, key := range platformEnvKeys {
		if value, ok := platform[key]; ok {
			out = append(out, key+"="+value)
		}
	}
	return out
}
