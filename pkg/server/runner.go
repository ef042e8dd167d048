/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ammujacic/podex-sub004/pkg/dockerhost"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/orchestrator"
)

// workspaceRunner executes tool calls inside the session's workspace
// container through the orchestrator.
type workspaceRunner struct {
	workspaces *orchestrator.Orchestrator
	timeout    time.Duration
}

func newWorkspaceRunner(workspaces *orchestrator.Orchestrator, timeout time.Duration) *workspaceRunner {
	if timeout <= 0 {
		timeout = dockerhost.DefaultExecTimeout
	}
	return &workspaceRunner{workspaces: workspaces, timeout: timeout}
}

func (r *workspaceRunner) RunTool(ctx context.Context, call *executor.ToolCall) (*executor.ToolResult, error) {
	if call.WorkspaceId == "" {
		return nil, commonerrors.NewBadRequest("tool call is not bound to a workspace")
	}
	argv, err := toolArgv(call.Tool, call.Args)
	if err != nil {
		return nil, err
	}
	result, err := r.workspaces.Exec(ctx, call.WorkspaceId, argv, r.timeout)
	if err != nil {
		return nil, err
	}
	return &executor.ToolResult{Output: combineOutput(result), ExitCode: result.ExitCode}, nil
}

func combineOutput(result *dockerhost.ExecResult) string {
	switch {
	case result.Stderr == "":
		return result.Stdout
	case result.Stdout == "":
		return result.Stderr
	}
	return result.Stdout + "\n" + result.Stderr
}

// toolArgv translates a catalog tool into the argv run inside the container.
// Arguments travel as argv entries or single-quoted shell words, never by
// interpolation into an unquoted command line.
func toolArgv(tool string, args map[string]interface{}) ([]string, error) {
	switch tool {
	case "read_file":
		path, err := requireString(args, "path")
		if err != nil {
			return nil, err
		}
		return []string{"cat", "--", path}, nil
	case "list_directory":
		path := stringArg(args, "path")
		if path == "" {
			path = "."
		}
		return []string{"ls", "-la", "--", path}, nil
	case "search_code", "grep":
		pattern, err := requireString(args, "pattern")
		if err != nil {
			return nil, err
		}
		path := stringArg(args, "path")
		if path == "" {
			path = "."
		}
		return []string{"grep", "-rn", "--", pattern, path}, nil
	case "glob_files":
		pattern, err := requireString(args, "pattern")
		if err != nil {
			return nil, err
		}
		return []string{"find", ".", "-name", pattern}, nil
	case "fetch_url":
		url, err := requireString(args, "url")
		if err != nil {
			return nil, err
		}
		return []string{"curl", "-fsSL", "--", url}, nil
	case "git_status":
		return []string{"git", "status", "--porcelain=v2", "--branch"}, nil
	case "git_log":
		return []string{"git", "log", "--oneline", "-n", "50"}, nil
	case "git_branch":
		return []string{"git", "branch", "--all", "--no-color"}, nil
	case "git_diff":
		argv := []string{"git", "diff"}
		if base := stringArg(args, "base"); base != "" {
			argv = append(argv, base)
		}
		if head := stringArg(args, "head"); head != "" {
			argv = append(argv, head)
		}
		return argv, nil
	case "write_file", "create_file":
		path, err := requireString(args, "path")
		if err != nil {
			return nil, err
		}
		content := stringArg(args, "content")
		return shellArgv(fmt.Sprintf("printf '%%s' %s > %s", shellQuote(content), shellQuote(path))), nil
	case "delete_file":
		path, err := requireString(args, "path")
		if err != nil {
			return nil, err
		}
		return []string{"rm", "-f", "--", path}, nil
	case "apply_patch":
		patch, err := requireString(args, "patch")
		if err != nil {
			return nil, err
		}
		return shellArgv(fmt.Sprintf("printf '%%s' %s | git apply -", shellQuote(patch))), nil
	case "git_commit":
		message, err := requireString(args, "message")
		if err != nil {
			return nil, err
		}
		return []string{"git", "commit", "-a", "-m", message}, nil
	case "git_push":
		return []string{"git", "push"}, nil
	case "create_pr":
		argv := []string{"gh", "pr", "create"}
		title := stringArg(args, "title")
		if title == "" {
			return append(argv, "--fill"), nil
		}
		return append(argv, "--title", title, "--body", stringArg(args, "body")), nil
	case "run_command":
		command, err := requireString(args, "command")
		if err != nil {
			return nil, err
		}
		return shellArgv(command), nil
	case "deploy_preview":
		return shellArgv("make deploy-preview"), nil
	case "run_e2e_tests":
		return shellArgv("make e2e"), nil
	}
	return nil, commonerrors.NewBadRequest("no runner binding for tool " + tool)
}

func shellArgv(command string) []string {
	return []string{"/bin/sh", "-lc", command}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func stringArg(args map[string]interface{}, key string) string {
	val, _ := args[key].(string)
	return val
}

func requireString(args map[string]interface{}, key string) (string, error) {
	val := stringArg(args, key)
	if val == "" {
		return "", commonerrors.NewBadRequest(key + " is required")
	}
	return val, nil
}
