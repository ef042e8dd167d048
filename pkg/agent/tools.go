/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package agent

import (
	"sort"

	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/llm"
)

// toolDescriptions documents the built-in tools for the model. Tools present
// in the catalog but not listed here get a generic description.
var toolDescriptions = map[string]string{
	"read_file":      "Read a file from the workspace. Args: path.",
	"list_directory": "List a workspace directory. Args: path.",
	"search_code":    "Search the workspace for a pattern. Args: pattern, path.",
	"grep":           "Search file contents with a regular expression. Args: pattern, path.",
	"glob_files":     "Find files matching a glob pattern. Args: pattern.",
	"fetch_url":      "Fetch the contents of a URL. Args: url.",
	"git_status":     "Show the git working tree status.",
	"git_diff":       "Show uncommitted changes. Args: path (optional).",
	"git_log":        "Show recent commits. Args: limit (optional).",
	"git_branch":     "List branches.",
	"write_file":     "Write content to a workspace file. Args: path, content.",
	"create_file":    "Create a new workspace file. Args: path, content.",
	"delete_file":    "Delete a workspace file. Args: path.",
	"apply_patch":    "Apply a unified diff to the workspace. Args: patch.",
	"git_commit":     "Commit staged changes. Args: message.",
	"git_push":       "Push the current branch to the remote.",
	"create_pr":      "Open a pull request. Args: title, body.",
	"run_command":    "Run a shell command in the workspace. Args: command.",
	"deploy_preview": "Deploy a preview environment from the current branch.",
	"run_e2e_tests":  "Run the end-to-end test suite.",
}

// argumentSchemas refines the input schema for tools with well-known args.
var argumentSchemas = map[string]map[string]any{
	"read_file":      pathSchema(),
	"list_directory": pathSchema(),
	"delete_file":    pathSchema(),
	"write_file": objectSchema(map[string]any{
		"path":    map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
	}, "path", "content"),
	"create_file": objectSchema(map[string]any{
		"path":    map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
	}, "path", "content"),
	"run_command": objectSchema(map[string]any{
		"command": map[string]any{"type": "string"},
	}, "command"),
	"git_commit": objectSchema(map[string]any{
		"message": map[string]any{"type": "string"},
	}, "message"),
}

func pathSchema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string"},
	}, "path")
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// toolDefs advertises the catalog to the model in a stable order.
func toolDefs(catalog *executor.Catalog) []llm.ToolDef {
	names := catalog.Tools().UnsortedList()
	sort.Strings(names)
	defs := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		description := toolDescriptions[name]
		if description == "" {
			description = "Invoke the " + name + " tool."
		}
		schema := argumentSchemas[name]
		if schema == nil {
			schema = objectSchema(map[string]any{})
		}
		defs = append(defs, llm.ToolDef{
			Name:        name,
			Description: description,
			InputSchema: schema,
		})
	}
	return defs
}
