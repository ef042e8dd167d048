/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import (
	"github.com/ammujacic/podex-sub004/pkg/config"
	"github.com/ammujacic/podex-sub004/pkg/utils/sets"
)

// ToolCategory is the permission class a tool belongs to. Every tool belongs
// to exactly one category.
type ToolCategory string

const (
	CategoryRead    ToolCategory = "read"
	CategoryWrite   ToolCategory = "write"
	CategoryCommand ToolCategory = "command"
	CategoryDeploy  ToolCategory = "deploy"
	CategoryUnknown ToolCategory = ""
)

var defaultCategories = map[ToolCategory][]string{
	CategoryRead: {
		"read_file", "list_directory", "search_code", "grep", "glob_files",
		"fetch_url", "git_status", "git_diff", "git_log", "git_branch",
	},
	CategoryWrite: {
		"write_file", "create_file", "delete_file", "apply_patch",
		"git_commit", "git_push", "create_pr",
	},
	CategoryCommand: {"run_command"},
	CategoryDeploy:  {"deploy_preview", "run_e2e_tests"},
}

// Catalog maps tool names to their categories. It is built at startup from
// config, falling back to the built-in tool set per category.
type Catalog struct {
	byTool map[string]ToolCategory
}

func NewCatalog() *Catalog {
	c := &Catalog{byTool: make(map[string]ToolCategory)}
	for category, fallback := range defaultCategories {
		tools := config.GetToolCategory(string(category))
		if len(tools) == 0 {
			tools = fallback
		}
		for _, tool := range tools {
			c.byTool[tool] = category
		}
	}
	return c
}

// NewCatalogWithTools builds a catalog from explicit bindings, used by tests.
func NewCatalogWithTools(bindings map[ToolCategory][]string) *Catalog {
	c := &Catalog{byTool: make(map[string]ToolCategory)}
	for category, tools := range bindings {
		for _, tool := range tools {
			c.byTool[tool] = category
		}
	}
	return c
}

// CategoryOf returns the category of a tool, CategoryUnknown if unregistered.
func (c *Catalog) CategoryOf(tool string) ToolCategory {
	return c.byTool[tool]
}

// Tools returns the registered tool names.
func (c *Catalog) Tools() sets.Set {
	s := sets.NewSet()
	for tool := range c.byTool {
		s.Insert(tool)
	}
	return s
}
