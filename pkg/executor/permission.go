/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import "fmt"

// PermissionResult is the verdict on one tool call.
type PermissionResult struct {
	Allowed           bool   `json:"allowed"`
	RequiresApproval  bool   `json:"requires_approval"`
	CanAddToAllowlist bool   `json:"can_add_to_allowlist"`
	Error             string `json:"error,omitempty"`
}

func allow() PermissionResult {
	return PermissionResult{Allowed: true}
}

func deny(format string, args ...interface{}) PermissionResult {
	return PermissionResult{Allowed: false, Error: fmt.Sprintf(format, args...)}
}

// CheckPermission applies the mode/category matrix to one tool call. The
// command argument is consulted only for COMMAND tools in auto mode, where
// the session allowlist decides between silent execution and approval.
func (c *Catalog) CheckPermission(mode AgentMode, tool, command string, allowlist []string) PermissionResult {
	category := c.CategoryOf(tool)
	if category == CategoryUnknown {
		return deny("unknown tool %q", tool)
	}
	if category == CategoryRead || mode == ModeSovereign {
		return allow()
	}
	switch mode {
	case ModePlan:
		return deny("%s is not allowed in Plan mode", tool)
	case ModeAuto:
		if category == CategoryCommand {
			if IsCommandAllowed(command, allowlist) {
				return allow()
			}
			return PermissionResult{Allowed: true, RequiresApproval: true, CanAddToAllowlist: true}
		}
		if category == CategoryDeploy {
			return PermissionResult{Allowed: true, RequiresApproval: true}
		}
		return allow()
	default: // ask
		result := PermissionResult{Allowed: true, RequiresApproval: true}
		if category == CategoryCommand {
			result.CanAddToAllowlist = true
		}
		return result
	}
}
