/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import "strings"

// AgentMode controls how much autonomy the agent has over tool calls.
type AgentMode string

const (
	ModePlan      AgentMode = "plan"
	ModeAsk       AgentMode = "ask"
	ModeAuto      AgentMode = "auto"
	ModeSovereign AgentMode = "sovereign"
)

// ParseMode is case-insensitive; unknown strings fall back to the safest
// interactive mode.
func ParseMode(s string) AgentMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModePlan):
		return ModePlan
	case string(ModeAuto):
		return ModeAuto
	case string(ModeSovereign):
		return ModeSovereign
	default:
		return ModeAsk
	}
}
