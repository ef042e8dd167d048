/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import (
	"regexp"
	"strings"

	"github.com/ammujacic/podex-sub004/pkg/utils/sets"
)

const maxEnvValueBytes = 4096

// dangerousEnvKeys are stripped case-insensitively; any of them can redirect
// code loading or executable resolution inside the target process.
var dangerousEnvKeys = sets.NewSetByKeys(
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"LD_AUDIT",
	"DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH",
	"PATH",
	"HOME",
	"SHELL",
	"IFS",
	"NODE_OPTIONS",
	"PYTHONPATH",
	"PYTHONSTARTUP",
	"PYTHONHOME",
	"JAVA_TOOL_OPTIONS",
	"_JAVA_OPTIONS",
	"CLASSPATH",
	"RUBYOPT",
	"PERL5LIB",
	"GIT_SSH_COMMAND",
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SanitizeEnv filters user-supplied environment variables for hook context
// and preview deploys: dangerous keys are dropped, malformed keys rejected,
// values truncated at 4096 bytes with null bytes stripped.
func SanitizeEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for key, value := range env {
		if dangerousEnvKeys.Has(strings.ToUpper(key)) {
			continue
		}
		if !envKeyPattern.MatchString(key) {
			continue
		}
		value = strings.ReplaceAll(value, "\x00", "")
		if len(value) > maxEnvValueBytes {
			value = value[:maxEnvValueBytes]
		}
		out[key] = value
	}
	return out
}
