/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import "strings"

// forbiddenSubstrings rejects any command capable of chaining, piping or
// substituting. Checked before allowlist matching, on the raw string.
var forbiddenSubstrings = []string{
	"&&", "||", ";", "|", "`", "$(", "${", "<(", ">(", "\n", "\r",
}

// globChars in an allowlist entry make it inert: entries are matched
// literally, never expanded, so a glob entry matches nothing.
const globChars = "*?[]"

// ValidateCommand reports whether the raw command string is safe to match
// against an allowlist or persist to one.
func ValidateCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false
	}
	for _, forbidden := range forbiddenSubstrings {
		if strings.Contains(command, forbidden) {
			return false
		}
	}
	return true
}

// IsCommandAllowed reports whether command passes validation and matches at
// least one allowlist entry: exact, space-delimited prefix, or executable
// base-name match.
func IsCommandAllowed(command string, allowlist []string) bool {
	if !ValidateCommand(command) {
		return false
	}
	trimmed := strings.TrimSpace(command)
	baseName := firstToken(trimmed)
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" || strings.ContainsAny(entry, globChars) {
			continue
		}
		if trimmed == entry {
			return true
		}
		if strings.HasPrefix(trimmed, entry) && isSpace(trimmed[len(entry)]) {
			return true
		}
		if baseName == entry {
			return true
		}
	}
	return false
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
