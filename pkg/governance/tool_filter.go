// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"path"
	"strings"
)

// ToolFilter narrows which registered skills are exposed to a client,
// such as the MCP server. It never widens what the gate allows.
type ToolFilter struct {
	allowlist map[string]bool
	denylist  map[string]bool
}

// ToolFilterOption configures a ToolFilter.
type ToolFilterOption func(*ToolFilter)

// NewToolFilter creates a new ToolFilter with the given options.
func NewToolFilter(opts ...ToolFilterOption) *ToolFilter {
	tf := &ToolFilter{
		allowlist: make(map[string]bool),
		denylist:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(tf)
	}
	return tf
}

// WithAllowlist sets the permitted skill names or glob patterns.
func WithAllowlist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) { addAll(tf.allowlist, tools) }
}

// WithDenylist sets the forbidden skill names or glob patterns.
func WithDenylist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) { addAll(tf.denylist, tools) }
}

// IsAllowed checks the denylist first, then a non-empty allowlist.
func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf == nil {
		return true
	}
	if matchesList(name, tf.denylist) {
		return false
	}
	return len(tf.allowlist) == 0 || matchesList(name, tf.allowlist)
}

// FilterTools returns the names that pass the filter, preserving order.
func (tf *ToolFilter) FilterTools(names []string) []string {
	if tf == nil || len(tf.allowlist) == 0 && len(tf.denylist) == 0 {
		return names
	}
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if tf.IsAllowed(name) {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

func addAll(set map[string]bool, tools []string) {
	for _, tool := range tools {
		if tool = strings.TrimSpace(tool); tool != "" {
			set[tool] = true
		}
	}
}

// matchesList supports exact names and globs such as "git_*".
func matchesList(name string, list map[string]bool) bool {
	if list[name] {
		return true
	}
	for pattern := range list {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
