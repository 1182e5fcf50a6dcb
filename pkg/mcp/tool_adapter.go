// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/webrana/webrana/pkg/safety"
	"github.com/webrana/webrana/pkg/skills"
)

// ToolDefinition converts a registered skill into an MCP tool. The skill's
// JSON schema is passed through unchanged.
func ToolDefinition(d *skills.Descriptor) (mcp.Tool, error) {
	schema := d.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("mcp tool %s: invalid schema: %w", d.Name, err)
	}
	return mcp.NewToolWithRawSchema(d.Name, describe(d), raw), nil
}

// describe appends the risk and required capabilities so a client can
// tell which calls are likely to be refused.
func describe(d *skills.Descriptor) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(d.Description))
	fmt.Fprintf(&b, " [risk: %s", d.Risk)
	if d.Requires.Len() > 0 {
		fmt.Fprintf(&b, "; requires: %s", strings.Trim(d.Requires.String(), "[]"))
	}
	b.WriteString("]")
	return b.String()
}

// normalizeToolArgs accepts the argument shapes MCP clients send.
func normalizeToolArgs(input any) (skills.Args, error) {
	switch value := input.(type) {
	case nil:
		return skills.Args{}, nil
	case map[string]any:
		return skills.Args(value), nil
	case json.RawMessage:
		return decodeArgs(value)
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return skills.Args{}, nil
		}
		return decodeArgs([]byte(trimmed))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("mcp tool args: unsupported type %T", input)
		}
		return decodeArgs(encoded)
	}
}

func decodeArgs(raw []byte) (skills.Args, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("mcp tool args: invalid JSON: %w", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return skills.Args(decoded), nil
}

// toolResult renders a gate result. Refusals and failures are tool errors
// so the client sees them in-band, never as protocol errors.
func toolResult(res safety.Result) *mcp.CallToolResult {
	if res.OK() {
		return mcp.NewToolResultText(res.Output)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s [decision: %s]", res.Content(), res.Decision))
}
