// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills defines skill descriptors, the closed skill registry and
// the built-in file, shell and git skills.
package skills

import (
	"context"
	"fmt"
	"strconv"

	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/llm"
)

// OperationClass selects the rate-limit bucket a skill draws from.
type OperationClass string

const (
	ClassLLM       OperationClass = "llm"
	ClassShell     OperationClass = "shell"
	ClassFileRead  OperationClass = "file_read"
	ClassFileWrite OperationClass = "file_write"
	ClassGit       OperationClass = "git"
	ClassPlugin    OperationClass = "plugin"
)

// Source identifies where a skill came from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourcePlugin  Source = "plugin"
)

// ArgKind tells the path guard how to sanitize a string argument.
type ArgKind int

const (
	// ArgText is free text passed to the skill verbatim.
	ArgText ArgKind = iota
	// ArgPath is canonicalized and confined to the working root.
	ArgPath
	// ArgRef is an identifier handed to a subprocess as argv (a branch,
	// a revision). Shell metacharacters and leading dashes are rejected.
	ArgRef
	// ArgCommand is a raw shell command line.
	ArgCommand
)

// Args are the decoded JSON arguments of a tool call.
type Args map[string]any

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", errors.New(errors.CodeInvalidInput, "missing required argument", nil).WithContext("argument", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.New(errors.CodeInvalidInput, "argument must be a string", nil).WithContext("argument", key)
	}
	return s, nil
}

// OptString returns a string argument or def when absent.
func (a Args) OptString(key, def string) string {
	if s, ok := a[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Int returns an integer argument or def. JSON numbers decode as float64.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns a boolean argument or def.
func (a Args) Bool(key string, def bool) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Strings returns a list-of-strings argument. A single string is accepted
// as a one-element list.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Handler executes a skill. Errors should be typed; untyped errors are
// reported as skill execution failures.
type Handler func(ctx context.Context, args Args) (string, error)

// RiskFunc derives a call's risk from its sanitized arguments.
type RiskFunc func(args Args) Risk

// Descriptor is the registry entry for one skill.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	// Requires lists the capabilities a call needs.
	Requires PermissionSet
	// Available is the capability set granted to the skill's source: host
	// grants for built-ins, the effective set for a plugin.
	Available PermissionSet
	Risk      Risk
	RiskFunc  RiskFunc
	Class     OperationClass
	Source    Source
	PluginID  string
	// ArgKinds maps argument names to their sanitization rule. Arguments
	// not listed are ArgText.
	ArgKinds map[string]ArgKind
	// RequiresConfirmation forces a prompt regardless of risk.
	RequiresConfirmation bool
	Handler              Handler
}

// BaseRisk returns the descriptor's own risk for args.
func (d *Descriptor) BaseRisk(args Args) Risk {
	if d.RiskFunc != nil {
		return d.RiskFunc(args)
	}
	return d.Risk
}

// RawCommand reports whether the skill takes a raw shell command.
func (d *Descriptor) RawCommand() bool {
	for _, kind := range d.ArgKinds {
		if kind == ArgCommand {
			return true
		}
	}
	return false
}

// Tool returns the model-facing schema.
func (d *Descriptor) Tool() llm.Tool {
	schema := d.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		},
	}
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(%s, %s, %s)", d.Name, d.Source, d.Class, d.Risk)
}

// objectSchema is a small helper for built-in input schemas.
func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
