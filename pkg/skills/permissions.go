// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a permission token such as "fs:read".
type Capability string

const (
	CapFSRead       Capability = "fs:read"
	CapFSWrite      Capability = "fs:write"
	CapShellExecute Capability = "shell:execute"
	CapNetRequest   Capability = "net:request"
	CapEnvRead      Capability = "env:read"
	CapGitAccess    Capability = "git:access"
	CapLLMAccess    Capability = "llm:access"
)

var knownCapabilities = map[Capability]bool{
	CapFSRead:       true,
	CapFSWrite:      true,
	CapShellExecute: true,
	CapNetRequest:   true,
	CapEnvRead:      true,
	CapGitAccess:    true,
	CapLLMAccess:    true,
}

// PermissionSet is an immutable set of capabilities.
type PermissionSet struct {
	caps map[Capability]struct{}
}

// NewPermissionSet builds a set from caps.
func NewPermissionSet(caps ...Capability) PermissionSet {
	set := PermissionSet{caps: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		set.caps[c] = struct{}{}
	}
	return set
}

// ParsePermissions validates capability tokens. Unknown tokens are an error.
func ParsePermissions(tokens []string) (PermissionSet, error) {
	caps := make([]Capability, 0, len(tokens))
	for _, tok := range tokens {
		c := Capability(strings.ToLower(strings.TrimSpace(tok)))
		if !knownCapabilities[c] {
			return PermissionSet{}, fmt.Errorf("unknown capability %q", tok)
		}
		caps = append(caps, c)
	}
	return NewPermissionSet(caps...), nil
}

// Contains reports whether c is in the set.
func (p PermissionSet) Contains(c Capability) bool {
	_, ok := p.caps[c]
	return ok
}

// Missing returns the members of required that p lacks, sorted.
func (p PermissionSet) Missing(required PermissionSet) []Capability {
	var out []Capability
	for c := range required.caps {
		if !p.Contains(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Intersect returns p ∩ other.
func (p PermissionSet) Intersect(other PermissionSet) PermissionSet {
	out := NewPermissionSet()
	for c := range p.caps {
		if other.Contains(c) {
			out.caps[c] = struct{}{}
		}
	}
	return out
}

// Len returns the number of capabilities.
func (p PermissionSet) Len() int {
	return len(p.caps)
}

// Slice returns the capabilities sorted.
func (p PermissionSet) Slice() []Capability {
	out := make([]Capability, 0, len(p.caps))
	for c := range p.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p PermissionSet) String() string {
	caps := p.Slice()
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
