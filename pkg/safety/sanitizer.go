// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package safety implements the gate every tool call passes through:
// argument sanitization, permission checks, risk classification, rate
// limiting, confirmation and audit, in that order.
package safety

import (
	"regexp"
	"strings"

	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/skills"
)

// shellMeta matches characters that chain, redirect or substitute commands.
var shellMeta = regexp.MustCompile("[;&|<>`$()\n\\\\]")

// commandSeparators split a command line into segments for allow-listing.
var commandSeparators = regexp.MustCompile(`\|\||&&|[;|&\n]`)

// refPattern is what an ArgRef may look like (branch names, revisions,
// remote names).
var refPattern = regexp.MustCompile(`^[A-Za-z0-9._/@{}^~:+-]+$`)

// Sanitized is the normalized form of a call's arguments.
type Sanitized struct {
	Args skills.Args
	// Command is set for skills that take a raw command.
	Command     governance.CommandAssessment
	RawCommand  string
	HasMeta     bool
	AllowListed bool
}

// Sanitizer normalizes and validates tool arguments before anything else
// looks at them.
type Sanitizer struct {
	paths   *PathGuard
	rules   *governance.CommandRules
	allowed []string
}

// NewSanitizer builds a sanitizer for the safety section.
func NewSanitizer(cfg config.SafetyConfig) (*Sanitizer, error) {
	root := cfg.WorkingRoot
	if root == "" {
		root = "."
	}
	guard, err := NewPathGuard(root, cfg.SensitivePaths)
	if err != nil {
		return nil, err
	}
	allowed := make([]string, 0, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		if n := governance.NormalizeCommand(c); n != "" {
			allowed = append(allowed, n)
		}
	}
	return &Sanitizer{paths: guard, rules: governance.NewCommandRules(cfg), allowed: allowed}, nil
}

// Root returns the canonical working root.
func (s *Sanitizer) Root() string {
	return s.paths.Root()
}

// IsSensitive reports whether an absolute path matches the sensitive
// denylist. Skills that walk directories use it to skip files the path
// arguments could never name.
func (s *Sanitizer) IsSensitive(p string) bool {
	_, ok := s.paths.sensitiveMatch(p)
	return ok
}

// Sanitize returns a copy of args with every path argument canonicalized.
// It performs no I/O beyond resolving symlinks.
func (s *Sanitizer) Sanitize(desc *skills.Descriptor, args skills.Args) (Sanitized, error) {
	out := Sanitized{Args: make(skills.Args, len(args))}
	for k, v := range args {
		out.Args[k] = v
	}
	for name, kind := range desc.ArgKinds {
		v, ok := out.Args[name]
		if !ok || v == nil {
			continue
		}
		switch kind {
		case skills.ArgPath:
			clean, err := s.sanitizePath(name, v)
			if err != nil {
				return Sanitized{}, err
			}
			out.Args[name] = clean
		case skills.ArgRef:
			if err := checkRefs(name, v); err != nil {
				return Sanitized{}, err
			}
		case skills.ArgCommand:
			cmd, ok := v.(string)
			if !ok {
				return Sanitized{}, argError("command must be a string", name)
			}
			if err := s.sanitizeCommand(&out, name, cmd); err != nil {
				return Sanitized{}, err
			}
		}
	}
	return out, nil
}

func (s *Sanitizer) sanitizePath(name string, v any) (any, error) {
	switch val := v.(type) {
	case string:
		return s.paths.Resolve(val)
	case []string:
		return s.resolveAll(val)
	case []any:
		list := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, argError("path list must contain strings", name)
			}
			list = append(list, str)
		}
		return s.resolveAll(list)
	default:
		return nil, argError("path must be a string", name)
	}
}

func (s *Sanitizer) resolveAll(in []string) ([]any, error) {
	out := make([]any, 0, len(in))
	for _, p := range in {
		clean, err := s.paths.Resolve(p)
		if err != nil {
			return nil, err
		}
		out = append(out, clean)
	}
	return out, nil
}

func checkRefs(name string, v any) error {
	var refs []string
	switch val := v.(type) {
	case string:
		refs = []string{val}
	case []any:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return argError("reference list must contain strings", name)
			}
			refs = append(refs, str)
		}
	default:
		return argError("reference must be a string", name)
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if strings.HasPrefix(ref, "-") {
			return argError("reference must not start with '-'", name)
		}
		if !refPattern.MatchString(ref) {
			return argError("reference contains forbidden characters", name)
		}
	}
	return nil
}

// sanitizeCommand accepts metacharacters only in allow-listed commands.
func (s *Sanitizer) sanitizeCommand(out *Sanitized, name, cmd string) error {
	if strings.ContainsRune(cmd, 0) {
		return argError("command contains NUL byte", name)
	}
	out.RawCommand = cmd
	out.Command = s.rules.Assess(cmd)
	out.HasMeta = shellMeta.MatchString(cmd)
	if len(s.allowed) > 0 {
		for _, seg := range commandSeparators.Split(cmd, -1) {
			seg = governance.NormalizeCommand(seg)
			if seg == "" {
				continue
			}
			if !s.allowListed(seg) {
				return argError("command is not in the allow-list", name).WithContext("segment", seg)
			}
		}
		out.AllowListed = true
	}
	if out.HasMeta && !out.AllowListed {
		return argError("command contains shell metacharacters and is not allow-listed", name)
	}
	return nil
}

// allowListed reports whether seg starts with an allowed command, matched
// on whole words.
func (s *Sanitizer) allowListed(seg string) bool {
	for _, a := range s.allowed {
		if seg == a || strings.HasPrefix(seg, a+" ") {
			return true
		}
	}
	return false
}

func argError(msg, arg string) *errors.WebranaError {
	return errors.New(errors.CodeSanitizationRejected, msg, nil).WithContext("argument", arg)
}
