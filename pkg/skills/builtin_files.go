// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/webrana/webrana/pkg/errors"
)

// BuiltinOptions configures the built-in skills.
type BuiltinOptions struct {
	// Root is the absolute working root; relative paths resolve against it.
	Root string
	// Grants is the capability set the host grants to built-ins.
	Grants         PermissionSet
	MaxFileSize    int64
	MaxOutputBytes int
	CommandTimeout time.Duration
	// Shell runs ArgCommand strings; defaults to /bin/sh.
	Shell string
	// Redact scrubs output before it is returned to the model.
	Redact func(string) string
	// Sensitive reports absolute paths that directory walks must skip.
	Sensitive func(string) bool
}

func (o *BuiltinOptions) defaults() {
	if o.Root == "" {
		o.Root, _ = os.Getwd()
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 10 * 1024 * 1024
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = 64 * 1024
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 60 * time.Second
	}
	if o.Shell == "" {
		o.Shell = "/bin/sh"
	}
	if o.Redact == nil {
		o.Redact = func(s string) string { return s }
	}
	if o.Sensitive == nil {
		o.Sensitive = func(string) bool { return false }
	}
}

// Builtins returns the built-in skill descriptors.
func Builtins(opts BuiltinOptions) []Descriptor {
	opts.defaults()
	b := &builtins{opts: opts}
	descs := append(b.fileSkills(), b.shellSkills()...)
	descs = append(descs, b.gitSkills()...)
	for i := range descs {
		descs[i].Source = SourceBuiltin
		descs[i].Available = opts.Grants
	}
	return descs
}

// skippedDirs are never listed or searched.
var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "target": true, "vendor": true, "dist": true, "build": true,
}

const maxListEntries = 1000

type builtins struct {
	opts BuiltinOptions
}

func (b *builtins) fileSkills() []Descriptor {
	return []Descriptor{
		{
			Name:        "list_files",
			Description: "List files and directories under a path in the working directory.",
			InputSchema: objectSchema(nil, map[string]any{
				"path":      prop("string", "Directory to list, relative to the working directory (default \".\")"),
				"recursive": prop("boolean", "Walk subdirectories"),
			}),
			Requires: NewPermissionSet(CapFSRead),
			Risk:     RiskLow,
			Class:    ClassFileRead,
			ArgKinds: map[string]ArgKind{"path": ArgPath},
			Handler:  b.listFiles,
		},
		{
			Name:        "read_file",
			Description: "Read a UTF-8 text file.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{
				"path": prop("string", "File to read"),
			}),
			Requires: NewPermissionSet(CapFSRead),
			Risk:     RiskLow,
			Class:    ClassFileRead,
			ArgKinds: map[string]ArgKind{"path": ArgPath},
			Handler:  b.readFile,
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content.",
			InputSchema: objectSchema([]string{"path", "content"}, map[string]any{
				"path":    prop("string", "File to write"),
				"content": prop("string", "Full file content"),
			}),
			Requires: NewPermissionSet(CapFSWrite),
			RiskFunc: b.writeRisk,
			Class:    ClassFileWrite,
			ArgKinds: map[string]ArgKind{"path": ArgPath},
			Handler:  b.writeFile,
		},
		{
			Name:        "edit_file",
			Description: "Replace an exact text fragment in a file.",
			InputSchema: objectSchema([]string{"path", "old_string", "new_string"}, map[string]any{
				"path":        prop("string", "File to edit"),
				"old_string":  prop("string", "Exact text to find; must be unique unless replace_all is set"),
				"new_string":  prop("string", "Replacement text"),
				"replace_all": prop("boolean", "Replace every occurrence"),
			}),
			Requires: NewPermissionSet(CapFSRead, CapFSWrite),
			Risk:     RiskMedium,
			Class:    ClassFileWrite,
			ArgKinds: map[string]ArgKind{"path": ArgPath},
			Handler:  b.editFile,
		},
		{
			Name:        "search_files",
			Description: "Search text files for a literal substring and report matching lines.",
			InputSchema: objectSchema([]string{"pattern"}, map[string]any{
				"pattern":     prop("string", "Literal text to search for"),
				"path":        prop("string", "Directory to search (default \".\")"),
				"max_results": prop("integer", "Maximum matches to return (default 200)"),
			}),
			Requires: NewPermissionSet(CapFSRead),
			Risk:     RiskLow,
			Class:    ClassFileRead,
			ArgKinds: map[string]ArgKind{"path": ArgPath},
			Handler:  b.searchFiles,
		},
	}
}

// resolve joins a relative path onto the root. Arguments reaching a
// handler through the safety gate are already absolute.
func (b *builtins) resolve(p string) string {
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(b.opts.Root, p)
}

func (b *builtins) rel(p string) string {
	if r, err := filepath.Rel(b.opts.Root, p); err == nil {
		return filepath.ToSlash(r)
	}
	return p
}

func skillErr(msg string, cause error) *errors.WebranaError {
	return errors.New(errors.CodeSkillExecution, msg, cause)
}

func (b *builtins) listFiles(ctx context.Context, args Args) (string, error) {
	dir := b.resolve(args.OptString("path", "."))
	info, err := os.Stat(dir)
	if err != nil {
		return "", skillErr("cannot list path", err).WithContext("path", b.rel(dir))
	}
	if !info.IsDir() {
		return "", skillErr("path is not a directory", nil).WithContext("path", b.rel(dir))
	}

	var entries []string
	truncated := false
	if args.Bool("recursive", false) {
		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, werr error) error {
			if werr != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p == dir {
				return nil
			}
			if d.IsDir() && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if b.opts.Sensitive(p) {
				return skipEntry(d)
			}
			if len(entries) >= maxListEntries {
				truncated = true
				return filepath.SkipAll
			}
			entries = append(entries, formatEntry(b.rel(p), d.IsDir()))
			return nil
		})
		if err != nil {
			return "", skillErr("listing interrupted", err)
		}
	} else {
		items, err := os.ReadDir(dir)
		if err != nil {
			return "", skillErr("cannot list path", err).WithContext("path", b.rel(dir))
		}
		for _, item := range items {
			if b.opts.Sensitive(filepath.Join(dir, item.Name())) {
				continue
			}
			if len(entries) >= maxListEntries {
				truncated = true
				break
			}
			entries = append(entries, formatEntry(b.rel(filepath.Join(dir, item.Name())), item.IsDir()))
		}
	}
	sort.Strings(entries)
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	out := strings.Join(entries, "\n")
	if truncated {
		out += fmt.Sprintf("\n... truncated at %d entries", maxListEntries)
	}
	return out, nil
}

// skipEntry prunes a directory or passes over a file during a walk.
func skipEntry(d fs.DirEntry) error {
	if d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

func formatEntry(p string, isDir bool) string {
	if isDir {
		return p + "/"
	}
	return p
}

func (b *builtins) readFile(ctx context.Context, args Args) (string, error) {
	raw, err := args.String("path")
	if err != nil {
		return "", err
	}
	path := b.resolve(raw)
	info, err := os.Stat(path)
	if err != nil {
		return "", skillErr("file not found", err).WithContext("path", b.rel(path))
	}
	if info.IsDir() {
		return "", skillErr("path is a directory", nil).WithContext("path", b.rel(path))
	}
	if info.Size() > b.opts.MaxFileSize {
		return "", skillErr("file exceeds maximum readable size", nil).
			WithContext("path", b.rel(path)).
			WithContext("size", info.Size()).
			WithContext("max", b.opts.MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", skillErr("cannot read file", err).WithContext("path", b.rel(path))
	}
	if isBinary(data) {
		return "", skillErr("file appears to be binary", nil).WithContext("path", b.rel(path))
	}
	return b.opts.Redact(b.truncate(string(data))), nil
}

func (b *builtins) writeRisk(args Args) Risk {
	raw, _ := args.String("path")
	if raw == "" {
		return RiskMedium
	}
	if _, err := os.Stat(b.resolve(raw)); err == nil {
		return RiskHigh
	}
	return RiskMedium
}

func (b *builtins) writeFile(ctx context.Context, args Args) (string, error) {
	raw, err := args.String("path")
	if err != nil {
		return "", err
	}
	content, err := args.String("content")
	if err != nil {
		return "", err
	}
	path := b.resolve(raw)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return "", skillErr("path is a directory", nil).WithContext("path", b.rel(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", skillErr("cannot create parent directory", err).WithContext("path", b.rel(path))
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", skillErr("cannot write file", err).WithContext("path", b.rel(path))
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), b.rel(path)), nil
}

func (b *builtins) editFile(ctx context.Context, args Args) (string, error) {
	raw, err := args.String("path")
	if err != nil {
		return "", err
	}
	oldStr, err := args.String("old_string")
	if err != nil {
		return "", err
	}
	newStr, err := args.String("new_string")
	if err != nil {
		return "", err
	}
	if oldStr == "" {
		return "", errors.New(errors.CodeInvalidInput, "old_string must not be empty", nil)
	}
	path := b.resolve(raw)
	info, err := os.Stat(path)
	if err != nil {
		return "", skillErr("file not found", err).WithContext("path", b.rel(path))
	}
	if info.Size() > b.opts.MaxFileSize {
		return "", skillErr("file exceeds maximum editable size", nil).WithContext("path", b.rel(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", skillErr("cannot read file", err).WithContext("path", b.rel(path))
	}
	content := string(data)
	count := strings.Count(content, oldStr)
	switch {
	case count == 0:
		return "", skillErr("old_string not found", nil).WithContext("path", b.rel(path))
	case count > 1 && !args.Bool("replace_all", false):
		return "", skillErr("old_string is not unique; add context or set replace_all", nil).
			WithContext("path", b.rel(path)).
			WithContext("occurrences", count)
	}
	n := 1
	if args.Bool("replace_all", false) {
		n = -1
	}
	updated := strings.Replace(content, oldStr, newStr, n)
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return "", skillErr("cannot write file", err).WithContext("path", b.rel(path))
	}
	replaced := 1
	if n < 0 {
		replaced = count
	}
	return fmt.Sprintf("replaced %d occurrence(s) in %s", replaced, b.rel(path)), nil
}

func (b *builtins) searchFiles(ctx context.Context, args Args) (string, error) {
	pattern, err := args.String("pattern")
	if err != nil {
		return "", err
	}
	if pattern == "" {
		return "", errors.New(errors.CodeInvalidInput, "pattern must not be empty", nil)
	}
	dir := b.resolve(args.OptString("path", "."))
	limit := args.Int("max_results", 200)
	if limit <= 0 {
		limit = 200
	}

	var matches []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p != dir {
			if d.IsDir() && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if b.opts.Sensitive(p) {
				return skipEntry(d)
			}
		}
		if d.IsDir() {
			return nil
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil || info.Size() > b.opts.MaxFileSize || !info.Mode().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil || isBinary(data) {
			return nil
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if strings.Contains(text, pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", b.rel(p), line, strings.TrimSpace(text)))
				if len(matches) >= limit {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", skillErr("search interrupted", err)
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return b.opts.Redact(b.truncate(strings.Join(matches, "\n"))), nil
}

func (b *builtins) truncate(s string) string {
	if len(s) <= b.opts.MaxOutputBytes {
		return s
	}
	return s[:b.opts.MaxOutputBytes] + fmt.Sprintf("\n... output truncated (%d bytes total)", len(s))
}

// isBinary reports a NUL byte in the first 8000 bytes.
func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
