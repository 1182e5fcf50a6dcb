// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/webrana/webrana/pkg/errors"
)

// DefaultSensitivePaths can never be read or written. Absolute entries
// match that path and everything below it; relative entries match any
// path ending in them.
var DefaultSensitivePaths = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/etc/sudoers",
	".ssh/id_rsa",
	".ssh/id_ed25519",
	".aws/credentials",
	".env",
	".netrc",
	".pgpass",
	".docker/config.json",
	"credentials.yaml",
}

// PathGuard confines path arguments to a working root.
type PathGuard struct {
	root      string
	sensitive []string
}

// NewPathGuard resolves root (following symlinks) and adds extra
// sensitive entries to the defaults.
func NewPathGuard(root string, extraSensitive []string) (*PathGuard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "working root does not exist", err).WithContext("root", root)
	}
	sensitive := make([]string, 0, len(DefaultSensitivePaths)+len(extraSensitive))
	for _, s := range append(append([]string(nil), DefaultSensitivePaths...), extraSensitive...) {
		if s = strings.TrimSpace(s); s != "" {
			sensitive = append(sensitive, filepath.ToSlash(filepath.Clean(expandHome(s))))
		}
	}
	return &PathGuard{root: real, sensitive: sensitive}, nil
}

// Root returns the canonical working root.
func (g *PathGuard) Root() string {
	return g.root
}

// Resolve canonicalizes p against the root. The returned path is absolute
// with every existing symlink resolved. Paths outside the root or on the
// sensitive list are rejected.
func (g *PathGuard) Resolve(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", reject("path contains NUL byte", p)
	}
	if strings.TrimSpace(p) == "" {
		p = "."
	}
	p = expandHome(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.root, p)
	}
	real, err := evalExisting(filepath.Clean(p))
	if err != nil {
		return "", reject("cannot resolve path", p).WithContext("cause", err.Error())
	}
	if !within(g.root, real) {
		return "", reject("path is outside the working root", p)
	}
	if s, ok := g.sensitiveMatch(real); ok {
		return "", reject("path is on the sensitive denylist", p).WithContext("rule", s)
	}
	return real, nil
}

func (g *PathGuard) sensitiveMatch(p string) (string, bool) {
	slash := filepath.ToSlash(p)
	for _, s := range g.sensitive {
		if strings.HasPrefix(s, "/") {
			if slash == s || strings.HasPrefix(slash, s+"/") {
				return s, true
			}
			continue
		}
		if strings.HasSuffix(slash, "/"+s) || strings.Contains(slash, "/"+s+"/") {
			return s, true
		}
	}
	return "", false
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// appends the non-existent remainder unchanged.
func evalExisting(p string) (string, error) {
	rest := ""
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			if rest == "" {
				return real, nil
			}
			return filepath.Join(real, rest), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func reject(msg, arg string) *errors.WebranaError {
	return errors.New(errors.CodeSanitizationRejected, msg, nil).WithContext("path", arg)
}
