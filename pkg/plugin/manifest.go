// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin discovers, validates, installs and runs sandboxed
// WebAssembly plugins and exposes their exports as skills.
package plugin

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/skills"
)

// ManifestFile is the manifest name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// DefaultFunction is the export called when a skill names none.
const DefaultFunction = "execute"

var (
	pluginIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
	exportPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// Author identifies who published a plugin.
type Author struct {
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email,omitempty" json:"email,omitempty"`
	URL   string `yaml:"url,omitempty" json:"url,omitempty"`
}

// SkillDef is one skill a plugin exports.
type SkillDef struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Function    string         `yaml:"function,omitempty" json:"function,omitempty"`
	InputSchema map[string]any `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	// Requires lists capabilities a call needs. Empty means the plugin's
	// declared permissions.
	Requires             []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	RequiresConfirmation bool     `yaml:"requires_confirmation,omitempty" json:"requires_confirmation,omitempty"`
}

// Export returns the module export backing the skill.
func (s SkillDef) Export() string {
	if s.Function != "" {
		return s.Function
	}
	return DefaultFunction
}

// Manifest is the parsed plugin.yaml.
type Manifest struct {
	ID                string     `yaml:"id" json:"id"`
	Name              string     `yaml:"name" json:"name"`
	Version           string     `yaml:"version" json:"version"`
	Description       string     `yaml:"description,omitempty" json:"description,omitempty"`
	Author            Author     `yaml:"author,omitempty" json:"author,omitempty"`
	PluginType        string     `yaml:"plugin_type,omitempty" json:"plugin_type,omitempty"`
	MinWebranaVersion string     `yaml:"min_webrana_version,omitempty" json:"min_webrana_version,omitempty"`
	EntryPoint        string     `yaml:"entry_point" json:"entry_point"`
	Permissions       []string   `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Skills            []SkillDef `yaml:"skills" json:"skills"`
}

// ParseManifest decodes and validates a manifest. Unknown fields are
// rejected so typos fail closed.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid plugin manifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads dir/plugin.yaml.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, errors.New(errors.CodeNotFound, "plugin manifest not found", err).WithContext("dir", dir)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, errors.AsWebranaError(err).WithContext("dir", dir)
	}
	return m, nil
}

// Validate checks the manifest.
func (m *Manifest) Validate() error {
	if !pluginIDPattern.MatchString(m.ID) {
		return manifestErr("id must be lowercase alphanumeric with . _ -", m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return manifestErr("name is required", m.ID)
	}
	if strings.TrimSpace(m.Version) == "" {
		return manifestErr("version is required", m.ID)
	}
	if m.PluginType != "" && m.PluginType != "wasm" {
		return manifestErr("only wasm plugins are supported", m.ID).WithContext("plugin_type", m.PluginType)
	}
	entry := filepath.Clean(m.EntryPoint)
	if m.EntryPoint == "" || filepath.IsAbs(entry) || entry == ".." || strings.HasPrefix(entry, ".."+string(filepath.Separator)) {
		return manifestErr("entry_point must be a relative path inside the plugin", m.ID)
	}
	if _, err := skills.ParsePermissions(m.Permissions); err != nil {
		return errors.New(errors.CodeInvalidInput, "invalid plugin permissions", err).WithContext("plugin", m.ID)
	}
	if len(m.Skills) == 0 {
		return manifestErr("plugin must provide at least one skill", m.ID)
	}
	seen := make(map[string]bool, len(m.Skills))
	for _, s := range m.Skills {
		if seen[s.Name] {
			return manifestErr("duplicate skill name "+s.Name, m.ID)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Description) == "" {
			return manifestErr("skill "+s.Name+" has no description", m.ID)
		}
		if !exportPattern.MatchString(s.Export()) {
			return manifestErr("skill "+s.Name+" names an invalid function", m.ID)
		}
		if s.Export() == allocExport {
			return manifestErr("skill "+s.Name+" cannot call the allocator", m.ID)
		}
		if _, err := skills.ParsePermissions(s.Requires); err != nil {
			return errors.New(errors.CodeInvalidInput, "invalid skill requirements", err).
				WithContext("plugin", m.ID).WithContext("skill", s.Name)
		}
	}
	return nil
}

// Declared returns the permission set the manifest asks for.
func (m *Manifest) Declared() skills.PermissionSet {
	set, _ := skills.ParsePermissions(m.Permissions)
	return set
}

func (m *Manifest) String() string {
	return fmt.Sprintf("%s@%s", m.ID, m.Version)
}

func manifestErr(msg, id string) *errors.WebranaError {
	return errors.New(errors.CodeInvalidInput, msg, nil).WithContext("plugin", id)
}
