// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webrana/webrana/pkg/errors"
)

// Installed is the persisted state of one plugin.
type Installed struct {
	ID          string    `yaml:"id"`
	Version     string    `yaml:"version,omitempty"`
	Enabled     bool      `yaml:"enabled"`
	Managed     bool      `yaml:"managed"`
	InstalledAt time.Time `yaml:"installed_at,omitempty"`
	Source      string    `yaml:"source,omitempty"`
	Path        string    `yaml:"path,omitempty"`
}

type stateFile struct {
	SchemaVersion int         `yaml:"schema_version"`
	Plugins       []Installed `yaml:"plugins"`
}

// Manager installs plugins into the managed directory and tracks their
// enabled flag in a YAML state file.
type Manager struct {
	mu        sync.Mutex
	dataDir   string
	statePath string
	now       func() time.Time
	plugins   map[string]Installed
}

// NewManager loads the state file. A missing file is an empty state.
func NewManager(dataDir, statePath string) (*Manager, error) {
	m := &Manager{
		dataDir:   dataDir,
		statePath: statePath,
		now:       time.Now,
		plugins:   map[string]Installed{},
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	raw, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New(errors.CodeConfig, "cannot read plugin state", err).WithContext("path", m.statePath)
	}
	var st stateFile
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return errors.New(errors.CodeConfig, "invalid plugin state file", err).WithContext("path", m.statePath)
	}
	for _, p := range st.Plugins {
		if p.ID != "" {
			m.plugins[p.ID] = p
		}
	}
	return nil
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o700); err != nil {
		return err
	}
	st := stateFile{SchemaVersion: 1, Plugins: m.listLocked()}
	buf, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Install validates the plugin at src and copies it to the managed
// directory under its id. Installing an id twice is an error.
func (m *Manager) Install(src string) (*Manifest, error) {
	manifest, err := LoadManifest(src)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(src, filepath.Clean(manifest.EntryPoint))); err != nil {
		return nil, errors.New(errors.CodeNotFound, "plugin entry point not found", err).WithContext("plugin", manifest.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.plugins[manifest.ID]; ok && p.Managed {
		return nil, errors.New(errors.CodeInvalidInput, "plugin already installed", nil).WithContext("plugin", manifest.ID)
	}
	dst := filepath.Join(m.dataDir, manifest.ID)
	if err := os.RemoveAll(dst); err != nil {
		return nil, err
	}
	if err := copyTree(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return nil, errors.New(errors.CodeInternal, "cannot copy plugin", err).WithContext("plugin", manifest.ID)
	}
	abs, _ := filepath.Abs(src)
	m.plugins[manifest.ID] = Installed{
		ID:          manifest.ID,
		Version:     manifest.Version,
		Enabled:     true,
		Managed:     true,
		InstalledAt: m.now().UTC().Truncate(time.Second),
		Source:      abs,
		Path:        dst,
	}
	if err := m.saveLocked(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Uninstall removes a managed plugin and its files.
func (m *Manager) Uninstall(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[id]
	if !ok || !p.Managed {
		return errors.New(errors.CodeNotFound, "plugin is not installed", nil).WithContext("plugin", id)
	}
	if p.Path != "" {
		if err := os.RemoveAll(p.Path); err != nil {
			return err
		}
	}
	delete(m.plugins, id)
	return m.saveLocked()
}

// Enable marks id as enabled.
func (m *Manager) Enable(id string) error {
	return m.setEnabled(id, true)
}

// Disable marks id as disabled. Plugins found outside the managed
// directory can be disabled too; they get an unmanaged state entry.
func (m *Manager) Disable(id string) error {
	return m.setEnabled(id, false)
}

func (m *Manager) setEnabled(id string, enabled bool) error {
	if !pluginIDPattern.MatchString(id) {
		return errors.New(errors.CodeInvalidInput, "invalid plugin id", nil).WithContext("plugin", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[id]
	if !ok {
		p = Installed{ID: id}
	}
	p.Enabled = enabled
	m.plugins[id] = p
	return m.saveLocked()
}

// IsEnabled reports whether id may load. Plugins without state are enabled.
func (m *Manager) IsEnabled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[id]
	return !ok || p.Enabled
}

// Get returns the state entry for id.
func (m *Manager) Get(id string) (Installed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[id]
	return p, ok
}

// List returns every state entry sorted by id.
func (m *Manager) List() []Installed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() []Installed {
	out := make([]Installed, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DataDir returns the managed plugin directory.
func (m *Manager) DataDir() string {
	return m.dataDir
}

// copyTree copies regular files and directories. Symlinks are skipped so
// an installed plugin cannot point outside its directory.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
