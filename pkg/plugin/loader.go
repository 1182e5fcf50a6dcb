// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/skills"
	"github.com/webrana/webrana/pkg/telemetry"
)

// Discovered is a plugin directory with a valid manifest.
type Discovered struct {
	Dir      string
	Manifest *Manifest
}

// Notice reports a plugin that was skipped during discovery or loading.
type Notice struct {
	Dir     string
	ID      string
	Message string
}

// Discover scans dirs in order. Each immediate subdirectory holding a
// plugin.yaml is a candidate; the first occurrence of an id wins and later
// ones are reported as shadowed, never merged.
func Discover(dirs []string) ([]Discovered, []Notice) {
	var found []Discovered
	var notices []Notice
	seen := map[string]string{}
	for _, root := range dirs {
		root = filepath.Clean(strings.TrimSpace(root))
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				notices = append(notices, Notice{Dir: root, Message: err.Error()})
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
				continue
			}
			m, err := LoadManifest(dir)
			if err != nil {
				notices = append(notices, Notice{Dir: dir, Message: errors.AsWebranaError(err).Error()})
				continue
			}
			if winner, dup := seen[m.ID]; dup {
				notices = append(notices, Notice{Dir: dir, ID: m.ID, Message: "shadowed by " + winner})
				continue
			}
			seen[m.ID] = dir
			found = append(found, Discovered{Dir: dir, Manifest: m})
		}
	}
	return found, notices
}

// Plugin is a loaded plugin.
type Plugin struct {
	Manifest  *Manifest
	Dir       string
	Effective skills.PermissionSet
	module    *Module
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithAudit records plugin_loaded and plugin_rejected events.
func WithAudit(l *audit.Logger) LoaderOption {
	return func(ld *Loader) { ld.audit = l }
}

// WithLoaderLogger sets the structured logger.
func WithLoaderLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithLoaderMetrics records plugin invocations.
func WithLoaderMetrics(m *telemetry.Metrics) LoaderOption {
	return func(ld *Loader) { ld.metrics = m }
}

// WithWorkingRoot is passed to plugins in the call context.
func WithWorkingRoot(root string) LoaderOption {
	return func(ld *Loader) { ld.root = root }
}

// WithReservedNames marks skill names already taken by built-ins. A
// plugin exporting one of them is rejected.
func WithReservedNames(names ...string) LoaderOption {
	return func(ld *Loader) {
		for _, n := range names {
			ld.reserved[n] = "built-in"
		}
	}
}

// Loader turns discovered plugins into skill descriptors.
type Loader struct {
	cfg      config.PluginsConfig
	state    *Manager
	sandbox  *Sandbox
	audit    *audit.Logger
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	root     string
	reserved map[string]string // skill name -> owner
	loaded   []*Plugin
}

// NewLoader creates a loader. state may be nil, in which case every
// discovered plugin is enabled.
func NewLoader(cfg config.PluginsConfig, sandbox *Sandbox, state *Manager, opts ...LoaderOption) *Loader {
	l := &Loader{
		cfg:      cfg,
		state:    state,
		sandbox:  sandbox,
		logger:   slog.Default(),
		tracer:   telemetry.Tracer(),
		reserved: map[string]string{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load discovers, validates and compiles every enabled plugin and returns
// the skills they export. A plugin that fails any check is skipped and
// reported; it never contributes a skill, and the remaining plugins still
// load. A skill name already taken by a built-in or an earlier plugin
// rejects the whole plugin. Only a broken grant configuration is fatal.
func (l *Loader) Load(ctx context.Context) ([]skills.Descriptor, []Notice, error) {
	if !l.cfg.Enabled {
		return nil, nil, nil
	}
	found, notices := Discover(l.cfg.Dirs)
	for _, n := range notices {
		l.reject(ctx, n)
	}

	var descs []skills.Descriptor
	for _, d := range found {
		id := d.Manifest.ID
		if l.state != nil && !l.state.IsEnabled(id) {
			l.logger.Info("plugin.disabled", slog.String("plugin_id", id))
			continue
		}
		granted, err := skills.ParsePermissions(l.cfg.GrantsFor(id))
		if err != nil {
			return nil, notices, errors.New(errors.CodeConfig, "invalid plugin grants", err).WithContext("plugin", id)
		}
		p, pdescs, err := l.load(ctx, d, granted)
		if err != nil {
			n := Notice{Dir: d.Dir, ID: id, Message: errors.AsWebranaError(err).Error()}
			notices = append(notices, n)
			l.reject(ctx, n)
			continue
		}
		l.claim(p)
		l.loaded = append(l.loaded, p)
		descs = append(descs, pdescs...)
		l.logger.Info("plugin.loaded",
			slog.String("plugin_id", id),
			slog.String("version", d.Manifest.Version),
			slog.String("permissions", p.Effective.String()),
			slog.Int("skills", len(pdescs)),
		)
		l.record(ctx, audit.Event{
			Actor:  "system",
			Action: audit.ActionPluginLoaded,
			Detail: map[string]any{
				"plugin":      id,
				"version":     d.Manifest.Version,
				"dir":         d.Dir,
				"permissions": p.Effective.String(),
			},
		})
	}
	return descs, notices, nil
}

// claim reserves p's skill names for later plugins.
func (l *Loader) claim(p *Plugin) {
	for _, s := range p.Manifest.Skills {
		l.reserved[s.Name] = "plugin " + p.Manifest.ID
	}
}

func (l *Loader) load(ctx context.Context, d Discovered, granted skills.PermissionSet) (*Plugin, []skills.Descriptor, error) {
	m := d.Manifest
	for _, s := range m.Skills {
		if owner, taken := l.reserved[s.Name]; taken {
			return nil, nil, errors.New(errors.CodeConfig,
				fmt.Sprintf("skill %s collides with %s", s.Name, owner), nil).
				WithContext("plugin", m.ID).
				WithContext("skill", s.Name)
		}
	}
	declared := m.Declared()
	if missing := granted.Missing(declared); len(missing) > 0 {
		return nil, nil, errors.New(errors.CodePermissionDenied,
			fmt.Sprintf("plugin declares permissions that are not granted: %v", missing), nil).
			WithContext("plugin", m.ID)
	}
	wasm, err := os.ReadFile(filepath.Join(d.Dir, filepath.Clean(m.EntryPoint)))
	if err != nil {
		return nil, nil, errors.New(errors.CodeNotFound, "plugin entry point not found", err).WithContext("plugin", m.ID)
	}
	mod, err := l.sandbox.Compile(ctx, m.ID, wasm)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range m.Skills {
		if err := mod.CheckSkillExport(s.Export()); err != nil {
			_ = mod.Close(ctx)
			return nil, nil, err
		}
	}
	p := &Plugin{Manifest: m, Dir: d.Dir, Effective: declared.Intersect(granted), module: mod}
	descs := make([]skills.Descriptor, 0, len(m.Skills))
	for _, s := range m.Skills {
		descs = append(descs, l.descriptor(p, s))
	}
	return p, descs, nil
}

// descriptor maps a manifest skill onto the registry. Plugin skills are
// medium risk, high when they can write files, run commands or ask for
// confirmation.
func (l *Loader) descriptor(p *Plugin, s SkillDef) skills.Descriptor {
	requires := p.Effective
	if len(s.Requires) > 0 {
		requires, _ = skills.ParsePermissions(s.Requires)
	}
	risk := skills.RiskMedium
	if s.RequiresConfirmation || requires.Contains(skills.CapFSWrite) || requires.Contains(skills.CapShellExecute) {
		risk = skills.RiskHigh
	}
	schema := s.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return skills.Descriptor{
		Name:                 s.Name,
		Description:          s.Description,
		InputSchema:          schema,
		Requires:             requires,
		Available:            p.Effective,
		Risk:                 risk,
		Class:                skills.ClassPlugin,
		Source:               skills.SourcePlugin,
		PluginID:             p.Manifest.ID,
		RequiresConfirmation: s.RequiresConfirmation,
		Handler:              l.handler(p, s),
	}
}

// callInput is the JSON payload handed to a plugin export.
type callInput struct {
	Action  string      `json:"action"`
	Params  skills.Args `json:"params"`
	Context callContext `json:"context"`
}

type callContext struct {
	WorkingDir string `json:"working_dir,omitempty"`
	PluginID   string `json:"plugin_id"`
}

// callOutput is the optional structured reply of a plugin.
type callOutput struct {
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
	Logs    []string        `json:"logs"`
}

func (l *Loader) handler(p *Plugin, s SkillDef) skills.Handler {
	export := s.Export()
	return func(ctx context.Context, args skills.Args) (string, error) {
		ctx, span := l.tracer.Start(ctx, telemetry.SpanPlugin,
			trace.WithAttributes(telemetry.PluginAttributes(p.Manifest.ID, p.Manifest.Version, export)...))
		defer span.End()

		if args == nil {
			args = skills.Args{}
		}
		payload, err := json.Marshal(callInput{
			Action:  s.Name,
			Params:  args,
			Context: callContext{WorkingDir: l.root, PluginID: p.Manifest.ID},
		})
		if err != nil {
			return "", errors.New(errors.CodeInvalidInput, "cannot encode plugin arguments", err)
		}
		start := time.Now()
		raw, err := p.module.Call(ctx, export, payload)
		l.metrics.RecordPluginInvocation(ctx, p.Manifest.ID, err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			l.logger.Warn("plugin.call.failed",
				slog.String("plugin_id", p.Manifest.ID),
				slog.String("export", export),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("error", err.Error()),
			)
			return "", err
		}
		return decodeOutput(raw)
	}
}

// decodeOutput unwraps {"success", "result", "error"} replies. Anything
// else is returned as text.
func decodeOutput(raw []byte) (string, error) {
	var out callOutput
	if err := json.Unmarshal(raw, &out); err != nil || out.Success == nil {
		return string(raw), nil
	}
	if !*out.Success {
		msg := out.Error
		if msg == "" {
			var body struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(out.Result, &body) == nil && body.Error != "" {
				msg = body.Error
			} else {
				msg = "plugin reported failure"
			}
		}
		return "", errors.New(errors.CodeSkillExecution, msg, nil)
	}
	var text string
	if json.Unmarshal(out.Result, &text) == nil {
		return text, nil
	}
	return string(out.Result), nil
}

func (l *Loader) reject(ctx context.Context, n Notice) {
	l.logger.Warn("plugin.rejected", slog.String("dir", n.Dir), slog.String("plugin_id", n.ID), slog.String("reason", n.Message))
	l.record(ctx, audit.Event{
		Actor:  "system",
		Action: audit.ActionPluginRejected,
		Detail: map[string]any{"plugin": n.ID, "dir": n.Dir, "reason": n.Message},
	})
}

func (l *Loader) record(ctx context.Context, ev audit.Event) {
	if l.audit == nil {
		return
	}
	if _, err := l.audit.Log(ctx, ev); err != nil {
		l.logger.Error("plugin.audit.error", slog.String("error", err.Error()))
	}
}

// Plugins returns the loaded plugins sorted by id.
func (l *Loader) Plugins() []*Plugin {
	out := append([]*Plugin(nil), l.loaded...)
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// Close releases compiled modules.
func (l *Loader) Close(ctx context.Context) error {
	var first error
	for _, p := range l.loaded {
		if err := p.module.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	l.loaded = nil
	return first
}
