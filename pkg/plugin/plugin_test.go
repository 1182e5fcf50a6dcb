package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/safety"
	"github.com/webrana/webrana/pkg/skills"
)

// Minimal wasm binary encoder for test modules. All sections used here are
// shorter than 128 bytes, so lengths fit in one LEB128 byte.

const (
	i32 = 0x7f
	i64 = 0x7e
)

func section(t *testing.T, id byte, content []byte) []byte {
	t.Helper()
	if len(content) >= 128 {
		t.Fatalf("section %d too long for test encoder", id)
	}
	return append([]byte{id, byte(len(content))}, content...)
}

func vec(items ...[]byte) []byte {
	out := []byte{byte(len(items))}
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func functype(params, results []byte) []byte {
	out := append([]byte{0x60, byte(len(params))}, params...)
	out = append(out, byte(len(results)))
	return append(out, results...)
}

func export(n string, kind, index byte) []byte {
	return append(name(n), kind, index)
}

func body(instrs ...byte) []byte {
	code := append([]byte{0x00}, instrs...) // no locals
	code = append(code, 0x0b)
	return append([]byte{byte(len(code))}, code...)
}

func module(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

// testModule exports memory, alloc (always 1024) and four skill exports:
// echo returns its input, trap hits unreachable, spin loops forever and
// oob returns a pointer outside memory.
func testModule(t *testing.T) []byte {
	return module(
		section(t, 1, vec(
			functype([]byte{i32}, []byte{i32}),
			functype([]byte{i32, i32}, []byte{i64}),
		)),
		section(t, 3, vec([]byte{0}, []byte{1}, []byte{1}, []byte{1}, []byte{1})),
		section(t, 5, vec([]byte{0x00, 0x01})),
		section(t, 7, vec(
			export("memory", 0x02, 0),
			export("alloc", 0x00, 0),
			export("echo", 0x00, 1),
			export("trap", 0x00, 2),
			export("spin", 0x00, 3),
			export("oob", 0x00, 4),
		)),
		section(t, 10, vec(
			body(0x41, 0x80, 0x08), // i32.const 1024
			body(0x20, 0x00, 0xad, 0x42, 0x20, 0x86, 0x20, 0x01, 0xad, 0x84), // (i64(ptr) << 32) | i64(len)
			body(0x00),                               // unreachable
			body(0x03, 0x40, 0x0c, 0x00, 0x0b, 0x00), // loop br 0 end unreachable
			body(0x42, 0x7f),                         // i64.const -1
		)),
	)
}

func wasiModule(t *testing.T) []byte {
	return module(
		section(t, 1, vec(functype([]byte{i32}, nil))),
		section(t, 2, vec(append(append(name("wasi_snapshot_preview1"), name("proc_exit")...), 0x00, 0x00))),
	)
}

func newSandbox(t *testing.T, timeout time.Duration) *Sandbox {
	t.Helper()
	s, err := NewSandbox(context.Background(), SandboxOptions{CallTimeout: timeout})
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSandboxCall(t *testing.T) {
	s := newSandbox(t, 200*time.Millisecond)
	mod, err := s.Compile(context.Background(), "test", testModule(t))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	out, err := mod.Call(context.Background(), "echo", []byte(`{"hello":"world"}`))
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if string(out) != `{"hello":"world"}` {
		t.Errorf("unexpected echo %q", out)
	}

	tests := []struct {
		export string
		code   errors.ErrorCode
	}{
		{"trap", errors.CodeSandboxTrap},
		{"oob", errors.CodeSandboxTrap},
		{"spin", errors.CodeTimeout},
		{"missing", errors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.export, func(t *testing.T) {
			start := time.Now()
			_, err := mod.Call(context.Background(), tt.export, []byte("{}"))
			if got := errors.CodeOf(err); got != tt.code {
				t.Fatalf("got %s (%v), want %s", got, err, tt.code)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("call not torn down in time: %v", elapsed)
			}
		})
	}

	// A trap in one call does not poison the next.
	if _, err := mod.Call(context.Background(), "echo", []byte("x")); err != nil {
		t.Errorf("echo after trap: %v", err)
	}
}

func TestSandboxExportChecks(t *testing.T) {
	s := newSandbox(t, time.Second)
	mod, err := s.Compile(context.Background(), "test", testModule(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := mod.CheckSkillExport("echo"); err != nil {
		t.Errorf("echo should be a valid skill export: %v", err)
	}
	if err := mod.CheckSkillExport("alloc"); err == nil {
		t.Errorf("alloc has the wrong signature")
	}
	if err := mod.CheckSkillExport("nope"); err == nil {
		t.Errorf("expected missing export error")
	}
}

func TestCompileRejectsForeignImports(t *testing.T) {
	s := newSandbox(t, time.Second)
	_, err := s.Compile(context.Background(), "wasi", wasiModule(t))
	if !errors.IsCode(err, errors.CodePermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := s.Compile(context.Background(), "junk", []byte("not wasm")); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

const manifestYAML = `id: echo-plugin
name: Echo
version: 1.0.0
description: Echoes its input
author:
  name: Test
permissions:
  - fs:read
entry_point: plugin.wasm
skills:
  - name: echo_text
    description: Echo the arguments
    function: echo
    input_schema:
      type: object
      properties:
        text:
          type: string
  - name: echo_write
    description: Pretends to write
    function: echo
    requires: [fs:write]
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.ID != "echo-plugin" || len(m.Skills) != 2 || m.Skills[0].Export() != "echo" {
		t.Errorf("unexpected manifest %+v", m)
	}
	if !m.Declared().Contains(skills.CapFSRead) || m.Declared().Len() != 1 {
		t.Errorf("unexpected declared set %s", m.Declared())
	}

	tests := []struct {
		name string
		edit func(string) string
	}{
		{"bad id", func(s string) string { return strings.Replace(s, "id: echo-plugin", "id: Echo Plugin", 1) }},
		{"missing version", func(s string) string { return strings.Replace(s, "version: 1.0.0\n", "", 1) }},
		{"unknown field", func(s string) string { return s + "extra: true\n" }},
		{"unknown permission", func(s string) string { return strings.Replace(s, "- fs:read", "- fs:everything", 1) }},
		{"escaping entry point", func(s string) string { return strings.Replace(s, "plugin.wasm", "../evil.wasm", 1) }},
		{"native type", func(s string) string { return s + "plugin_type: native\n" }},
		{"duplicate skill", func(s string) string { return strings.Replace(s, "echo_write", "echo_text", 1) }},
		{"alloc as skill", func(s string) string { return strings.Replace(s, "function: echo\n    requires", "function: alloc\n    requires", 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tt.edit(manifestYAML))); !errors.IsCode(err, errors.CodeInvalidInput) {
				t.Errorf("expected invalid manifest, got %v", err)
			}
		})
	}
}

func writePlugin(t *testing.T, root, dir, manifest string, wasm []byte) string {
	t.Helper()
	p := filepath.Join(root, dir)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "plugin.wasm"), wasm, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDiscoverShadowsDuplicates(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	wasm := testModule(t)
	writePlugin(t, first, "echo", manifestYAML, wasm)
	writePlugin(t, second, "echo-copy", manifestYAML, wasm)
	writePlugin(t, second, "broken", "id: [", wasm)

	found, notices := Discover([]string{first, second, filepath.Join(first, "missing")})
	if len(found) != 1 || found[0].Dir != filepath.Join(first, "echo") {
		t.Fatalf("unexpected discovery %+v", found)
	}
	if len(notices) != 2 {
		t.Fatalf("expected shadow and parse notices, got %+v", notices)
	}
}

type loaderFixture struct {
	loader *Loader
	store  *audit.MemoryStore
	log    *audit.Logger
	descs  []skills.Descriptor
	notes  []Notice
}

func load(t *testing.T, cfg config.PluginsConfig, state *Manager, opts ...LoaderOption) *loaderFixture {
	t.Helper()
	f := &loaderFixture{store: audit.NewMemoryStore()}
	var err error
	f.log, err = audit.NewLogger(context.Background(), f.store)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Enabled = true
	f.loader = NewLoader(cfg, newSandbox(t, time.Second), state, append([]LoaderOption{WithAudit(f.log)}, opts...)...)
	t.Cleanup(func() { _ = f.loader.Close(context.Background()) })
	f.descs, f.notes, err = f.loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return f
}

func TestLoaderEffectivePermissions(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo", manifestYAML, testModule(t))
	f := load(t, config.PluginsConfig{Dirs: []string{dir}, DefaultGrants: []string{"fs:read", "fs:write"}}, nil)

	if len(f.descs) != 2 {
		t.Fatalf("expected 2 skills, got %d (%+v)", len(f.descs), f.notes)
	}
	for _, d := range f.descs {
		if d.Available.Len() != 1 || !d.Available.Contains(skills.CapFSRead) {
			t.Errorf("%s: effective set must be declared ∩ granted, got %s", d.Name, d.Available)
		}
		if d.Source != skills.SourcePlugin || d.PluginID != "echo-plugin" || d.Class != skills.ClassPlugin {
			t.Errorf("%s: unexpected descriptor %s", d.Name, d.String())
		}
	}
	if f.descs[0].Risk != skills.RiskMedium || f.descs[1].Risk != skills.RiskHigh {
		t.Errorf("unexpected risks %s/%s", f.descs[0].Risk, f.descs[1].Risk)
	}

	// End to end through the gate: the read-only plugin runs, the skill
	// needing fs:write is refused before the module is entered.
	registry, err := skills.NewRegistry(f.descs...)
	if err != nil {
		t.Fatal(err)
	}
	sanitizer, err := safety.NewSanitizer(config.SafetyConfig{WorkingRoot: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	gate, err := safety.NewGate(registry, sanitizer,
		safety.WithAuditLogger(f.log),
		safety.WithPolicy(&governance.ConfirmationPolicy{AutoMode: true}))
	if err != nil {
		t.Fatal(err)
	}
	res := gate.Execute(context.Background(), safety.Call{CallID: "1", Skill: "echo_text", Args: skills.Args{"text": "hi"}})
	if !res.OK() || !strings.Contains(res.Output, `"action":"echo_text"`) || !strings.Contains(res.Output, `"text":"hi"`) {
		t.Fatalf("unexpected echo result %+v", res)
	}
	res = gate.Execute(context.Background(), safety.Call{CallID: "2", Skill: "echo_write"})
	if res.Status != safety.StatusRefused || res.Err.Code != errors.CodePermissionDenied {
		t.Fatalf("expected permission refusal, got %+v", res)
	}
}

func TestLoaderRefusesUngrantedPlugin(t *testing.T) {
	dir := t.TempDir()
	manifest := strings.Replace(manifestYAML, "  - fs:read\n", "  - fs:read\n  - net:request\n", 1)
	writePlugin(t, dir, "echo", manifest, testModule(t))
	f := load(t, config.PluginsConfig{Dirs: []string{dir}, DefaultGrants: []string{"fs:read"}}, nil)

	if len(f.descs) != 0 {
		t.Fatalf("plugin must not load, got %d skills", len(f.descs))
	}
	if len(f.notes) != 1 || !strings.Contains(f.notes[0].Message, "net:request") {
		t.Errorf("unexpected notices %+v", f.notes)
	}
	events, _ := f.store.List(context.Background(), audit.Filter{Action: audit.ActionPluginRejected})
	if len(events) != 1 {
		t.Errorf("expected plugin_rejected event, got %d", len(events))
	}
}

func TestLoaderRejectsSkillCollisions(t *testing.T) {
	dir := t.TempDir()
	wasm := testModule(t)
	writePlugin(t, dir, "a-echo", manifestYAML, wasm)
	// Same skills as echo-plugin under another id.
	writePlugin(t, dir, "b-copy", strings.Replace(manifestYAML, "id: echo-plugin", "id: echo-copy", 1), wasm)
	// Exports a built-in name.
	shadow := strings.NewReplacer("id: echo-plugin", "id: shadow", "name: echo_text", "name: read_file", "name: echo_write", "name: shadow_write").
		Replace(manifestYAML)
	writePlugin(t, dir, "c-shadow", shadow, wasm)
	other := strings.NewReplacer("id: echo-plugin", "id: other", "name: echo_text", "name: other_text", "name: echo_write", "name: other_write").
		Replace(manifestYAML)
	writePlugin(t, dir, "d-other", other, wasm)

	f := load(t, config.PluginsConfig{Dirs: []string{dir}, DefaultGrants: []string{"fs:read"}}, nil,
		WithReservedNames("read_file", "list_files"))

	var names []string
	for _, d := range f.descs {
		names = append(names, d.Name)
	}
	if got := strings.Join(names, ","); got != "echo_text,echo_write,other_text,other_write" {
		t.Fatalf("loaded skills = %s, notices %+v", got, f.notes)
	}
	if len(f.notes) != 2 {
		t.Fatalf("expected two collision notices, got %+v", f.notes)
	}
	if !strings.Contains(f.notes[0].Message, "plugin echo-plugin") || !strings.Contains(f.notes[1].Message, "built-in") {
		t.Errorf("unexpected notices %+v", f.notes)
	}
	if _, err := skills.NewRegistry(f.descs...); err != nil {
		t.Errorf("registry: %v", err)
	}
	events, _ := f.store.List(context.Background(), audit.Filter{Action: audit.ActionPluginRejected})
	if len(events) != 2 {
		t.Errorf("plugin_rejected events = %d, want 2", len(events))
	}
}

func TestLoaderPerPluginGrants(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo", manifestYAML, testModule(t))
	f := load(t, config.PluginsConfig{
		Dirs:          []string{dir},
		DefaultGrants: []string{"fs:read"},
		Grants:        map[string][]string{"echo-plugin": {}},
	}, nil)
	if len(f.descs) != 0 {
		t.Errorf("explicit empty grant must refuse the plugin")
	}
}

func TestLoaderSkipsDisabled(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo", manifestYAML, testModule(t))
	state, err := NewManager(t.TempDir(), filepath.Join(t.TempDir(), "plugins.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := state.Disable("echo-plugin"); err != nil {
		t.Fatal(err)
	}
	f := load(t, config.PluginsConfig{Dirs: []string{dir}, DefaultGrants: []string{"fs:read"}}, state)
	if len(f.descs) != 0 {
		t.Errorf("disabled plugin must not load")
	}
}

func TestManagerLifecycle(t *testing.T) {
	src := writePlugin(t, t.TempDir(), "echo", manifestYAML, testModule(t))
	dataDir := filepath.Join(t.TempDir(), "plugins")
	statePath := filepath.Join(t.TempDir(), "plugins.yaml")

	m, err := NewManager(dataDir, statePath)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := m.Install(src)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, manifest.ID, "plugin.wasm")); err != nil {
		t.Errorf("plugin not copied: %v", err)
	}
	if _, err := m.Install(src); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected duplicate install error, got %v", err)
	}
	if err := m.Disable(manifest.ID); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewManager(dataDir, statePath)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := reopened.Get(manifest.ID)
	if !ok || p.Enabled || !p.Managed || p.Version != "1.0.0" || p.InstalledAt.IsZero() {
		t.Fatalf("state not persisted: %+v", p)
	}
	if err := reopened.Enable(manifest.ID); err != nil || !reopened.IsEnabled(manifest.ID) {
		t.Errorf("enable failed: %v", err)
	}
	if err := reopened.Uninstall(manifest.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, manifest.ID)); !os.IsNotExist(err) {
		t.Errorf("plugin dir not removed")
	}
	if err := reopened.Uninstall(manifest.ID); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if len(reopened.List()) != 0 {
		t.Errorf("expected empty state, got %+v", reopened.List())
	}
}

func TestDecodeOutput(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"plain text", "plain text", false},
		{`{"success":true,"result":"done"}`, "done", false},
		{`{"success":true,"result":{"n":1}}`, `{"n":1}`, false},
		{`{"success":false,"result":{"error":"bad input"}}`, "", true},
		{`{"other":1}`, `{"other":1}`, false},
	}
	for _, tt := range tests {
		got, err := decodeOutput([]byte(tt.raw))
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v", tt.raw, err)
			continue
		}
		if tt.wantErr {
			if !errors.IsCode(err, errors.CodeSkillExecution) || !strings.Contains(err.Error(), "bad input") {
				t.Errorf("%s: unexpected error %v", tt.raw, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.raw, got, tt.want)
		}
	}
}
