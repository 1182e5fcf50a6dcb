// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/webrana/webrana/pkg/errors"
)

const (
	allocExport = "alloc"
	hostModule  = "env"
	hostLogFunc = "host_log"

	defaultCallTimeout    = 5 * time.Second
	defaultMemoryPages    = 256 // 16 MiB
	defaultMaxResultBytes = 1 << 20
	maxLogBytes           = 1024
)

// SandboxOptions bounds every plugin call.
type SandboxOptions struct {
	CallTimeout      time.Duration
	MemoryLimitPages uint32
	MaxResultBytes   uint32
	Logger           *slog.Logger
}

func (o *SandboxOptions) defaults() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.MemoryLimitPages == 0 {
		o.MemoryLimitPages = defaultMemoryPages
	}
	if o.MaxResultBytes == 0 {
		o.MaxResultBytes = defaultMaxResultBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Sandbox owns the wazero runtime shared by all plugins. Modules get no
// WASI: no filesystem, network, clock, process or environment access.
// The only import offered is env.host_log.
type Sandbox struct {
	runtime wazero.Runtime
	opts    SandboxOptions
}

type pluginIDKey struct{}

// NewSandbox creates the runtime and the host module.
func NewSandbox(ctx context.Context, opts SandboxOptions) (*Sandbox, error) {
	opts.defaults()
	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(opts.MemoryLimitPages)
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	s := &Sandbox{runtime: r, opts: opts}

	_, err := r.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithFunc(s.hostLog).
		Export(hostLogFunc).
		Instantiate(ctx)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.New(errors.CodeInternal, "cannot create plugin host module", err)
	}
	return s, nil
}

func (s *Sandbox) hostLog(ctx context.Context, m api.Module, ptr, length uint32) {
	if length > maxLogBytes {
		length = maxLogBytes
	}
	data, ok := m.Memory().Read(ptr, length)
	if !ok {
		return
	}
	id, _ := ctx.Value(pluginIDKey{}).(string)
	s.opts.Logger.DebugContext(ctx, "plugin.log", slog.String("plugin_id", id), slog.String("message", string(data)))
}

// Close releases every compiled module.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// Module is a compiled, validated plugin binary.
type Module struct {
	sandbox  *Sandbox
	compiled wazero.CompiledModule
	id       string
}

// Compile validates the binary's ABI: it must export memory and
// alloc(i32) -> i32, and import nothing but env.host_log.
func (s *Sandbox) Compile(ctx context.Context, id string, wasm []byte) (*Module, error) {
	compiled, err := s.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid wasm module", err).WithContext("plugin", id)
	}
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if mod != hostModule || name != hostLogFunc {
			_ = compiled.Close(ctx)
			return nil, errors.New(errors.CodePermissionDenied, "plugin imports a forbidden host function", nil).
				WithContext("plugin", id).
				WithContext("import", mod+"."+name)
		}
	}
	if len(compiled.ImportedMemories()) > 0 {
		_ = compiled.Close(ctx)
		return nil, errors.New(errors.CodePermissionDenied, "plugin must define its own memory", nil).WithContext("plugin", id)
	}
	if len(compiled.ExportedMemories()) == 0 {
		_ = compiled.Close(ctx)
		return nil, errors.New(errors.CodeInvalidInput, "plugin does not export memory", nil).WithContext("plugin", id)
	}
	m := &Module{sandbox: s, compiled: compiled, id: id}
	if err := m.checkExport(allocExport, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	return m, nil
}

// CheckSkillExport verifies name has the fn(ptr, len) -> i64 signature.
func (m *Module) CheckSkillExport(name string) error {
	return m.checkExport(name, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64})
}

func (m *Module) checkExport(name string, params, results []api.ValueType) error {
	def, ok := m.compiled.ExportedFunctions()[name]
	if !ok {
		return errors.New(errors.CodeInvalidInput, "plugin does not export "+name, nil).WithContext("plugin", m.id)
	}
	if !sameTypes(def.ParamTypes(), params) || !sameTypes(def.ResultTypes(), results) {
		return errors.New(errors.CodeInvalidInput, "plugin export "+name+" has the wrong signature", nil).WithContext("plugin", m.id)
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Call runs export with payload in a fresh instance. The host allocates
// guest memory via alloc, writes the payload, calls export(ptr, len) and
// reads the result at (ret >> 32, ret & 0xffffffff). A trap yields a
// SANDBOX_TRAP error; exceeding the call timeout yields TIMEOUT.
func (m *Module) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	opts := m.sandbox.opts
	ctx, cancel := context.WithTimeout(context.WithValue(ctx, pluginIDKey{}, m.id), opts.CallTimeout)
	defer cancel()

	mod, err := m.sandbox.runtime.InstantiateModule(ctx, m.compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, m.fault(ctx, "instantiate", err)
	}
	defer mod.Close(context.Background())

	alloc := mod.ExportedFunction(allocExport)
	fn := mod.ExportedFunction(export)
	if alloc == nil || fn == nil {
		return nil, errors.New(errors.CodeNotFound, "plugin export not found", nil).
			WithContext("plugin", m.id).WithContext("export", export)
	}

	res, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return nil, m.fault(ctx, allocExport, err)
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, payload) {
		return nil, m.trap("alloc returned an out-of-bounds pointer", nil)
	}

	res, err = fn.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return nil, m.fault(ctx, export, err)
	}
	outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
	if outLen > opts.MaxResultBytes {
		return nil, m.trap(fmt.Sprintf("result of %d bytes exceeds limit", outLen), nil)
	}
	out, ok := mod.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, m.trap("result points outside guest memory", nil)
	}
	return append([]byte(nil), out...), nil
}

func (m *Module) fault(ctx context.Context, export string, err error) *errors.WebranaError {
	var exit *sys.ExitError
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(stderrors.As(err, &exit) && exit.ExitCode() == sys.ExitCodeDeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "plugin call timed out", err).
			WithContext("plugin", m.id).WithContext("export", export).
			WithContext("timeout", m.sandbox.opts.CallTimeout.String())
	}
	if ctx.Err() != nil {
		return errors.New(errors.CodeCancelled, "plugin call cancelled", err).WithContext("plugin", m.id)
	}
	return m.trap("plugin trapped in "+export, err)
}

func (m *Module) trap(msg string, cause error) *errors.WebranaError {
	return errors.New(errors.CodeSandboxTrap, msg, cause).WithContext("plugin", m.id)
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
