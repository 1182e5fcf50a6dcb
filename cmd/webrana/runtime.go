// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/webrana/webrana/pkg/agent"
	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/guardrails"
	"github.com/webrana/webrana/pkg/llm"
	"github.com/webrana/webrana/pkg/llm/anthropic"
	"github.com/webrana/webrana/pkg/llm/openai"
	"github.com/webrana/webrana/pkg/plugin"
	"github.com/webrana/webrana/pkg/ratelimit"
	"github.com/webrana/webrana/pkg/safety"
	"github.com/webrana/webrana/pkg/skills"
	"github.com/webrana/webrana/pkg/telemetry"
)

// runtime is the wired process: audit log, skill registry with plugins,
// and the safety gate in front of it. It is built once per command.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	audit    *audit.Logger
	metrics  *telemetry.Metrics
	gate     *safety.Gate
	loader   *plugin.Loader
	sandbox  *plugin.Sandbox
	notices  []plugin.Notice
	shutdown telemetry.ShutdownFunc
}

// newRuntime wires everything below the orchestrator. hook is the
// interactive confirmation channel; nil means none.
func (c *cli) newRuntime(ctx context.Context, hook governance.ApprovalHook) (_ *runtime, err error) {
	cfg := c.cfg
	rt := &runtime{cfg: cfg, logger: c.logger}
	defer func() {
		if err != nil {
			rt.close(ctx)
		}
	}()

	rt.shutdown, err = telemetry.InitWithConfig("webrana", version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
		Output:             c.errOut,
	})
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to initialize telemetry", err)
	}
	rt.metrics, err = telemetry.NewMetrics()
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create metrics", err)
	}

	store, err := audit.Open(cfg.Audit)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to open audit log", err).
			WithContext("backend", cfg.Audit.Backend).
			WithContext("path", cfg.Audit.Path)
	}
	rt.audit, err = audit.NewLogger(ctx, store, audit.WithSlog(c.logger))
	if err != nil {
		_ = store.Close()
		return nil, errors.New(errors.CodeConfig, "failed to resume audit log", err)
	}

	sanitizer, err := safety.NewSanitizer(cfg.Safety)
	if err != nil {
		return nil, err
	}
	grants, err := skills.ParsePermissions(cfg.Safety.HostGrants)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "invalid safety.host_grants", err)
	}
	descs := skills.Builtins(skills.BuiltinOptions{
		Root:           sanitizer.Root(),
		Grants:         grants,
		MaxFileSize:    cfg.Safety.MaxFileSize,
		MaxOutputBytes: cfg.Safety.MaxOutputBytes,
		CommandTimeout: cfg.Safety.CommandTimeout,
		Redact:         guardrails.Redact,
		Sensitive:      sanitizer.IsSensitive,
	})

	builtinNames := make([]string, 0, len(descs))
	for _, d := range descs {
		builtinNames = append(builtinNames, d.Name)
	}
	pluginDescs, err := rt.loadPlugins(ctx, sanitizer.Root(), builtinNames)
	if err != nil {
		return nil, err
	}
	registry, err := skills.NewRegistry(append(descs, pluginDescs...)...)
	if err != nil {
		return nil, NewConfigError(err, c.configPath)
	}

	opts := []safety.GateOption{
		safety.WithAuditLogger(rt.audit),
		safety.WithPolicy(governance.NewConfirmationPolicy(cfg.Safety)),
		safety.WithLimiter(ratelimit.New(ratelimit.LimitsFromConfig(cfg.RateLimit))),
		safety.WithMetrics(rt.metrics),
		safety.WithLogger(c.logger),
	}
	if hook != nil {
		opts = append(opts, safety.WithApprovalHook(hook))
	}
	rt.gate, err = safety.NewGate(registry, sanitizer, opts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) loadPlugins(ctx context.Context, root string, builtins []string) ([]skills.Descriptor, error) {
	pcfg := rt.cfg.Plugins
	if !pcfg.Enabled {
		return nil, nil
	}
	sandbox, err := plugin.NewSandbox(ctx, plugin.SandboxOptions{
		CallTimeout:      pcfg.CallTimeout,
		MemoryLimitPages: pcfg.MemoryLimitPages,
		Logger:           rt.logger,
	})
	if err != nil {
		return nil, err
	}
	rt.sandbox = sandbox
	state, err := plugin.NewManager(pcfg.DataDir, pcfg.StateFile)
	if err != nil {
		return nil, err
	}
	rt.loader = plugin.NewLoader(pcfg, sandbox, state,
		plugin.WithAudit(rt.audit),
		plugin.WithLoaderLogger(rt.logger),
		plugin.WithLoaderMetrics(rt.metrics),
		plugin.WithWorkingRoot(root),
		plugin.WithReservedNames(builtins...),
	)
	descs, notices, err := rt.loader.Load(ctx)
	rt.notices = notices
	for _, n := range notices {
		rt.logger.Warn("plugin.skipped",
			slog.String("plugin_id", n.ID),
			slog.String("dir", n.Dir),
			slog.String("reason", n.Message),
		)
	}
	return descs, err
}

func (rt *runtime) close(ctx context.Context) {
	if rt.loader != nil {
		_ = rt.loader.Close(ctx)
	}
	if rt.sandbox != nil {
		_ = rt.sandbox.Close(ctx)
	}
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			rt.logger.Warn("audit.close_failed", slog.String("error", err.Error()))
		}
	}
	if rt.shutdown != nil {
		_ = rt.shutdown(context.WithoutCancel(ctx))
	}
}

// newAgent builds the orchestrator on top of rt.
func (c *cli) newAgent(rt *runtime, provider llm.StreamingProvider, extra ...agent.Option) (*agent.Agent, error) {
	cfg := rt.cfg
	opts := agent.FromConfig(cfg.Agent, cfg.LLM)
	instructions, err := governance.LoadInstructions(cfg.Safety.WorkingRoot, cfg.Safety.WorkingRoot)
	if err != nil {
		rt.logger.Warn("instructions.load_failed", slog.String("error", err.Error()))
	}
	opts = append(opts,
		agent.WithInstructions(instructions),
		agent.WithGuardrails(guardrails.Default()),
		agent.WithAuditLogger(rt.audit),
		agent.WithMetrics(rt.metrics),
		agent.WithLogger(rt.logger),
		agent.WithTextHandler(func(s string) { fmt.Fprint(c.out, s) }),
		agent.WithToolResultHandler(c.printToolResult),
	)
	return agent.New(provider, rt.gate, append(opts, extra...)...)
}

func (c *cli) printToolResult(res safety.Result) {
	switch res.Status {
	case safety.StatusSuccess:
		fmt.Fprintf(c.errOut, "  [%s] ok (%s, %s)\n", res.Skill, res.Risk, res.Decision)
	default:
		fmt.Fprintf(c.errOut, "  [%s] %s\n", res.Skill, res.Content())
	}
}

// newProvider builds the streaming provider named by llm.provider.
func (c *cli) newProvider(cfg config.LLMConfig, creds *config.Credentials) (llm.StreamingProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		key := config.ResolveAPIKey(cfg, creds)
		if key == "" {
			return nil, NewMissingKeyError(cfg.Provider, envNameFor(cfg))
		}
		opts := []anthropic.Option{anthropic.WithAPIKey(key), anthropic.WithModel(cfg.Model)}
		if cfg.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(int64(cfg.MaxTokens)))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...), nil
	case "openai":
		key := config.ResolveAPIKey(cfg, creds)
		if key == "" {
			return nil, NewMissingKeyError(cfg.Provider, envNameFor(cfg))
		}
		opts := []openai.Option{openai.WithAPIKey(key), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...), nil
	case "ollama":
		return llm.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "mock":
		return &llm.MockProvider{Response: "mock provider: no model configured. " + agent.CompletionMarker}, nil
	default:
		return nil, errors.New(errors.CodeConfig, "unknown llm provider", nil).WithContext("provider", cfg.Provider)
	}
}

func envNameFor(cfg config.LLMConfig) string {
	if cfg.APIKeyEnv != "" {
		return cfg.APIKeyEnv
	}
	switch cfg.Provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	}
	return ""
}

// provider resolves credentials and builds the configured provider,
// unless a test injected one.
func (c *cli) provider() (llm.StreamingProvider, error) {
	if c.providerOverride != nil {
		return c.providerOverride, nil
	}
	creds, err := config.LoadCredentials(c.credentialsPath())
	if err != nil {
		return nil, NewConfigError(err, c.credentialsPath())
	}
	c.logger.Debug("cli.credentials", slog.Any("providers", creds))
	return c.newProvider(c.cfg.LLM, creds)
}

func (c *cli) credentialsPath() string {
	if c.credsPath != "" {
		return c.credsPath
	}
	return config.DefaultCredentialsPath()
}
