// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the runtime configuration from defaults, a YAML
// file, WEBRANA_* environment variables and command-line overrides, in
// that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/webrana/webrana/pkg/errors"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "WEBRANA_"

type Config struct {
	Log       LogConfig                  `koanf:"log"`
	Telemetry TelemetryConfig            `koanf:"telemetry"`
	LLM       LLMConfig                  `koanf:"llm"`
	Agent     AgentConfig                `koanf:"agent"`
	Safety    SafetyConfig               `koanf:"safety"`
	RateLimit map[string]RateLimitConfig `koanf:"ratelimit"`
	Plugins   PluginsConfig              `koanf:"plugins"`
	Audit     AuditConfig                `koanf:"audit"`

	// Path is the file the configuration was read from, if any.
	Path string `koanf:"-"`

	raw map[string]interface{}
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // auto, json, text
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // anthropic, openai, ollama
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKeyEnv   string  `koanf:"api_key_env"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

type AgentConfig struct {
	MaxIterations int           `koanf:"max_iterations"`
	SystemPrompt  string        `koanf:"system_prompt"`
	ProviderRetry RetryConfig   `koanf:"provider_retry"`
	TurnTimeout   time.Duration `koanf:"turn_timeout"`
}

type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

type SafetyConfig struct {
	WorkingRoot     string        `koanf:"working_root"`
	AutoMode        bool          `koanf:"auto_mode"`
	ConfirmMedium   bool          `koanf:"confirm_medium"`
	HostGrants      []string      `koanf:"host_grants"`
	AllowedCommands []string      `koanf:"allowed_commands"`
	BlockedPatterns []string      `koanf:"blocked_patterns"`
	ConfirmPatterns []string      `koanf:"confirm_patterns"`
	SensitivePaths  []string      `koanf:"sensitive_paths"`
	MaxFileSize     int64         `koanf:"max_file_size"`
	MaxOutputBytes  int           `koanf:"max_output_bytes"`
	CommandTimeout  time.Duration `koanf:"command_timeout"`
}

// RateLimitConfig describes one operation class bucket. Capacity is
// Requests + Burst; tokens refill at Requests per Window.
type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

// Capacity returns the bucket size.
func (r RateLimitConfig) Capacity() int {
	return r.Requests + r.Burst
}

type PluginsConfig struct {
	Enabled          bool                `koanf:"enabled"`
	Dirs             []string            `koanf:"dirs"`
	DataDir          string              `koanf:"data_dir"`
	StateFile        string              `koanf:"state_file"`
	Grants           map[string][]string `koanf:"grants"`
	DefaultGrants    []string            `koanf:"default_grants"`
	CallTimeout      time.Duration       `koanf:"call_timeout"`
	MemoryLimitPages uint32              `koanf:"memory_limit_pages"`
}

// GrantsFor returns the capabilities the host grants to plugin id.
func (p PluginsConfig) GrantsFor(id string) []string {
	if g, ok := p.Grants[id]; ok {
		return g
	}
	return p.DefaultGrants
}

type AuditConfig struct {
	Backend         string `koanf:"backend"` // memory, jsonl, sqlite
	Path            string `koanf:"path"`
	MaxSizeMB       int    `koanf:"max_size_mb"`
	CompressRotated bool   `koanf:"compress_rotated"`
}

// Defaults returns the built-in configuration as a nested map.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":                          "info",
		"log.format":                         "auto",
		"telemetry.exporter":                 "none",
		"telemetry.otlp_timeout_seconds":     10,
		"llm.provider":                       "anthropic",
		"llm.model":                          "claude-sonnet-4-20250514",
		"llm.max_tokens":                     4096,
		"llm.temperature":                    0.0,
		"agent.max_iterations":               10,
		"agent.provider_retry.max_attempts":  3,
		"agent.provider_retry.initial_delay": "500ms",
		"agent.provider_retry.max_delay":     "8s",
		"agent.turn_timeout":                 "5m",
		"safety.working_root":                ".",
		"safety.auto_mode":                   false,
		"safety.confirm_medium":              false,
		"safety.host_grants": []string{
			"fs:read", "fs:write", "shell:execute", "git:access", "env:read", "net:request", "llm:access",
		},
		"safety.max_file_size":       10 * 1024 * 1024,
		"safety.max_output_bytes":    64 * 1024,
		"safety.command_timeout":     "60s",
		"ratelimit.llm":              rate(20, "60s", 5),
		"ratelimit.shell":            rate(30, "60s", 10),
		"ratelimit.file_write":       rate(200, "60s", 50),
		"ratelimit.file_read":        rate(200, "60s", 50),
		"ratelimit.git":              rate(100, "60s", 20),
		"ratelimit.plugin":           rate(100, "60s", 20),
		"plugins.enabled":            true,
		"plugins.state_file":         "plugins.yaml",
		"plugins.default_grants":     []string{"fs:read"},
		"plugins.call_timeout":       "5s",
		"plugins.memory_limit_pages": 256,
		"audit.backend":              "jsonl",
		"audit.max_size_mb":          10,
		"audit.compress_rotated":     true,
	}
}

func rate(requests int, window string, burst int) map[string]interface{} {
	return map[string]interface{}{"requests": requests, "window": window, "burst": burst}
}

// Load reads configuration from path (or the default config file when
// path is empty and one exists), then the environment, then overrides.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to load defaults", err)
	}

	if path == "" {
		if candidate := filepath.Join(ConfigDir(), "config.yaml"); fileExists(candidate) {
			path = candidate
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfig, "failed to read config file", err).
				WithContext("path", path)
		}
	}

	// WEBRANA_AGENT_MAX_ITERATIONS -> agent.max_iterations
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to read environment", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, errors.New(errors.CodeConfig, "failed to apply overrides", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to decode config", err)
	}
	cfg.Path = path
	cfg.raw = k.Raw()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps the section separator only; the remainder keeps its
// underscores so multi-word keys stay addressable.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// ParseOverrides turns "key=value" pairs into a flat override map. Values
// that parse as JSON (numbers, booleans, lists, objects) keep their type.
func ParseOverrides(sets []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(sets))
	for _, set := range sets {
		key, value, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New(errors.CodeInvalidInput, "override must be key=value", nil).
				WithContext("override", set)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func (c *Config) normalize() error {
	root := c.Safety.WorkingRoot
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.New(errors.CodeConfig, "invalid working root", err).WithContext("working_root", root)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	c.Safety.WorkingRoot = abs

	if c.Plugins.DataDir == "" {
		c.Plugins.DataDir = filepath.Join(DataDir(), "plugins")
	}
	if c.Plugins.StateFile != "" && !filepath.IsAbs(c.Plugins.StateFile) {
		c.Plugins.StateFile = filepath.Join(ConfigDir(), c.Plugins.StateFile)
	}
	if len(c.Plugins.Dirs) == 0 {
		c.Plugins.Dirs = DefaultPluginDirs(c.Plugins.DataDir)
	}
	if c.Audit.Path == "" {
		switch c.Audit.Backend {
		case "sqlite":
			c.Audit.Path = filepath.Join(DataDir(), "audit.db")
		case "jsonl":
			c.Audit.Path = filepath.Join(DataDir(), "audit.jsonl")
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(key string, value interface{}, msg string) error {
		return errors.New(errors.CodeConfig, msg, nil).WithContext("key", key).WithContext("value", value)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama", "mock":
	default:
		return invalid("llm.provider", c.LLM.Provider, "unknown llm provider")
	}
	if c.Agent.MaxIterations < 1 {
		return invalid("agent.max_iterations", c.Agent.MaxIterations, "max iterations must be at least 1")
	}
	if c.Agent.ProviderRetry.MaxAttempts < 1 {
		return invalid("agent.provider_retry.max_attempts", c.Agent.ProviderRetry.MaxAttempts, "retry attempts must be at least 1")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return invalid("telemetry.exporter", c.Telemetry.Exporter, "unknown telemetry exporter")
	}
	switch c.Audit.Backend {
	case "memory", "jsonl", "sqlite":
	default:
		return invalid("audit.backend", c.Audit.Backend, "unknown audit backend")
	}
	for class, rl := range c.RateLimit {
		if rl.Capacity() < 1 || rl.Window <= 0 {
			return invalid("ratelimit."+class, rl, "rate limit needs positive capacity and window")
		}
	}
	if c.Plugins.CallTimeout <= 0 {
		return invalid("plugins.call_timeout", c.Plugins.CallTimeout, "plugin call timeout must be positive")
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	if c.raw == nil {
		return yaml.Parser().Marshal(unflatten(Defaults()))
	}
	return yaml.Parser().Marshal(c.raw)
}

// DefaultYAML renders the built-in defaults, for `config init`.
func DefaultYAML() ([]byte, error) {
	return yaml.Parser().Marshal(unflatten(Defaults()))
}

func unflatten(flat map[string]interface{}) map[string]interface{} {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(flat, "."), nil)
	return k.Raw()
}

// ConfigDir is $XDG_CONFIG_HOME/webrana, falling back to ~/.config/webrana.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "webrana")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "webrana")
	}
	return ".webrana"
}

// DataDir is $XDG_DATA_HOME/webrana, falling back to ~/.local/share/webrana.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "webrana")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "webrana")
	}
	return ".webrana"
}

// DefaultPluginDirs lists plugin search directories, highest priority first.
func DefaultPluginDirs(managed string) []string {
	return []string{
		filepath.Join(".webrana", "plugins"),
		filepath.Join(ConfigDir(), "plugins"),
		managed,
		"/usr/share/webrana/plugins",
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// String implements fmt.Stringer for diagnostics.
func (r RateLimitConfig) String() string {
	return fmt.Sprintf("%d+%d/%s", r.Requests, r.Burst, r.Window)
}
