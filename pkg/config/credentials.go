// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/webrana/webrana/pkg/errors"
)

// CredentialsFile is the file name under ConfigDir.
const CredentialsFile = "credentials.yaml"

// Credentials holds provider API keys read from credentials.yaml:
//
//	providers:
//	  anthropic:
//	    api_key: sk-ant-...
type Credentials struct {
	Providers map[string]ProviderCredential `koanf:"providers"`
	path      string
}

type ProviderCredential struct {
	APIKey string `koanf:"api_key"`
}

var defaultKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// DefaultCredentialsPath returns ConfigDir()/credentials.yaml.
func DefaultCredentialsPath() string {
	return filepath.Join(ConfigDir(), CredentialsFile)
}

// LoadCredentials reads path. A missing file yields empty credentials.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{Providers: map[string]ProviderCredential{}, path: path}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return creds, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to stat credentials file", err).WithContext("path", path)
	}
	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("credentials file is readable by other users", "path", path, "mode", info.Mode().Perm().String())
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to read credentials file", err).WithContext("path", path)
	}
	if err := k.Unmarshal("", creds); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to decode credentials file", err).WithContext("path", path)
	}
	if creds.Providers == nil {
		creds.Providers = map[string]ProviderCredential{}
	}
	return creds, nil
}

// APIKey returns the stored key for provider, if any.
func (c *Credentials) APIKey(provider string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Providers[provider].APIKey)
}

// SetAPIKey records a key in memory; call Save to persist it.
func (c *Credentials) SetAPIKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = map[string]ProviderCredential{}
	}
	c.Providers[provider] = ProviderCredential{APIKey: strings.TrimSpace(key)}
}

// Save writes the credentials with mode 0600.
func (c *Credentials) Save() error {
	if c.path == "" {
		c.path = DefaultCredentialsPath()
	}
	providers := make(map[string]interface{}, len(c.Providers))
	for name, pc := range c.Providers {
		providers[name] = map[string]interface{}{"api_key": pc.APIKey}
	}
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]interface{}{"providers": providers}, ""), nil); err != nil {
		return errors.New(errors.CodeConfig, "failed to encode credentials", err)
	}
	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return errors.New(errors.CodeConfig, "failed to encode credentials", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return errors.New(errors.CodeConfig, "failed to create config dir", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.New(errors.CodeConfig, "failed to write credentials file", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.New(errors.CodeConfig, "failed to write credentials file", err)
	}
	return os.Chmod(c.path, 0o600)
}

// LogValue implements slog.LogValuer; keys are never logged.
func (c *Credentials) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make([]slog.Attr, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, slog.String(name, "[REDACTED]"))
	}
	return slog.GroupValue(attrs...)
}

// ResolveAPIKey picks the key for the configured provider: the credentials
// file first, then llm.api_key_env, then the provider's conventional
// environment variable.
func ResolveAPIKey(cfg LLMConfig, creds *Credentials) string {
	if key := creds.APIKey(cfg.Provider); key != "" {
		return key
	}
	envName := cfg.APIKeyEnv
	if envName == "" {
		envName = defaultKeyEnv[cfg.Provider]
	}
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}
