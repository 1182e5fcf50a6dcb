// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/errors"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
		Long: `Configuration is read from defaults, the YAML config file, WEBRANA_*
environment variables (WEBRANA_LLM_PROVIDER sets llm.provider) and --set
overrides, in increasing order of precedence. API keys live in
credentials.yaml (mode 0600) next to the config file.`,
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.configPath
			if path == "" {
				path = filepath.Join(config.ConfigDir(), "config.yaml")
			}
			if _, err := os.Stat(path); err == nil && !force {
				return NewCLIError(errors.New(errors.CodeInvalidInput, "config file already exists", nil).WithContext("path", path),
					"use --force to overwrite", exitError)
			}
			data, err := config.DefaultYAML()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return errors.New(errors.CodeConfig, "failed to create config dir", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return errors.New(errors.CodeConfig, "failed to write config file", err)
			}
			c.recordConfigChange(cmd.Context(), map[string]any{"config_op": "init", "path": path})
			fmt.Fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := c.cfg.YAML()
			if err != nil {
				return err
			}
			if c.cfg.Path != "" {
				fmt.Fprintf(c.out, "# %s\n", c.cfg.Path)
			}
			_, err = c.out.Write(data)
			return err
		},
	}

	setKey := &cobra.Command{
		Use:   "set-key <provider>",
		Short: "Store a provider API key in credentials.yaml",
		Long: `set-key reads the key from the terminal without echo, or from the first
line of stdin when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.TrimSpace(args[0])
			switch provider {
			case "anthropic", "openai":
			default:
				return NewUsageError("set-key supports anthropic and openai")
			}
			key, err := c.readSecret("API key for " + provider + ": ")
			if err != nil {
				return err
			}
			if key == "" {
				return NewUsageError("empty API key")
			}
			creds, err := config.LoadCredentials(c.credentialsPath())
			if err != nil {
				return NewConfigError(err, c.credentialsPath())
			}
			creds.SetAPIKey(provider, key)
			if err := creds.Save(); err != nil {
				return err
			}
			c.recordEvent(cmd.Context(), audit.Event{
				Actor:  "user",
				Action: audit.ActionConfigChange,
				Detail: map[string]any{"config_op": "set-key", "provider": provider},
			})
			fmt.Fprintf(c.out, "stored %s key in %s\n", provider, c.credentialsPath())
			return nil
		},
	}

	cmd.AddCommand(initCmd, show, setKey)
	return cmd
}

func (c *cli) readSecret(prompt string) (string, error) {
	if f := c.stdinFile(); f != nil && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.errOut, prompt)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.errOut)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return "", NewUsageError("no API key on stdin")
	}
	return strings.TrimSpace(line), nil
}
