// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the webrana CLI.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/guardrails"
	"github.com/webrana/webrana/pkg/llm"
	"github.com/webrana/webrana/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries the process streams and the global flags shared by every
// command.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	sets       []string
	logLevel   string
	jsonErrors bool

	cfg    *config.Config
	logger *slog.Logger

	// Test seams; nil in production.
	providerOverride llm.StreamingProvider
	hookOverride     governance.ApprovalHook
	credsPath        string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	c := &cli{in: in, out: out, errOut: errOut}
	return c.execute(ctx, args)
}

func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	ce := toCLIError(err)
	ce.PrintError(c.errOut, c.jsonErrors)
	return ce.ExitCode
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webrana",
		Short: "Autonomous coding agent with a safety gate in front of every tool call",
		Long: `webrana drives a language model through an explicit loop of model turns
and tool calls. Every tool call passes the safety gate (sanitizer, permission
check, risk classification, rate limit, confirmation) and is written to a
tamper-evident audit log.

Commands:
  chat      Interactive conversation, or one message when given as an argument
  run       Autonomous task execution with an iteration budget
  plugin    Manage Wasm plugins
  scan      Scan a directory for leaked secrets
  skills    List registered skills
  mcp       Serve the gated skills over the Model Context Protocol
  audit     Verify and replay the audit log
  config    Inspect and initialize configuration`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return NewUsageError(err.Error())
	})

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/webrana/config.yaml)")
	flags.StringArrayVar(&c.sets, "set", nil, "override a config key (key=value, repeatable)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&c.jsonErrors, "json-errors", false, "print errors as JSON")

	root.AddCommand(
		c.chatCmd(),
		c.runCmd(),
		c.pluginCmd(),
		c.scanCmd(),
		c.skillsCmd(),
		c.mcpCmd(),
		c.auditCmd(),
		c.configCmd(),
	)
	return root
}

// setup loads the configuration and installs the process logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	overrides, err := config.ParseOverrides(c.sets)
	if err != nil {
		return NewUsageError(err.Error())
	}
	cfg, err := config.Load(c.configPath, overrides)
	if err != nil {
		return NewConfigError(err, c.configPath)
	}
	c.cfg = cfg

	level := cfg.Log.Level
	if c.logLevel != "" {
		level = c.logLevel
	}
	c.logger = telemetry.ConfigureSlog(c.errOut, level, c.logFormat(cfg.Log.Format),
		telemetry.WithRedactor(guardrails.Redact))
	c.logger.Debug("cli.config.loaded",
		slog.String("command", cmd.CommandPath()),
		slog.String("path", cfg.Path),
		slog.String("provider", cfg.LLM.Provider),
		slog.String("working_root", cfg.Safety.WorkingRoot),
	)
	return nil
}

// logFormat resolves "auto": text for a terminal, json otherwise.
func (c *cli) logFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "" && format != "auto" {
		return format
	}
	if f, ok := c.errOut.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

// stdinFile returns the process stdin when the CLI reads from it.
func (c *cli) stdinFile() *os.File {
	f, _ := c.in.(*os.File)
	return f
}
