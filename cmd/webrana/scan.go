// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/guardrails"
)

type scanOptions struct {
	dir           string
	failOnSecrets bool
	format        string
	ignore        []string
	maxSize       int64
}

func (c *cli) scanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a directory for leaked secrets",
		Long: `Scan walks a directory and reports API keys, tokens, private keys and
credential assignments. Previews are redacted. Exit code 3 with
--fail-on-secrets means at least one secret was found.

Examples:
  webrana scan
  webrana scan --dir ./services --fail-on-secrets --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.scan(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.dir, "dir", "d", ".", "directory to scan")
	flags.BoolVar(&opts.failOnSecrets, "fail-on-secrets", false, "exit with code 3 when secrets are found")
	flags.StringVarP(&opts.format, "format", "f", "table", "output format (table, json)")
	flags.StringSliceVar(&opts.ignore, "ignore", nil, "additional directory names to skip")
	flags.Int64Var(&opts.maxSize, "max-size", guardrails.DefaultMaxScanSize, "skip files larger than this many bytes")
	return cmd
}

func (c *cli) scan(ctx context.Context, opts scanOptions) error {
	if opts.format != "table" && opts.format != "json" {
		return NewUsageError("--format must be table or json")
	}
	scanner := guardrails.NewScanner(
		guardrails.WithIgnoreDirs(opts.ignore...),
		guardrails.WithMaxScanSize(opts.maxSize),
		guardrails.WithScannerLogger(c.logger),
	)
	report, err := scanner.ScanDir(ctx, opts.dir)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "cannot scan directory", err).WithContext("dir", opts.dir)
	}

	if opts.format == "json" {
		err = guardrails.WriteJSON(c.out, report)
	} else {
		err = guardrails.WriteTable(c.out, report)
	}
	if err != nil {
		return err
	}

	if report.HasSecrets() {
		c.recordSecrets(ctx, report)
		if opts.failOnSecrets {
			return NewSecretsFoundError(len(report.Findings))
		}
	}
	return nil
}

// recordSecrets writes one secret_detected audit event per scan.
func (c *cli) recordSecrets(ctx context.Context, report *guardrails.ScanReport) {
	counts := report.CountBySeverity()
	c.recordEvent(ctx, audit.Event{
		Actor:  "user",
		Action: audit.ActionSecretDetected,
		Detail: map[string]any{
			"source":   "scan",
			"root":     report.Root,
			"findings": len(report.Findings),
			"critical": counts[guardrails.SeverityCritical],
			"high":     counts[guardrails.SeverityHigh],
			"medium":   counts[guardrails.SeverityMedium],
		},
	})
}
