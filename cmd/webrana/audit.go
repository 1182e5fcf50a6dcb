// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/errors"
)

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify and replay the audit log",
	}

	var anchor string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Re-walk the hash chain of the configured audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := c.auditEvents(cmd.Context(), audit.Filter{})
			if err != nil {
				return err
			}
			if err := audit.Verify(events, anchor); err != nil {
				return errors.New(errors.CodeInternal, "audit chain verification failed", err).
					WithContext("path", c.cfg.Audit.Path)
			}
			fmt.Fprintf(c.out, "ok: %d events, chain intact (%s)\n", len(events), c.cfg.Audit.Path)
			return nil
		},
	}
	verify.Flags().StringVar(&anchor, "anchor", "", "expected prev_hash of the first event")

	var runID string
	var asJSON bool
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct the ordered gate decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := c.auditEvents(cmd.Context(), audit.Filter{RunID: runID})
			if err != nil {
				return err
			}
			return c.printDecisions(audit.Replay(events), asJSON)
		},
	}
	replay.Flags().StringVar(&runID, "run", "", "only this run id")
	replay.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(verify, replay)
	return cmd
}

func (c *cli) auditEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	store, err := audit.Open(c.cfg.Audit)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to open audit log", err).WithContext("path", c.cfg.Audit.Path)
	}
	defer store.Close()
	return store.List(ctx, filter)
}

func (c *cli) printDecisions(records []audit.DecisionRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRUN\tCALL\tSKILL\tRISK\tDECISION\tREASON\tOUTCOME")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Sequence, r.RunID, r.CallID, r.Skill, r.Risk, r.Decision, dash(r.ReasonClass), dash(string(r.Outcome)))
	}
	return tw.Flush()
}

// recordEvent appends ev to the configured audit log outside of a run.
func (c *cli) recordEvent(ctx context.Context, ev audit.Event) {
	store, err := audit.Open(c.cfg.Audit)
	if err != nil {
		c.logger.Warn("audit.open_failed", slog.String("error", err.Error()))
		return
	}
	logger, err := audit.NewLogger(ctx, store)
	if err != nil {
		_ = store.Close()
		c.logger.Warn("audit.open_failed", slog.String("error", err.Error()))
		return
	}
	defer logger.Close()
	if _, err := logger.Log(ctx, ev); err != nil {
		c.logger.Warn("audit.record_failed", slog.String("action", string(ev.Action)), slog.String("error", err.Error()))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
