// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/mcp"
)

func (c *cli) skillsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List registered skills with risk, class, capabilities and source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			descs := rt.gate.Registry().List()
			if asJSON {
				type row struct {
					Name     string `json:"name"`
					Risk     string `json:"risk"`
					Class    string `json:"class"`
					Requires string `json:"requires"`
					Source   string `json:"source"`
					Plugin   string `json:"plugin,omitempty"`
				}
				rows := make([]row, 0, len(descs))
				for _, d := range descs {
					rows = append(rows, row{d.Name, d.Risk.String(), string(d.Class), d.Requires.String(), string(d.Source), d.PluginID})
				}
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tRISK\tCLASS\tREQUIRES\tSOURCE")
			for _, d := range descs {
				source := string(d.Source)
				if d.PluginID != "" {
					source += ":" + d.PluginID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Risk, d.Class, d.Requires, source)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c *cli) mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol server",
	}
	var allow, deny []string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gated skills over MCP on stdio",
		Long: `Serve exposes the skill registry to an MCP client over stdin/stdout. Every
call goes through the safety gate without an interactive channel: calls that
need confirmation are denied, so Critical calls always fail and High calls
fail unless safety.auto_mode is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := c.newRuntime(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			filter := governance.NewToolFilter(governance.WithAllowlist(allow), governance.WithDenylist(deny))
			srv, err := mcp.NewServer("webrana", version, rt.gate, mcp.WithToolFilter(filter), mcp.WithLogger(rt.logger))
			if err != nil {
				return err
			}
			rt.logger.Info("mcp.serve",
				slog.String("run_id", srv.RunID()),
				slog.String("tools", strings.Join(srv.Tools(), ",")),
			)
			return srv.Listen(ctx, c.in, c.out)
		},
	}
	serve.Flags().StringSliceVar(&allow, "allow", nil, "only expose skills matching these glob patterns")
	serve.Flags().StringSliceVar(&deny, "deny", nil, "never expose skills matching these glob patterns")
	cmd.AddCommand(serve)
	return cmd
}
