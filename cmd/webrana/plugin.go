// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/plugin"
	"github.com/webrana/webrana/pkg/skills"
)

func (c *cli) pluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage Wasm plugins",
		Long: `Plugins are directories holding a plugin.yaml manifest and a Wasm module.
They are discovered in ./.webrana/plugins, $XDG_CONFIG_HOME/webrana/plugins,
the managed data directory and /usr/share/webrana/plugins, in that order.
A plugin whose declared permissions exceed plugins.grants is refused at load.`,
	}
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.pluginList(asJSON)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(
		list,
		&cobra.Command{
			Use:   "install <path>",
			Short: "Copy a plugin directory into the managed plugin directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.pluginChange(cmd.Context(), "install", args[0], func(m *plugin.Manager) (string, error) {
					manifest, err := m.Install(args[0])
					if err != nil {
						return "", err
					}
					return manifest.String(), nil
				})
			},
		},
		&cobra.Command{
			Use:   "uninstall <id>",
			Short: "Remove a managed plugin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.pluginChange(cmd.Context(), "uninstall", args[0], func(m *plugin.Manager) (string, error) {
					return args[0], m.Uninstall(args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "enable <id>",
			Short: "Enable a plugin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.pluginChange(cmd.Context(), "enable", args[0], func(m *plugin.Manager) (string, error) {
					return args[0], m.Enable(args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "disable <id>",
			Short: "Disable a plugin; disabled plugins are not loaded",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.pluginChange(cmd.Context(), "disable", args[0], func(m *plugin.Manager) (string, error) {
					return args[0], m.Disable(args[0])
				})
			},
		},
	)
	return cmd
}

type pluginRow struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Enabled     bool     `json:"enabled"`
	Managed     bool     `json:"managed"`
	Dir         string   `json:"dir"`
	Declared    string   `json:"declared"`
	Granted     string   `json:"granted"`
	Loadable    bool     `json:"loadable"`
	Skills      []string `json:"skills"`
	Description string   `json:"description,omitempty"`
}

func (c *cli) pluginList(asJSON bool) error {
	pcfg := c.cfg.Plugins
	state, err := plugin.NewManager(pcfg.DataDir, pcfg.StateFile)
	if err != nil {
		return err
	}
	found, notices := plugin.Discover(pcfg.Dirs)
	rows := make([]pluginRow, 0, len(found))
	for _, d := range found {
		m := d.Manifest
		granted, _ := skills.ParsePermissions(pcfg.GrantsFor(m.ID))
		row := pluginRow{
			ID:          m.ID,
			Version:     m.Version,
			Enabled:     state.IsEnabled(m.ID),
			Dir:         d.Dir,
			Declared:    m.Declared().String(),
			Granted:     granted.String(),
			Loadable:    len(granted.Missing(m.Declared())) == 0,
			Description: m.Description,
		}
		if inst, ok := state.Get(m.ID); ok {
			row.Managed = inst.Managed
		}
		for _, s := range m.Skills {
			row.Skills = append(row.Skills, s.Name)
		}
		rows = append(rows, row)
	}

	if asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"plugins": rows, "notices": notices})
	}
	if len(rows) == 0 {
		fmt.Fprintf(c.out, "No plugins found in %s\n", strings.Join(pcfg.Dirs, ", "))
	} else {
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVERSION\tSTATUS\tPERMISSIONS\tSKILLS\tDIR")
		for _, r := range rows {
			status := "enabled"
			switch {
			case !r.Enabled:
				status = "disabled"
			case !r.Loadable:
				status = "refused (grants " + r.Granted + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Version, status, r.Declared, strings.Join(r.Skills, ","), r.Dir)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	for _, n := range notices {
		fmt.Fprintf(c.errOut, "warning: %s: %s\n", n.Dir, n.Message)
	}
	return nil
}

// pluginChange applies fn to the plugin state and records a config_change
// audit event.
func (c *cli) pluginChange(ctx context.Context, op, target string, fn func(*plugin.Manager) (string, error)) error {
	pcfg := c.cfg.Plugins
	state, err := plugin.NewManager(pcfg.DataDir, pcfg.StateFile)
	if err != nil {
		return err
	}
	subject, err := fn(state)
	if err != nil {
		return err
	}
	c.recordConfigChange(ctx, map[string]any{"plugin_op": op, "plugin": subject, "target": target})
	fmt.Fprintf(c.out, "%s: %s\n", op, subject)
	return nil
}

func (c *cli) recordConfigChange(ctx context.Context, detail map[string]any) {
	c.recordEvent(ctx, audit.Event{Actor: "user", Action: audit.ActionConfigChange, Detail: detail})
}
