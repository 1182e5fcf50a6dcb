// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webrana/webrana/pkg/agent"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/governance"
)

func (c *cli) runCmd() *cobra.Command {
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task autonomously until it completes or the iteration budget is spent",
		Long: `Run sends the task to the model and executes the tool calls it requests
until the model answers without tool calls or the iteration budget is spent.
The model is told to finish with ` + agent.CompletionMarker + `.

Exit code 4 means the run was truncated by --max-iterations.

Examples:
  webrana run "add a unit test for parseConfig"
  webrana run --max-iterations 25 "upgrade the logging library"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxIterations < 0 {
				return NewUsageError("--max-iterations must be positive")
			}
			return c.runTask(cmd.Context(), strings.Join(args, " "), maxIterations)
		},
	}
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "iteration budget (default: agent.max_iterations)")
	return cmd
}

func (c *cli) runTask(ctx context.Context, task string, maxIterations int) error {
	rt, err := c.newRuntime(ctx, c.approvalHook())
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	provider, err := c.provider()
	if err != nil {
		return err
	}
	opts := []agent.Option{agent.WithCompletionMarker(agent.CompletionMarker)}
	if maxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(maxIterations))
	}
	a, err := c.newAgent(rt, provider, opts...)
	if err != nil {
		return err
	}

	out, err := a.Run(ctx, task)
	fmt.Fprintln(c.out)
	c.printOutcome(out)
	if err != nil {
		return WrapRunError(err)
	}
	return nil
}

func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent",
		Long: `With a message, chat answers it and exits. Without one it reads lines from
stdin and keeps the conversation across turns; type "exit" to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.chat(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func (c *cli) chat(ctx context.Context, message string) error {
	rt, err := c.newRuntime(ctx, c.approvalHook())
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	provider, err := c.provider()
	if err != nil {
		return err
	}
	a, err := c.newAgent(rt, provider)
	if err != nil {
		return err
	}

	if strings.TrimSpace(message) != "" {
		_, err := a.Run(ctx, message)
		fmt.Fprintln(c.out)
		if err != nil {
			return WrapRunError(err)
		}
		return nil
	}

	conv := a.NewConversation()
	scanner := bufio.NewScanner(c.in)
	fmt.Fprintf(c.errOut, "webrana %s (%s/%s). Type \"exit\" to quit.\n", version, rt.cfg.LLM.Provider, rt.cfg.LLM.Model)
	for {
		fmt.Fprint(c.errOut, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.errOut)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		out, err := a.Continue(ctx, conv, line)
		fmt.Fprintln(c.out)
		if err == nil {
			continue
		}
		if errors.IsCode(err, errors.CodeCancelled) || ctx.Err() != nil {
			return WrapRunError(err)
		}
		// The conversation survives a failed turn.
		c.printOutcome(out)
		WrapRunError(err).PrintError(c.errOut, false)
	}
}

// approvalHook is the terminal prompt when stdin is a terminal.
func (c *cli) approvalHook() governance.ApprovalHook {
	if c.hookOverride != nil {
		return c.hookOverride
	}
	return governance.TerminalApprovalHook(c.stdinFile(), c.errOut)
}

func (c *cli) printOutcome(out *agent.Outcome) {
	if out == nil {
		return
	}
	refused := 0
	for _, r := range out.Results {
		if !r.OK() {
			refused++
		}
	}
	fmt.Fprintf(c.errOut, "run %s: %s after %d iterations, %d tool calls (%d not ok), %d tokens\n",
		out.RunID, out.Status, out.Iterations, len(out.Results), refused, out.Usage.TotalTokens)
}
