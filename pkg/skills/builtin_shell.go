// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/resilience"
)

func (b *builtins) shellSkills() []Descriptor {
	return []Descriptor{
		{
			Name:        "shell_exec",
			Description: "Run a shell command in the working directory and return its combined output.",
			InputSchema: objectSchema([]string{"command"}, map[string]any{
				"command": prop("string", "Command line passed to /bin/sh -c"),
			}),
			Requires: NewPermissionSet(CapShellExecute),
			Risk:     RiskHigh,
			Class:    ClassShell,
			ArgKinds: map[string]ArgKind{"command": ArgCommand},
			Handler:  b.shellExec,
		},
	}
}

func (b *builtins) shellExec(ctx context.Context, args Args) (string, error) {
	command, err := args.String("command")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(command) == "" {
		return "", errors.New(errors.CodeInvalidInput, "command must not be empty", nil)
	}
	return b.run(ctx, b.opts.Shell, "-c", command)
}

// run executes name with argv in the working root, bounded by the
// command timeout. A non-zero exit returns the output alongside the error.
func (b *builtins) run(ctx context.Context, name string, argv ...string) (string, error) {
	timeout := resilience.TimeoutConfig{Duration: b.opts.CommandTimeout}
	return resilience.WithTimeoutResult(ctx, timeout, func(ctx context.Context) (string, error) {
		cmd := exec.CommandContext(ctx, name, argv...)
		cmd.Dir = b.opts.Root
		cmd.WaitDelay = 2 * time.Second
		var buf bytes.Buffer
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		runErr := cmd.Run()
		out := b.opts.Redact(b.truncate(buf.String()))
		if runErr == nil {
			if out == "" {
				out = "(no output)"
			}
			return out, nil
		}
		if ctx.Err() == context.DeadlineExceeded {
			return out, errors.New(errors.CodeTimeout, "command timed out", runErr).
				WithContext("timeout", b.opts.CommandTimeout.String())
		}
		var exitErr *exec.ExitError
		if stderrors.As(runErr, &exitErr) {
			return out, skillErr(fmt.Sprintf("command exited with status %d", exitErr.ExitCode()), runErr)
		}
		return out, skillErr("command could not be started", runErr).WithContext("program", name)
	})
}
