// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"strconv"
	"strings"

	"github.com/webrana/webrana/pkg/errors"
)

func (b *builtins) gitSkills() []Descriptor {
	git := func(name, description string, risk Risk, schema map[string]any, kinds map[string]ArgKind, h Handler) Descriptor {
		return Descriptor{
			Name:        name,
			Description: description,
			InputSchema: schema,
			Requires:    NewPermissionSet(CapGitAccess),
			Risk:        risk,
			Class:       ClassGit,
			ArgKinds:    kinds,
			Handler:     h,
		}
	}
	return []Descriptor{
		git("git_status", "Show the working tree status.", RiskLow,
			objectSchema(nil, map[string]any{}), nil, b.gitStatus),
		git("git_diff", "Show unstaged changes, or staged changes with staged=true.", RiskLow,
			objectSchema(nil, map[string]any{
				"staged": prop("boolean", "Diff the index instead of the working tree"),
				"path":   prop("string", "Limit the diff to a path"),
			}), map[string]ArgKind{"path": ArgPath}, b.gitDiff),
		git("git_log", "Show recent commits, one per line.", RiskLow,
			objectSchema(nil, map[string]any{
				"limit": prop("integer", "Number of commits (default 10)"),
			}), nil, b.gitLog),
		git("git_add", "Stage paths for commit.", RiskMedium,
			objectSchema([]string{"paths"}, map[string]any{
				"paths": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Paths to stage"},
			}), map[string]ArgKind{"paths": ArgPath}, b.gitAdd),
		git("git_commit", "Commit staged changes with a message.", RiskMedium,
			objectSchema([]string{"message"}, map[string]any{
				"message": prop("string", "Commit message"),
			}), nil, b.gitCommit),
		git("git_branch", "List branches, or create one when name is given.", RiskMedium,
			objectSchema(nil, map[string]any{
				"name": prop("string", "Branch to create"),
			}), map[string]ArgKind{"name": ArgRef}, b.gitBranch),
		git("git_checkout", "Switch to a branch, creating it with create=true.", RiskMedium,
			objectSchema([]string{"ref"}, map[string]any{
				"ref":    prop("string", "Branch or revision"),
				"create": prop("boolean", "Create the branch first"),
			}), map[string]ArgKind{"ref": ArgRef}, b.gitCheckout),
	}
}

func (b *builtins) git(ctx context.Context, argv ...string) (string, error) {
	return b.run(ctx, "git", argv...)
}

func (b *builtins) gitStatus(ctx context.Context, args Args) (string, error) {
	return b.git(ctx, "status", "--short", "--branch")
}

func (b *builtins) gitDiff(ctx context.Context, args Args) (string, error) {
	argv := []string{"--no-pager", "diff"}
	if args.Bool("staged", false) {
		argv = append(argv, "--staged")
	}
	if p := args.OptString("path", ""); p != "" {
		argv = append(argv, "--", b.resolve(p))
	}
	return b.git(ctx, argv...)
}

func (b *builtins) gitLog(ctx context.Context, args Args) (string, error) {
	limit := args.Int("limit", 10)
	if limit <= 0 || limit > 200 {
		limit = 10
	}
	return b.git(ctx, "--no-pager", "log", "--oneline", "-n", strconv.Itoa(limit))
}

func (b *builtins) gitAdd(ctx context.Context, args Args) (string, error) {
	paths := args.Strings("paths")
	if len(paths) == 0 {
		return "", errors.New(errors.CodeInvalidInput, "paths must not be empty", nil)
	}
	argv := []string{"add", "--"}
	for _, p := range paths {
		argv = append(argv, b.resolve(p))
	}
	return b.git(ctx, argv...)
}

func (b *builtins) gitCommit(ctx context.Context, args Args) (string, error) {
	msg, err := args.String("message")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(msg) == "" {
		return "", errors.New(errors.CodeInvalidInput, "commit message must not be empty", nil)
	}
	return b.git(ctx, "commit", "-m", msg)
}

func (b *builtins) gitBranch(ctx context.Context, args Args) (string, error) {
	if name := args.OptString("name", ""); name != "" {
		return b.git(ctx, "branch", name)
	}
	return b.git(ctx, "branch", "--list")
}

func (b *builtins) gitCheckout(ctx context.Context, args Args) (string, error) {
	ref, err := args.String("ref")
	if err != nil {
		return "", err
	}
	if args.Bool("create", false) {
		return b.git(ctx, "checkout", "-b", ref)
	}
	return b.git(ctx, "checkout", ref, "--")
}
