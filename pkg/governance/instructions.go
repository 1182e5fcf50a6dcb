// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// InstructionFiles are looked up, in order, in each directory.
var InstructionFiles = []string{"WEBRANA.md", "AGENTS.md"}

const maxInstructionsSize = 64 * 1024

// ProjectInstructions holds the contents of a project instruction file
// appended to the system prompt.
type ProjectInstructions struct {
	Path     string
	Raw      string
	LoadedAt time.Time
}

// LoadInstructions searches startDir and its parents, up to and including
// stopDir, for the first instruction file. Returns nil when none exists.
// Files larger than 64 KiB are truncated.
func LoadInstructions(startDir, stopDir string) (*ProjectInstructions, error) {
	if strings.TrimSpace(startDir) == "" {
		return nil, errors.New("startDir is required")
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	stop := ""
	if stopDir != "" {
		if stop, err = filepath.Abs(stopDir); err != nil {
			return nil, err
		}
	}
	for {
		for _, name := range InstructionFiles {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			raw, err := os.ReadFile(candidate)
			if err != nil {
				return nil, err
			}
			if len(raw) > maxInstructionsSize {
				raw = raw[:maxInstructionsSize]
			}
			return &ProjectInstructions{
				Path:     candidate,
				Raw:      string(raw),
				LoadedAt: time.Now().UTC(),
			}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir || dir == stop {
			break
		}
		dir = parent
	}
	return nil, nil
}
