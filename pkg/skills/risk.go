// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"fmt"
	"strings"
)

// Risk is the ordered risk level of a tool call.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// ParseRisk parses a level name, case-insensitively.
func ParseRisk(s string) (Risk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", s)
}

// MaxRisk returns the higher of a and b.
func MaxRisk(a, b Risk) Risk {
	if a > b {
		return a
	}
	return b
}

func (r Risk) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Risk) UnmarshalText(b []byte) error {
	parsed, err := ParseRisk(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
