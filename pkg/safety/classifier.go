// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"github.com/webrana/webrana/pkg/skills"
)

// Assessment is the classifier's verdict on one call.
type Assessment struct {
	Risk    skills.Risk
	Blocked bool
	Reason  string
}

// Classify rates a sanitized call. The result is never lower than the
// descriptor's base risk.
func Classify(desc *skills.Descriptor, s Sanitized) Assessment {
	a := Assessment{Risk: desc.BaseRisk(s.Args)}
	if desc.RequiresConfirmation {
		a.Risk = skills.MaxRisk(a.Risk, skills.RiskHigh)
		a.Reason = "skill requires confirmation"
	}
	if !desc.RawCommand() || s.RawCommand == "" {
		return a
	}

	// Raw commands: allow-listed, metacharacter-free commands drop to
	// medium; everything else stays at least high.
	base := skills.RiskHigh
	if s.AllowListed && !s.HasMeta {
		base = skills.RiskMedium
	}
	if desc.RiskFunc == nil {
		a.Risk = base
		if desc.RequiresConfirmation {
			a.Risk = skills.MaxRisk(a.Risk, skills.RiskHigh)
		}
	}
	if s.HasMeta {
		a.Risk = skills.MaxRisk(a.Risk, skills.RiskHigh)
		a.Reason = "command contains shell metacharacters"
	}
	if s.Command.Risk > a.Risk {
		a.Risk = s.Command.Risk
		a.Reason = s.Command.Reason
	}
	if s.Command.Blocked {
		a.Risk = skills.RiskCritical
		a.Blocked = true
		a.Reason = s.Command.Reason
	}
	return a
}
