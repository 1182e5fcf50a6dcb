// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"regexp"
	"strings"

	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/skills"
)

// DefaultBlockedPatterns are never executed. A pattern ending in " /" or
// " ~" matches only that directory itself, not paths below it.
var DefaultBlockedPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -fr /",
	"rm -rf ~",
	"mkfs",
	"dd if=/dev/zero",
	"dd if=/dev/random",
	"dd of=/dev/",
	":(){:|:&};:",
	":(){ :|:& };:",
	"chmod -r 777 /",
	"chown -r",
	"> /dev/sda",
}

// DefaultDangerousPatterns raise a command to High.
var DefaultDangerousPatterns = []string{
	"rm -rf",
	"rm -fr",
	"rm -r",
	"> /dev/sd",
	"> /etc/",
	"chmod 777",
	"chmod -r 777",
	"git push --force",
	"git push -f",
	"git reset --hard",
	"git clean -f",
	"shutdown",
	"reboot",
	"killall",
	"kill -9",
	"systemctl",
	"iptables",
	"crontab",
	"docker",
	"ssh ",
	"scp ",
	"curl ",
	"wget ",
}

// criticalCommands escalate to Critical: privilege escalation and piping
// downloads straight into a shell.
var criticalCommands = []struct {
	name string
	re   *regexp.Regexp
}{
	{"privilege escalation", regexp.MustCompile(`(^|[\s;&|(])(sudo|doas|su)(\s|$)`)},
	{"remote script execution", regexp.MustCompile(`\b(curl|wget)\b[^;&]*\|\s*(sudo\s+)?(ba|z|da|k)?sh\b`)},
}

// CommandAssessment is the verdict of CommandRules on a raw command.
type CommandAssessment struct {
	Blocked bool
	// Risk is the floor implied by matched patterns; RiskLow when none matched.
	Risk    skills.Risk
	Pattern string
	Reason  string
}

// CommandRules matches shell commands against blocked, critical,
// dangerous and confirm-required patterns. Matching is case-insensitive
// on whitespace-normalized text.
type CommandRules struct {
	blocked   []string
	dangerous []string
	confirm   []string
}

// NewCommandRules builds rules from the defaults plus configured patterns.
func NewCommandRules(cfg config.SafetyConfig) *CommandRules {
	return &CommandRules{
		blocked:   normalizeAll(append(append([]string(nil), DefaultBlockedPatterns...), cfg.BlockedPatterns...)),
		dangerous: normalizeAll(DefaultDangerousPatterns),
		confirm:   normalizeAll(cfg.ConfirmPatterns),
	}
}

// Assess classifies cmd.
func (r *CommandRules) Assess(cmd string) CommandAssessment {
	norm := NormalizeCommand(cmd)
	for _, p := range r.blocked {
		if containsPattern(norm, p) {
			return CommandAssessment{Blocked: true, Risk: skills.RiskCritical, Pattern: p, Reason: "command matches blocked pattern " + quote(p)}
		}
	}
	for _, c := range criticalCommands {
		if c.re.MatchString(norm) {
			return CommandAssessment{Risk: skills.RiskCritical, Pattern: c.re.String(), Reason: c.name}
		}
	}
	for _, p := range r.dangerous {
		if containsPattern(norm, p) {
			return CommandAssessment{Risk: skills.RiskHigh, Pattern: p, Reason: "command matches dangerous pattern " + quote(p)}
		}
	}
	for _, p := range r.confirm {
		if containsPattern(norm, p) {
			return CommandAssessment{Risk: skills.RiskHigh, Pattern: p, Reason: "command matches confirm pattern " + quote(p)}
		}
	}
	return CommandAssessment{Risk: skills.RiskLow}
}

// NormalizeCommand lowercases s and collapses runs of whitespace.
func NormalizeCommand(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if n := NormalizeCommand(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func containsPattern(cmd, pattern string) bool {
	if !strings.HasSuffix(pattern, " /") && !strings.HasSuffix(pattern, " ~") {
		return strings.Contains(cmd, pattern)
	}
	for i := 0; ; {
		idx := strings.Index(cmd[i:], pattern)
		if idx < 0 {
			return false
		}
		end := i + idx + len(pattern)
		if end == len(cmd) || strings.ContainsRune(" ;&|)*", rune(cmd[end])) {
			return true
		}
		i = i + idx + 1
	}
}

func quote(s string) string {
	return "'" + s + "'"
}
