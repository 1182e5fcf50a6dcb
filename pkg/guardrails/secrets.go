// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
	"sort"
)

// RedactedPlaceholder replaces every detected secret.
const RedactedPlaceholder = "[REDACTED]"

// Severity ranks how damaging a leaked secret is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Rank orders severities; higher is worse. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// SecretType categorizes a detected credential.
type SecretType string

const (
	SecretAnthropicKey  SecretType = "anthropic_api_key"
	SecretOpenAIKey     SecretType = "openai_api_key"
	SecretAWSAccessKey  SecretType = "aws_access_key"
	SecretAWSSecretKey  SecretType = "aws_secret_key"
	SecretGitHubToken   SecretType = "github_token"
	SecretSlackToken    SecretType = "slack_token"
	SecretGoogleAPIKey  SecretType = "google_api_key"
	SecretStripeKey     SecretType = "stripe_key"
	SecretPrivateKey    SecretType = "private_key"
	SecretJWT           SecretType = "jwt"
	SecretGenericAssign SecretType = "generic_secret"
)

type secretPattern struct {
	secretType SecretType
	severity   Severity
	pattern    *regexp.Regexp
}

// Order matters: when two patterns match the same span the earlier entry
// names it (sk-ant- keys also look like OpenAI keys).
// A pattern with a capture group only redacts the group, keeping the
// surrounding key name readable.
var defaultSecretPatterns = []struct {
	secretType SecretType
	severity   Severity
	pattern    string
}{
	{SecretAnthropicKey, SeverityCritical, `\bsk-ant-[A-Za-z0-9_\-]{20,}`},
	{SecretOpenAIKey, SeverityCritical, `\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`},
	{SecretAWSAccessKey, SeverityCritical, `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`},
	{SecretAWSSecretKey, SeverityCritical, `(?i)aws_?secret_?access_?key["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})`},
	{SecretStripeKey, SeverityCritical, `\b(?:sk|rk)_live_[0-9A-Za-z]{24,}`},
	{SecretPrivateKey, SeverityCritical, `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`},
	{SecretGitHubToken, SeverityHigh, `\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}\b`},
	{SecretGitHubToken, SeverityHigh, `\bgithub_pat_[A-Za-z0-9_]{22,}`},
	{SecretSlackToken, SeverityHigh, `\bxox[abposr]-[A-Za-z0-9-]{10,}`},
	{SecretGoogleAPIKey, SeverityHigh, `\bAIza[0-9A-Za-z_\-]{35}`},
	{SecretJWT, SeverityMedium, `\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`},
	{SecretGenericAssign, SeverityMedium, `(?i)\b(?:password|passwd|pwd|secret|token|api_?key|access_?key)["']?\s*[:=]\s*["']?([^\s"',;]{6,})`},
}

// SecretMatch is one detected secret within a string.
type SecretMatch struct {
	Type     SecretType
	Severity Severity
	Start    int
	End      int
}

// SecretFilter detects credentials and masks them before text reaches the
// model, a log line or the audit trail.
type SecretFilter struct {
	patterns    []secretPattern
	replacement string
}

// SecretFilterOption configures the secret filter.
type SecretFilterOption func(*SecretFilter)

// NewSecretFilter creates a filter loaded with the default secret patterns.
func NewSecretFilter(opts ...SecretFilterOption) *SecretFilter {
	f := &SecretFilter{replacement: RedactedPlaceholder}
	for _, p := range defaultSecretPatterns {
		f.patterns = append(f.patterns, secretPattern{
			secretType: p.secretType,
			severity:   p.severity,
			pattern:    regexp.MustCompile(p.pattern),
		})
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithReplacement overrides the placeholder text.
func WithReplacement(s string) SecretFilterOption {
	return func(f *SecretFilter) {
		if s != "" {
			f.replacement = s
		}
	}
}

// WithCustomSecretPattern adds a pattern. Invalid expressions are ignored.
func WithCustomSecretPattern(secretType SecretType, severity Severity, pattern string) SecretFilterOption {
	return func(f *SecretFilter) {
		if re, err := regexp.Compile(pattern); err == nil {
			f.patterns = append(f.patterns, secretPattern{secretType: secretType, severity: severity, pattern: re})
		}
	}
}

// ID returns the guardrail identifier.
func (f *SecretFilter) ID() string {
	return "secret-filter"
}

// Find returns non-overlapping secret spans in s, ordered by position.
func (f *SecretFilter) Find(s string) []SecretMatch {
	if s == "" {
		return nil
	}
	var found []SecretMatch
	for _, p := range f.patterns {
		for _, idx := range p.pattern.FindAllStringSubmatchIndex(s, -1) {
			start, end := idx[0], idx[1]
			if len(idx) >= 4 && idx[2] >= 0 {
				start, end = idx[2], idx[3]
			}
			found = append(found, SecretMatch{Type: p.secretType, Severity: p.severity, Start: start, End: end})
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Start < found[j].Start })

	merged := found[:1]
	for _, m := range found[1:] {
		last := &merged[len(merged)-1]
		if m.Start < last.End {
			if m.End > last.End {
				last.End = m.End
			}
			if m.Severity.Rank() > last.Severity.Rank() {
				last.Severity = m.Severity
			}
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// Redact masks every secret in s.
func (f *SecretFilter) Redact(s string) string {
	return f.FilterOutput(context.Background(), s).Content
}

// FilterOutput masks secrets and reports each redaction. Originals are
// never carried in the result.
func (f *SecretFilter) FilterOutput(ctx context.Context, output string) FilterResult {
	result := FilterResult{Content: output}
	matches := f.Find(output)
	if len(matches) == 0 {
		return result
	}
	select {
	case <-ctx.Done():
		return result
	default:
	}

	content := output
	redactions := make([]Redaction, 0, len(matches))
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		content = content[:m.Start] + f.replacement + content[m.End:]
		redactions = append(redactions, Redaction{
			Type:        "secret:" + string(m.Type),
			Replacement: f.replacement,
			Position:    m.Start,
		})
	}
	for i, j := 0, len(redactions)-1; i < j; i, j = i+1, j-1 {
		redactions[i], redactions[j] = redactions[j], redactions[i]
	}
	return FilterResult{Content: content, Modified: true, Redactions: redactions}
}

// CheckInput never blocks; it reports secrets found in user input so the
// caller can audit them. Metadata["secrets"] holds the match count.
func (f *SecretFilter) CheckInput(_ context.Context, input string) CheckResult {
	matches := f.Find(input)
	if len(matches) == 0 {
		return CheckResult{}
	}
	types := make([]string, 0, len(matches))
	for _, m := range matches {
		types = append(types, string(m.Type))
	}
	return CheckResult{
		Reason:   "input contains secret-shaped values",
		Metadata: map[string]any{"secrets": len(matches), "types": types},
	}
}

var defaultFilter = NewSecretFilter()

// Redact masks secrets in s with the default patterns.
func Redact(s string) string {
	return defaultFilter.Redact(s)
}

// RedactMap returns a copy of m with every string value redacted,
// descending into nested maps and slices.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return Redact(val)
	case map[string]any:
		return RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = Redact(item)
		}
		return out
	default:
		return v
	}
}
