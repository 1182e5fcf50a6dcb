// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records an append-only, hash-chained log of every safety
// decision and tool outcome. Detail payloads are secret-redacted before
// they are hashed or stored.
package audit

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"
)

// Action names the kind of audited event.
type Action string

const (
	ActionSessionStart   Action = "session_start"
	ActionSessionEnd     Action = "session_end"
	ActionToolDecision   Action = "tool_decision"
	ActionToolExecuted   Action = "tool_executed"
	ActionToolFailed     Action = "tool_failed"
	ActionToolRefused    Action = "tool_refused"
	ActionLLMRequest     Action = "llm_request"
	ActionLLMError       Action = "llm_error"
	ActionPluginLoaded   Action = "plugin_loaded"
	ActionPluginRejected Action = "plugin_rejected"
	ActionSecretDetected Action = "secret_detected"
	ActionConfigChange   Action = "config_change"
)

// Decision labels recorded on tool_decision and tool_refused events.
const (
	DecisionAutoAllow   = "auto_allow"
	DecisionApproved    = "approved"
	DecisionDeclined    = "declined"
	DecisionDenied      = "denied"
	DecisionRejected    = "rejected"
	DecisionRateLimited = "rate_limited"
)

// Event is a single write-once audit record.
type Event struct {
	Sequence    uint64         `json:"seq"`
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"ts"`
	RunID       string         `json:"run_id,omitempty"`
	Actor       string         `json:"actor"`
	Action      Action         `json:"action"`
	Skill       string         `json:"skill,omitempty"`
	CallID      string         `json:"call_id,omitempty"`
	Risk        string         `json:"risk,omitempty"`
	Decision    string         `json:"decision,omitempty"`
	ReasonClass string         `json:"reason_class,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash"`
}

const chainDomain = "webrana audit chain v1\x00"

// ComputeHash returns the chain hash of e: blake3 over the domain tag and
// the JSON encoding of e with Hash cleared. PrevHash is part of the
// encoding, which links each event to its predecessor.
func ComputeHash(e Event) (string, error) {
	e.Hash = ""
	payload, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	_, _ = h.Write([]byte(chainDomain))
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
