// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
)

// ChainError reports the first event that breaks the hash chain.
type ChainError struct {
	Sequence uint64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Sequence, e.Reason)
}

// Verify checks that events form one contiguous chain: sequences increase
// by one, each PrevHash equals the previous Hash, and every Hash matches
// the recomputed value. The first event must start the chain unless it is
// preceded by anchor (the hash of the event before it).
func Verify(events []Event, anchor string) error {
	prev := anchor
	var lastSeq uint64
	for i, ev := range events {
		if i > 0 && ev.Sequence != lastSeq+1 {
			return &ChainError{Sequence: ev.Sequence, Reason: fmt.Sprintf("expected seq %d", lastSeq+1)}
		}
		if i == 0 && anchor == "" && ev.Sequence != 1 {
			return &ChainError{Sequence: ev.Sequence, Reason: "log does not start at seq 1"}
		}
		if ev.PrevHash != prev {
			return &ChainError{Sequence: ev.Sequence, Reason: "prev_hash does not match preceding event"}
		}
		want, err := ComputeHash(ev)
		if err != nil {
			return &ChainError{Sequence: ev.Sequence, Reason: err.Error()}
		}
		if want != ev.Hash {
			return &ChainError{Sequence: ev.Sequence, Reason: "hash mismatch (event modified)"}
		}
		prev, lastSeq = ev.Hash, ev.Sequence
	}
	return nil
}

// DecisionRecord is one gate decision reconstructed from the log, joined
// with its outcome when the call ran.
type DecisionRecord struct {
	Sequence    uint64
	RunID       string
	CallID      string
	Skill       string
	Risk        string
	Decision    string
	ReasonClass string
	// Outcome is tool_executed, tool_failed or tool_refused; empty when
	// the run ended before the outcome was written.
	Outcome Action
}

// Executed reports whether the call was allowed to run.
func (d DecisionRecord) Executed() bool {
	return d.Outcome == ActionToolExecuted || d.Outcome == ActionToolFailed
}

// Replay reconstructs the ordered decision sequence: one record per
// tool_decision or tool_refused event. A call that runs writes two events,
// tool_decision before the handler and tool_executed or tool_failed after
// it; Replay joins the pair on (run id, call id) and sets Outcome from the
// second. A tool_refused event is its own outcome. Outcome events with no
// earlier decision for the same key are ignored.
func Replay(events []Event) []DecisionRecord {
	var records []DecisionRecord
	pending := map[string]int{}
	for _, ev := range events {
		switch ev.Action {
		case ActionToolDecision, ActionToolRefused:
			rec := DecisionRecord{
				Sequence:    ev.Sequence,
				RunID:       ev.RunID,
				CallID:      ev.CallID,
				Skill:       ev.Skill,
				Risk:        ev.Risk,
				Decision:    ev.Decision,
				ReasonClass: ev.ReasonClass,
			}
			if ev.Action == ActionToolRefused {
				rec.Outcome = ActionToolRefused
			} else {
				pending[ev.RunID+"/"+ev.CallID] = len(records)
			}
			records = append(records, rec)
		case ActionToolExecuted, ActionToolFailed:
			key := ev.RunID + "/" + ev.CallID
			if idx, ok := pending[key]; ok {
				records[idx].Outcome = ev.Action
				delete(pending, key)
			}
		}
	}
	return records
}
