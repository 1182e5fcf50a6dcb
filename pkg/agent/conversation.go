// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"sync"

	"github.com/webrana/webrana/pkg/llm"
)

// Conversation is an append-only message log owned by one run at a time.
type Conversation struct {
	mu       sync.Mutex
	messages []llm.Message
}

// Append adds messages at the end.
func (c *Conversation) Append(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
