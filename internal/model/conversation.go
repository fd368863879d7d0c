// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// MaxMessages is the maximum number of messages to keep in conversation history.
// When exceeded, old messages are pruned to prevent unbounded memory growth.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the client-side ordered message replica for one session.
//
// The server's durable log is the source of truth; a Conversation is the
// optimistic local view that may temporarily miss entries written by other
// personas during a group turn, or hold entries not yet durable. The frozen
// prefix / assistant tail split used by reconciliation is exposed through
// LastUserIndex.
type Conversation struct {
	// Identity
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages, oldest first
	Messages []*Message `json:"messages"`
}

// NewConversation creates a conversation bound to a session ID.
func NewConversation(sessionID string) *Conversation {
	now := time.Now()
	return &Conversation{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message to the conversation.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.pruneOldMessages()
}

// AddUserMessage creates and appends a user message.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.AddMessage(msg)
	return msg
}

// Replace swaps the entire message list, e.g. after a reconciliation pass.
func (c *Conversation) Replace(msgs []*Message) {
	c.Messages = msgs
	c.UpdatedAt = time.Now()
}

// LastUserIndex returns the index of the most recent user-authored message,
// or -1 if the conversation has none. Everything at or before this index is
// the frozen prefix that reconciliation never touches.
func (c *Conversation) LastUserIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// History exports the conversation as backend chat turns, skipping empty
// and still-streaming messages.
func (c *Conversation) History() []ChatTurn {
	turns := make([]ChatTurn, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if msg.IsStreaming || msg.IsEmpty() {
			continue
		}
		turns = append(turns, msg.Turn())
	}
	return turns
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// updateTitle derives a title from the first user message if unset.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && !msg.IsEmpty() {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// pruneOldMessages drops the oldest messages beyond MaxMessages.
// Pruning keeps the tail, so the frozen-prefix invariant is unaffected:
// reconciliation only looks backward from the most recent user message.
func (c *Conversation) pruneOldMessages() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	excess := len(c.Messages) - MaxMessages
	c.Messages = c.Messages[excess:]
}
