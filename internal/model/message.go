// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a session.
//
// For assistant messages produced during a group turn, PersonaID identifies
// which persona authored the message. PersonaID is the key reconciliation
// uses to match client and durable replicas; messages without one are never
// merged across replicas.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Persona identity (assistant messages in a group turn)
	PersonaID   string `json:"persona_id,omitempty"`
	PersonaName string `json:"persona_name,omitempty"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewPersonaMessage creates a new streaming assistant message attributed to
// a persona. Content accumulates via AppendToken until FinalizeStream.
func NewPersonaMessage(personaID, personaName string) *Message {
	return &Message{
		ID:          "msg_" + uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		PersonaID:   personaID,
		PersonaName: personaName,
		IsStreaming: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendToken appends a streamed text piece to a streaming message.
func (m *Message) AppendToken(token string) {
	if m.IsStreaming {
		m.streamContent.WriteString(token)
	}
}

// FinalizeStream completes streaming, moving accumulated content into
// Content and stamping the message with its completion time. The timestamp
// is refreshed so that tail ordering reflects when the message finished,
// matching the ordering of durable appends.
func (m *Message) FinalizeStream() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
	m.Timestamp = time.Now()
}

// GetDisplayContent returns the content to display (streaming or final).
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(m.GetDisplayContent(), maxLen)
}

// =============================================================================
// CHAT TURN TYPE
// =============================================================================

// ChatTurn is the minimal role/content pair sent to a generation backend.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn converts a message to its backend wire representation.
func (m *Message) Turn() ChatTurn {
	return ChatTurn{Role: m.Role.String(), Content: m.GetDisplayContent()}
}
