// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingMessageLifecycle(t *testing.T) {
	msg := NewPersonaMessage("analyst", "Analyst")
	require.True(t, msg.IsStreaming)
	assert.True(t, msg.IsEmpty())

	msg.AppendToken("first ")
	msg.AppendToken("second")
	assert.Equal(t, "first second", msg.GetDisplayContent())
	assert.Empty(t, msg.Content, "content stays empty until finalize")

	created := msg.Timestamp
	time.Sleep(time.Millisecond)
	msg.FinalizeStream()

	assert.False(t, msg.IsStreaming)
	assert.Equal(t, "first second", msg.Content)
	assert.True(t, msg.Timestamp.After(created), "finalize refreshes the timestamp")

	// Finalized messages ignore further tokens.
	msg.AppendToken("late")
	assert.Equal(t, "first second", msg.GetDisplayContent())
}

func TestFinalizeStreamIdempotent(t *testing.T) {
	msg := NewPersonaMessage("analyst", "Analyst")
	msg.AppendToken("done")
	msg.FinalizeStream()
	ts := msg.Timestamp

	msg.FinalizeStream()
	assert.Equal(t, "done", msg.Content)
	assert.Equal(t, ts, msg.Timestamp)
}

func TestPreviewTruncatesOnRunes(t *testing.T) {
	msg := NewUserMessage("héllo wörld, this is a long message")
	preview := msg.Preview(10)
	assert.Equal(t, "héllo w...", preview)
	assert.Len(t, []rune(preview), 10)

	short := NewUserMessage("hi")
	assert.Equal(t, "hi", short.Preview(10))

	// Limits too small for an ellipsis cut cleanly instead of slicing
	// negative.
	assert.Equal(t, "hé", NewUserMessage("héllo").Preview(2))
	assert.Equal(t, "", NewUserMessage("héllo").Preview(0))
}

func TestConversationLastUserIndex(t *testing.T) {
	conv := NewConversation("s1")
	assert.Equal(t, -1, conv.LastUserIndex())

	conv.AddUserMessage("one")
	reply := NewPersonaMessage("analyst", "Analyst")
	reply.AppendToken("a reply")
	reply.FinalizeStream()
	conv.AddMessage(reply)
	conv.AddUserMessage("two")
	conv.AddMessage(NewMessage(RoleAssistant, "tail reply"))

	assert.Equal(t, 2, conv.LastUserIndex())
}

func TestConversationHistorySkipsStreamingAndEmpty(t *testing.T) {
	conv := NewConversation("s1")
	conv.AddUserMessage("question")

	inflight := NewPersonaMessage("analyst", "Analyst")
	inflight.AppendToken("partial")
	conv.AddMessage(inflight)

	conv.AddMessage(NewMessage(RoleAssistant, ""))

	done := NewPersonaMessage("skeptic", "Skeptic")
	done.AppendToken("finished")
	done.FinalizeStream()
	conv.AddMessage(done)

	turns := conv.History()
	require.Len(t, turns, 2)
	assert.Equal(t, ChatTurn{Role: "user", Content: "question"}, turns[0])
	assert.Equal(t, ChatTurn{Role: "assistant", Content: "finished"}, turns[1])
}

func TestConversationTitleFromFirstUserMessage(t *testing.T) {
	conv := NewConversation("s1")
	conv.AddMessage(NewMessage(RoleAssistant, "greeting"))
	assert.Empty(t, conv.Title)

	conv.AddUserMessage("what should we name the project?")
	assert.Equal(t, "what should we name the project?", conv.Title)

	conv.AddUserMessage("something else")
	assert.Equal(t, "what should we name the project?", conv.Title, "title sticks to the first user message")
}

func TestConversationPruneKeepsTail(t *testing.T) {
	conv := NewConversation("s1")
	for i := 0; i < MaxMessages+10; i++ {
		conv.AddMessage(NewMessage(RoleUser, fmt.Sprintf("msg %d", i)))
	}
	require.Equal(t, MaxMessages, conv.Len())
	assert.Equal(t, fmt.Sprintf("msg %d", MaxMessages+9), conv.Messages[conv.Len()-1].Content)
}

func TestPersonaValidate(t *testing.T) {
	tests := []struct {
		name    string
		persona Persona
		wantErr error
	}{
		{"valid", Persona{ID: "analyst", Name: "Analyst"}, nil},
		{"missing id", Persona{Name: "Analyst"}, ErrPersonaID},
		{"blank id", Persona{ID: "   ", Name: "Analyst"}, ErrPersonaID},
		{"missing name", Persona{ID: "analyst"}, ErrPersonaName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.persona.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestPersonaDisplayName(t *testing.T) {
	assert.Equal(t, "Analyst", (&Persona{ID: "analyst", Name: "Analyst"}).DisplayName())
	assert.Equal(t, "analyst", (&Persona{ID: "analyst"}).DisplayName())
}
