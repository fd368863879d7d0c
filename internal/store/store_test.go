// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/model"
)

// openTestStore opens a store in a temp directory, closed on cleanup.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestGetOrCreateSession_GeneratesID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreateSession(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestGetOrCreateSession_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "sess-fixed")
	require.NoError(t, err)
	second, err := s.GetOrCreateSession(ctx, "sess-fixed")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestGetSession_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSessions_MostRecentFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older, err := s.GetOrCreateSession(ctx, "older")
	require.NoError(t, err)
	newer, err := s.GetOrCreateSession(ctx, "newer")
	require.NoError(t, err)

	// Touch the older session with an append so it sorts first.
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.AppendMessage(ctx, older.ID, model.NewUserMessage("bump")))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, older.ID, sessions[0].ID)
	assert.Equal(t, newer.ID, sessions[1].ID)
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestAppendAndListMessages_OrderPreserved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreateSession(ctx, "")
	require.NoError(t, err)

	user := model.NewUserMessage("hi")
	p1 := model.NewPersonaMessage("p1", "Ada")
	p1.AppendToken("hello")
	p1.FinalizeStream()
	p2 := model.NewPersonaMessage("p2", "Lin")
	p2.AppendToken("hey there")
	p2.FinalizeStream()

	require.NoError(t, s.AppendMessage(ctx, sess.ID, user))
	require.NoError(t, s.AppendMessage(ctx, sess.ID, p1))
	require.NoError(t, s.AppendMessage(ctx, sess.ID, p2))

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "p1", msgs[1].PersonaID)
	assert.Equal(t, "Ada", msgs[1].PersonaName)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "p2", msgs[2].PersonaID)
}

func TestAppendMessage_TimestampRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreateSession(ctx, "")
	require.NoError(t, err)

	msg := model.NewUserMessage("hi")
	msg.Timestamp = time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)
	require.NoError(t, s.AppendMessage(ctx, sess.ID, msg))

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Timestamp.Equal(msg.Timestamp))
}

func TestListMessages_TiesBrokenByAppendOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreateSession(ctx, "")
	require.NoError(t, err)

	// Identical timestamps: listing must preserve append order.
	ts := time.Now()
	for i, content := range []string{"one", "two", "three"} {
		msg := model.NewUserMessage(content)
		msg.Timestamp = ts
		require.NoError(t, s.AppendMessage(ctx, sess.ID, msg), "append %d", i)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)
}

func TestListMessages_EmptySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreateSession(ctx, "")
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSessionTitle_FromFirstUserMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreateSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, sess.ID, model.NewUserMessage("plan my garden")))
	require.NoError(t, s.AppendMessage(ctx, sess.ID, model.NewUserMessage("second question")))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan my garden", got.Title)
}
