// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	persona_id   TEXT NOT NULL DEFAULT '',
	persona_name TEXT NOT NULL DEFAULT '',
	ts           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session
	ON messages(session_id, ts, seq);
`

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is the stored metadata for one group-chat session.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed durable message log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at path. The parent
// directory is created with owner-only permissions.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	// busy_timeout keeps concurrent turn appends from failing fast while
	// another write holds the lock.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SESSIONS
// =============================================================================

// GetOrCreateSession returns the session with the given ID, creating it if
// absent. An empty ID creates a fresh session with a generated ID.
func (s *Store) GetOrCreateSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = "sess_" + uuid.NewString()
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at)
		 VALUES (?, '', ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return s.GetSession(ctx, id)
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id)

	var sess Session
	var created, updated int64
	if err := row.Scan(&sess.ID, &sess.Title, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, created)
	sess.UpdatedAt = time.Unix(0, updated)
	return &sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = time.Unix(0, created)
		sess.UpdatedAt = time.Unix(0, updated)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage durably appends a message to a session's log. The session
// must exist. Appends are the only write path for messages; nothing edits
// them afterward.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, persona_id, persona_name, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, msg.Role.String(), msg.Content,
		msg.PersonaID, msg.PersonaName, msg.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New("append message: no row written")
	}

	title := ""
	if msg.Role == model.RoleUser {
		title = msg.Preview(50)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions
		 SET updated_at = ?,
		     title = CASE WHEN title = '' AND ? != '' THEN ? ELSE title END
		 WHERE id = ?`,
		time.Now().UnixNano(), title, title, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns the complete ordered log for a session: timestamp
// order with insertion order breaking ties, which makes the listing a
// stable view of append order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, persona_id, persona_name, ts
		 FROM messages WHERE session_id = ?
		 ORDER BY ts ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var msg model.Message
		var role string
		var ts int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.PersonaID, &msg.PersonaName, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, ts)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of messages stored for a session.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
