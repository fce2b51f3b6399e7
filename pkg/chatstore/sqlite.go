package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/minstrel/pkg/conversation"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			role TEXT NOT NULL,
			blocks_json TEXT NOT NULL DEFAULT '[]',
			truncated INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, ordinal),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_created ON sessions(created_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite chat store: migrate")
		}
	}
	return nil
}

// SaveSession replaces the stored copy of the session wholesale. Sessions
// are small enough that rewriting the message rows beats tracking diffs.
func (s *SQLiteStore) SaveSession(ctx context.Context, session conversation.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET title = excluded.title, updated_at_ms = excluded.updated_at_ms`,
		session.ID, session.Title, session.CreatedAt.UnixMilli(), now)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: upsert session")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, session.ID); err != nil {
		return errors.Wrap(err, "sqlite chat store: clear messages")
	}

	for i, msg := range session.Messages {
		blocks, err := json.Marshal(msg.Blocks)
		if err != nil {
			return errors.Wrapf(err, "sqlite chat store: marshal blocks for message %d", i)
		}
		truncated := 0
		if msg.Truncated {
			truncated = 1
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, ordinal, role, blocks_json, truncated, created_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			session.ID, i, string(msg.Role), string(blocks), truncated, msg.CreatedAt.UnixMilli())
		if err != nil {
			return errors.Wrapf(err, "sqlite chat store: insert message %d", i)
		}
	}

	return errors.Wrap(tx.Commit(), "sqlite chat store: commit")
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: begin")
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "sqlite chat store: delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "sqlite chat store: delete session")
	}
	return errors.Wrap(tx.Commit(), "sqlite chat store: commit")
}

// LoadSessions returns every stored session in creation order, messages in
// original order.
func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]conversation.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, created_at_ms FROM sessions ORDER BY created_at_ms ASC, session_id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: query sessions")
	}
	defer func() { _ = rows.Close() }()

	var sessions []conversation.Session
	for rows.Next() {
		var (
			sess      conversation.Session
			createdMs int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan session")
		}
		sess.CreatedAt = time.UnixMilli(createdMs)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate sessions")
	}

	for i := range sessions {
		msgs, err := s.loadMessages(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, blocks_json, truncated, created_at_ms FROM messages WHERE session_id = ? ORDER BY ordinal ASC`,
		sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: query messages")
	}
	defer func() { _ = rows.Close() }()

	var msgs []conversation.Message
	for rows.Next() {
		var (
			role       string
			blocksJSON string
			truncated  int
			createdMs  int64
		)
		if err := rows.Scan(&role, &blocksJSON, &truncated, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan message")
		}
		var blocks []conversation.ContentBlock
		if err := json.Unmarshal([]byte(blocksJSON), &blocks); err != nil {
			return nil, errors.Wrapf(err, "sqlite chat store: unmarshal blocks for session %s", sessionID)
		}
		msgs = append(msgs, conversation.Message{
			Role:      conversation.Role(role),
			Blocks:    blocks,
			CreatedAt: time.UnixMilli(createdMs),
			Truncated: truncated != 0,
		})
	}
	return msgs, rows.Err()
}
