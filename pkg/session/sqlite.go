package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// SQLiteStore - Store поверх SQLite. Parts сообщения хранятся JSON-ом,
// поэтому thought signatures сохраняются байт в байт (base64).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore открывает (или создаёт) базу и применяет миграции.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Каждое соединение к :memory: - отдельная база
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	utils.Info("Session store opened", "driver", "sqlite3", "dsn", dsn)
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, message_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close закрывает соединение с базой.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg llm.Message) error {
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, parts, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Role), string(parts), now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, parts FROM messages WHERE session_id = ? ORDER BY message_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]llm.Message, 0)
	for rows.Next() {
		var role, raw string
		if err := rows.Scan(&role, &raw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var parts []llm.Part
		if err := json.Unmarshal([]byte(raw), &parts); err != nil {
			return nil, fmt.Errorf("unmarshal parts: %w", err)
		}
		messages = append(messages, llm.Message{Role: llm.Role(role), Parts: parts})
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.created_at, s.updated_at, COUNT(m.message_id)
		 FROM sessions s LEFT JOIN messages m ON m.session_id = s.session_id
		 GROUP BY s.session_id
		 ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.UpdatedAt, &info.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
