package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS conversations (
	user_id TEXT PRIMARY KEY,
	last_sequence INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_turns (
	user_id TEXT NOT NULL REFERENCES conversations(user_id),
	sequence INTEGER NOT NULL,
	role TEXT NOT NULL,
	parts TEXT NOT NULL,
	payload TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, sequence)
);
`

var sqliteDialect = dialect{
	name: "sqlite",
	nextSequence: `
		INSERT INTO conversations (user_id, last_sequence, created_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE
		SET last_sequence = conversations.last_sequence + 1, updated_at = excluded.updated_at
		RETURNING last_sequence`,
	insertTurn: `
		INSERT INTO conversation_turns (user_id, sequence, role, parts, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
	loadTurns: `
		SELECT sequence, role, parts, payload, created_at
		FROM conversation_turns
		WHERE user_id = ?
		ORDER BY sequence ASC`,
	timeValue: func(t time.Time) any { return t.UnixNano() },
}

// SQLiteStore is the single-node transcript store. Writes go through one
// connection so appends are serialized by the driver.
type SQLiteStore struct {
	*sqlStore
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path. The path
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: create sqlite directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create sqlite schema: %w", err)
	}
	return &SQLiteStore{sqlStore: newSQLStore(db, sqliteDialect), db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
