package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name: "postgres",
	nextSequence: `
		INSERT INTO conversations (user_id, last_sequence, created_at, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET last_sequence = conversations.last_sequence + 1, updated_at = EXCLUDED.updated_at
		RETURNING last_sequence`,
	insertTurn: `
		INSERT INTO conversation_turns (user_id, sequence, role, parts, payload, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)`,
	loadTurns: `
		SELECT sequence, role, parts::text, payload::text, created_at
		FROM conversation_turns
		WHERE user_id = $1
		ORDER BY sequence ASC`,
	timeValue: func(t time.Time) any { return t },
}

// PostgresStore keeps transcripts in the conversations and
// conversation_turns tables created by the migrations package.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore wraps an open database/sql handle using the pgx driver.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore: newSQLStore(db, postgresDialect)}
}

// OpenPostgres opens and pings a pgx-backed database/sql pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	return db, nil
}
