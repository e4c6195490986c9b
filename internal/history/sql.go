package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	name string
	// nextSequence creates the conversation row if needed, bumps its
	// counter and returns the new value while holding the row lock.
	nextSequence string
	insertTurn   string
	loadTurns    string
	timeValue    func(time.Time) any
}

// sqlStore implements Store on database/sql. Sequences are allocated from
// the conversation row inside the same transaction that inserts the turn.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	tracer  trace.Tracer
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	if db == nil {
		panic("history: sql db cannot be nil")
	}
	return &sqlStore{
		db:      db,
		dialect: d,
		tracer:  otel.Tracer("patientpal.internal.history." + d.name),
	}
}

func (s *sqlStore) Append(ctx context.Context, userID string, turn Turn) (Turn, error) {
	turn, err := prepare(userID, turn)
	if err != nil {
		return Turn{}, err
	}
	ctx, span := s.tracer.Start(ctx, "history."+s.dialect.name+".append", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	parts, err := json.Marshal(turn.Parts)
	if err != nil {
		return Turn{}, storageError("marshal parts", err)
	}
	var payload any
	if turn.Payload != nil {
		data, err := json.Marshal(turn.Payload)
		if err != nil {
			return Turn{}, storageError("marshal payload", err)
		}
		payload = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return Turn{}, storageError("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.dialect.timeValue(turn.CreatedAt)
	var seq int64
	if err := tx.QueryRowContext(ctx, s.dialect.nextSequence, userID, now, now).Scan(&seq); err != nil {
		span.RecordError(err)
		return Turn{}, storageError("allocate sequence", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.insertTurn, userID, seq, string(turn.Role), string(parts), payload, now); err != nil {
		span.RecordError(err)
		return Turn{}, storageError("insert turn", err)
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return Turn{}, storageError("commit append", err)
	}
	turn.Sequence = seq
	return turn, nil
}

func (s *sqlStore) Load(ctx context.Context, userID string) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "history."+s.dialect.name+".load", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.dialect.loadTurns, userID)
	if err != nil {
		span.RecordError(err)
		return nil, storageError("load transcript", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var (
			turn    Turn
			role    string
			parts   string
			payload sql.NullString
			created any
		)
		if err := rows.Scan(&turn.Sequence, &role, &parts, &payload, &created); err != nil {
			span.RecordError(err)
			return nil, storageError("scan turn", err)
		}
		turn.Role = Role(role)
		if err := json.Unmarshal([]byte(parts), &turn.Parts); err != nil {
			return nil, storageError(fmt.Sprintf("decode turn %d", turn.Sequence), err)
		}
		if payload.Valid && payload.String != "" {
			turn.Payload = &Payload{}
			if err := json.Unmarshal([]byte(payload.String), turn.Payload); err != nil {
				return nil, storageError(fmt.Sprintf("decode payload %d", turn.Sequence), err)
			}
		}
		turn.CreatedAt = scanTime(created)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, storageError("iterate transcript", err)
	}
	return turns, nil
}

func scanTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case int64:
		return time.Unix(0, t).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	case []byte:
		if parsed, err := time.Parse(time.RFC3339Nano, string(t)); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
