package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	created := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs("alice", created, created).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs("alice", int64(3), "model", `["Done!"]`, `{"operation":"CANCEL_APPOINTMENT","arguments":{"appointment_id":"123456"}}`, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	turn := ModelTurn("Done!", &Payload{Operation: "CANCEL_APPOINTMENT", Arguments: map[string]string{"appointment_id": "123456"}})
	turn.CreatedAt = created
	got, err := store.Append(context.Background(), "alice", turn)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %d", got.Sequence)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAppendRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conversations").
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO conversation_turns").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = store.Append(context.Background(), "alice", UserTurn("hi"))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"sequence", "role", "parts", "payload", "created_at"}).
		AddRow(int64(1), "user", `["cancel 123456"]`, nil, at).
		AddRow(int64(2), "model", `["Cancelled."]`, `{"operation":"CANCEL_APPOINTMENT"}`, at)
	mock.ExpectQuery("SELECT sequence, role").WithArgs("alice").WillReturnRows(rows)

	turns, err := store.Load(context.Background(), "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Payload != nil || turns[1].Payload == nil || turns[1].Payload.Operation != "CANCEL_APPOINTMENT" {
		t.Fatalf("unexpected payloads %+v %+v", turns[0].Payload, turns[1].Payload)
	}
	if !turns[1].CreatedAt.Equal(at) {
		t.Fatalf("unexpected created_at %v", turns[1].CreatedAt)
	}

	mock.ExpectQuery("SELECT sequence, role").WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "role", "parts", "payload", "created_at"}))
	turns, err = store.Load(context.Background(), "nobody")
	if err != nil || turns == nil || len(turns) != 0 {
		t.Fatalf("expected empty transcript, got %v %v", turns, err)
	}

	mock.ExpectQuery("SELECT sequence, role").WithArgs("broken").WillReturnError(errors.New("conn reset"))
	if _, err := store.Load(context.Background(), "broken"); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
