package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/patientpal/internal/operations"
)

type DispatchStatus string

const (
	DispatchPending   DispatchStatus = "pending"
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
)

// Dispatch records one mutation sent to the provider.
type Dispatch struct {
	Key       string
	Operation operations.Name
	Status    DispatchStatus
	Result    Result
}

// Ledger guards mutations so that a dispatch key reaches the provider at
// most once.
type Ledger interface {
	// Reserve claims key. It reports false together with the earlier record
	// when the key was already claimed.
	Reserve(ctx context.Context, key string, op operations.Name) (Dispatch, bool, error)
	Complete(ctx context.Context, key string, result Result) error
	Fail(ctx context.Context, key string) error
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]Dispatch
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]Dispatch)}
}

func (l *MemoryLedger) Reserve(_ context.Context, key string, op operations.Name) (Dispatch, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.entries[key]; ok {
		return existing, false, nil
	}
	d := Dispatch{Key: key, Operation: op, Status: DispatchPending}
	l.entries[key] = d
	return d, true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, key string, result Result) error {
	return l.update(key, DispatchSucceeded, result)
}

func (l *MemoryLedger) Fail(_ context.Context, key string) error {
	return l.update(key, DispatchFailed, Result{})
}

func (l *MemoryLedger) update(key string, status DispatchStatus, result Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("booking: unknown dispatch %s", key)
	}
	d.Status = status
	d.Result = result
	l.entries[key] = d
	return nil
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger persists dispatches in appointment_dispatches so the guard
// survives restarts and is shared by every replica.
type PostgresLedger struct {
	pool rowQuerier
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &PostgresLedger{pool: pool}
}

func newPostgresLedgerWithExec(exec rowQuerier) *PostgresLedger {
	if exec == nil {
		panic("booking: exec required")
	}
	return &PostgresLedger{pool: exec}
}

func (l *PostgresLedger) Reserve(ctx context.Context, key string, op operations.Name) (Dispatch, bool, error) {
	ct, err := l.pool.Exec(ctx, `
		INSERT INTO appointment_dispatches (dispatch_key, operation)
		VALUES ($1, $2)
		ON CONFLICT (dispatch_key) DO NOTHING
	`, key, string(op))
	if err != nil {
		return Dispatch{}, false, fmt.Errorf("booking: reserve dispatch: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return Dispatch{Key: key, Operation: op, Status: DispatchPending}, true, nil
	}

	var (
		operation, status string
		raw               []byte
	)
	err = l.pool.QueryRow(ctx,
		`SELECT operation, status, result FROM appointment_dispatches WHERE dispatch_key = $1`, key,
	).Scan(&operation, &status, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispatch{}, false, fmt.Errorf("booking: dispatch %s vanished", key)
		}
		return Dispatch{}, false, fmt.Errorf("booking: load dispatch: %w", err)
	}
	d := Dispatch{Key: key, Operation: operations.Name(operation), Status: DispatchStatus(status)}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &d.Result.Values); err != nil {
			return Dispatch{}, false, fmt.Errorf("booking: decode dispatch result: %w", err)
		}
	}
	return d, false, nil
}

func (l *PostgresLedger) Complete(ctx context.Context, key string, result Result) error {
	values := result.Values
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("booking: encode dispatch result: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		UPDATE appointment_dispatches
		SET status = 'succeeded', result = $2, updated_at = NOW()
		WHERE dispatch_key = $1
	`, key, data)
	if err != nil {
		return fmt.Errorf("booking: complete dispatch: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Fail(ctx context.Context, key string) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE appointment_dispatches
		SET status = 'failed', updated_at = NOW()
		WHERE dispatch_key = $1
	`, key)
	if err != nil {
		return fmt.Errorf("booking: fail dispatch: %w", err)
	}
	return nil
}
