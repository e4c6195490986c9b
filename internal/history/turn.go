// Package history persists the per-user chat transcript. A conversation is
// an append-only list of turns; stores never rewrite or drop a committed
// turn.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the persisted speaker of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ErrStorage marks failures of the underlying store. Callers treat it as
// fatal for the message being handled.
var ErrStorage = errors.New("transcript storage unavailable")

// Payload is the structured request behind an assistant reply.
type Payload struct {
	Operation string            `json:"operation"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// Turn is one message of a conversation. Sequence is assigned by the store
// on append and starts at 1.
type Turn struct {
	Role      Role      `json:"role"`
	Parts     []string  `json:"parts"`
	Payload   *Payload  `json:"payload,omitempty"`
	Sequence  int64     `json:"sequence,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []string{text}}
}

func ModelTurn(text string, payload *Payload) Turn {
	return Turn{Role: RoleModel, Parts: []string{text}, Payload: payload}
}

// Text joins the turn's parts.
func (t Turn) Text() string {
	return strings.Join(t.Parts, "\n")
}

// Store is a durable per-user transcript.
type Store interface {
	// Append commits turn as the last turn of userID's conversation and
	// returns it with its assigned sequence.
	Append(ctx context.Context, userID string, turn Turn) (Turn, error)
	// Load returns the committed turns in order. A user without a
	// conversation has an empty transcript.
	Load(ctx context.Context, userID string) ([]Turn, error)
}

// DisplayMessage is the transcript shape replayed to chat clients.
type DisplayMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// ToDisplay maps turns to sender "user" or "server".
func ToDisplay(turns []Turn) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(turns))
	for _, turn := range turns {
		sender := "server"
		if turn.Role == RoleUser {
			sender = "user"
		}
		out = append(out, DisplayMessage{Sender: sender, Text: turn.Text()})
	}
	return out
}

func prepare(userID string, turn Turn) (Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return Turn{}, errors.New("history: user id required")
	}
	if turn.Role != RoleUser && turn.Role != RoleModel {
		return Turn{}, fmt.Errorf("history: invalid role %q", turn.Role)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	turn.Sequence = 0
	return turn, nil
}

func storageError(action string, err error) error {
	return fmt.Errorf("history: %s: %w: %w", action, ErrStorage, err)
}
