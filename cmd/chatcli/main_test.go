package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wolfman30/patientpal/internal/booking"
	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/intent"
	"github.com/wolfman30/patientpal/internal/operations"
	"github.com/wolfman30/patientpal/internal/session"
)

type echoClassifier struct{}

func (echoClassifier) Classify(_ context.Context, _ []history.Turn, text string, _ intent.Pending) (intent.Outcome, error) {
	return intent.Outcome{Kind: intent.Unrecognized, Reply: "echo: " + text}, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Execute(context.Context, booking.DispatchKey, operations.Operation) (booking.Result, error) {
	return booking.Result{}, nil
}

func TestChatPrintsHistoryAndReplies(t *testing.T) {
	store := history.NewMemoryStore()
	_, _ = store.Append(context.Background(), "console", history.UserTurn("earlier"))
	manager := session.NewManager(store, echoClassifier{}, nopDispatcher{})

	var out bytes.Buffer
	in := strings.NewReader("hello\n\nexit\nignored\n")
	if err := chat(context.Background(), manager, "console", in, &out); err != nil {
		t.Fatalf("chat: %v", err)
	}

	got := out.String()
	for _, want := range []string{"user> earlier", "server> echo: hello", "[session closed: disconnected]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Fatalf("input after exit was processed:\n%s", got)
	}
	if manager.Connected("console") {
		t.Fatalf("expected session released")
	}
}
