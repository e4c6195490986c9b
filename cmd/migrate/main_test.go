package main

import (
	"testing"

	appconfig "github.com/wolfman30/patientpal/internal/config"
	"github.com/wolfman30/patientpal/pkg/logging"
)

func TestRunRequiresDatabaseURL(t *testing.T) {
	if err := run(&appconfig.Config{}, nil, logging.New("error")); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestIntArg(t *testing.T) {
	if n, err := intArg([]string{"down", "2"}, "steps"); err != nil || n != 2 {
		t.Fatalf("expected 2, got %d (%v)", n, err)
	}
	for _, args := range [][]string{{"down"}, {"down", "x"}, {"force", "-1"}} {
		if _, err := intArg(args, "n"); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}
