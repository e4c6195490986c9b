package main

import (
	"net/http"
	"testing"

	appconfig "github.com/wolfman30/patientpal/internal/config"
)

func TestNewServer(t *testing.T) {
	handler := http.NotFoundHandler()
	srv := newServer(&appconfig.Config{Port: "9090"}, handler)

	if srv.Addr != ":9090" {
		t.Fatalf("expected :9090, got %s", srv.Addr)
	}
	if srv.WriteTimeout != 0 {
		t.Fatalf("expected no write timeout for websocket connections, got %s", srv.WriteTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Fatalf("expected a read header timeout")
	}
}
