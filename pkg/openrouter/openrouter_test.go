package openrouter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	cfg := Config{Model: "some/model"}
	if _, err := cfg.New(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if NewClient(cfg) != nil {
		t.Fatalf("client without key should be nil")
	}
}

func TestPreflight(t *testing.T) {
	t.Parallel()

	var gotAuth, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		if !strings.HasSuffix(r.URL.Path, "/models/vendor/model-a") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"no such model"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"vendor/model-a","object":"model","created":1,"owned_by":"vendor"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "k", SiteURL: "https://agentpay.local"})
	if err := Preflight(context.Background(), client, "vendor/model-a"); err != nil {
		t.Fatalf("Preflight error: %v", err)
	}
	if gotAuth != "Bearer k" || gotReferer != "https://agentpay.local" {
		t.Fatalf("unexpected headers auth=%q referer=%q", gotAuth, gotReferer)
	}
	if err := Preflight(context.Background(), client, "vendor/missing"); err == nil {
		t.Fatalf("expected error for unknown model")
	}
	if err := Preflight(context.Background(), nil, "x"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("nil client should report missing key, got %v", err)
	}
}
