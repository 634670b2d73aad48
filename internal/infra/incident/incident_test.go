package incident

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookNotifierCreate(t *testing.T) {
	var received incidentPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	n := NewWebhookNotifier(Config{WebhookURL: server.URL}, nil)
	err := n.Create(context.Background(), "cookies expired", map[string]string{
		"file_id":  "vid-1",
		"category": "cookie_expired",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if received.ID == "" {
		t.Error("incident has no ID")
	}
	if received.Summary != "cookies expired" {
		t.Errorf("summary = %s", received.Summary)
	}
	if received.Details["file_id"] != "vid-1" {
		t.Errorf("details = %v", received.Details)
	}
	if received.CreatedAt.IsZero() {
		t.Error("created_at missing")
	}
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(Config{WebhookURL: server.URL}, nil)
	if err := n.Create(context.Background(), "s", nil); err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestWebhookNotifierUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	n := NewWebhookNotifier(Config{WebhookURL: server.URL}, nil)
	if err := n.Create(context.Background(), "s", nil); err == nil {
		t.Fatal("expected error when webhook is unreachable")
	}
}
