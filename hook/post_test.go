package hook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostResponse(t *testing.T) {
	var got ResponsePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/response" {
			t.Errorf("path = %q, want /response", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := PostResponse(context.Background(), srv.URL, "alice", "the reply")
	if err != nil {
		t.Fatalf("PostResponse: %v", err)
	}
	if got.Session != "alice" || got.Text != "the reply" {
		t.Errorf("payload = %+v", got)
	}
}

func TestPostResponseTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/response" {
			t.Errorf("path = %q, want /response", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := PostResponse(context.Background(), srv.URL+"/", "alice", "x"); err != nil {
		t.Fatalf("PostResponse: %v", err)
	}
}

func TestPostResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no chat recorded", http.StatusNotFound)
	}))
	defer srv.Close()

	err := PostResponse(context.Background(), srv.URL, "alice", "x")
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestPostResponseUnreachable(t *testing.T) {
	// Port 1 is essentially never listening.
	err := PostResponse(context.Background(), "http://127.0.0.1:1", "alice", "x")
	if err == nil {
		t.Fatal("expected an error for an unreachable bridge")
	}
}
