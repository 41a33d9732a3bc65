package driver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateJSONWireResponse(t *testing.T) {
	var gotPath string
	var gotCaps map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body struct {
			DesiredCapabilities map[string]any `json:"desiredCapabilities"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotCaps = body.DesiredCapabilities
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sessionId": "abc123", "status": 0}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(0)
	id, err := client.Create(context.Background(), srv.URL, map[string]string{"browserName": "chrome"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "abc123" {
		t.Fatalf("expected session id abc123, got %q", id)
	}
	if gotPath != "/wd/hub/session" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotCaps["browserName"] != "chrome" {
		t.Fatalf("capabilities not forwarded: %v", gotCaps)
	}
}

func TestCreateW3CResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value": {"sessionId": "w3c456", "capabilities": {}}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(0)
	id, err := client.Create(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "w3c456" {
		t.Fatalf("expected session id w3c456, got %q", id)
	}
}

func TestCreateErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "session not created", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(0)
	if _, err := client.Create(context.Background(), srv.URL, nil); err == nil {
		t.Fatalf("expected an error on 500")
	}
}

func TestDeleteTargetsSession(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(0)
	if err := client.Delete(context.Background(), srv.URL, "abc123"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/wd/hub/session/abc123" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
}

func TestAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "gone") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"value": "https://example.com"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(0)
	alive, err := client.Alive(context.Background(), srv.URL, "abc123")
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	if !alive {
		t.Fatalf("expected session alive")
	}

	alive, err = client.Alive(context.Background(), srv.URL, "gone")
	if err != nil {
		t.Fatalf("alive gone: %v", err)
	}
	if alive {
		t.Fatalf("expected 404 to mean dead")
	}

	// an empty id never probes
	if alive, err := client.Alive(context.Background(), srv.URL, ""); err != nil || alive {
		t.Fatalf("expected empty id dead without error, got alive=%v err=%v", alive, err)
	}
}
