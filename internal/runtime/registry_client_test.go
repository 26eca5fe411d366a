package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexus-prp/runtime/internal/registry"
)

func TestRegistryClient_RegisterWithRetry_Succeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/register" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["agent_id"] != "agent-0a1b2c3d" {
			t.Errorf("agent_id = %v", req["agent_id"])
		}
		_ = json.NewEncoder(w).Encode(registry.Record{AgentID: "agent-0a1b2c3d", Host: "127.0.0.1", Port: 9000})
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, nil)
	rec, err := client.RegisterWithRetry(context.Background(), "agent-0a1b2c3d", "127.0.0.1", 9000, false, time.Second)
	if err != nil {
		t.Fatalf("RegisterWithRetry: %v", err)
	}
	if rec.AgentID != "agent-0a1b2c3d" || rec.Port != 9000 {
		t.Errorf("record = %+v", rec)
	}
}

func TestRegistryClient_RegisterWithRetry_TimesOutOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, nil)
	if _, err := client.RegisterWithRetry(context.Background(), "agent-0a1b2c3d", "127.0.0.1", 9000, false, 50*time.Millisecond); err == nil {
		t.Error("expected an error once startup_timeout elapses against a persistently failing registry")
	}
}

func TestRegistryClient_Heartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/agent-0a1b2c3d/heartbeat" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(registry.Record{AgentID: "agent-0a1b2c3d", Status: registry.StatusHealthy})
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, nil)
	rec, err := client.Heartbeat(context.Background(), "agent-0a1b2c3d", registry.StatusHealthy, time.Now())
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if rec.Status != registry.StatusHealthy {
		t.Errorf("status = %v, want healthy", rec.Status)
	}
}

func TestRegistryClient_HeartbeatLoop_ReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, nil)
	errs := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	client.HeartbeatLoop(ctx, "agent-0a1b2c3d", 5*time.Millisecond, errs)

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected a non-nil heartbeat error")
		}
	default:
		t.Error("expected at least one heartbeat failure to be reported")
	}
}
