package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bc-dunia/httpdrill/internal/facade"
	"github.com/bc-dunia/httpdrill/internal/runmanager"
	"github.com/bc-dunia/httpdrill/internal/store"
	"github.com/bc-dunia/httpdrill/internal/streamhub"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	st, err := store.New(store.Config{Path: ":memory:"}, slog.Default())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	hub := streamhub.New()
	mgr := runmanager.New(st, hub, slog.Default(), nil)
	svc := facade.New(mgr, st, hub)

	srv, cleanup, err := StartTestServer(svc)
	if err != nil {
		t.Fatalf("StartTestServer: %v", err)
	}
	return srv, func() {
		cleanup()
		st.Close()
	}
}

func TestHealthz(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status field = %q, want ok", body.Status)
	}
}

func TestProjectCRUDOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	createBody, _ := json.Marshal(store.ProjectDTO{Name: "checkout"})
	resp, err := http.Post(srv.URL()+"/projects", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("POST /projects: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var proj store.Project
	if err := json.NewDecoder(resp.Body).Decode(&proj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if proj.Name != "checkout" {
		t.Fatalf("Name = %q, want checkout", proj.Name)
	}

	getResp, err := http.Get(srv.URL() + "/projects")
	if err != nil {
		t.Fatalf("GET /projects: %v", err)
	}
	defer getResp.Body.Close()
	var projects []store.Project
	if err := json.NewDecoder(getResp.Body).Decode(&projects); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("len(projects) = %d, want 1", len(projects))
	}
}

func TestStartAdHocRunRejectsMissingURL(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(StartRunRequest{Method: "GET", Users: 1})
	resp, err := http.Post(srv.URL()+"/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartAdHocRunAndConcurrentRejection(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	blocking := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer blocking.Close()

	requests := int64(100)
	body, _ := json.Marshal(StartRunRequest{URL: blocking.URL, Method: "GET", Users: 1, Requests: &requests})

	resp1, err := http.Post(srv.URL()+"/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /runs (first): %v", err)
	}
	defer resp1.Body.Close()
	if resp1.StatusCode != http.StatusCreated {
		t.Fatalf("first start status = %d, want 201", resp1.StatusCode)
	}

	resp2, err := http.Post(srv.URL()+"/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /runs (second): %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", resp2.StatusCode)
	}

	stopResp, err := http.Post(srv.URL()+"/runs/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /runs/stop: %v", err)
	}
	stopResp.Body.Close()
}
