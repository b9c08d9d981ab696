package facade

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bc-dunia/httpdrill/internal/runmanager"
	"github.com/bc-dunia/httpdrill/internal/store"
	"github.com/bc-dunia/httpdrill/internal/streamhub"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.New(store.Config{Path: ":memory:"}, slog.Default())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub := streamhub.New()
	mgr := runmanager.New(st, hub, slog.Default(), nil)
	return New(mgr, st, hub)
}

func waitIdle(t *testing.T, s *Service, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !s.IsRunning() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for idle")
}

func TestProjectEndpointLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	proj, err := svc.CreateProject(ctx, store.ProjectDTO{Name: "checkout", Description: "checkout flows"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	ep, err := svc.CreateEndpoint(ctx, proj.ID, store.EndpointDTO{
		Name: "place-order", URL: "http://example.test/orders", Method: "POST", DefaultUsers: 5,
	})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	eps, err := svc.ListEndpoints(ctx, proj.ID)
	if err != nil || len(eps) != 1 || eps[0].ID != ep.ID {
		t.Fatalf("ListEndpoints = %+v, %v", eps, err)
	}

	if err := svc.DeleteProject(ctx, proj.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, ok, err := svc.GetEndpoint(ctx, ep.ID); err != nil || ok {
		t.Fatalf("GetEndpoint after cascade delete = ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestStartAdHocRunAndSubscribe(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := svc.Subscribe()
	defer sub.Close()

	requests := int64(10)
	token, err := svc.StartAdHocRun(ctx, store.RunRequest{URL: srv.URL, Method: "GET", Users: 2, Requests: &requests})
	if err != nil {
		t.Fatalf("StartAdHocRun: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty run token")
	}

	waitIdle(t, svc, 5*time.Second)

	sawCompleted := false
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == streamhub.EventTestCompleted {
				sawCompleted = true
			}
		case <-time.After(200 * time.Millisecond):
			if !sawCompleted {
				t.Fatal("did not observe TestCompleted event")
			}
			return
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	proj, err := svc.CreateProject(ctx, store.ProjectDTO{Name: "billing"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := svc.CreateEndpoint(ctx, proj.ID, store.EndpointDTO{
		Name: "invoice", URL: "http://example.test/invoice", Method: "GET", DefaultUsers: 1,
	}); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	payload, err := svc.ExportProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ExportProject: %v", err)
	}

	imported, err := svc.ImportProject(ctx, payload)
	if err != nil {
		t.Fatalf("ImportProject: %v", err)
	}
	if imported.Name != "billing (Imported)" {
		t.Fatalf("imported.Name = %q, want suffix (Imported)", imported.Name)
	}

	eps, err := svc.ListEndpoints(ctx, imported.ID)
	if err != nil || len(eps) != 1 {
		t.Fatalf("ListEndpoints(imported) = %+v, %v", eps, err)
	}
}

func TestImportProject_RequiresName(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.ImportProject(context.Background(), store.ExportPayload{}); err == nil {
		t.Fatal("expected error for missing project name")
	}
}
