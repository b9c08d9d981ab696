package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bc-dunia/httpdrill/internal/stats"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: ":memory:"}, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, ProjectDTO{Name: "checkout", Description: "checkout service"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected a surrogate id")
	}

	got, ok, err := s.GetProject(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("GetProject: ok=%v err=%v", ok, err)
	}
	if got.Name != "checkout" {
		t.Fatalf("Name = %q, want checkout", got.Name)
	}

	_, ok, err = s.GetProject(ctx, 99999)
	if err != nil {
		t.Fatalf("GetProject nonexistent: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for nonexistent project")
	}

	if err := s.SetProjectAuth(ctx, p.ID, AuthSpec{URL: "https://auth", TokenPath: "data.token", HeaderName: "Authorization", HeaderPrefix: "Bearer "}); err != nil {
		t.Fatalf("SetProjectAuth: %v", err)
	}
	got, _, _ = s.GetProject(ctx, p.ID)
	if got.Auth == nil || got.Auth.TokenPath != "data.token" {
		t.Fatalf("Auth = %+v, want non-nil with token path", got.Auth)
	}

	if err := s.ClearProjectAuth(ctx, p.ID); err != nil {
		t.Fatalf("ClearProjectAuth: %v", err)
	}
	got, _, _ = s.GetProject(ctx, p.ID)
	if got.Auth != nil {
		t.Fatal("expected Auth to be cleared")
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	_, ok, _ = s.GetProject(ctx, p.ID)
	if ok {
		t.Fatal("expected project to be gone after delete")
	}
}

func TestEndpointCreateRefreshesProjectUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, ProjectDTO{Name: "p"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	before := p.UpdatedAt

	time.Sleep(2 * time.Millisecond)

	_, err = s.CreateEndpoint(ctx, p.ID, EndpointDTO{Name: "e1", URL: "https://x", Method: "GET", DefaultUsers: 10})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	after, _, _ := s.GetProject(ctx, p.ID)
	if !after.UpdatedAt.After(before) {
		t.Fatalf("project updatedAt not refreshed: before=%v after=%v", before, after.UpdatedAt)
	}
}

func TestEndpointDeleteCascadesCorrectly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, ProjectDTO{Name: "p"})
	ep, err := s.CreateEndpoint(ctx, p.ID, EndpointDTO{Name: "e", URL: "https://x", Method: "GET", DefaultUsers: 5})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	run, err := s.CreateForEndpoint(ctx, ep, nil)
	if err != nil {
		t.Fatalf("CreateForEndpoint: %v", err)
	}

	if err := s.DeleteEndpoint(ctx, ep.ID); err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}

	got, ok, err := s.GetByID(ctx, run.ID)
	if err != nil || !ok {
		t.Fatalf("run should survive endpoint deletion: ok=%v err=%v", ok, err)
	}
	if got.EndpointID != nil {
		t.Fatalf("EndpointID = %v, want nil after endpoint delete", *got.EndpointID)
	}
}

func TestProjectDeleteCascadesToEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, ProjectDTO{Name: "p"})
	ep, err := s.CreateEndpoint(ctx, p.ID, EndpointDTO{Name: "e", URL: "https://x", Method: "GET", DefaultUsers: 5})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	_, ok, err := s.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if ok {
		t.Fatal("expected endpoint to be cascade-deleted")
	}
}

func TestCreateForEndpointDefaultsToRequestBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, ProjectDTO{Name: "p"})
	ep, err := s.CreateEndpoint(ctx, p.ID, EndpointDTO{Name: "e", URL: "https://x", Method: "GET", DefaultUsers: 5})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	run, err := s.CreateForEndpoint(ctx, ep, nil)
	if err != nil {
		t.Fatalf("CreateForEndpoint: %v", err)
	}
	if run.TargetRequests == nil || *run.TargetRequests != 100 {
		t.Fatalf("TargetRequests = %v, want 100 (default budget)", run.TargetRequests)
	}
	if run.TargetDurationSeconds != nil {
		t.Fatal("expected TargetDurationSeconds to remain nil")
	}
}

func TestRunLifecycleCompleteAndSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateAdHoc(ctx, RunRequest{URL: "https://x", Method: "GET", Users: 2, Requests: int64Ptr(10)})
	if err != nil {
		t.Fatalf("CreateAdHoc: %v", err)
	}
	if run.Status != RunRunning {
		t.Fatalf("Status = %v, want Running", run.Status)
	}

	if err := s.AppendSnapshot(ctx, run.RunToken, Snapshot{Timestamp: time.Now(), Total: 1, Successful: 1, ResponseTimeMs: 50, StatusCode: 200, AverageResponseTime: 50, CurrentRPS: 10}); err != nil {
		t.Fatalf("AppendSnapshot: %v", err)
	}

	completion := RunCompletion{
		CompletedAt: time.Now(), Total: 10, Successful: 10, Failed: 0, ElapsedMs: 500, PeakRPS: 20,
		Latency:         stats.Aggregate{Count: 10, Avg: 50, Min: 40, Max: 60, P50: 50, P75: 55, P90: 58, P95: 59, P99: 60},
		StatusBreakdown: map[int]stats.Aggregate{200: {Count: 10, Avg: 50, Min: 40, Max: 60}},
	}
	if err := s.Complete(ctx, run.ID, completion); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	final, snaps, ok, err := s.GetWithSnapshots(ctx, run.ID)
	if err != nil || !ok {
		t.Fatalf("GetWithSnapshots: ok=%v err=%v", ok, err)
	}
	if final.Status != RunCompleted {
		t.Fatalf("Status = %v, want Completed", final.Status)
	}
	if final.Total != 10 || final.PeakRPS != 20 {
		t.Fatalf("final = %+v", final)
	}
	if len(snaps) != 1 {
		t.Fatalf("len(snaps) = %d, want 1", len(snaps))
	}
}

func TestAppendSnapshotNoOpForUnknownRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendSnapshot(ctx, "nonexistent-token", Snapshot{Timestamp: time.Now()}); err != nil {
		t.Fatalf("AppendSnapshot should no-op silently, got: %v", err)
	}
}

func TestSearchFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1, _ := s.CreateAdHoc(ctx, RunRequest{URL: "https://x", Method: "GET", Users: 1, Requests: int64Ptr(5)})
	r2, _ := s.CreateAdHoc(ctx, RunRequest{URL: "https://y", Method: "GET", Users: 1, Requests: int64Ptr(5)})

	if err := s.Fail(ctx, r2.ID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	running, err := s.Search(ctx, SearchFilter{Status: RunRunning})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(running) != 1 || running[0].ID != r1.ID {
		t.Fatalf("Search(Running) = %+v, want just r1", running)
	}

	failed, err := s.Search(ctx, SearchFilter{Status: RunFailed})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "boom" {
		t.Fatalf("Search(Failed) = %+v", failed)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, ProjectDTO{Name: "orders"})
	ep, err := s.CreateEndpoint(ctx, p.ID, EndpointDTO{Name: "list", URL: "https://x/orders", Method: "GET", DefaultUsers: 4})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	run, err := s.CreateForEndpoint(ctx, ep, nil)
	if err != nil {
		t.Fatalf("CreateForEndpoint: %v", err)
	}
	if err := s.Complete(ctx, run.ID, RunCompletion{CompletedAt: time.Now(), Total: 100, Successful: 100, Latency: stats.Aggregate{Count: 100}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	payload, err := s.Export(ctx, p.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(payload.Project.Endpoints) != 1 {
		t.Fatalf("exported endpoints = %d, want 1", len(payload.Project.Endpoints))
	}
	if len(payload.Project.Endpoints[0].Executions) != 1 {
		t.Fatalf("exported executions = %d, want 1", len(payload.Project.Endpoints[0].Executions))
	}

	imported, err := s.Import(ctx, payload)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.Name != "orders (Imported)" {
		t.Fatalf("imported name = %q, want %q", imported.Name, "orders (Imported)")
	}

	importedEndpoints, err := s.ListEndpointsByProject(ctx, imported.ID)
	if err != nil {
		t.Fatalf("ListEndpointsByProject: %v", err)
	}
	if len(importedEndpoints) != 1 {
		t.Fatalf("imported endpoints = %d, want 1", len(importedEndpoints))
	}

	eid := importedEndpoints[0].ID
	importedRuns, err := s.Search(ctx, SearchFilter{EndpointID: &eid})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(importedRuns) != 1 {
		t.Fatalf("imported runs = %d, want 1", len(importedRuns))
	}
	if importedRuns[0].RunToken == run.RunToken {
		t.Fatal("imported run should have a freshly generated token")
	}
	if len(importedRuns[0].RunToken) < len("imported-") || importedRuns[0].RunToken[:9] != "imported-" {
		t.Fatalf("imported run token %q should be prefixed imported-", importedRuns[0].RunToken)
	}
}

func TestImportRejectsMissingProjectName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Import(ctx, ExportPayload{Project: ExportedProject{}})
	if err != ErrImportInvalid {
		t.Fatalf("err = %v, want ErrImportInvalid", err)
	}
}

func int64Ptr(v int64) *int64 { return &v }
