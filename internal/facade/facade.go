// Package facade composes the run manager, store, and stream hub into the
// single operation set consumed by the HTTP adapter and the CLI. It holds no
// state of its own beyond its three collaborators.
package facade

import (
	"context"
	"fmt"

	"github.com/bc-dunia/httpdrill/internal/hoststats"
	"github.com/bc-dunia/httpdrill/internal/runmanager"
	"github.com/bc-dunia/httpdrill/internal/store"
	"github.com/bc-dunia/httpdrill/internal/streamhub"
)

// Service is the façade. Adapters hold one Service and translate their own
// wire format to and from its method signatures.
type Service struct {
	runs  *runmanager.Manager
	store *store.Store
	hub   *streamhub.Hub
}

// New builds a Service from its three collaborators.
func New(runs *runmanager.Manager, st *store.Store, hub *streamhub.Hub) *Service {
	return &Service{runs: runs, store: st, hub: hub}
}

// StartEndpointRun starts a run from a stored endpoint's configuration.
func (s *Service) StartEndpointRun(ctx context.Context, endpointID int64, usersOverride *int) (string, error) {
	return s.runs.StartEndpointRun(ctx, endpointID, usersOverride)
}

// StartAdHocRun starts a run from an inline request.
func (s *Service) StartAdHocRun(ctx context.Context, req store.RunRequest) (string, error) {
	return s.runs.StartAdHocRun(ctx, req)
}

// StopRun cancels the active run, if any.
func (s *Service) StopRun() error {
	return s.runs.StopRun()
}

// IsRunning reports whether a run currently occupies the process's single
// active-run slot.
func (s *Service) IsRunning() bool {
	return s.runs.IsRunning()
}

// TestAuth performs a one-off token fetch without starting a run.
func (s *Service) TestAuth(ctx context.Context, auth store.AuthSpec, insecure bool) (string, error) {
	result, ferr := s.runs.TestAuth(ctx, auth, insecure)
	if ferr != nil {
		return "", ferr
	}
	return result.HeaderValue, nil
}

// Subscribe returns a live handle on the run event stream. Callers must
// Close the subscription when done to release its mailbox.
func (s *Service) Subscribe() *streamhub.Subscription {
	return s.hub.Subscribe()
}

// HostSnapshot reports the load generator's own resource usage, useful for
// judging whether it is itself the bottleneck during a run.
func (s *Service) HostSnapshot() hoststats.Snapshot {
	return hoststats.Sample()
}

// -- Projects --

func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) GetProject(ctx context.Context, id int64) (store.Project, bool, error) {
	return s.store.GetProject(ctx, id)
}

func (s *Service) CreateProject(ctx context.Context, dto store.ProjectDTO) (store.Project, error) {
	return s.store.CreateProject(ctx, dto)
}

func (s *Service) UpdateProject(ctx context.Context, id int64, dto store.ProjectDTO) error {
	return s.store.UpdateProject(ctx, id, dto)
}

func (s *Service) DeleteProject(ctx context.Context, id int64) error {
	return s.store.DeleteProject(ctx, id)
}

func (s *Service) SetProjectAuth(ctx context.Context, id int64, auth store.AuthSpec) error {
	return s.store.SetProjectAuth(ctx, id, auth)
}

func (s *Service) ClearProjectAuth(ctx context.Context, id int64) error {
	return s.store.ClearProjectAuth(ctx, id)
}

// -- Endpoints --

func (s *Service) ListEndpoints(ctx context.Context, projectID int64) ([]store.Endpoint, error) {
	return s.store.ListEndpointsByProject(ctx, projectID)
}

func (s *Service) GetEndpoint(ctx context.Context, id int64) (store.Endpoint, bool, error) {
	return s.store.GetEndpoint(ctx, id)
}

func (s *Service) CreateEndpoint(ctx context.Context, projectID int64, dto store.EndpointDTO) (store.Endpoint, error) {
	return s.store.CreateEndpoint(ctx, projectID, dto)
}

func (s *Service) UpdateEndpoint(ctx context.Context, id int64, dto store.EndpointDTO) error {
	return s.store.UpdateEndpoint(ctx, id, dto)
}

func (s *Service) DeleteEndpoint(ctx context.Context, id int64) error {
	return s.store.DeleteEndpoint(ctx, id)
}

// -- Runs --

func (s *Service) ListRuns(ctx context.Context, filter store.SearchFilter) ([]store.Run, error) {
	return s.store.Search(ctx, filter)
}

func (s *Service) GetRun(ctx context.Context, id int64) (store.Run, bool, error) {
	return s.store.GetByID(ctx, id)
}

// RunTimeline bundles a run with its sampled snapshot history.
type RunTimeline struct {
	Run       store.Run
	Snapshots []store.Snapshot
}

func (s *Service) GetRunWithTimeline(ctx context.Context, id int64) (RunTimeline, bool, error) {
	run, snaps, ok, err := s.store.GetWithSnapshots(ctx, id)
	if err != nil || !ok {
		return RunTimeline{}, ok, err
	}
	return RunTimeline{Run: run, Snapshots: snaps}, true, nil
}

func (s *Service) DeleteRun(ctx context.Context, id int64) error {
	return s.store.DeleteRun(ctx, id)
}

func (s *Service) RunStatistics(ctx context.Context, projectID, endpointID *int64) (store.RunStatistics, error) {
	return s.store.Statistics(ctx, projectID, endpointID)
}

// -- Import / Export --

func (s *Service) ExportProject(ctx context.Context, id int64) (store.ExportPayload, error) {
	return s.store.Export(ctx, id)
}

func (s *Service) ImportProject(ctx context.Context, payload store.ExportPayload) (store.Project, error) {
	if payload.Project.Name == "" {
		return store.Project{}, fmt.Errorf("facade: import: project.name is required")
	}
	return s.store.Import(ctx, payload)
}
