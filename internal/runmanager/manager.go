package runmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bc-dunia/httpdrill/internal/engine"
	"github.com/bc-dunia/httpdrill/internal/otelinst"
	"github.com/bc-dunia/httpdrill/internal/store"
	"github.com/bc-dunia/httpdrill/internal/streamhub"
	"github.com/bc-dunia/httpdrill/internal/tokenfetch"
)

// Manager owns the process's single active-run slot and sequences a run
// through Idle -> [Authenticating] -> Running -> a terminal state -> Idle.
type Manager struct {
	mu    sync.Mutex
	state RunState

	currentToken string
	currentRunID int64
	cancel       context.CancelFunc

	store *store.Store
	hub   *streamhub.Hub
	log   *slog.Logger
	inst  *otelinst.Instrumentation
}

// New constructs an idle Manager. A nil inst runs with instrumentation
// disabled.
func New(st *store.Store, hub *streamhub.Hub, log *slog.Logger, inst *otelinst.Instrumentation) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if inst == nil {
		inst = otelinst.Noop()
	}
	return &Manager{state: StateIdle, store: st, hub: hub, log: log, inst: inst}
}

// IsRunning reports whether a run currently occupies the slot.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle
}

// StartEndpointRun starts a run captured from an endpoint's stored
// configuration, optionally overriding its default user count. The
// Authenticating phase runs synchronously: a failed token fetch returns
// AuthFailed to the caller directly rather than only reaching it via the
// stream hub. Only the engine run itself is dispatched asynchronously.
func (m *Manager) StartEndpointRun(ctx context.Context, endpointID int64, usersOverride *int) (string, error) {
	endpoint, ok, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return "", newEngineFatalError("", err)
	}
	if !ok {
		return "", newNotFoundError(fmt.Sprintf("endpoint %d not found", endpointID))
	}

	// The endpoint's own auth spec overrides its project's; an endpoint
	// marked RequiresAuth without a spec of its own uses the project's.
	auth := endpoint.Auth
	if auth == nil && endpoint.RequiresAuth {
		project, ok, err := m.store.GetProject(ctx, endpoint.ProjectID)
		if err != nil {
			return "", newEngineFatalError("", err)
		}
		if ok {
			auth = project.Auth
		}
	}

	run, err := m.acquireAndCreate(ctx, func() (store.Run, error) {
		return m.store.CreateForEndpoint(ctx, endpoint, usersOverride)
	})
	if err != nil {
		return "", err
	}

	bearerName, bearerValue, authErr := m.authenticate(ctx, run, auth, endpoint.InsecureTLS)
	if authErr != nil {
		return "", authErr
	}

	m.launch(run, bearerName, bearerValue, endpoint.InsecureTLS)
	return run.RunToken, nil
}

// StartAdHocRun starts a run from an inline request, not tied to any
// stored endpoint. Like StartEndpointRun, the Authenticating phase runs
// synchronously and AuthFailed is returned directly on a failed fetch.
func (m *Manager) StartAdHocRun(ctx context.Context, req store.RunRequest) (string, error) {
	if req.URL == "" {
		return "", newValidationError("url is required")
	}
	if req.Users < 1 {
		return "", newValidationError("users must be >= 1")
	}
	if req.Requests != nil && req.DurationSeconds != nil {
		return "", newValidationError("at most one of requests or duration may be set")
	}

	run, err := m.acquireAndCreate(ctx, func() (store.Run, error) {
		return m.store.CreateAdHoc(ctx, req)
	})
	if err != nil {
		return "", err
	}

	bearerName, bearerValue, authErr := m.authenticate(ctx, run, req.Auth, req.InsecureTLS)
	if authErr != nil {
		return "", authErr
	}

	m.launch(run, bearerName, bearerValue, req.InsecureTLS)
	return run.RunToken, nil
}

// acquireAndCreate gates the slot, runs create (which persists the run
// record), and records the new occupant as Authenticating. It holds the
// lock for the gate check and the store write so a second concurrent start
// cannot slip in between them: a second concurrent start is refused
// outright, never queued.
func (m *Manager) acquireAndCreate(ctx context.Context, create func() (store.Run, error)) (store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return store.Run{}, newRunInProgressError(m.currentToken)
	}

	run, err := create()
	if err != nil {
		return store.Run{}, newEngineFatalError("", err)
	}

	m.state = StateAuthenticating
	m.currentToken = run.RunToken
	m.currentRunID = run.ID
	return run, nil
}

// authenticate runs the Authenticating phase synchronously with the
// caller of Start*Run. auth == nil skips straight to Running. A failed
// fetch publishes AuthFailed on the hub, marks the run Failed in the
// store, returns the slot to Idle, and hands the caller an AuthFailed
// RunManagerError directly.
func (m *Manager) authenticate(ctx context.Context, run store.Run, auth *store.AuthSpec, insecureTLS bool) (string, string, *RunManagerError) {
	if auth == nil {
		m.setState(StateRunning)
		return "", "", nil
	}

	m.hub.PublishAuthStarted(run.RunToken)

	result, ferr := tokenfetch.Fetch(ctx, toTokenSpec(*auth, insecureTLS))
	if ferr != nil {
		m.hub.PublishAuthFailed(run.RunToken, ferr.Error())
		m.hub.PublishError(run.RunToken, ferr.Error())
		rmErr := newAuthFailedError(run.RunToken, ferr.Error(), ferr)
		m.failRun(run, rmErr)
		return "", "", rmErr
	}

	m.hub.PublishAuthSuccess(run.RunToken)
	m.setState(StateRunning)
	return result.HeaderName, result.HeaderValue, nil
}

// launch spawns the engine run in a background goroutine. By the time
// launch is called the Authenticating phase has already completed
// successfully; only the request loop itself runs asynchronously.
func (m *Manager) launch(run store.Run, bearerHeaderName, bearerToken string, insecureTLS bool) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.failRun(run, newEngineFatalError(run.RunToken, fmt.Errorf("panic: %v", r)))
			}
		}()
		m.runLifecycle(ctx, run, bearerHeaderName, bearerToken, insecureTLS)
	}()
}

func (m *Manager) runLifecycle(ctx context.Context, run store.Run, bearerHeaderName, bearerToken string, insecureTLS bool) {
	cfg := engine.Config{
		RunToken:    run.RunToken,
		URL:         run.URL,
		Users:       run.Users,
		Headers:     run.Headers,
		Body:        run.Body,
		ContentType: run.ContentType,
		InsecureTLS: insecureTLS,
	}
	method, err := engine.ParseMethod(run.Method)
	if err != nil {
		m.failRun(run, newValidationError(err.Error()))
		return
	}
	cfg.Method = method

	switch {
	case run.TargetRequests != nil:
		stop, err := engine.NewBudget(*run.TargetRequests)
		if err != nil {
			m.failRun(run, newValidationError(err.Error()))
			return
		}
		cfg.Stop = stop
	case run.TargetDurationSeconds != nil:
		stop, err := engine.NewDuration(secondsToDuration(*run.TargetDurationSeconds))
		if err != nil {
			m.failRun(run, newValidationError(err.Error()))
			return
		}
		cfg.Stop = stop
	}

	if bearerToken != "" {
		cfg.BearerHeaderName = bearerHeaderName
		cfg.BearerToken = bearerToken
	}

	eng, err := engine.New(cfg, m.hub, &snapshotSink{store: m.store})
	if err != nil {
		m.failRun(run, newValidationError(err.Error()))
		return
	}
	eng.SetInstrumentation(m.inst)

	result := eng.Run(ctx)

	completion := store.RunCompletion{
		Total: result.Total, Successful: result.Successful, Failed: result.Failed,
		ElapsedMs: result.ElapsedMs, PeakRPS: result.PeakRPS, Latency: result.Latency,
		StatusBreakdown: result.PerStatus,
	}

	if ctx.Err() != nil {
		completion.CompletedAt = time.Now()
		if err := m.store.Cancel(context.Background(), run.ID, completion); err != nil {
			m.log.Error("store cancel failed", "run_token", run.RunToken, "error", err)
		}
		m.toIdle()
		return
	}

	completion.CompletedAt = time.Now()
	if err := m.store.Complete(context.Background(), run.ID, completion); err != nil {
		m.log.Error("store complete failed", "run_token", run.RunToken, "error", err)
	}
	m.hub.PublishCompleted(run.RunToken, toRunAggregate(run.RunToken, result))
	m.toIdle()
}

func (m *Manager) failRun(run store.Run, rmErr *RunManagerError) {
	if err := m.store.Fail(context.Background(), run.ID, rmErr.Error()); err != nil {
		m.log.Error("store fail failed", "run_token", run.RunToken, "error", err)
	}
	m.toIdle()
}

func (m *Manager) setState(s RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if CanTransition(m.state, s) {
		m.state = s
	}
}

func (m *Manager) toIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.currentToken = ""
	m.currentRunID = 0
	m.cancel = nil
}

// StopRun cancels the active run's cooperative token. A no-op on an idle slot.
func (m *Manager) StopRun() error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// TestAuth performs a one-off token fetch without starting a run, for the
// façade's testAuth operation.
func (m *Manager) TestAuth(ctx context.Context, auth store.AuthSpec, insecureTLS bool) (tokenfetch.Result, *tokenfetch.FetchError) {
	return tokenfetch.Fetch(ctx, toTokenSpec(auth, insecureTLS))
}

func toTokenSpec(auth store.AuthSpec, insecureTLS bool) tokenfetch.Spec {
	return tokenfetch.Spec{
		URL: auth.URL, Method: auth.Method, Headers: auth.Headers, Body: auth.Body,
		ContentType: auth.ContentType, TokenPath: auth.TokenPath, HeaderName: auth.HeaderName,
		HeaderPrefix: auth.HeaderPrefix, InsecureTLS: insecureTLS, MaxRetries: 2,
	}
}

func toRunAggregate(runToken string, result engine.Result) streamhub.RunAggregate {
	byStatus := make(map[int]streamhub.PerStatusAggregate, len(result.PerStatus))
	for code, agg := range result.PerStatus {
		byStatus[code] = streamhub.PerStatusAggregateFrom(agg)
	}
	return streamhub.RunAggregate{
		RunToken: runToken, TotalRequests: result.Total, SuccessfulRequests: result.Successful,
		FailedRequests: result.Failed, RequestsPerSecond: result.PeakRPS,
		AverageResponseTime: result.Latency.Avg, MinResponseTime: result.Latency.Min,
		MaxResponseTime: result.Latency.Max,
		Percentile: streamhub.Percentiles{
			P50: result.Latency.P50, P75: result.Latency.P75, P90: result.Latency.P90,
			P95: result.Latency.P95, P99: result.Latency.P99,
		},
		TotalElapsedTime: result.ElapsedMs, StatusCodes: byStatus,
	}
}

// snapshotSink adapts *store.Store to engine.SnapshotSink.
type snapshotSink struct {
	store *store.Store
}

func (s *snapshotSink) AppendSnapshot(ctx context.Context, snap engine.Snapshot) error {
	return s.store.AppendSnapshot(ctx, snap.RunToken, store.Snapshot{
		Timestamp: snap.Timestamp, Total: snap.Total, Successful: snap.Successful, Failed: snap.Failed,
		ResponseTimeMs: snap.LatestResponseTimeMs, StatusCode: snap.LatestStatusCode,
		AverageResponseTime: snap.AverageResponseTime, CurrentRPS: snap.CurrentRPS,
	})
}
