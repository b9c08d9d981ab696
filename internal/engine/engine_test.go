package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEngineRun_BudgetModeExactCount(t *testing.T) {
	srv := echoServer(t)

	var hits atomic.Int64
	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	stop, err := NewBudget(100)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	cfg := Config{RunToken: "t1", URL: srv.URL, Method: MethodGet, Users: 4, Stop: stop}

	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := e.Run(context.Background())

	if result.Total != 100 {
		t.Fatalf("Total = %d, want 100", result.Total)
	}
	if got := hits.Load(); got != 100 {
		t.Fatalf("server saw %d hits, want 100", got)
	}
	if result.Successful != 100 || result.Failed != 0 {
		t.Fatalf("Successful=%d Failed=%d, want 100/0", result.Successful, result.Failed)
	}
}

func TestEngineRun_BudgetModeFloorDivision(t *testing.T) {
	srv := echoServer(t)

	// 10 requests over 3 users: floor(10/3) = 3 per worker, 9 total. The
	// remainder is dropped, never retried.
	stop, err := NewBudget(10)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	cfg := Config{RunToken: "t2", URL: srv.URL, Method: MethodGet, Users: 3, Stop: stop}

	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := e.Run(context.Background())

	if result.Total != 9 {
		t.Fatalf("Total = %d, want 9 (floor(10/3)*3)", result.Total)
	}
}

func TestEngineRun_DurationModeElapsedBounds(t *testing.T) {
	srv := echoServer(t)

	stop, err := NewDuration(1100 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewDuration: %v", err)
	}
	cfg := Config{RunToken: "t3", URL: srv.URL, Method: MethodGet, Users: 2, Stop: stop}

	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	result := e.Run(context.Background())
	elapsed := time.Since(start)

	if elapsed < time.Second {
		t.Fatalf("elapsed %v, want >= 1s (duration stop criterion)", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("elapsed %v, suspiciously long for a 1.1s duration run", elapsed)
	}
	if result.Total == 0 {
		t.Fatal("Total = 0, want at least one completed request")
	}
}

func TestEngineRun_CancellationStopsEarly(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	stop, err := NewBudget(1000)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	cfg := Config{RunToken: "t4", URL: srv.URL, Method: MethodGet, Users: 4, Stop: stop}

	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case result := <-done:
		if result.Total >= 1000 {
			t.Fatalf("Total = %d, expected cancellation to stop the run well short of the 1000 budget", result.Total)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestEngineRun_TransportErrorMapsTo503(t *testing.T) {
	stop, err := NewBudget(3)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	// Nothing listens on port 1: every request fails at the transport layer.
	cfg := Config{RunToken: "t5", URL: "http://127.0.0.1:1", Method: MethodGet, Users: 1, Stop: stop}

	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := e.Run(context.Background())

	if result.Total != 3 {
		t.Fatalf("Total = %d, want 3", result.Total)
	}
	if result.Failed != 3 {
		t.Fatalf("Failed = %d, want 3 (all transport errors map to 503)", result.Failed)
	}
	agg, ok := result.PerStatus[503]
	if !ok {
		t.Fatal("PerStatus[503] missing")
	}
	if agg.Count != 3 {
		t.Fatalf("PerStatus[503].Count = %d, want 3", agg.Count)
	}
}

type recordingSink struct {
	count atomic.Int64
}

func (r *recordingSink) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	r.count.Add(1)
	return nil
}

func TestEngineRun_SnapshotSinkReceivesEveryTenth(t *testing.T) {
	srv := echoServer(t)

	stop, err := NewBudget(50)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	cfg := Config{RunToken: "t6", URL: srv.URL, Method: MethodGet, Users: 1, Stop: stop}

	sink := &recordingSink{}
	e, err := New(cfg, nil, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Run(context.Background())

	if got := sink.count.Load(); got != 5 {
		t.Fatalf("sink received %d snapshots, want 5 (every 10th of 50)", got)
	}
}
