package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/httpdrill/internal/config"
	"github.com/bc-dunia/httpdrill/internal/otelinst"
	"github.com/bc-dunia/httpdrill/internal/stats"
	"github.com/bc-dunia/httpdrill/internal/streamhub"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Snapshot is a time-stamped running-totals record emitted once per
// response.
type Snapshot struct {
	RunToken             string
	Timestamp            time.Time
	Total                int64
	Successful           int64
	Failed               int64
	LatestResponseTimeMs int64
	LatestStatusCode     int
	AverageResponseTime  float64
	CurrentRPS           float64
}

// SnapshotSink persists every 10th snapshot. The engine discards any error
// AppendSnapshot returns, since telemetry is best-effort and never fails a
// run; logging the error is left to the sink implementation.
type SnapshotSink interface {
	AppendSnapshot(ctx context.Context, snap Snapshot) error
}

// Result is the engine's completion output, ready for the Run Lifecycle
// Manager to persist as a run's final aggregate.
type Result struct {
	Total       int64
	Successful  int64
	Failed      int64
	ElapsedMs   int64
	PeakRPS     float64
	Latency     stats.Aggregate
	PerStatus   map[int]stats.Aggregate
}

// Engine drives one target with U parallel workers under a single stop
// criterion. An Engine is single-use: call Run once.
type Engine struct {
	cfg  Config
	hub  *streamhub.Hub
	sink SnapshotSink

	client      *http.Client
	requestSeq  atomic.Int64
	accumulator *accumulator
	inst        *otelinst.Instrumentation
}

// New validates cfg and constructs an Engine ready to Run. hub and sink may
// both be nil for tests that only care about the computed Result.
func New(cfg Config, hub *streamhub.Hub, sink SnapshotSink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}, //nolint:gosec // explicit opt-in via Config.InsecureTLS
	}

	return &Engine{
		cfg:         cfg,
		hub:         hub,
		sink:        sink,
		client:      &http.Client{Transport: transport},
		accumulator: newAccumulator(),
	}, nil
}

// SetInstrumentation attaches OpenTelemetry metrics/tracing to the engine.
// Optional: an Engine with no instrumentation attached behaves exactly as
// before. Must be called before Run.
func (e *Engine) SetInstrumentation(inst *otelinst.Instrumentation) {
	e.inst = inst
}

// Run spawns the worker pool and blocks until every worker has exited,
// either because the stop criterion was reached or ctx was cancelled. The
// returned Result reflects exactly the samples collected up to that point.
func (e *Engine) Run(ctx context.Context) Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()

	sampleCh := make(chan Sample, config.DefaultChannelBufferSize)

	var fanOutWG sync.WaitGroup
	fanOutWG.Add(1)
	go func() {
		defer fanOutWG.Done()
		e.fanOut(context.WithoutCancel(ctx), sampleCh)
	}()

	var workers sync.WaitGroup
	switch e.cfg.Stop.Mode {
	case StopBudget:
		perWorker := e.cfg.Stop.Budget / int64(e.cfg.Users)
		for i := 0; i < e.cfg.Users; i++ {
			workers.Add(1)
			go func() {
				defer workers.Done()
				e.withWorkerGauge(ctx, func() { e.runBudgetWorker(runCtx, perWorker, sampleCh) })
			}()
		}
	case StopDuration:
		deadline := start.Add(e.cfg.Stop.Duration)
		for i := 0; i < e.cfg.Users; i++ {
			workers.Add(1)
			go func() {
				defer workers.Done()
				e.withWorkerGauge(ctx, func() { e.runDurationWorker(runCtx, deadline, sampleCh) })
			}()
		}
	}

	workers.Wait()
	close(sampleCh)
	fanOutWG.Wait()

	samples := e.accumulator.snapshotSamples()
	latencies := make([]int64, len(samples))
	for i, s := range samples {
		latencies[i] = s.ElapsedMs
	}

	return Result{
		Total:      int64(len(samples)),
		Successful: int64(stats.CountOutcomes(samples).Successful),
		Failed:     int64(stats.CountOutcomes(samples).Failed),
		ElapsedMs:  time.Since(start).Milliseconds(),
		PeakRPS:    e.accumulator.peak(),
		Latency:    stats.ComputeAggregate(latencies),
		PerStatus:  stats.PerStatus(samples),
	}
}

// withWorkerGauge brackets a worker's lifetime with the active-worker gauge
// when instrumentation is attached; otherwise it just runs fn.
func (e *Engine) withWorkerGauge(ctx context.Context, fn func()) {
	if e.inst != nil {
		e.inst.WorkerStarted(ctx)
		defer e.inst.WorkerStopped(ctx)
	}
	fn()
}

// runBudgetWorker issues exactly n requests then exits. Stragglers from
// requests mod users are not retried: floor division here is the whole of
// the policy, applied uniformly across all workers.
func (e *Engine) runBudgetWorker(ctx context.Context, n int64, out chan<- Sample) {
	for i := int64(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.doRequest(ctx, out)
	}
}

func (e *Engine) runDurationWorker(ctx context.Context, deadline time.Time, out chan<- Sample) {
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.doRequest(ctx, out)
	}
}

func (e *Engine) doRequest(ctx context.Context, out chan<- Sample) {
	id := e.requestSeq.Add(1)

	var body *bytes.Reader
	if len(e.cfg.Body) > 0 {
		body = bytes.NewReader(e.cfg.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, string(e.cfg.Method), e.cfg.URL, body)
	if err != nil {
		out <- Sample{RequestID: id, ElapsedMs: 0, StatusCode: 503, Timestamp: time.Now()}
		return
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}
	if e.cfg.ContentType != "" && len(e.cfg.Body) > 0 {
		req.Header.Set("Content-Type", e.cfg.ContentType)
	}
	if e.cfg.BearerHeaderName != "" && e.cfg.BearerToken != "" {
		req.Header.Set(e.cfg.BearerHeaderName, e.cfg.BearerToken)
	}

	var span trace.Span
	if e.inst != nil {
		ctx, span = e.inst.StartRequestSpan(ctx, otelinst.RequestSpanOptions{RunToken: e.cfg.RunToken})
	}

	reqStart := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		elapsed := time.Since(reqStart)
		if e.inst != nil {
			e.inst.RecordRequest(ctx, e.cfg.RunToken, 503, float64(elapsed.Milliseconds()), false)
			span.SetAttributes(attribute.Int("http.status_code", 503))
			span.End()
		}
		out <- Sample{RequestID: id, ElapsedMs: elapsed.Milliseconds(), StatusCode: 503, Timestamp: time.Now()}
		return
	}

	elapsed := time.Since(reqStart)
	// Read response headers only; do not drain the body. Draining would
	// inflate latency with transfer time the caller did not ask about.
	resp.Body.Close()

	if e.inst != nil {
		success := stats.IsSuccess(resp.StatusCode)
		e.inst.RecordRequest(ctx, e.cfg.RunToken, resp.StatusCode, float64(elapsed.Milliseconds()), success)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.End()
	}

	out <- Sample{RequestID: id, ElapsedMs: elapsed.Milliseconds(), StatusCode: resp.StatusCode, Timestamp: time.Now()}
}

// fanOut is the single consumer of the sample channel: it updates the
// accumulator, publishes every sample to the stream hub, and persists every
// 10th to the snapshot sink. Running this off the worker goroutines keeps
// a slow store write from ever blocking a worker mid-request.
func (e *Engine) fanOut(ctx context.Context, in <-chan Sample) {
	var counter int64
	for sample := range in {
		total, successful, failed, avgMs, currentRPS, _ := e.accumulator.record(
			stats.Sample{ElapsedMs: sample.ElapsedMs, StatusCode: sample.StatusCode},
			sample.Timestamp,
		)

		if e.hub != nil {
			e.hub.PublishMetric(e.cfg.RunToken, streamhub.MetricSample{
				RunToken:            e.cfg.RunToken,
				Timestamp:           sample.Timestamp.UnixMilli(),
				ResponseTimeMs:      sample.ElapsedMs,
				StatusCode:          sample.StatusCode,
				IsSuccess:           stats.IsSuccess(sample.StatusCode),
				TotalRequests:       total,
				SuccessfulRequests:  successful,
				FailedRequests:      failed,
				CurrentRps:          currentRPS,
				AverageResponseTime: avgMs,
			})
		}

		counter++
		if e.sink != nil && counter%config.SnapshotSampleRate == 0 {
			snap := Snapshot{
				RunToken:             e.cfg.RunToken,
				Timestamp:            sample.Timestamp,
				Total:                total,
				Successful:           successful,
				Failed:               failed,
				LatestResponseTimeMs: sample.ElapsedMs,
				LatestStatusCode:     sample.StatusCode,
				AverageResponseTime:  avgMs,
				CurrentRPS:           currentRPS,
			}
			// The sink logs its own persistence errors; the engine
			// discards them and never fails a run over telemetry.
			_ = e.sink.AppendSnapshot(ctx, snap)
		}
	}
}

// SampleCount reports how many samples have been recorded so far, for
// observability only; it is not part of the engine's correctness contract.
func (e *Engine) SampleCount() int {
	return e.accumulator.count()
}
