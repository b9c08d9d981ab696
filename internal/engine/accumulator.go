package engine

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/httpdrill/internal/config"
	"github.com/bc-dunia/httpdrill/internal/stats"
)

// accumulator is the engine-local, multi-producer sample log plus the
// running totals needed to build snapshots without re-scanning the full
// sample history on every request. Safe for concurrent use by N workers.
type accumulator struct {
	mu      sync.Mutex
	samples []stats.Sample

	total      atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	latencySum atomic.Int64

	window   rpsWindow
	peakBits atomic.Uint64 // math.Float64bits(peak RPS), CAS-updated
}

func newAccumulator() *accumulator {
	return &accumulator{window: newRPSWindow(config.RPSWindow)}
}

// record appends a sample, updates running totals, and returns the
// up-to-date totals plus the current/peak RPS for snapshot construction.
// The teacher's CompareAndSwap loop for MaxInFlightReached (internal/vu/executor.go)
// is the idiom this peak-RPS update generalizes.
func (a *accumulator) record(s stats.Sample, at time.Time) (total, successful, failed int64, avgMs, currentRPS, peakRPS float64) {
	a.mu.Lock()
	a.samples = append(a.samples, s)
	a.mu.Unlock()

	a.total.Add(1)
	if stats.IsSuccess(s.StatusCode) {
		a.successful.Add(1)
	} else {
		a.failed.Add(1)
	}
	a.latencySum.Add(s.ElapsedMs)

	currentRPS = a.window.observe(at)
	peakRPS = a.updatePeak(currentRPS)

	total = a.total.Load()
	successful = a.successful.Load()
	failed = a.failed.Load()
	avgMs = float64(a.latencySum.Load()) / float64(total)

	return total, successful, failed, avgMs, currentRPS, peakRPS
}

func (a *accumulator) updatePeak(candidate float64) float64 {
	for {
		current := math.Float64frombits(a.peakBits.Load())
		if candidate <= current {
			return current
		}
		if a.peakBits.CompareAndSwap(math.Float64bits(current), math.Float64bits(candidate)) {
			return candidate
		}
	}
}

// peak returns the highest windowed RPS observed so far.
func (a *accumulator) peak() float64 {
	return math.Float64frombits(a.peakBits.Load())
}

// snapshotSamples returns a defensive copy of every sample recorded so far,
// for final aggregate computation.
func (a *accumulator) snapshotSamples() []stats.Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]stats.Sample, len(a.samples))
	copy(out, a.samples)
	return out
}

func (a *accumulator) count() int {
	return int(a.total.Load())
}
