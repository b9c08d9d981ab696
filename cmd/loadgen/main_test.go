package main

import (
	"os"
	"strings"
	"testing"

	"github.com/bc-dunia/httpdrill/internal/engine"
	"github.com/bc-dunia/httpdrill/internal/stats"
)

func TestWriteResultsIncludesCoreFields(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	result := engine.Result{
		Total: 10, Successful: 9, Failed: 1, ElapsedMs: 2000, PeakRPS: 5.5,
		Latency:   stats.Aggregate{Avg: 50, Min: 40, Max: 60, P50: 50, P75: 55, P90: 58, P95: 59, P99: 60},
		PerStatus: map[int]stats.Aggregate{200: {Count: 9}, 503: {Count: 1}},
	}

	writeResults(w, result)
	w.Close()

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	out := string(buf[:n])

	for _, want := range []string{"Total requests:     10", "Successful:         9", "Failed:             1", "status 200: 9", "status 503: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q, got:\n%s", want, out)
		}
	}
}
