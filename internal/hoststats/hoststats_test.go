package hoststats

import "testing"

func TestSample_ReturnsNonNegativeFields(t *testing.T) {
	snap := Sample()

	if snap.CPUPercent < 0 {
		t.Fatalf("CPUPercent = %v, want >= 0", snap.CPUPercent)
	}
	if snap.MemTotal > 0 && snap.MemUsed > snap.MemTotal {
		t.Fatalf("MemUsed (%d) > MemTotal (%d)", snap.MemUsed, snap.MemTotal)
	}
	if snap.LoadAvg1 < 0 || snap.LoadAvg5 < 0 || snap.LoadAvg15 < 0 {
		t.Fatalf("negative load average in %+v", snap)
	}
}
