package stats

import "testing"

func TestPercentile_EmptyInput(t *testing.T) {
	_, err := Percentile(nil, 50)
	if err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestPercentile_PinnedFormula(t *testing.T) {
	values := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	p50, err := Percentile(values, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p50 != 55 {
		t.Errorf("expected P50 = 55, got %d", p50)
	}
}

func TestPercentile_DoesNotMutateInput(t *testing.T) {
	values := []int64{30, 10, 20}
	cp := append([]int64(nil), values...)

	if _, err := Percentile(values, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range values {
		if values[i] != cp[i] {
			t.Fatalf("Percentile mutated its input: %v", values)
		}
	}
}

func TestPercentile_ClampsAtBoundaries(t *testing.T) {
	values := []int64{10, 20, 30}

	min, _ := Percentile(values, 0)
	if min != 10 {
		t.Errorf("expected min 10 at p=0, got %d", min)
	}

	max, _ := Percentile(values, 100)
	if max != 30 {
		t.Errorf("expected max 30 at p=100, got %d", max)
	}
}

func TestPercentile_SingleValue(t *testing.T) {
	v, err := Percentile([]int64{42}, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestComputeAggregate_Empty(t *testing.T) {
	agg := ComputeAggregate(nil)
	if agg != (Aggregate{}) {
		t.Errorf("expected zero-valued Aggregate for empty input, got %+v", agg)
	}
}

func TestComputeAggregate_OrderingInvariant(t *testing.T) {
	latencies := []int64{50, 50, 50, 50, 50, 55, 48, 200, 49, 51}
	agg := ComputeAggregate(latencies)

	if !(agg.Min <= agg.P50 && agg.P50 <= agg.P75 && agg.P75 <= agg.P90 && agg.P90 <= agg.P95 && agg.P95 <= agg.P99 && agg.P99 <= agg.Max) {
		t.Errorf("percentile ordering invariant violated: %+v", agg)
	}
}

func TestComputeAggregate_MinAvgMax(t *testing.T) {
	agg := ComputeAggregate([]int64{10, 20, 30})
	if agg.Min != 10 || agg.Max != 30 {
		t.Errorf("expected min=10 max=30, got min=%d max=%d", agg.Min, agg.Max)
	}
	if agg.Avg != 20 {
		t.Errorf("expected avg=20, got %f", agg.Avg)
	}
	if agg.Count != 3 {
		t.Errorf("expected count=3, got %d", agg.Count)
	}
}

func TestIsSuccess(t *testing.T) {
	cases := map[int]bool{
		199: false,
		200: true,
		299: true,
		300: false,
		404: false,
		503: false,
	}
	for code, want := range cases {
		if got := IsSuccess(code); got != want {
			t.Errorf("IsSuccess(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestCountOutcomes(t *testing.T) {
	samples := []Sample{
		{StatusCode: 200}, {StatusCode: 201}, {StatusCode: 404}, {StatusCode: 503},
	}
	c := CountOutcomes(samples)
	if c.Total != 4 || c.Successful != 2 || c.Failed != 2 {
		t.Errorf("unexpected counts: %+v", c)
	}
}

func TestPerStatus_GroupsByCode(t *testing.T) {
	samples := []Sample{
		{StatusCode: 200, ElapsedMs: 10},
		{StatusCode: 200, ElapsedMs: 20},
		{StatusCode: 500, ElapsedMs: 100},
	}
	byStatus := PerStatus(samples)

	if len(byStatus) != 2 {
		t.Fatalf("expected 2 status groups, got %d", len(byStatus))
	}
	if byStatus[200].Count != 2 {
		t.Errorf("expected 2 samples for status 200, got %d", byStatus[200].Count)
	}
	if byStatus[500].Count != 1 {
		t.Errorf("expected 1 sample for status 500, got %d", byStatus[500].Count)
	}
}
