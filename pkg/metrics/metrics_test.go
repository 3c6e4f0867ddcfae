package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLatencyTracker(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	operations := []string{OpLoad, OpCompute, OpPersist}
	for _, op := range operations {
		tracker.Record(op, 1*time.Millisecond)
		tracker.Record(op, 5*time.Millisecond)
		tracker.Record(op, 10*time.Millisecond)
		tracker.Record(op, 50*time.Millisecond)
		tracker.Record(op, 100*time.Millisecond)
	}

	for _, op := range operations {
		stats, err := tracker.Stats(op)
		if err != nil {
			t.Errorf("Failed to get stats for %s: %v", op, err)
			continue
		}
		if stats.Count != 5 {
			t.Errorf("Expected count 5 for %s, got %d", op, stats.Count)
		}
		if stats.Min < 0.9 || stats.Min > 1.1 {
			t.Errorf("Expected min ~1ms for %s, got %.2fms", op, stats.Min)
		}
		if stats.Max < 99 || stats.Max > 101 {
			t.Errorf("Expected max ~100ms for %s, got %.2fms", op, stats.Max)
		}
		if stats.P50 < 5 || stats.P50 > 15 {
			t.Errorf("Expected p50 ~10ms for %s, got %.2fms", op, stats.P50)
		}
	}

	all := tracker.AllStats()
	if len(all) != len(operations) {
		t.Fatalf("Expected %d operations in AllStats, got %d", len(operations), len(all))
	}
	if all[0].Operation != OpCompute || all[1].Operation != OpLoad || all[2].Operation != OpPersist {
		t.Errorf("AllStats not sorted by operation: %v", all)
	}

	if _, err := tracker.Stats(OpRemoteFetch); err == nil {
		t.Error("Expected error for operation without data, got nil")
	}
	if _, err := tracker.Quantile(OpRemoteFetch, 0.5); err == nil {
		t.Error("Expected error for quantile of operation without data, got nil")
	}
}

func TestLatencyTrackerTime(t *testing.T) {
	tracker := NewLatencyTracker(0.01)
	boom := errors.New("boom")

	err := tracker.Time(OpCompute, func() error {
		time.Sleep(10 * time.Millisecond)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Time() error = %v, want %v", err, boom)
	}

	stats, err := tracker.Stats(OpCompute)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Count != 1 {
		t.Errorf("Expected count 1, got %d", stats.Count)
	}
	if stats.Min < 9 {
		t.Errorf("Expected min >= 9ms, got %.2fms", stats.Min)
	}

	p50, err := tracker.Quantile(OpCompute, 0.5)
	if err != nil {
		t.Fatalf("Quantile() error = %v", err)
	}
	if p50 < 9 {
		t.Errorf("Expected p50 >= 9ms, got %.2fms", p50)
	}
}

func TestStatsString(t *testing.T) {
	stats := Stats{
		Operation: "load",
		Count:     100,
		Min:       1.5,
		P50:       10.2,
		P90:       50.7,
		P99:       99.1,
		Max:       120.5,
	}

	expected := "  load (n=100): min=1.50ms p50=10.20ms p90=50.70ms p99=99.10ms max=120.50ms"
	if got := stats.String(); got != expected {
		t.Errorf("Expected:\n%s\nGot:\n%s", expected, got)
	}

	emptyStats := Stats{Operation: "persist"}
	if got := emptyStats.String(); got != "  persist: no data" {
		t.Errorf("Expected:\n  persist: no data\nGot:\n%s", got)
	}
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCounters(reg)
	if err != nil {
		t.Fatalf("NewCounters() error = %v", err)
	}

	c.Hit("Converter", "convert")
	c.Hit("Converter", "convert")
	c.Miss("Converter", "convert")
	c.Forced("Converter", "select")
	c.Evicted("Converter")

	if got := testutil.ToFloat64(c.hits.WithLabelValues("Converter", "convert")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.misses.WithLabelValues("Converter", "convert")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.forced.WithLabelValues("Converter", "select")); got != 1 {
		t.Errorf("forced = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.evictions.WithLabelValues("Converter")); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}

	// A second set of counters on the same registry shares the series.
	again, err := NewCounters(reg)
	if err != nil {
		t.Fatalf("NewCounters() second registration error = %v", err)
	}
	again.Hit("Converter", "convert")
	if got := testutil.ToFloat64(c.hits.WithLabelValues("Converter", "convert")); got != 3 {
		t.Errorf("shared hits = %v, want 3", got)
	}
}

func TestCountersUnregistered(t *testing.T) {
	c, err := NewCounters(nil)
	if err != nil {
		t.Fatalf("NewCounters(nil) error = %v", err)
	}
	c.Miss("Selector", "fit")
	if got := testutil.ToFloat64(c.misses.WithLabelValues("Selector", "fit")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func BenchmarkLatencyTrackerRecord(b *testing.B) {
	tracker := NewLatencyTracker(0.01)
	duration := 10 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.Record(OpLoad, duration)
	}
}
