package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerObservesElapsedDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_timer_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(h)

	if count := testutil.CollectAndCount(h); count != 1 {
		t.Fatalf("expected 1 observation, got %d", count)
	}
}

func TestTimerObserveDurationVecUsesLabels(t *testing.T) {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_timer_vec_duration_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	timer := NewTimer()
	timer.ObserveDurationVec(hv, "put")

	if count := testutil.CollectAndCount(hv); count != 1 {
		t.Fatalf("expected 1 observation, got %d", count)
	}
}

func TestTimerDurationIsNonNegativeAndMonotonic(t *testing.T) {
	timer := NewTimer()
	first := timer.Duration()
	time.Sleep(time.Millisecond)
	second := timer.Duration()

	if first < 0 || second < first {
		t.Fatalf("expected non-negative, monotonically increasing duration, got %v then %v", first, second)
	}
}
