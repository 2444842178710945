package core

import (
	"math"
	"testing"
)

func TestMetricsFrameTimeAverage(t *testing.T) {
	if err := MetricsInitialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	metricsState = &metricsSystemState{}

	for i := 0; i < metricsWindow; i++ {
		MetricsUpdate(0.016)
	}
	if got := MetricsFrameTime(); math.Abs(got-16.0) > 1e-9 {
		t.Fatalf("frame time = %v ms, want 16", got)
	}

	// A second full window must replace the average, not pile onto it.
	for i := 0; i < metricsWindow; i++ {
		MetricsUpdate(0.032)
	}
	if got := MetricsFrameTime(); math.Abs(got-32.0) > 1e-9 {
		t.Fatalf("frame time after second window = %v ms, want 32", got)
	}
}

func TestMetricsFPSOverOneSecond(t *testing.T) {
	if err := MetricsInitialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	metricsState = &metricsSystemState{}

	// 60 frames of ~16.7ms cross the one second mark.
	for i := 0; i < 61; i++ {
		MetricsUpdate(1.0 / 60.0)
	}
	if fps := MetricsFPS(); fps < 59 || fps > 61 {
		t.Fatalf("fps = %v, want ~60", fps)
	}
}
