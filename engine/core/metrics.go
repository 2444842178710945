package core

import "sync"

// Frame times are averaged over a sliding window of this many frames.
const metricsWindow = 30

type metricsSystemState struct {
	frameCounter  int
	frameTimes    [metricsWindow]float64
	frameTimeAvg  float64
	frames        int32
	accumulatedMS float64
	fps           float64
}

var onceMetrics sync.Once
var metricsState *metricsSystemState

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &metricsSystemState{}
	})
	return nil
}

// MetricsUpdate records one frame. elapsedSeconds is the wall time the
// frame took; call once per frame.
func MetricsUpdate(elapsedSeconds float64) {
	frameMS := elapsedSeconds * 1000.0
	metricsState.frameTimes[metricsState.frameCounter] = frameMS
	if metricsState.frameCounter == metricsWindow-1 {
		sum := 0.0
		for _, t := range metricsState.frameTimes {
			sum += t
		}
		metricsState.frameTimeAvg = sum / metricsWindow
	}
	metricsState.frameCounter = (metricsState.frameCounter + 1) % metricsWindow

	metricsState.accumulatedMS += frameMS
	if metricsState.accumulatedMS > 1000 {
		metricsState.fps = float64(metricsState.frames)
		metricsState.accumulatedMS -= 1000
		metricsState.frames = 0
	}
	metricsState.frames++
}

// MetricsFPS returns the frame rate measured over the last full second.
func MetricsFPS() float64 {
	return metricsState.fps
}

// MetricsFrameTime returns the windowed average frame time in milliseconds.
func MetricsFrameTime() float64 {
	return metricsState.frameTimeAvg
}

func MetricsFrame() (float64, float64) {
	return metricsState.fps, metricsState.frameTimeAvg
}
