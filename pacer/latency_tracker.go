/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacer

import (
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of the most recent downstream call durations and derives
// the pacing rate from their average. It is safe for concurrent use; in the engine there is a
// single writer (the worker goroutine) and any number of readers.
type LatencyTracker struct {
	maxSamples          int
	minPermitsPerMinute float64
	maxPermitsPerMinute float64

	mu      sync.RWMutex
	samples []int64
	sumMs   int64
}

// NewLatencyTracker creates a new LatencyTracker.
// Non-positive arguments fall back to the corresponding defaults.
func NewLatencyTracker(maxSamples int, minPermitsPerMinute, maxPermitsPerMinute float64) *LatencyTracker {
	if maxSamples <= 0 {
		maxSamples = DefaultSampleWindowSize
	}
	if minPermitsPerMinute <= 0 {
		minPermitsPerMinute = DefaultMinPermitsPerMinute
	}
	if maxPermitsPerMinute <= 0 {
		maxPermitsPerMinute = DefaultMaxPermitsPerMinute
	}
	return &LatencyTracker{
		maxSamples:          maxSamples,
		minPermitsPerMinute: minPermitsPerMinute,
		maxPermitsPerMinute: maxPermitsPerMinute,
		samples:             make([]int64, 0, maxSamples),
	}
}

// RecordLatency adds an observed call duration (millisecond granularity) to the window,
// evicting the oldest samples while the window is over its size.
func (t *LatencyTracker) RecordLatency(d time.Duration) {
	ms := d.Milliseconds()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, ms)
	t.sumMs += ms
	for len(t.samples) > t.maxSamples {
		t.sumMs -= t.samples[0]
		t.samples = t.samples[1:]
	}
}

// SampleCount returns the number of samples currently in the window.
func (t *LatencyTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// AverageLatencySeconds returns the average duration of the sampled calls in seconds.
// While the window is empty it returns 1, so pacing starts from 60 calls per minute
// (before clamping) until real measurements arrive.
func (t *LatencyTracker) AverageLatencySeconds() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.samples) == 0 {
		return 1.0
	}
	return float64(t.sumMs) / 1000.0 / float64(len(t.samples))
}

// PermitsPerMinute returns the pacing rate derived from the average latency,
// clamped to the configured range. An all-zero window yields the maximum rate.
func (t *LatencyTracker) PermitsPerMinute() float64 {
	permits := 60.0 / t.AverageLatencySeconds()
	if permits > t.maxPermitsPerMinute {
		permits = t.maxPermitsPerMinute
	}
	if permits < t.minPermitsPerMinute {
		permits = t.minPermitsPerMinute
	}
	return permits
}

// IntervalSeconds returns the minimal spacing between consecutive call starts in seconds.
func (t *LatencyTracker) IntervalSeconds() float64 {
	return 60.0 / t.PermitsPerMinute()
}

// Interval returns IntervalSeconds as a time.Duration.
func (t *LatencyTracker) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds() * float64(time.Second))
}
