// Package series accumulates per-frame detection counts into a bounded
// time series for charting.
package series

import (
	"sync"
	"time"
)

// Sample is one observation of the matched-object count.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

const (
	// maxSamples bounds memory for long-running sessions.
	maxSamples = 300
	// jitterWindow collapses bursts from back-to-back inference results.
	jitterWindow = 50 * time.Millisecond
)

// Aggregator keeps a bounded, append-only window of count samples. Appends
// inside the jitter window replace the latest sample instead of growing the
// series, so a burst of results counts as one observation.
type Aggregator struct {
	mu      sync.Mutex
	samples []Sample
	session string
	paused  bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append records a count observation. It is dropped while paused.
func (a *Aggregator) Append(at time.Time, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.paused {
		return
	}

	if n := len(a.samples); n > 0 && at.Sub(a.samples[n-1].Timestamp) < jitterWindow {
		a.samples[n-1] = Sample{Timestamp: at, Count: count}
		return
	}

	a.samples = append(a.samples, Sample{Timestamp: at, Count: count})
	if len(a.samples) > maxSamples {
		// Drop the oldest; copy keeps the backing array from growing
		// without bound.
		copy(a.samples, a.samples[1:])
		a.samples = a.samples[:maxSamples]
	}
}

// Pause freezes the series; appends are ignored until Resume.
func (a *Aggregator) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = true
}

// Resume re-enables appends.
func (a *Aggregator) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = false
}

// Paused reports whether appends are currently ignored.
func (a *Aggregator) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// Reset clears the series and tags it with a new session identity. Results
// produced under an older session must not land in the fresh series.
func (a *Aggregator) Reset(session string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = nil
	a.session = session
	a.paused = false
}

// Session returns the identity set by the last Reset.
func (a *Aggregator) Session() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Samples returns a copy of the full series, oldest first.
func (a *Aggregator) Samples() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Sample, len(a.samples))
	copy(out, a.samples)
	return out
}

// Window returns a copy of the most recent n samples.
func (a *Aggregator) Window(n int) []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.samples) {
		n = len(a.samples)
	}
	out := make([]Sample, n)
	copy(out, a.samples[len(a.samples)-n:])
	return out
}

// Len returns the current series length.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}
