// Package sched runs the detection loop: it samples frames from the media
// element, keeps at most one inference pass in flight, and feeds results to
// the overlay and the count series.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/streamlens/streamlens/internal/detect"
	"github.com/streamlens/streamlens/internal/logger"
	"github.com/streamlens/streamlens/internal/media"
	"github.com/streamlens/streamlens/internal/overlay"
	"github.com/streamlens/streamlens/internal/series"
	"github.com/streamlens/streamlens/pkg/types"
)

// Detector is the model the loop drives.
type Detector interface {
	Loaded() bool
	Load() error
	Detect(*types.Frame) ([]types.Detection, error)
	Close() error
}

// MediaReader is the read-only view of the media element the loop samples.
type MediaReader interface {
	ReadyState() media.ReadyState
	Playing() bool
	Position() time.Duration
	NativeSize() (int, int)
	CurrentFrame() (*types.Frame, bool)
}

// Result is one completed inference pass, already filtered to the matched
// class and threshold.
type Result struct {
	Session    string            `json:"session"`
	Timestamp  time.Time         `json:"timestamp"`
	Count      int               `json:"count"`
	Detections []types.Detection `json:"detections"`
	LatencyMs  int64             `json:"latency_ms"`
}

// tickInterval is how often the loop re-checks its playback gate between
// inference passes.
const tickInterval = 50 * time.Millisecond

// Scheduler owns the detection session lifecycle. Enable starts a session
// with a fresh identity; results computed under a previous identity are
// discarded rather than applied.
type Scheduler struct {
	detector Detector
	reader   MediaReader
	renderer *overlay.Renderer
	agg      *series.Aggregator
	interval time.Duration

	onResult func(Result)
	onError  func(error)

	mu          sync.Mutex
	enabled     bool
	session     string
	cancel      context.CancelFunc
	done        chan struct{}
	targetClass string
	threshold   float64
}

// NewScheduler wires the loop to its collaborators. interval is the minimum
// spacing between inference passes.
func NewScheduler(detector Detector, reader MediaReader, renderer *overlay.Renderer, agg *series.Aggregator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Scheduler{
		detector:    detector,
		reader:      reader,
		renderer:    renderer,
		agg:         agg,
		interval:    interval,
		targetClass: "person",
		threshold:   0.5,
	}
}

// OnResult registers a callback invoked after each applied inference pass.
// It must be set before Enable.
func (s *Scheduler) OnResult(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

// OnError registers a callback invoked when an inference pass fails. It must
// be set before Enable.
func (s *Scheduler) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// SetProfile adjusts the matched class and confidence floor. It applies to
// passes started after the call.
func (s *Scheduler) SetProfile(class string, threshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetClass = class
	s.threshold = threshold
}

// Enabled reports whether a detection session is active.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Session returns the active session identity, empty when disabled.
func (s *Scheduler) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return ""
	}
	return s.session
}

// Enable loads the model if needed, resets the count series under a fresh
// session identity, and starts the loop. Enabling an enabled scheduler is
// a no-op.
func (s *Scheduler) Enable() error {
	if !s.detector.Loaded() {
		if err := s.detector.Load(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}

	session := uuid.NewString()
	s.session = session
	s.enabled = true
	s.agg.Reset(session)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	logger.Info("Sched", "Detection enabled, session %s", session)
	return nil
}

// Disable stops the loop, clears the overlay and freezes the count series
// in place. The model stays resident for the next Enable; the series is
// cleared only by the next session's Reset.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	s.session = ""
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.agg.Pause()
	s.renderer.Clear()
	logger.Info("Sched", "Detection disabled")
}

// Shutdown disables the loop and releases the model.
func (s *Scheduler) Shutdown() error {
	s.Disable()
	return s.detector.Close()
}

// ResetSession re-keys an active session, clearing the series. The owner
// calls this when the source changes while detection stays on.
func (s *Scheduler) ResetSession() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	session := uuid.NewString()
	s.session = session
	s.agg.Reset(session)
	s.mu.Unlock()
	s.renderer.Clear()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var lastPass time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(lastPass) < s.interval {
			continue
		}
		if !s.gateOpen() {
			continue
		}
		frame, ok := s.reader.CurrentFrame()
		if !ok {
			continue
		}

		// Bind the pass to the session current at its start; ResetSession
		// mid-pass makes the result stale.
		s.mu.Lock()
		session := s.session
		s.mu.Unlock()

		lastPass = time.Now()
		s.pass(frame, session)
	}
}

// gateOpen checks the playback preconditions: a renderable frame exists,
// playback is active, and the position has advanced past zero.
func (s *Scheduler) gateOpen() bool {
	return s.reader.ReadyState() >= media.HaveCurrentData &&
		s.reader.Playing() &&
		s.reader.Position() > 0
}

// pass runs one inference and applies the result if the session is still
// current. The loop goroutine is the only caller, so at most one pass is
// in flight.
func (s *Scheduler) pass(frame *types.Frame, session string) {
	started := time.Now()
	detections, err := s.detector.Detect(frame)
	latency := time.Since(started)
	if err != nil {
		s.mu.Lock()
		onError := s.onError
		s.mu.Unlock()
		if onError != nil {
			onError(err)
		}
		var infErr *detect.InferenceError
		if errors.As(err, &infErr) {
			logger.Warn("Sched", "Skipping frame %d: %v", frame.Number, err)
			return
		}
		logger.Error("Sched", "Detection pass failed: %v", err)
		return
	}

	s.mu.Lock()
	stale := !s.enabled || s.session != session
	class := s.targetClass
	threshold := s.threshold
	onResult := s.onResult
	s.mu.Unlock()
	if stale {
		return
	}

	matched := lo.Filter(detections, func(d types.Detection, _ int) bool {
		return d.Class == class && d.Confidence >= threshold
	})

	if w, h := s.reader.NativeSize(); w > 0 && h > 0 {
		s.renderer.SetNativeSize(w, h)
	}
	s.renderer.Render(matched)

	now := time.Now()
	s.agg.Append(now, len(matched))

	if onResult != nil {
		onResult(Result{
			Session:    session,
			Timestamp:  now,
			Count:      len(matched),
			Detections: matched,
			LatencyMs:  latency.Milliseconds(),
		})
	}
}
