// Package conn owns the source connection lifecycle: the connect delay,
// dispatch by source kind, playback supervision and error recovery. It is
// the only component that mutates the media element.
package conn

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/streamlens/streamlens/internal/logger"
	"github.com/streamlens/streamlens/internal/media"
	"github.com/streamlens/streamlens/internal/media/hls"
	"github.com/streamlens/streamlens/internal/source"
)

// State is the connection lifecycle phase.
type State int

const (
	// StateIdle means no source is selected.
	StateIdle State = iota
	// StateConnecting means the connect delay is running.
	StateConnecting
	// StateLoading means media is being fetched but is not renderable yet.
	StateLoading
	// StatePlaying means frames are rendering.
	StatePlaying
	// StateError is terminal for the attempt; Retry starts a new one.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a terminal attempt failure.
type ErrorKind int

const (
	// ErrorNone means the attempt has not failed.
	ErrorNone ErrorKind = iota
	// ErrorAccessDenied means the stream rejected authorization.
	ErrorAccessDenied
	// ErrorNetwork means transport failed beyond the single retry.
	ErrorNetwork
	// ErrorMedia means decoding failed beyond the single recovery.
	ErrorMedia
	// ErrorPlayback means the media element itself failed.
	ErrorPlayback
	// ErrorUnsupported means no available pipeline can play the stream.
	ErrorUnsupported
	// ErrorStream covers unclassified stream failures.
	ErrorStream
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return ""
	case ErrorAccessDenied:
		return "access_denied"
	case ErrorNetwork:
		return "network_error"
	case ErrorMedia:
		return "media_error"
	case ErrorPlayback:
		return "playback_error"
	case ErrorUnsupported:
		return "unsupported_format"
	default:
		return "stream_error"
	}
}

// Status is the externally visible connection snapshot.
type Status struct {
	State     State
	Error     ErrorKind
	Source    *source.VideoSource
	Position  time.Duration
	ErrDetail string
}

// StreamDecoder is the adaptive-stream decoder the manager drives for live
// sources.
type StreamDecoder interface {
	Load(url string, sink io.WriteCloser) error
	StartLoad()
	RecoverMediaError()
	Destroy()
	Events() <-chan hls.Event
}

// DecoderFactory builds a fresh decoder per connection attempt.
type DecoderFactory func() StreamDecoder

// Manager runs the connection state machine. Every source switch starts a
// new attempt generation; callbacks and events from older generations are
// ignored.
type Manager struct {
	element  media.Element
	catalog  *source.Catalog
	decoders DecoderFactory
	delayFn  func() time.Duration

	onState func(Status)

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	state     State
	errKind   ErrorKind
	errDetail string
	current   *source.VideoSource
	position  time.Duration
	decoder   StreamDecoder

	// one-shot recovery flags, reset at each attempt
	netRetried     bool
	mediaRecovered bool
}

// Config carries the manager's construction knobs.
type Config struct {
	Element        media.Element
	Catalog        *source.Catalog
	DecoderFactory DecoderFactory
	// DelayFn returns the connect delay; nil means a uniform 1-5s.
	DelayFn func() time.Duration
}

// NewManager creates an idle manager.
func NewManager(cfg Config) *Manager {
	delayFn := cfg.DelayFn
	if delayFn == nil {
		delayFn = func() time.Duration {
			return time.Second + time.Duration(rand.Int63n(int64(4*time.Second)))
		}
	}
	m := &Manager{
		element:  cfg.Element,
		catalog:  cfg.Catalog,
		decoders: cfg.DecoderFactory,
		delayFn:  delayFn,
		state:    StateIdle,
	}
	go m.watchElement()
	return m
}

// OnState registers the state-change callback. It must be set before the
// first SetSource.
func (m *Manager) OnState(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// Status returns the current connection snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	var src *source.VideoSource
	if m.current != nil {
		cp := *m.current
		src = &cp
	}
	return Status{
		State:     m.state,
		Error:     m.errKind,
		Source:    src,
		Position:  m.position,
		ErrDetail: m.errDetail,
	}
}

// SetSource switches to a new source. Any pending connect delay, active
// decoder and playback from the previous source are torn down first.
func (m *Manager) SetSource(src source.VideoSource) error {
	if src.Kind == source.KindLiveStream {
		if err := source.ValidateStreamURL(src.URL); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.teardownLocked()
	m.gen++
	gen := m.gen
	cp := src
	m.current = &cp
	m.position = 0
	m.netRetried = false
	m.mediaRecovered = false
	m.setStateLocked(StateConnecting, ErrorNone, "")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	delay := m.delayFn()
	m.mu.Unlock()

	logger.Info("Conn", "Connecting to %s in %s", src.ID, delay)
	go m.connectAfter(ctx, gen, delay, cp)
	return nil
}

// Retry restarts the connection attempt for the current source. It is a
// no-op when no source is selected.
func (m *Manager) Retry() error {
	m.mu.Lock()
	src := m.current
	m.mu.Unlock()
	if src == nil {
		return fmt.Errorf("no source selected")
	}
	return m.SetSource(*src)
}

// CaptureFrame returns the latest decoded frame re-encoded as a
// high-quality JPEG, independent of the overlay.
func (m *Manager) CaptureFrame() ([]byte, error) {
	frame, ok := m.element.CurrentFrame()
	if !ok {
		return nil, fmt.Errorf("no frame available")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Close tears down the active attempt and the media element.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.teardownLocked()
	m.gen++
	m.current = nil
	m.setStateLocked(StateIdle, ErrorNone, "")
	m.mu.Unlock()
	return m.element.Close()
}

// connectAfter waits out the connect delay, then dispatches by kind. A
// source switch during the delay cancels the context, so the superseded
// attempt never touches the element.
func (m *Manager) connectAfter(ctx context.Context, gen uint64, delay time.Duration, src source.VideoSource) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if !m.isCurrent(gen) {
		return
	}

	switch src.Kind {
	case source.KindFile:
		m.dispatchFile(ctx, gen, src)
	case source.KindLiveStream:
		m.dispatchLive(ctx, gen, src)
	default:
		m.fail(gen, ErrorStream, fmt.Sprintf("unknown source kind %q", src.Kind))
	}
}

func (m *Manager) dispatchFile(ctx context.Context, gen uint64, src source.VideoSource) {
	url, err := m.catalog.Resolve(src.ID)
	if err != nil {
		m.fail(gen, ErrorStream, err.Error())
		return
	}

	m.setState(gen, StateLoading, ErrorNone, "")
	if err := m.element.Load(url); err != nil {
		// The cached URL may be stale; a retry resolves it fresh.
		m.catalog.Invalidate(src.ID)
		m.fail(gen, ErrorPlayback, err.Error())
	}
}

func (m *Manager) dispatchLive(ctx context.Context, gen uint64, src source.VideoSource) {
	if m.decoders == nil {
		m.dispatchLiveNative(gen, src)
		return
	}
	decoder := m.decoders()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		decoder.Destroy()
		return
	}
	m.decoder = decoder
	m.mu.Unlock()

	m.setState(gen, StateLoading, ErrorNone, "")

	sink, err := m.element.LoadStream()
	if err != nil {
		decoder.Destroy()
		m.fail(gen, ErrorPlayback, err.Error())
		return
	}
	if err := decoder.Load(src.URL, sink); err != nil {
		decoder.Destroy()
		m.fail(gen, ErrorStream, err.Error())
		return
	}

	go m.watchDecoder(ctx, gen, decoder)
}

// dispatchLiveNative hands the manifest URL straight to the media element
// when no playlist decoder is configured. If the element cannot open it
// either, the stream format is unplayable here.
func (m *Manager) dispatchLiveNative(gen uint64, src source.VideoSource) {
	logger.Warn("Conn", "No playlist decoder configured, trying native playback for %s", src.URL)
	m.setState(gen, StateLoading, ErrorNone, "")
	if err := m.element.Load(src.URL); err != nil {
		m.fail(gen, ErrorUnsupported, "this stream format is not supported")
	}
}

// watchElement supervises the media element for the manager's lifetime.
// Events are applied against the current attempt only, and only in states
// where they are meaningful, so a stale event from a torn-down load cannot
// derail a fresh attempt. Position is relayed for recorded sources only;
// live streams have no meaningful timeline.
func (m *Manager) watchElement() {
	for ev := range m.element.Events() {
		m.mu.Lock()
		gen := m.gen
		state := m.state
		relayPosition := m.current != nil && m.current.Kind == source.KindFile
		m.mu.Unlock()

		switch ev.Type {
		case media.EventCanPlay:
			if state != StateLoading {
				continue
			}
			if err := m.element.Play(); err != nil {
				m.fail(gen, ErrorPlayback, err.Error())
				continue
			}
			m.setState(gen, StatePlaying, ErrorNone, "")
		case media.EventTimeUpdate:
			if relayPosition && state == StatePlaying {
				m.mu.Lock()
				if gen == m.gen {
					m.position = ev.Position
				}
				m.mu.Unlock()
			}
		case media.EventEnded:
			if state == StatePlaying {
				logger.Info("Conn", "Playback ended at %s", ev.Position)
				m.element.Pause()
			}
		case media.EventError:
			if state == StateLoading || state == StatePlaying {
				m.fail(gen, ErrorPlayback, ev.Err.Error())
			}
		}
	}
}

// watchDecoder applies the recovery policy: one StartLoad retry for a
// retryable network error, one RecoverMediaError for a media error, and
// destruction on anything else. Authorization rejections are terminal
// immediately, with no reload.
func (m *Manager) watchDecoder(ctx context.Context, gen uint64, decoder StreamDecoder) {
	events := decoder.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !m.isCurrent(gen) {
				continue
			}
			if ev.Type != hls.EventError || ev.Err == nil {
				continue
			}
			if !ev.Err.Fatal {
				logger.Warn("Conn", "Non-fatal stream error: %v", ev.Err)
				continue
			}
			if m.handleDecoderError(gen, decoder, ev.Err) {
				return
			}
		}
	}
}

// handleDecoderError returns true when the attempt is finished.
func (m *Manager) handleDecoderError(gen uint64, decoder StreamDecoder, err *hls.Error) bool {
	switch {
	case err.AccessDenied():
		decoder.Destroy()
		m.fail(gen, ErrorAccessDenied, err.Detail)
		return true

	case err.Type == hls.ErrorTypeNetwork:
		m.mu.Lock()
		retried := m.netRetried
		m.netRetried = true
		m.mu.Unlock()
		if !retried {
			logger.Warn("Conn", "Network error, retrying stream load once: %v", err)
			decoder.StartLoad()
			return false
		}
		decoder.Destroy()
		m.fail(gen, ErrorNetwork, err.Detail)
		return true

	case err.Type == hls.ErrorTypeMedia:
		m.mu.Lock()
		recovered := m.mediaRecovered
		m.mediaRecovered = true
		m.mu.Unlock()
		if !recovered {
			logger.Warn("Conn", "Media error, attempting recovery once: %v", err)
			decoder.RecoverMediaError()
			return false
		}
		decoder.Destroy()
		m.fail(gen, ErrorMedia, err.Detail)
		return true

	default:
		decoder.Destroy()
		m.fail(gen, ErrorStream, err.Detail)
		return true
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) setState(gen uint64, s State, kind ErrorKind, detail string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(s, kind, detail)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State, kind ErrorKind, detail string) {
	m.state = s
	m.errKind = kind
	m.errDetail = detail
	if m.onState != nil {
		status := m.statusLocked()
		go m.onState(status)
	}
	logger.Debug("Conn", "State -> %s", s)
}

func (m *Manager) fail(gen uint64, kind ErrorKind, detail string) {
	logger.Error("Conn", "Connection failed (%s): %s", kind, detail)
	m.setState(gen, StateError, kind, detail)
}

// teardownLocked cancels the running attempt and destroys its decoder.
func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.decoder != nil {
		m.decoder.Destroy()
		m.decoder = nil
	}
	m.element.Pause()
}
