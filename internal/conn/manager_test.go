package conn

import (
	"bytes"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/streamlens/streamlens/internal/media"
	"github.com/streamlens/streamlens/internal/media/hls"
	"github.com/streamlens/streamlens/internal/source"
	"github.com/streamlens/streamlens/pkg/types"
)

type nopSink struct{ bytes.Buffer }

func (n *nopSink) Close() error { return nil }

type fakeElement struct {
	mu          sync.Mutex
	events      chan media.Event
	loads       []string
	loadErr     error
	streamLoads int
	playing     bool
	ready       media.ReadyState
	position    time.Duration
	frame       *types.Frame
	closed      bool
}

func newFakeElement() *fakeElement {
	return &fakeElement{events: make(chan media.Event, 32)}
}

func (f *fakeElement) Load(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	if f.loadErr != nil {
		return f.loadErr
	}
	f.ready = media.HaveNothing
	f.playing = false
	f.position = 0
	return nil
}

func (f *fakeElement) LoadStream() (io.WriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamLoads++
	f.ready = media.HaveNothing
	f.playing = false
	return &nopSink{}, nil
}

func (f *fakeElement) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	return nil
}

func (f *fakeElement) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
}

func (f *fakeElement) ReadyState() media.ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeElement) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeElement) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakeElement) NativeSize() (int, int) { return 100, 100 }

func (f *fakeElement) CurrentFrame() (*types.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == nil {
		return nil, false
	}
	return f.frame, true
}

func (f *fakeElement) Events() <-chan media.Event { return f.events }

func (f *fakeElement) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeElement) emitCanPlay() {
	f.mu.Lock()
	f.ready = media.HaveCurrentData
	f.mu.Unlock()
	f.events <- media.Event{Type: media.EventCanPlay}
}

func (f *fakeElement) loadedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.loads...)
}

type fakeDecoder struct {
	mu         sync.Mutex
	events     chan hls.Event
	loads      int
	startLoads int
	recovers   int
	destroys   int
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{events: make(chan hls.Event, 16)}
}

func (f *fakeDecoder) Load(url string, sink io.WriteCloser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeDecoder) StartLoad() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startLoads++
}

func (f *fakeDecoder) RecoverMediaError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers++
}

func (f *fakeDecoder) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
}

func (f *fakeDecoder) Events() <-chan hls.Event { return f.events }

func (f *fakeDecoder) counts() (loads, startLoads, recovers, destroys int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.startLoads, f.recovers, f.destroys
}

func (f *fakeDecoder) emitError(e *hls.Error) {
	f.events <- hls.Event{Type: hls.EventError, Err: e}
}

var errUnplayable = errors.New("unrecognized input format")

func instantDelay() time.Duration { return time.Millisecond }

func testCatalog() *source.Catalog {
	return source.NewCatalog("http://media/api/video", []source.VideoSource{
		{ID: "a", Name: "A", Kind: source.KindFile, Filename: "a.mp4"},
		{ID: "b", Name: "B", Kind: source.KindFile, Filename: "b.mp4"},
	})
}

func liveSource() source.VideoSource {
	return source.VideoSource{
		ID:   "live",
		Name: "Live",
		Kind: source.KindLiveStream,
		URL:  "https://cdn.example.com/stream.m3u8",
	}
}

func newTestManager(el *fakeElement, dec *fakeDecoder, delayFn func() time.Duration) *Manager {
	return NewManager(Config{
		Element:        el,
		Catalog:        testCatalog(),
		DecoderFactory: func() StreamDecoder { return dec },
		DelayFn:        delayFn,
	})
}

func waitState(t *testing.T, m *Manager, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := m.Status()
		if st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", st.State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerFileHappyPath(t *testing.T) {
	el := newFakeElement()
	m := newTestManager(el, nil, instantDelay)
	defer m.Close()

	src, _ := testCatalog().Lookup("a")
	if err := m.SetSource(src); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	waitState(t, m, StateLoading)

	if got := el.loadedURLs(); len(got) != 1 || got[0] != "http://media/api/video/a.mp4" {
		t.Fatalf("loads = %v", got)
	}

	el.emitCanPlay()
	waitState(t, m, StatePlaying)
	if !el.Playing() {
		t.Fatal("element must be playing")
	}

	el.events <- media.Event{Type: media.EventTimeUpdate, Position: 3 * time.Second}
	deadline := time.Now().Add(time.Second)
	for m.Status().Position != 3*time.Second {
		if time.Now().After(deadline) {
			t.Fatalf("position = %s, want 3s", m.Status().Position)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerSwitchCancelsPendingConnect(t *testing.T) {
	el := newFakeElement()

	var mu sync.Mutex
	calls := 0
	delayFn := func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return time.Hour // first attempt must never fire
		}
		return time.Millisecond
	}

	m := newTestManager(el, nil, delayFn)
	defer m.Close()

	a, _ := testCatalog().Lookup("a")
	b, _ := testCatalog().Lookup("b")
	if err := m.SetSource(a); err != nil {
		t.Fatalf("SetSource a: %v", err)
	}
	if err := m.SetSource(b); err != nil {
		t.Fatalf("SetSource b: %v", err)
	}

	waitState(t, m, StateLoading)
	if got := el.loadedURLs(); len(got) != 1 || got[0] != "http://media/api/video/b.mp4" {
		t.Fatalf("loads = %v, want only b.mp4", got)
	}
}

func TestManagerAccessDeniedIsTerminal(t *testing.T) {
	el := newFakeElement()
	dec := newFakeDecoder()
	m := newTestManager(el, dec, instantDelay)
	defer m.Close()

	if err := m.SetSource(liveSource()); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	waitState(t, m, StateLoading)

	dec.emitError(&hls.Error{Type: hls.ErrorTypeNetwork, Fatal: true, Status: 403, Detail: "forbidden"})

	st := waitState(t, m, StateError)
	if st.Error != ErrorAccessDenied {
		t.Fatalf("error = %s, want access_denied", st.Error)
	}
	_, startLoads, _, destroys := dec.counts()
	if startLoads != 0 {
		t.Fatalf("startLoads = %d, access denied must not reload", startLoads)
	}
	if destroys == 0 {
		t.Fatal("decoder must be destroyed")
	}
}

func TestManagerNetworkErrorRetriesExactlyOnce(t *testing.T) {
	el := newFakeElement()
	dec := newFakeDecoder()
	m := newTestManager(el, dec, instantDelay)
	defer m.Close()

	if err := m.SetSource(liveSource()); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	waitState(t, m, StateLoading)

	dec.emitError(&hls.Error{Type: hls.ErrorTypeNetwork, Fatal: true, Detail: "timeout"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, startLoads, _, _ := dec.counts()
		if startLoads == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first network error never triggered StartLoad")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := m.Status(); st.State == StateError {
		t.Fatal("first network error must not be terminal")
	}

	dec.emitError(&hls.Error{Type: hls.ErrorTypeNetwork, Fatal: true, Detail: "timeout again"})
	st := waitState(t, m, StateError)
	if st.Error != ErrorNetwork {
		t.Fatalf("error = %s, want network_error", st.Error)
	}
	_, startLoads, _, destroys := dec.counts()
	if startLoads != 1 {
		t.Fatalf("startLoads = %d, want exactly 1", startLoads)
	}
	if destroys == 0 {
		t.Fatal("decoder must be destroyed after the second failure")
	}
}

func TestManagerMediaErrorRecoversExactlyOnce(t *testing.T) {
	el := newFakeElement()
	dec := newFakeDecoder()
	m := newTestManager(el, dec, instantDelay)
	defer m.Close()

	if err := m.SetSource(liveSource()); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	waitState(t, m, StateLoading)

	dec.emitError(&hls.Error{Type: hls.ErrorTypeMedia, Fatal: true, Detail: "demux"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, recovers, _ := dec.counts()
		if recovers == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("media error never triggered recovery")
		}
		time.Sleep(5 * time.Millisecond)
	}

	dec.emitError(&hls.Error{Type: hls.ErrorTypeMedia, Fatal: true, Detail: "demux again"})
	st := waitState(t, m, StateError)
	if st.Error != ErrorMedia {
		t.Fatalf("error = %s, want media_error", st.Error)
	}
	_, _, recovers, _ := dec.counts()
	if recovers != 1 {
		t.Fatalf("recovers = %d, want exactly 1", recovers)
	}
}

func TestManagerRejectsInvalidStreamURL(t *testing.T) {
	el := newFakeElement()
	m := newTestManager(el, nil, instantDelay)
	defer m.Close()

	src := liveSource()
	src.URL = "ftp://bad/stream.m3u8"
	if err := m.SetSource(src); err == nil {
		t.Fatal("expected validation error")
	}
	if st := m.Status(); st.State != StateIdle {
		t.Fatalf("state = %s after rejected source, want idle", st.State)
	}
}

func TestManagerRetryRestartsAttempt(t *testing.T) {
	el := newFakeElement()
	dec := newFakeDecoder()
	m := newTestManager(el, dec, instantDelay)
	defer m.Close()

	if err := m.SetSource(liveSource()); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	waitState(t, m, StateLoading)
	dec.emitError(&hls.Error{Type: hls.ErrorTypeNetwork, Fatal: true, Status: 401, Detail: "no auth"})
	waitState(t, m, StateError)

	if err := m.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	st := waitState(t, m, StateLoading)
	if st.Error != ErrorNone {
		t.Fatalf("error = %s after retry, want none", st.Error)
	}
	loads, _, _, _ := dec.counts()
	if loads != 2 {
		t.Fatalf("decoder loads = %d, want 2", loads)
	}
}

func TestManagerFileLoadFailureThenRetry(t *testing.T) {
	el := newFakeElement()
	el.loadErr = errUnplayable
	m := newTestManager(el, nil, instantDelay)
	defer m.Close()

	src, _ := testCatalog().Lookup("a")
	if err := m.SetSource(src); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	st := waitState(t, m, StateError)
	if st.Error != ErrorPlayback {
		t.Fatalf("error = %s, want playback_error", st.Error)
	}

	el.mu.Lock()
	el.loadErr = nil
	el.mu.Unlock()

	if err := m.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitState(t, m, StateLoading)

	got := el.loadedURLs()
	if len(got) != 2 || got[1] != "http://media/api/video/a.mp4" {
		t.Fatalf("loads = %v, want the retry to resolve the source again", got)
	}
}

func TestManagerLiveNativeFallback(t *testing.T) {
	el := newFakeElement()
	m := NewManager(Config{
		Element: el,
		Catalog: testCatalog(),
		DelayFn: instantDelay,
	})
	defer m.Close()

	if err := m.SetSource(liveSource()); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	waitState(t, m, StateLoading)

	got := el.loadedURLs()
	if len(got) != 1 || got[0] != "https://cdn.example.com/stream.m3u8" {
		t.Fatalf("loads = %v, want the manifest URL loaded natively", got)
	}

	el.emitCanPlay()
	waitState(t, m, StatePlaying)
}

func TestManagerLiveUnsupportedWithoutNativePlayback(t *testing.T) {
	el := newFakeElement()
	el.loadErr = errUnplayable
	m := NewManager(Config{
		Element: el,
		Catalog: testCatalog(),
		DelayFn: instantDelay,
	})
	defer m.Close()

	if err := m.SetSource(liveSource()); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	st := waitState(t, m, StateError)
	if st.Error != ErrorUnsupported {
		t.Fatalf("error = %s, want unsupported_format", st.Error)
	}
}

func TestManagerCaptureFrame(t *testing.T) {
	el := newFakeElement()
	el.frame = &types.Frame{
		Image:  image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Number: 1,
		Width:  8,
		Height: 8,
	}
	m := newTestManager(el, nil, instantDelay)
	defer m.Close()

	data, err := m.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("capture is not a JPEG")
	}
}

func TestManagerCaptureFrameWithoutFrame(t *testing.T) {
	el := newFakeElement()
	m := newTestManager(el, nil, instantDelay)
	defer m.Close()

	if _, err := m.CaptureFrame(); err == nil {
		t.Fatal("expected error with no frame decoded")
	}
}
