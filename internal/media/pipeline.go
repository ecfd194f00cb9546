package media

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamlens/streamlens/internal/logger"
	"github.com/streamlens/streamlens/internal/media/jpegstream"
	"github.com/streamlens/streamlens/pkg/types"
)

// PipelineElement decodes a source into frames through an externally owned
// frame-extraction process (ffmpeg image2pipe). It supports progressive URL
// loading and pipe-fed segment input for adaptive streams.
type PipelineElement struct {
	ffmpegPath string
	fps        int

	decoded atomic.Uint64
	dropped atomic.Uint64

	mu       sync.Mutex
	gen      uint64
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	events   chan Event
	frame    *types.Frame
	frameNum uint64
	ready    ReadyState
	playing  bool
	position time.Duration
	closed   bool
}

// NewPipelineElement creates an element decoding at the given frame rate.
func NewPipelineElement(ffmpegPath string, fps int) *PipelineElement {
	if fps <= 0 {
		fps = 10
	}
	return &PipelineElement{
		ffmpegPath: ffmpegPath,
		fps:        fps,
		events:     make(chan Event, 32),
	}
}

// Load begins decoding a progressive source from a resolved URL.
func (e *PipelineElement) Load(url string) error {
	args := []string{
		"-re",
		"-i", url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", strconv.Itoa(e.fps),
		"-q:v", "5",
		"-",
	}
	_, err := e.start(args)
	return err
}

// LoadStream switches to pipe-fed mode: the returned sink receives media
// segment bytes from an adaptive-stream decoder.
func (e *PipelineElement) LoadStream() (io.WriteCloser, error) {
	args := []string{
		"-re",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", strconv.Itoa(e.fps),
		"-q:v", "5",
		"-",
	}
	return e.start(args)
}

func (e *PipelineElement) start(args []string) (io.WriteCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("media element is closed")
	}

	e.teardownLocked()
	e.gen++
	e.ready = HaveNothing
	e.playing = false
	e.position = 0
	e.frameNum = 0
	e.frame = nil

	cmd := exec.Command(e.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open decode pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open segment sink: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start frame extraction: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	gen := e.gen
	go e.readFrames(stdout, gen)

	return stdin, nil
}

func (e *PipelineElement) readFrames(r io.Reader, gen uint64) {
	splitter := jpegstream.NewSplitter()
	chunk := make([]byte, 32*1024)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			splitter.Push(chunk[:n])
			for {
				data, ok := splitter.Next()
				if !ok {
					break
				}
				if !e.acceptFrame(data, gen) {
					// An undecodable frame means the marker scan lost sync;
					// drop buffered bytes and resync at the next start marker.
					splitter.Reset()
					break
				}
			}
		}
		if err != nil {
			e.mu.Lock()
			stale := gen != e.gen
			if !stale {
				e.playing = false
			}
			e.mu.Unlock()
			if !stale {
				if err != io.EOF {
					e.emit(Event{Type: EventError, Err: err})
				} else {
					e.emit(Event{Type: EventEnded, Position: e.Position()})
				}
			}
			return
		}
	}
}

// acceptFrame decodes one extracted JPEG into the frame slot. It reports
// false when the bytes were not a decodable image.
func (e *PipelineElement) acceptFrame(data []byte, gen uint64) bool {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		e.dropped.Add(1)
		logger.Debug("Media", "Dropping undecodable frame: %v", err)
		return false
	}

	e.mu.Lock()
	if gen != e.gen {
		// A newer load superseded this reader; discard.
		e.mu.Unlock()
		e.dropped.Add(1)
		return true
	}
	e.decoded.Add(1)

	bounds := img.Bounds()
	e.frameNum++
	e.frame = &types.Frame{
		Image:     img,
		JPEG:      data,
		Number:    e.frameNum,
		Timestamp: time.Now(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}

	firstFrame := e.ready < HaveCurrentData
	e.ready = HaveCurrentData

	advanced := false
	if e.playing {
		e.position += time.Second / time.Duration(e.fps)
		advanced = true
	}
	position := e.position
	e.mu.Unlock()

	if firstFrame {
		e.emit(Event{Type: EventCanPlay})
	}
	if advanced {
		e.emit(Event{Type: EventTimeUpdate, Position: position})
	}
	return true
}

// Play begins playback; it fails if no frame has been decoded yet.
func (e *PipelineElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready < HaveCurrentData {
		return fmt.Errorf("media not ready")
	}
	e.playing = true
	return nil
}

// Pause freezes the playback position.
func (e *PipelineElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

// ReadyState reports decode readiness.
func (e *PipelineElement) ReadyState() ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Playing reports whether playback is active.
func (e *PipelineElement) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Position returns the current playback position.
func (e *PipelineElement) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// NativeSize returns the source-native frame dimensions, zero before the
// first decoded frame.
func (e *PipelineElement) NativeSize() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frame == nil {
		return 0, 0
	}
	return e.frame.Width, e.frame.Height
}

// CurrentFrame returns the latest decoded frame.
func (e *PipelineElement) CurrentFrame() (*types.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frame == nil {
		return nil, false
	}
	return e.frame, true
}

// Stats reports cumulative decoded and dropped frame counts across loads.
func (e *PipelineElement) Stats() (decoded, dropped uint64) {
	return e.decoded.Load(), e.dropped.Load()
}

// Events returns the element's event channel.
func (e *PipelineElement) Events() <-chan Event {
	return e.events
}

// Close tears down the decode process and closes the event channel.
func (e *PipelineElement) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.teardownLocked()
	e.gen++
	e.closed = true
	close(e.events)
	return nil
}

func (e *PipelineElement) teardownLocked() {
	if e.stdin != nil {
		_ = e.stdin.Close()
		e.stdin = nil
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
		cmd := e.cmd
		go func() { _ = cmd.Wait() }()
	}
	e.cmd = nil
}

// emit sends under the mutex so Close cannot close the channel between the
// closed check and the send.
func (e *PipelineElement) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		// Consumer is behind; drop rather than block the decode loop.
	}
}
