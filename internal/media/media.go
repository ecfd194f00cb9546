package media

import (
	"io"
	"time"

	"github.com/streamlens/streamlens/pkg/types"
)

// ReadyState mirrors the decode readiness of a media element.
type ReadyState int

const (
	// HaveNothing means no media data is available yet.
	HaveNothing ReadyState = iota
	// HaveMetadata means dimensions are known but no frame is decoded.
	HaveMetadata
	// HaveCurrentData means a frame is decoded and renderable.
	HaveCurrentData
)

// EventType identifies a media element event.
type EventType int

const (
	// EventCanPlay fires once the element can render frames.
	EventCanPlay EventType = iota
	// EventTimeUpdate fires as playback position advances.
	EventTimeUpdate
	// EventEnded fires when a finite source runs out of frames.
	EventEnded
	// EventError fires on a decode or transport failure.
	EventError
)

// Event is delivered on an element's event channel.
type Event struct {
	Type     EventType
	Position time.Duration
	Err      error
}

// Element is the playable media resource. It is exclusively mutated by the
// connection manager; every other component only reads from it.
type Element interface {
	// Load begins loading a progressive source from a resolved URL. Any
	// previous load is torn down first.
	Load(url string) error

	// LoadStream switches the element to pipe-fed mode and returns the
	// sink a segment decoder writes media data into.
	LoadStream() (io.WriteCloser, error)

	// Play begins playback once the element is decode-ready.
	Play() error

	// Pause freezes playback position; frames keep the last decoded value.
	Pause()

	ReadyState() ReadyState
	Playing() bool
	Position() time.Duration
	NativeSize() (w, h int)

	// CurrentFrame returns the latest decoded frame, if any.
	CurrentFrame() (*types.Frame, bool)

	// Events delivers canplay/timeupdate/ended/error notifications. The
	// channel is owned by the element and closed on Close.
	Events() <-chan Event

	// Close tears the element down and releases the decode process.
	Close() error
}
