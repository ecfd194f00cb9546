// Package hls pulls adaptive-stream playlists and pumps their media
// segments into a media element's segment sink.
package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/streamlens/streamlens/internal/logger"
)

// ErrorType classifies a decoder failure for recovery decisions.
type ErrorType int

const (
	// ErrorTypeNetwork covers manifest and segment transport failures.
	ErrorTypeNetwork ErrorType = iota
	// ErrorTypeMedia covers segment handoff and decode-side failures.
	ErrorTypeMedia
	// ErrorTypeOther covers everything else.
	ErrorTypeOther
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeMedia:
		return "media"
	default:
		return "other"
	}
}

// Error is a classified decoder failure. Status carries the HTTP status
// code when the failure came from a response, zero otherwise.
type Error struct {
	Type   ErrorType
	Fatal  bool
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("hls %s error (HTTP %d): %s", e.Type, e.Status, e.Detail)
	}
	return fmt.Sprintf("hls %s error: %s", e.Type, e.Detail)
}

// AccessDenied reports whether the failure is an authorization rejection.
func (e *Error) AccessDenied() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// EventType identifies a decoder event.
type EventType int

const (
	// EventManifestParsed fires once a playable playlist is loaded.
	EventManifestParsed EventType = iota
	// EventError fires on a classified failure.
	EventError
)

// Event is delivered on the decoder's event channel.
type Event struct {
	Type EventType
	Err  *Error
}

// Decoder loads an HLS playlist, follows its refresh cadence, and writes
// fresh segments into the sink. It never retries on its own: after a fatal
// error the pump stops and the owner decides between StartLoad,
// RecoverMediaError and Destroy.
type Decoder struct {
	client *http.Client
	events chan Event

	mu        sync.Mutex
	playlist  *url.URL
	sink      io.WriteCloser
	cancel    context.CancelFunc
	running   bool
	destroyed bool
	parsed    bool
	seen      map[string]struct{}
}

// NewDecoder creates a decoder using the given HTTP client, or a default
// client with a 10s timeout when nil.
func NewDecoder(client *http.Client) *Decoder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Decoder{
		client: client,
		events: make(chan Event, 16),
		seen:   make(map[string]struct{}),
	}
}

// Events delivers manifest and error notifications. The channel is closed
// by Destroy.
func (d *Decoder) Events() <-chan Event {
	return d.events
}

// Load attaches the decoder to a playlist URL and a segment sink, then
// starts the pump.
func (d *Decoder) Load(rawURL string, sink io.WriteCloser) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse playlist url: %w", err)
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return fmt.Errorf("decoder is destroyed")
	}
	d.playlist = u
	d.sink = sink
	d.parsed = false
	d.seen = make(map[string]struct{})
	d.mu.Unlock()

	d.StartLoad()
	return nil
}

// StartLoad (re)starts the playlist pump. It is the owner's retry hook
// after a recoverable network error; segments already delivered are not
// fetched again.
func (d *Decoder) StartLoad() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed || d.running || d.playlist == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true
	go d.pump(ctx)
}

// RecoverMediaError restarts the pump after a media failure, dropping the
// delivered-segment memory so playback resumes from the live window.
func (d *Decoder) RecoverMediaError() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.seen = make(map[string]struct{})
	d.mu.Unlock()
	d.StartLoad()
}

// Destroy stops the pump, closes the sink and the event channel. It is
// safe to call more than once.
func (d *Decoder) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	if d.cancel != nil {
		d.cancel()
	}
	sink := d.sink
	d.sink = nil
	close(d.events)
	d.mu.Unlock()

	if sink != nil {
		_ = sink.Close()
	}
}

func (d *Decoder) pump(ctx context.Context) {
	for {
		wait, err := d.refresh(ctx)
		if err != nil {
			d.stopped()
			if ctx.Err() == nil {
				// running is already cleared, so the owner may call
				// StartLoad from its event handler right away.
				d.fail(err)
			}
			return
		}
		if wait < 0 {
			// Playlist ended; the element signals EOF when the sink closes.
			d.stopped()
			d.closeSink()
			return
		}
		select {
		case <-ctx.Done():
			d.stopped()
			return
		case <-time.After(wait):
		}
	}
}

func (d *Decoder) stopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// refresh loads the playlist once and delivers any unseen segments. It
// returns the delay before the next refresh, negative when the playlist
// is closed.
func (d *Decoder) refresh(ctx context.Context) (time.Duration, *Error) {
	d.mu.Lock()
	playlist := d.playlist
	d.mu.Unlock()

	body, status, err := d.fetch(ctx, playlist.String())
	if err != nil {
		return 0, &Error{Type: ErrorTypeNetwork, Fatal: true, Detail: err.Error()}
	}
	if status != http.StatusOK {
		body.Close()
		return 0, &Error{
			Type:   ErrorTypeNetwork,
			Fatal:  true,
			Status: status,
			Detail: fmt.Sprintf("playlist fetch returned HTTP %d", status),
		}
	}

	parsed, listType, perr := m3u8.DecodeFrom(body, true)
	body.Close()
	if perr != nil {
		return 0, &Error{Type: ErrorTypeOther, Fatal: true, Detail: "malformed playlist: " + perr.Error()}
	}

	switch listType {
	case m3u8.MASTER:
		master := parsed.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return 0, &Error{Type: ErrorTypeOther, Fatal: true, Detail: "master playlist has no variants"}
		}
		variant, err := playlist.Parse(master.Variants[0].URI)
		if err != nil {
			return 0, &Error{Type: ErrorTypeOther, Fatal: true, Detail: "bad variant uri: " + err.Error()}
		}
		d.mu.Lock()
		d.playlist = variant
		d.mu.Unlock()
		logger.Debug("HLS", "Selected variant %s", variant)
		return 0, nil

	case m3u8.MEDIA:
		media := parsed.(*m3u8.MediaPlaylist)
		d.markParsed()
		if err := d.deliver(ctx, playlist, media); err != nil {
			return 0, err
		}
		if media.Closed {
			return -1, nil
		}
		wait := time.Duration(media.TargetDuration * float64(time.Second))
		if wait < time.Second {
			wait = time.Second
		}
		return wait, nil

	default:
		return 0, &Error{Type: ErrorTypeOther, Fatal: true, Detail: "unrecognized playlist type"}
	}
}

func (d *Decoder) deliver(ctx context.Context, base *url.URL, media *m3u8.MediaPlaylist) *Error {
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		segURL, err := base.Parse(seg.URI)
		if err != nil {
			logger.Warn("HLS", "Skipping segment with bad uri %q: %v", seg.URI, err)
			continue
		}
		uri := segURL.String()

		d.mu.Lock()
		_, dup := d.seen[uri]
		sink := d.sink
		d.mu.Unlock()
		if dup {
			continue
		}

		body, status, err := d.fetch(ctx, uri)
		if err != nil {
			return &Error{Type: ErrorTypeNetwork, Fatal: true, Detail: err.Error()}
		}
		if status != http.StatusOK {
			body.Close()
			return &Error{
				Type:   ErrorTypeNetwork,
				Fatal:  true,
				Status: status,
				Detail: fmt.Sprintf("segment fetch returned HTTP %d", status),
			}
		}
		_, err = io.Copy(sink, body)
		body.Close()
		if err != nil {
			return &Error{Type: ErrorTypeMedia, Fatal: true, Detail: "segment handoff: " + err.Error()}
		}

		// Only remember fully delivered segments so a restarted pump
		// refetches the one that failed.
		d.mu.Lock()
		d.seen[uri] = struct{}{}
		d.mu.Unlock()
	}
	return nil
}

func (d *Decoder) fetch(ctx context.Context, u string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.StatusCode, nil
}

func (d *Decoder) markParsed() {
	d.mu.Lock()
	first := !d.parsed
	d.parsed = true
	d.mu.Unlock()
	if first {
		d.emit(Event{Type: EventManifestParsed})
	}
}

func (d *Decoder) fail(err *Error) {
	logger.Warn("HLS", "Pump stopped: %v", err)
	d.emit(Event{Type: EventError, Err: err})
}

func (d *Decoder) closeSink() {
	d.mu.Lock()
	sink := d.sink
	d.sink = nil
	d.mu.Unlock()
	if sink != nil {
		_ = sink.Close()
	}
}

func (d *Decoder) emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	select {
	case d.events <- ev:
	default:
	}
}
