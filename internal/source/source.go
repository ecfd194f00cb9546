package source

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind tells the connection manager how a source must be dispatched.
type Kind string

const (
	// KindFile is a recorded clip served as one progressive file.
	KindFile Kind = "file"
	// KindLiveStream is a live source delivered as manifest-referenced
	// segments, requiring a playlist-following decoder.
	KindLiveStream Kind = "liveAdaptiveStream"
)

// VideoSource identifies one playable source. Immutable once created: a new
// source always replaces the active one wholesale, never mutates in place.
type VideoSource struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Filename    string `json:"filename,omitempty" yaml:"filename,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Locator returns the kind-specific address of the source.
func (s VideoSource) Locator() string {
	if s.Kind == KindLiveStream {
		return s.URL
	}
	return s.Filename
}

// LiveStream builds a live source from a user-supplied manifest URL. The URL
// must pass ValidateStreamURL before any connection attempt.
func LiveStream(name, rawURL string) (VideoSource, error) {
	if err := ValidateStreamURL(rawURL); err != nil {
		return VideoSource{}, err
	}
	if name == "" {
		name = rawURL
	}
	return VideoSource{
		ID:   "live:" + rawURL,
		Name: name,
		Kind: KindLiveStream,
		URL:  rawURL,
	}, nil
}

// ValidationError rejects a malformed stream URL before any connection
// attempt is made.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid stream URL %q: %s", e.URL, e.Reason)
}

// ValidateStreamURL checks that a user-supplied live URL is http(s) and
// names an adaptive-stream manifest, optionally with a query string.
func ValidateStreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{URL: raw, Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{URL: raw, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{URL: raw, Reason: "missing host"}
	}
	if !strings.HasSuffix(u.Path, ".m3u8") {
		return &ValidationError{URL: raw, Reason: "path must end in .m3u8"}
	}
	return nil
}
