package jpegstream

import "bytes"

// JPEG frame markers
var (
	soi = []byte{0xFF, 0xD8} // start of image
	eoi = []byte{0xFF, 0xD9} // end of image
)

// Splitter extracts complete JPEG images from a byte stream produced by an
// image2pipe frame-extraction process. Partial data is buffered across
// pushes until a full SOI..EOI span is available.
type Splitter struct {
	buf []byte
}

// NewSplitter creates an empty splitter.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Push appends raw stream bytes to the internal buffer.
func (s *Splitter) Push(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next pops the earliest complete JPEG frame, or returns false when the
// buffer holds no full frame yet. Bytes before the start marker are garbage
// from the pipe and are discarded.
func (s *Splitter) Next() ([]byte, bool) {
	start := bytes.Index(s.buf, soi)
	if start < 0 {
		// Keep one byte in case a marker straddles the next push.
		if len(s.buf) > 1 {
			s.buf = s.buf[len(s.buf)-1:]
		}
		return nil, false
	}

	end := bytes.Index(s.buf[start+len(soi):], eoi)
	if end < 0 {
		if start > 0 {
			s.buf = s.buf[start:]
		}
		return nil, false
	}
	end += start + len(soi) + len(eoi)

	frame := make([]byte, end-start)
	copy(frame, s.buf[start:end])
	s.buf = s.buf[end:]
	return frame, true
}

// Reset drops all buffered bytes.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
}
