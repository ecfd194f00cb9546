package jpegstream

import (
	"bytes"
	"testing"
)

func jpegFrame(payload byte) []byte {
	return []byte{0xFF, 0xD8, payload, payload, 0xFF, 0xD9}
}

func TestSplitterSingleFrame(t *testing.T) {
	s := NewSplitter()
	want := jpegFrame(0x01)
	s.Push(want)

	got, ok := s.Next()
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame = %x, want %x", got, want)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("expected no second frame")
	}
}

func TestSplitterFrameAcrossPushes(t *testing.T) {
	s := NewSplitter()
	want := jpegFrame(0x02)

	for i := range want {
		s.Push(want[i : i+1])
		if i < len(want)-1 {
			if _, ok := s.Next(); ok {
				t.Fatalf("frame surfaced early after %d bytes", i+1)
			}
		}
	}

	got, ok := s.Next()
	if !ok {
		t.Fatal("expected frame after final byte")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame = %x, want %x", got, want)
	}
}

func TestSplitterDiscardsLeadingGarbage(t *testing.T) {
	s := NewSplitter()
	want := jpegFrame(0x03)
	s.Push([]byte{0x00, 0x11, 0x22})
	s.Push(want)

	got, ok := s.Next()
	if !ok {
		t.Fatal("expected frame despite leading garbage")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame = %x, want %x", got, want)
	}
}

func TestSplitterBackToBackFrames(t *testing.T) {
	s := NewSplitter()
	first := jpegFrame(0x04)
	second := jpegFrame(0x05)
	s.Push(append(append([]byte{}, first...), second...))

	got1, ok := s.Next()
	if !ok || !bytes.Equal(got1, first) {
		t.Fatalf("first frame = %x ok=%v, want %x", got1, ok, first)
	}
	got2, ok := s.Next()
	if !ok || !bytes.Equal(got2, second) {
		t.Fatalf("second frame = %x ok=%v, want %x", got2, ok, second)
	}
}
