package detect

import "testing"

func ssdRow(classID, conf, x1, y1, x2, y2 float32) []float32 {
	return []float32{0, classID, conf, x1, y1, x2, y2}
}

func TestDecodeSSDScalesToFrame(t *testing.T) {
	out := ssdRow(1, 0.9, 0.25, 0.25, 0.75, 0.75)
	got := decodeSSD(out, 640, 480)

	if len(got) != 1 {
		t.Fatalf("detections = %d, want 1", len(got))
	}
	d := got[0]
	if d.Class != "person" {
		t.Fatalf("class = %q, want person", d.Class)
	}
	if d.Confidence != float64(float32(0.9)) {
		t.Fatalf("confidence = %v", d.Confidence)
	}
	if d.BBox.X != 160 || d.BBox.Y != 120 || d.BBox.W != 320 || d.BBox.H != 240 {
		t.Fatalf("bbox = %+v, want 160,120,320x240", d.BBox)
	}
}

func TestDecodeSSDSkipsPaddingRows(t *testing.T) {
	out := append(
		ssdRow(1, 0.8, 0.1, 0.1, 0.2, 0.2),
		ssdRow(0, 0, 0, 0, 0, 0)...,
	)
	got := decodeSSD(out, 100, 100)
	if len(got) != 1 {
		t.Fatalf("detections = %d, want padding skipped", len(got))
	}
}

func TestDecodeSSDClampsOutOfRangeBoxes(t *testing.T) {
	out := ssdRow(18, 0.7, -0.5, -0.5, 1.5, 1.5)
	got := decodeSSD(out, 200, 100)

	if len(got) != 1 {
		t.Fatalf("detections = %d, want 1", len(got))
	}
	b := got[0].BBox
	if b.X != 0 || b.Y != 0 || b.W != 200 || b.H != 100 {
		t.Fatalf("bbox = %+v, want full-frame clamp", b)
	}
	if got[0].Class != "dog" {
		t.Fatalf("class = %q, want dog", got[0].Class)
	}
}

func TestDecodeSSDDropsDegenerateBoxes(t *testing.T) {
	out := ssdRow(1, 0.9, 0.5, 0.5, 0.5, 0.5)
	if got := decodeSSD(out, 100, 100); len(got) != 0 {
		t.Fatalf("detections = %d, want degenerate box dropped", len(got))
	}
}

func TestDecodeSSDIgnoresTrailingPartialRow(t *testing.T) {
	out := append(ssdRow(1, 0.9, 0.1, 0.1, 0.9, 0.9), 0.5, 0.5)
	if got := decodeSSD(out, 100, 100); len(got) != 1 {
		t.Fatalf("detections = %d, want 1", len(got))
	}
}

func TestClassNameUnknown(t *testing.T) {
	if got := ClassName(999); got != "class_999" {
		t.Fatalf("ClassName(999) = %q", got)
	}
}
