package types

import (
	"image"
	"time"
)

// Frame is one decoded video frame flowing out of a media element.
type Frame struct {
	Image     image.Image // Decoded pixels
	JPEG      []byte      // Original compressed bytes when the pipeline carries JPEG
	Number    uint64      // Sequential frame number within the current load
	Timestamp time.Time   // Decode timestamp
	Width     int         // Native width in pixels
	Height    int         // Native height in pixels
}

// BoundingBox locates a detection in source-native pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is a single object detection for one frame. Detections are
// ephemeral: recomputed on every scheduler tick, never persisted.
type Detection struct {
	Class      string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}
