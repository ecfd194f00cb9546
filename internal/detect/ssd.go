package detect

import "github.com/streamlens/streamlens/pkg/types"

// ssdRowLen is the stride of an SSD detection output: [batchID, classID,
// confidence, left, top, right, bottom] with coordinates normalized to 0..1.
const ssdRowLen = 7

// decodeSSD converts a flat SSD detection tensor into detections in the
// frame's pixel space. Rows with non-positive confidence are padding and
// are skipped; confidence thresholds are applied by the caller.
func decodeSSD(out []float32, frameW, frameH int) []types.Detection {
	var results []types.Detection

	for i := 0; i+ssdRowLen <= len(out); i += ssdRowLen {
		confidence := out[i+2]
		if confidence <= 0 {
			continue
		}

		classID := int(out[i+1])
		x1 := clamp(out[i+3]) * float32(frameW)
		y1 := clamp(out[i+4]) * float32(frameH)
		x2 := clamp(out[i+5]) * float32(frameW)
		y2 := clamp(out[i+6]) * float32(frameH)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		results = append(results, types.Detection{
			Class:      ClassName(classID),
			Confidence: float64(confidence),
			BBox: types.BoundingBox{
				X: int(x1),
				Y: int(y1),
				W: int(x2 - x1),
				H: int(y2 - y1),
			},
		})
	}

	return results
}

func clamp(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
