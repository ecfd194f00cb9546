package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/streamlens/streamlens/internal/logger"
	"github.com/streamlens/streamlens/pkg/types"
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// blankJPEG renders the keep-alive frame shown before the first decode.
func blankJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	dark := color.RGBA{R: 24, G: 24, B: 28, A: 255}
	draw.Draw(img, img.Bounds(), image.NewUniform(dark), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// frameProvider returns the next composited JPEG, or false when no frame
// is available yet.
type frameProvider func() ([]byte, bool)

// streamMJPEG pushes composited frames at the given interval until the
// client disconnects.
func streamMJPEG(w http.ResponseWriter, r *http.Request, interval time.Duration, provider frameProvider) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		jpegData, ok := provider()
		if !ok {
			jpegData = blank
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// compositeFrame draws the overlay surface over the decoded frame and
// encodes the result as JPEG. The surface tracks the display size, not the
// source resolution, so it is stretched to the frame before compositing to
// keep box coordinates aligned.
func compositeFrame(frame *types.Frame, overlaySurface *image.RGBA) ([]byte, error) {
	bounds := frame.Image.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame.Image, bounds.Min, draw.Src)
	if overlaySurface != nil {
		ob := overlaySurface.Bounds()
		if ob.Dx() == bounds.Dx() && ob.Dy() == bounds.Dy() {
			draw.Draw(out, bounds, overlaySurface, ob.Min, draw.Over)
		} else {
			xdraw.ApproxBiLinear.Scale(out, bounds, overlaySurface, ob, xdraw.Over, nil)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
