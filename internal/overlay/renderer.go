// Package overlay rasterizes detection results onto a transparent surface
// sized to the display, for compositing over the video frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/streamlens/streamlens/pkg/types"
)

var (
	boxColor      = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	centroidColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	labelColor    = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	labelShadow   = color.RGBA{R: 0, G: 0, B: 0, A: 180}
)

// Renderer draws bounding boxes, centroids and labels scaled from the
// source-native coordinate space to the display size. It remembers the last
// result set so visibility toggles redraw without a new inference pass.
type Renderer struct {
	mu       sync.Mutex
	surface  *image.RGBA
	nativeW  int
	nativeH  int
	visible  bool
	last     []types.Detection
	haveLast bool
}

// NewRenderer creates a visible renderer with the given display size.
func NewRenderer(displayW, displayH int) *Renderer {
	if displayW <= 0 {
		displayW = 640
	}
	if displayH <= 0 {
		displayH = 480
	}
	return &Renderer{
		surface: image.NewRGBA(image.Rect(0, 0, displayW, displayH)),
		visible: true,
	}
}

// SetDisplaySize resizes the surface and redraws the last result set.
func (r *Renderer) SetDisplaySize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface = image.NewRGBA(image.Rect(0, 0, w, h))
	r.redrawLocked()
}

// SetNativeSize records the source-native frame dimensions boxes scale from.
func (r *Renderer) SetNativeSize(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nativeW = w
	r.nativeH = h
	r.redrawLocked()
}

// Render replaces the remembered result set and, when visible, rasterizes
// it onto the surface.
func (r *Renderer) Render(detections []types.Detection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = detections
	r.haveLast = true
	r.redrawLocked()
}

// SetVisible toggles the overlay. Hiding clears the surface; showing
// redraws the remembered results immediately.
func (r *Renderer) SetVisible(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visible == visible {
		return
	}
	r.visible = visible
	r.redrawLocked()
}

// Visible reports the current toggle state.
func (r *Renderer) Visible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

// Clear drops the remembered results and blanks the surface.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = nil
	r.haveLast = false
	r.clearLocked()
}

// Snapshot returns a copy of the surface for compositing.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := image.NewRGBA(r.surface.Bounds())
	copy(out.Pix, r.surface.Pix)
	return out
}

func (r *Renderer) redrawLocked() {
	r.clearLocked()
	if !r.visible || !r.haveLast {
		return
	}

	bounds := r.surface.Bounds()
	scaleX, scaleY := 1.0, 1.0
	if r.nativeW > 0 && r.nativeH > 0 {
		scaleX = float64(bounds.Dx()) / float64(r.nativeW)
		scaleY = float64(bounds.Dy()) / float64(r.nativeH)
	}

	for _, det := range r.last {
		x := int(float64(det.BBox.X) * scaleX)
		y := int(float64(det.BBox.Y) * scaleY)
		w := int(float64(det.BBox.W) * scaleX)
		h := int(float64(det.BBox.H) * scaleY)

		r.drawRect(x, y, w, h)
		r.drawCentroid(x+w/2, y+h/2)
		label := fmt.Sprintf("%s %.0f%%", det.Class, det.Confidence*100)
		r.drawLabel(x, y-4, label)
	}
}

func (r *Renderer) clearLocked() {
	draw.Draw(r.surface, r.surface.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

func (r *Renderer) drawRect(x, y, w, h int) {
	for i := 0; i < w; i++ {
		r.setPixel(x+i, y)
		r.setPixel(x+i, y+h-1)
	}
	for j := 0; j < h; j++ {
		r.setPixel(x, y+j)
		r.setPixel(x+w-1, y+j)
	}
}

func (r *Renderer) drawCentroid(cx, cy int) {
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			if dx*dx+dy*dy <= 4 {
				p := image.Pt(cx+dx, cy+dy)
				if p.In(r.surface.Bounds()) {
					r.surface.SetRGBA(p.X, p.Y, centroidColor)
				}
			}
		}
	}
}

func (r *Renderer) drawLabel(x, y int, text string) {
	if y < basicfont.Face7x13.Height {
		y = basicfont.Face7x13.Height
	}
	// Shadow first so the label stays readable over bright frames.
	for _, off := range []image.Point{{1, 1}, {0, 0}} {
		src := image.NewUniform(labelColor)
		if off.X != 0 || off.Y != 0 {
			src = image.NewUniform(labelShadow)
		}
		d := font.Drawer{
			Dst:  r.surface,
			Src:  src,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(x+off.X, y+off.Y),
		}
		d.DrawString(text)
	}
}

func (r *Renderer) setPixel(x, y int) {
	if (image.Point{X: x, Y: y}).In(r.surface.Bounds()) {
		r.surface.SetRGBA(x, y, boxColor)
	}
}
