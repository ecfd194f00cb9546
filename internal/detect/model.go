// Package detect wraps an SSD MobileNet object-detection network behind a
// load-once, infer-serially model interface.
package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/streamlens/streamlens/internal/logger"
	"github.com/streamlens/streamlens/pkg/types"
)

// LoadErrorKind distinguishes why the model failed to load.
type LoadErrorKind int

const (
	// LoadErrorMissingFile means a model artifact is absent on disk.
	LoadErrorMissingFile LoadErrorKind = iota
	// LoadErrorBadModel means the artifacts exist but the network did not
	// initialize from them.
	LoadErrorBadModel
)

// LoadError reports a failed model load.
type LoadError struct {
	Kind   LoadErrorKind
	Path   string
	Detail string
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case LoadErrorMissingFile:
		return fmt.Sprintf("model artifact not found: %s", e.Path)
	default:
		return fmt.Sprintf("model failed to initialize: %s", e.Detail)
	}
}

// InferenceError reports a failed detection pass. The scheduler treats it
// as transient and keeps its loop alive.
type InferenceError struct {
	Detail string
}

func (e *InferenceError) Error() string {
	return "inference failed: " + e.Detail
}

// Model is the detection network. Load is idempotent; Detect runs one
// serial inference pass per call.
type Model struct {
	modelPath  string
	configPath string

	mu     sync.Mutex
	net    gocv.Net
	loaded bool
}

// NewModel creates an unloaded model over the given artifact paths.
func NewModel(modelPath, configPath string) *Model {
	return &Model{modelPath: modelPath, configPath: configPath}
}

// Loaded reports whether the network is resident.
func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Load reads the network from disk. It prefers a CUDA backend and falls
// back to CPU when the device is unavailable. Calling Load on a resident
// model is a no-op.
func (m *Model) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return nil
	}

	for _, p := range []string{m.modelPath, m.configPath} {
		if _, err := os.Stat(p); err != nil {
			return &LoadError{Kind: LoadErrorMissingFile, Path: p}
		}
	}

	net := gocv.ReadNet(m.modelPath, m.configPath)
	if net.Empty() {
		return &LoadError{Kind: LoadErrorBadModel, Detail: "network is empty after read"}
	}

	if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err == nil {
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err == nil {
			logger.Info("Detect", "Model loaded with CUDA backend")
			m.net = net
			m.loaded = true
			return nil
		}
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return &LoadError{Kind: LoadErrorBadModel, Detail: "set backend: " + err.Error()}
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return &LoadError{Kind: LoadErrorBadModel, Detail: "set target: " + err.Error()}
	}

	logger.Info("Detect", "Model loaded with CPU backend")
	m.net = net
	m.loaded = true
	return nil
}

// Detect runs one inference pass over the frame and returns detections in
// frame pixel space, unfiltered.
func (m *Model) Detect(frame *types.Frame) ([]types.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return nil, &InferenceError{Detail: "model not loaded"}
	}

	mat, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, &InferenceError{Detail: "decode frame: " + err.Error()}
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, &InferenceError{Detail: "decoded frame is empty"}
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	rows := output.Total() / ssdRowLen
	reshaped := output.Reshape(1, rows)
	defer reshaped.Close()

	out := make([]float32, 0, rows*ssdRowLen)
	for i := 0; i < rows; i++ {
		for j := 0; j < ssdRowLen; j++ {
			out = append(out, reshaped.GetFloatAt(i, j))
		}
	}

	return decodeSSD(out, frame.Width, frame.Height), nil
}

// Close releases the network. The model can be reloaded afterwards.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil
	}
	m.loaded = false
	return m.net.Close()
}
