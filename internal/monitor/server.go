// Package monitor serves the operator HTTP surface: source control,
// detection toggles, the composited MJPEG stream, the count series and the
// analysis bridge.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/streamlens/streamlens/internal/analysis"
	"github.com/streamlens/streamlens/internal/capture"
	"github.com/streamlens/streamlens/internal/conn"
	"github.com/streamlens/streamlens/internal/logger"
	"github.com/streamlens/streamlens/internal/media"
	"github.com/streamlens/streamlens/internal/metrics"
	"github.com/streamlens/streamlens/internal/overlay"
	"github.com/streamlens/streamlens/internal/sched"
	"github.com/streamlens/streamlens/internal/series"
	"github.com/streamlens/streamlens/internal/source"
)

// Config carries the server's construction knobs.
type Config struct {
	Catalog   *source.Catalog
	Manager   *conn.Manager
	Scheduler *sched.Scheduler
	Renderer  *overlay.Renderer
	Series    *series.Aggregator
	Snapshots *capture.Store
	Analysis  *analysis.Client
	Element   media.Element
	Metrics   *metrics.Metrics

	TargetClass    string
	FileConfidence float64
	LiveConfidence float64
	MJPEGInterval  time.Duration
}

// Server is the monitor HTTP surface.
type Server struct {
	cfg         Config
	broadcaster *ResultBroadcaster
}

// NewServer wires the server and its result fanout.
func NewServer(cfg Config) *Server {
	if cfg.MJPEGInterval <= 0 {
		cfg.MJPEGInterval = 100 * time.Millisecond
	}
	if cfg.TargetClass == "" {
		cfg.TargetClass = "person"
	}
	if cfg.FileConfidence <= 0 {
		cfg.FileConfidence = 0.45
	}
	if cfg.LiveConfidence <= 0 {
		cfg.LiveConfidence = 0.5
	}

	s := &Server{
		cfg:         cfg,
		broadcaster: NewResultBroadcaster(),
	}

	cfg.Scheduler.OnResult(func(r sched.Result) {
		if cfg.Metrics != nil {
			cfg.Metrics.InferencePasses.Add(1)
			cfg.Metrics.InferenceLatencyMs.Store(uint64(r.LatencyMs))
			cfg.Metrics.DetectionsKept.Add(uint64(r.Count))
			cfg.Metrics.SeriesLength.Store(uint64(cfg.Series.Len()))
		}
		s.broadcaster.Publish(r)
	})

	cfg.Scheduler.OnError(func(error) {
		if cfg.Metrics != nil {
			cfg.Metrics.InferenceErrors.Add(1)
		}
	})

	cfg.Manager.OnState(func(st conn.Status) {
		if cfg.Metrics != nil {
			cfg.Metrics.ConnectionState.Store(uint64(st.State))
		}
	})

	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/source", s.handleSetSource)
	mux.HandleFunc("/api/retry", s.handleRetry)
	mux.HandleFunc("/api/series", s.handleSeries)
	mux.HandleFunc("/api/detection/enable", s.handleDetectionEnable)
	mux.HandleFunc("/api/detection/disable", s.handleDetectionDisable)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/overlay/toggle", s.handleOverlayToggle)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/snapshots", s.handleSnapshotList)
	mux.HandleFunc("/api/snapshots/", s.handleSnapshotGet)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/prompt", s.handlePrompt)

	return mux
}

// Serve starts the HTTP server on addr.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		logger.Info("Monitor", "Serving on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Monitor", "Server failed: %v", err)
		}
	}()
	return srv
}

// Close stops the result fanout.
func (s *Server) Close() {
	s.broadcaster.Close()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveClients.Add(1)
		s.cfg.Metrics.TotalClients.Add(1)
		defer func() {
			s.cfg.Metrics.ActiveClients.Add(^uint64(0))
		}()
	}

	streamMJPEG(w, r, s.cfg.MJPEGInterval, func() ([]byte, bool) {
		frame, ok := s.cfg.Element.CurrentFrame()
		if !ok {
			return nil, false
		}
		data, err := compositeFrame(frame, s.cfg.Renderer.Snapshot())
		if err != nil {
			return nil, false
		}
		return data, true
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.Manager.Status()

	connection := map[string]any{
		"state":            st.State.String(),
		"error":            st.Error.String(),
		"position_seconds": st.Position.Seconds(),
	}
	if st.Source != nil {
		connection["source"] = st.Source
	}
	if st.ErrDetail != "" {
		connection["error_detail"] = st.ErrDetail
	}

	payload := map[string]any{
		"connection": connection,
		"detection": map[string]any{
			"enabled": s.cfg.Scheduler.Enabled(),
			"session": s.cfg.Scheduler.Session(),
		},
		"overlay": map[string]any{
			"visible": s.cfg.Renderer.Visible(),
		},
		"series": map[string]any{
			"length": s.cfg.Series.Len(),
			"paused": s.cfg.Series.Paused(),
		},
		"snapshots": s.cfg.Snapshots.Status(),
		"prompt":    s.cfg.Analysis.Prompt(),
		"timestamp": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"sources": s.cfg.Catalog.List()})
}

// setSourceRequest selects a catalog entry by id, or names an ad-hoc live
// stream by URL.
type setSourceRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) handleSetSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req setSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	var src source.VideoSource
	switch {
	case req.ID != "":
		entry, ok := s.cfg.Catalog.Lookup(req.ID)
		if !ok {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown source id %q", req.ID)}, http.StatusNotFound)
			return
		}
		src = entry
	case req.URL != "":
		live, err := source.LiveStream(req.Name, req.URL)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		src = live
	default:
		writeJSONWithStatus(w, map[string]any{"error": "id or url required"}, http.StatusBadRequest)
		return
	}

	if err := s.cfg.Manager.SetSource(src); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	// Confidence profile follows the source kind; a source switch during an
	// active session re-keys it so stale results are discarded.
	if src.Kind == source.KindLiveStream {
		s.cfg.Scheduler.SetProfile(s.cfg.TargetClass, s.cfg.LiveConfidence)
	} else {
		s.cfg.Scheduler.SetProfile(s.cfg.TargetClass, s.cfg.FileConfidence)
	}
	s.cfg.Scheduler.ResetSession()

	writeJSON(w, map[string]any{"status": "connecting", "source": src})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.cfg.Manager.Retry(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectRetries.Add(1)
	}
	s.cfg.Scheduler.ResetSession()
	writeJSON(w, map[string]any{"status": "connecting"})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	samples := s.cfg.Series.Samples()
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONWithStatus(w, map[string]any{"error": "invalid window"}, http.StatusBadRequest)
			return
		}
		samples = s.cfg.Series.Window(n)
	}
	writeJSON(w, map[string]any{
		"session": s.cfg.Series.Session(),
		"samples": samples,
	})
}

func (s *Server) handleDetectionEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.cfg.Scheduler.Enable(); err != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.InferenceErrors.Add(1)
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"enabled": true, "session": s.cfg.Scheduler.Session()})
}

func (s *Server) handleDetectionDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.cfg.Scheduler.Disable()
	writeJSON(w, map[string]any{"enabled": false})
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, results := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := writeSSE(w, res); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleOverlayToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	visible := !s.cfg.Renderer.Visible()
	s.cfg.Renderer.SetVisible(visible)
	writeJSON(w, map[string]any{"visible": visible})
}

// handleSnapshot serves the current frame directly on GET and persists it to
// the snapshot store on POST.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		data, err := s.cfg.Manager.CaptureFrame()
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := s.cfg.Manager.CaptureFrame()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
		return
	}
	name, err := s.cfg.Snapshots.Save(data)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SnapshotWrites.Add(1)
	}
	writeJSON(w, map[string]any{"filename": name})
}

func (s *Server) handleSnapshotList(w http.ResponseWriter, r *http.Request) {
	names, err := s.cfg.Snapshots.List()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"snapshots": names})
}

func (s *Server) handleSnapshotGet(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[len("/api/snapshots/"):]
	data, err := s.cfg.Snapshots.Open(name)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.cfg.Manager.Status()
	if st.Source == nil {
		writeJSONWithStatus(w, map[string]any{"error": "no source selected"}, http.StatusConflict)
		return
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AnalysisCalls.Add(1)
	}

	var result *analysis.Result
	var err error
	if st.Source.Kind == source.KindLiveStream {
		var frame []byte
		frame, err = s.cfg.Manager.CaptureFrame()
		if err == nil {
			result, err = s.cfg.Analysis.AnalyzeLive(r.Context(), st.Source.Name, frame)
		}
	} else {
		result, err = s.cfg.Analysis.AnalyzeRecorded(r.Context(), st.Source.Filename, st.Position)
	}

	if err != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AnalysisErrors.Add(1)
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"prompt": s.cfg.Analysis.Prompt()})
	case http.MethodPost:
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
			return
		}
		s.cfg.Analysis.SetPrompt(req.Prompt)
		writeJSON(w, map[string]any{"prompt": s.cfg.Analysis.Prompt()})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
