// Package metrics exposes application counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamlens/streamlens/internal/logger"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame pipeline counters
	FramesDecoded atomic.Uint64
	FramesDropped atomic.Uint64

	// Inference counters
	InferencePasses    atomic.Uint64
	InferenceErrors    atomic.Uint64
	InferenceLatencyMs atomic.Uint64
	DetectionsKept     atomic.Uint64

	// Series and connection state
	SeriesLength    atomic.Uint64
	ConnectionState atomic.Uint64 // conn.State as a number
	ConnectRetries  atomic.Uint64

	// Monitor surface
	ActiveClients  atomic.Uint64
	TotalClients   atomic.Uint64
	SnapshotWrites atomic.Uint64
	AnalysisCalls  atomic.Uint64
	AnalysisErrors atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"streamlens_frames_decoded_total", "Total frames decoded from the media pipeline", m.FramesDecoded.Load},
		{"streamlens_frames_dropped_total", "Total undecodable frames dropped", m.FramesDropped.Load},
		{"streamlens_inference_passes_total", "Total completed inference passes", m.InferencePasses.Load},
		{"streamlens_inference_errors_total", "Total failed inference passes", m.InferenceErrors.Load},
		{"streamlens_inference_latency_ms", "Latency of the last inference pass in milliseconds", m.InferenceLatencyMs.Load},
		{"streamlens_detections_kept_total", "Total detections kept after class and confidence filtering", m.DetectionsKept.Load},
		{"streamlens_series_length", "Current count-series length", m.SeriesLength.Load},
		{"streamlens_connection_state", "Connection state (0=idle 1=connecting 2=loading 3=playing 4=error)", m.ConnectionState.Load},
		{"streamlens_connect_retries_total", "Total manual connection retries", m.ConnectRetries.Load},
		{"streamlens_active_clients", "Number of connected monitor stream clients", m.ActiveClients.Load},
		{"streamlens_total_clients", "Total monitor stream clients connected", m.TotalClients.Load},
		{"streamlens_snapshot_writes_total", "Total snapshots written to disk", m.SnapshotWrites.Load},
		{"streamlens_analysis_calls_total", "Total analysis service calls", m.AnalysisCalls.Load},
		{"streamlens_analysis_errors_total", "Total failed analysis service calls", m.AnalysisErrors.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the given address.
func (m *Metrics) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("Metrics", "Serving on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics", "Server failed: %v", err)
		}
	}()
	return srv
}
