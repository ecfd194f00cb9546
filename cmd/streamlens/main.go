package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamlens/streamlens/internal/analysis"
	"github.com/streamlens/streamlens/internal/capture"
	"github.com/streamlens/streamlens/internal/config"
	"github.com/streamlens/streamlens/internal/conn"
	"github.com/streamlens/streamlens/internal/detect"
	"github.com/streamlens/streamlens/internal/logger"
	"github.com/streamlens/streamlens/internal/media"
	"github.com/streamlens/streamlens/internal/media/hls"
	"github.com/streamlens/streamlens/internal/metrics"
	"github.com/streamlens/streamlens/internal/monitor"
	"github.com/streamlens/streamlens/internal/overlay"
	"github.com/streamlens/streamlens/internal/sched"
	"github.com/streamlens/streamlens/internal/series"
	"github.com/streamlens/streamlens/internal/source"
)

var (
	// Command-line flags override the environment.
	httpAddr    = flag.String("http", "", "HTTP server address (overrides STREAMLENS_ADDR)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides STREAMLENS_METRICS_ADDR)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *httpAddr != "" {
		cfg.MonitorAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "StreamLens starting...")
	logger.Info("Main", "Log level: %s", level)

	catalog, err := source.LoadCatalog(cfg.CatalogPath, cfg.MediaBaseURL)
	if err != nil {
		log.Fatalf("Failed to load source catalog: %v", err)
	}

	m := metrics.New()
	element := media.NewPipelineElement(cfg.FFmpegPath, cfg.DecodeFPS)

	manager := conn.NewManager(conn.Config{
		Element: element,
		Catalog: catalog,
		DecoderFactory: func() conn.StreamDecoder {
			return hls.NewDecoder(nil)
		},
		DelayFn: connectDelay(cfg.ConnectDelayMin, cfg.ConnectDelayMax),
	})

	model := detect.NewModel(cfg.ModelPath, cfg.ModelConfigPath)
	renderer := overlay.NewRenderer(640, 480)
	aggregator := series.NewAggregator()
	scheduler := sched.NewScheduler(model, element, renderer, aggregator, cfg.DetectInterval)
	scheduler.SetProfile(cfg.TargetClass, cfg.FileConfidence)

	snapshots, err := capture.NewStore(cfg.SnapshotDir)
	if err != nil {
		log.Fatalf("Failed to open snapshot store: %v", err)
	}

	server := monitor.NewServer(monitor.Config{
		Catalog:        catalog,
		Manager:        manager,
		Scheduler:      scheduler,
		Renderer:       renderer,
		Series:         aggregator,
		Snapshots:      snapshots,
		Analysis:       analysis.NewClient(cfg.AnalysisBaseURL, cfg.DeviceID, nil),
		Element:        element,
		Metrics:        m,
		TargetClass:    cfg.TargetClass,
		FileConfidence: cfg.FileConfidence,
		LiveConfidence: cfg.LiveConfidence,
	})

	httpSrv := server.Serve(cfg.MonitorAddr)
	metricsSrv := m.StartServer(cfg.MetricsAddr)

	statsCtx, stopStats := context.WithCancel(context.Background())
	go mirrorElementStats(statsCtx, element, m)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	stopStats()
	shutdown(httpSrv, metricsSrv)
	server.Close()
	if err := scheduler.Shutdown(); err != nil {
		logger.Warn("Main", "Scheduler shutdown: %v", err)
	}
	if err := manager.Close(); err != nil {
		logger.Warn("Main", "Manager shutdown: %v", err)
	}
	if err := snapshots.Close(); err != nil {
		logger.Warn("Main", "Snapshot store shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// mirrorElementStats copies the element's frame counters into the metrics
// registry once a second.
func mirrorElementStats(ctx context.Context, element *media.PipelineElement, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			decoded, dropped := element.Stats()
			m.FramesDecoded.Store(decoded)
			m.FramesDropped.Store(dropped)
		}
	}
}

// connectDelay returns a delay source uniform over [min, max].
func connectDelay(min, max time.Duration) func() time.Duration {
	if max <= min {
		return func() time.Duration { return min }
	}
	return func() time.Duration {
		return min + time.Duration(rand.Int63n(int64(max-min)))
	}
}

func shutdown(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Main", "HTTP shutdown: %v", err)
		}
	}
}
