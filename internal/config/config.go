package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the runtime configuration, loaded from the environment with an
// optional .env file. Addresses may still be overridden by flags in main.
type Config struct {
	MonitorAddr string `env:"STREAMLENS_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"STREAMLENS_METRICS_ADDR" envDefault:":9090"`

	// MediaBaseURL is where recorded clips are served from; the catalog
	// resolves a source id to MediaBaseURL/<filename>.
	MediaBaseURL string `env:"STREAMLENS_MEDIA_BASE_URL" envDefault:"http://localhost:5001/api/video"`
	CatalogPath  string `env:"STREAMLENS_CATALOG"`

	AnalysisBaseURL string `env:"STREAMLENS_ANALYSIS_URL" envDefault:"http://localhost:5001"`
	DeviceID        string `env:"STREAMLENS_DEVICE_ID" envDefault:"default"`

	ModelPath       string `env:"STREAMLENS_MODEL" envDefault:"models/frozen_inference_graph.pb"`
	ModelConfigPath string `env:"STREAMLENS_MODEL_CONFIG" envDefault:"models/ssd_mobilenet_v1_coco.pbtxt"`

	// Confidence thresholds are policy knobs, distinct per source kind.
	FileConfidence float64 `env:"STREAMLENS_FILE_CONFIDENCE" envDefault:"0.45"`
	LiveConfidence float64 `env:"STREAMLENS_LIVE_CONFIDENCE" envDefault:"0.5"`

	TargetClass    string        `env:"STREAMLENS_TARGET_CLASS" envDefault:"person"`
	DetectInterval time.Duration `env:"STREAMLENS_DETECT_INTERVAL" envDefault:"500ms"`

	// ConnectDelayMin/Max bound the simulated connection negotiation delay.
	ConnectDelayMin time.Duration `env:"STREAMLENS_CONNECT_DELAY_MIN" envDefault:"1s"`
	ConnectDelayMax time.Duration `env:"STREAMLENS_CONNECT_DELAY_MAX" envDefault:"5s"`

	SnapshotDir string `env:"STREAMLENS_SNAPSHOT_DIR" envDefault:"./output/frames"`
	FFmpegPath  string `env:"STREAMLENS_FFMPEG" envDefault:"ffmpeg"`
	DecodeFPS   int    `env:"STREAMLENS_DECODE_FPS" envDefault:"10"`

	LogLevel string `env:"STREAMLENS_LOG_LEVEL" envDefault:"info"`
	LogColor bool   `env:"STREAMLENS_LOG_COLOR" envDefault:"true"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.FileConfidence < 0 || c.FileConfidence > 1 {
		return fmt.Errorf("file confidence threshold %v out of range [0,1]", c.FileConfidence)
	}
	if c.LiveConfidence < 0 || c.LiveConfidence > 1 {
		return fmt.Errorf("live confidence threshold %v out of range [0,1]", c.LiveConfidence)
	}
	if c.DetectInterval <= 0 {
		return fmt.Errorf("detect interval must be positive, got %v", c.DetectInterval)
	}
	if c.ConnectDelayMin <= 0 || c.ConnectDelayMax < c.ConnectDelayMin {
		return fmt.Errorf("invalid connect delay bounds [%v, %v]", c.ConnectDelayMin, c.ConnectDelayMax)
	}
	if c.DecodeFPS <= 0 {
		return fmt.Errorf("decode fps must be positive, got %d", c.DecodeFPS)
	}
	return nil
}
