package config

import (
	"fmt"
	"image"
	"os"
	"time"

	"LaneFinder/detect"
	iface "LaneFinder/interface"
	"LaneFinder/lane"
	"LaneFinder/logger"
	"LaneFinder/road"
	"LaneFinder/sink"

	"gopkg.in/yaml.v3"
)

type Server struct {
	HTTPPort    int           `yaml:"httpPort"`
	RPCPort     int           `yaml:"rpcPort"`
	MetricsPort int           `yaml:"metricsPort"`
	WorkersNum  int           `yaml:"workersNum"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

type Logging struct {
	Mode string `yaml:"mode"`
}

type Calibration struct {
	ImageDir    string `yaml:"imageDir"`
	CachePath   string `yaml:"cachePath"`
	PatternCols int    `yaml:"patternCols"`
	PatternRows int    `yaml:"patternRows"`
}

func (c Calibration) Pattern() image.Point { return image.Pt(c.PatternCols, c.PatternRows) }

// Perspective corners are fractions of the frame size, ordered
// top-left, top-right, bottom-right, bottom-left.
type Perspective struct {
	Src [4][2]float64 `yaml:"src"`
	Dst [4][2]float64 `yaml:"dst"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Report struct {
	Dir string `yaml:"dir"`
}

type Config struct {
	Server      Server               `yaml:"server"`
	Logging     Logging              `yaml:"logging"`
	Calibration Calibration          `yaml:"calibration"`
	Perspective Perspective          `yaml:"perspective"`
	Detector    detect.Config        `yaml:"detector"`
	Tracker     lane.Config          `yaml:"tracker"`
	Scale       lane.Scale           `yaml:"scale"`
	CrossCheck  road.CrossCheck      `yaml:"crossCheck"`
	Diagnostics iface.DiagnosticMode `yaml:"diagnostics"`
	Store       Store                `yaml:"store"`
	Sink        sink.Config          `yaml:"sink"`
	Report      Report               `yaml:"report"`
}

func Default() Config {
	r := road.DefaultConfig()
	return Config{
		Server: Server{
			HTTPPort:    8080,
			RPCPort:     50051,
			MetricsPort: 9100,
			WorkersNum:  2,
			IdleTimeout: 5 * time.Minute,
		},
		Logging: Logging{Mode: logger.ModeProduction},
		Calibration: Calibration{
			ImageDir:    "camera_cal",
			CachePath:   "camera_cal/calibration.yaml",
			PatternCols: 9,
			PatternRows: 6,
		},
		Perspective: Perspective{
			Src: [4][2]float64{{0.457, 0.639}, {0.543, 0.639}, {0.880, 1.0}, {0.159, 1.0}},
			Dst: [4][2]float64{{0.25, 0}, {0.75, 0}, {0.75, 1}, {0.25, 1}},
		},
		Detector:    r.Detector,
		Tracker:     r.Tracker,
		Scale:       r.Scale,
		CrossCheck:  r.CrossCheck,
		Diagnostics: iface.DiagnosticMode{ShowTextOverlay: true},
		Sink:        sink.DefaultConfig(),
	}
}

// Load reads path over the defaults, so a partial file only overrides what it names.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Road is the per-session pipeline configuration.
func (c Config) Road() road.Config {
	return road.Config{
		Tracker:    c.Tracker,
		Detector:   c.Detector,
		Scale:      c.Scale,
		CrossCheck: c.CrossCheck,
	}
}

func (c Config) Validate() error {
	for name, port := range map[string]int{
		"httpPort":    c.Server.HTTPPort,
		"rpcPort":     c.Server.RPCPort,
		"metricsPort": c.Server.MetricsPort,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("server.%s %d out of range", name, port)
		}
	}
	if c.Server.WorkersNum < 1 {
		return fmt.Errorf("server.workersNum must be >= 1, got %d", c.Server.WorkersNum)
	}
	if c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server.idleTimeout must not be negative")
	}
	switch c.Logging.Mode {
	case "", logger.ModeProduction, logger.ModeDevelopment:
	default:
		return fmt.Errorf("logging.mode %q is not %q or %q", c.Logging.Mode, logger.ModeProduction, logger.ModeDevelopment)
	}
	if c.Calibration.PatternCols < 2 || c.Calibration.PatternRows < 2 {
		return fmt.Errorf("calibration pattern must be at least 2x2, got %dx%d", c.Calibration.PatternCols, c.Calibration.PatternRows)
	}
	for _, q := range [][4][2]float64{c.Perspective.Src, c.Perspective.Dst} {
		for _, p := range q {
			if p[0] < 0 || p[0] > 1 || p[1] < 0 || p[1] > 1 {
				return fmt.Errorf("perspective corners must be fractions in [0,1], got %v", p)
			}
		}
	}
	if err := c.Road().Validate(); err != nil {
		return err
	}
	if err := c.Diagnostics.Validate(); err != nil {
		return err
	}
	return c.Sink.Validate()
}
