package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	SourceSim = "sim"
	SourceZMQ = "zmq"
)

type AppConfig struct {
	Namespace       string         `yaml:"namespace" toml:"namespace" json:"namespace"`
	SensorID        int            `yaml:"sensor_id" toml:"sensor_id" json:"sensor_id"`
	LogLevel        string         `yaml:"log_level" toml:"log_level" json:"log_level"`
	Source          string         `yaml:"source" toml:"source" json:"source"`
	Endpoint        string         `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	PublishEndpoint string         `yaml:"publish_endpoint" toml:"publish_endpoint" json:"publish_endpoint"`
	Port            int            `yaml:"port" toml:"port" json:"port"`
	UIRate          Duration       `yaml:"ui_rate" toml:"ui_rate" json:"ui_rate"`
	OutputDir       string         `yaml:"output_dir" toml:"output_dir" json:"output_dir"`
	CSVEnabled      bool           `yaml:"csv" toml:"csv" json:"csv"`
	RawLogEnabled   bool           `yaml:"raw_log" toml:"raw_log" json:"raw_log"`
	RawLogDir       string         `yaml:"raw_log_dir" toml:"raw_log_dir" json:"raw_log_dir"`
	IngestLogEvery  int            `yaml:"ingest_log_every" toml:"ingest_log_every" json:"ingest_log_every"`
	IngestFallback  bool           `yaml:"ingest_fallback" toml:"ingest_fallback" json:"ingest_fallback"`
	Cameras         []CameraConfig `yaml:"cameras" toml:"cameras" json:"cameras"`
	Range           RangeConfig    `yaml:"range" toml:"range" json:"range"`
	Sim             SimConfig      `yaml:"sim" toml:"sim" json:"sim"`
}

// CameraConfig is what the camera reports at setup. Shape problems are not
// rejected here: the flow pipeline owns that check and degrades to inactive.
type CameraConfig struct {
	Name   string  `yaml:"name" toml:"name" json:"name"`
	Width  int     `yaml:"width" toml:"width" json:"width"`
	Height int     `yaml:"height" toml:"height" json:"height"`
	Depth  int     `yaml:"depth" toml:"depth" json:"depth"`
	Format string  `yaml:"format" toml:"format" json:"format"`
	HFOV   float64 `yaml:"hfov" toml:"hfov" json:"hfov"`
	Rate   float64 `yaml:"rate" toml:"rate" json:"rate"`
}

type RangeConfig struct {
	Enable      bool    `yaml:"enable" toml:"enable" json:"enable"`
	Kind        string  `yaml:"kind" toml:"kind" json:"kind"`
	MinDistance float64 `yaml:"min_distance" toml:"min_distance" json:"min_distance"`
	MaxDistance float64 `yaml:"max_distance" toml:"max_distance" json:"max_distance"`
	Rotation    int     `yaml:"rotation" toml:"rotation" json:"rotation"`
}

// SimConfig drives the synthetic camera. Velocities are in pixels per second
// on the image plane.
type SimConfig struct {
	Rate     float64 `yaml:"rate" toml:"rate" json:"rate"`
	VelX     float64 `yaml:"vel_x" toml:"vel_x" json:"vel_x"`
	VelY     float64 `yaml:"vel_y" toml:"vel_y" json:"vel_y"`
	Noise    float64 `yaml:"noise" toml:"noise" json:"noise"`
	Altitude float64 `yaml:"altitude" toml:"altitude" json:"altitude"`
	Seed     int64   `yaml:"seed" toml:"seed" json:"seed"`
}

// Duration reads "250ms"-style strings from YAML and TOML alike.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() AppConfig {
	return AppConfig{
		SensorID:       2,
		LogLevel:       "info",
		Source:         SourceSim,
		Endpoint:       "tcp://localhost:31001",
		Port:           8888,
		UIRate:         Duration{200 * time.Millisecond},
		OutputDir:      "output",
		RawLogDir:      "rawlog",
		IngestLogEvery: 100,
		IngestFallback: true,
		Cameras: []CameraConfig{{
			Name:   "iris::camera",
			Width:  64,
			Height: 64,
			Depth:  1,
			Format: "L8",
			HFOV:   1.047,
			Rate:   30,
		}},
		Range: RangeConfig{
			Enable:      true,
			Kind:        "lidar",
			MinDistance: 0.2,
			MaxDistance: 15,
		},
		Sim: SimConfig{
			Rate:     30,
			VelX:     20,
			Altitude: 2,
			Seed:     1,
		},
	}
}

// Load reads a YAML or TOML (by extension) file over the defaults.
func Load(path string) (AppConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, err
	}

	cfg := Default()
	// File camera lists replace the default one instead of merging into it.
	cfg.Cameras = nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		err = yaml.Unmarshal(b, &cfg)
	}
	if err != nil {
		return AppConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	def := Default()
	if c.SensorID == 0 {
		c.SensorID = def.SensorID
	}
	if c.Source == "" {
		c.Source = def.Source
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.UIRate.Duration <= 0 {
		c.UIRate = def.UIRate
	}
	if c.IngestLogEvery < 1 {
		c.IngestLogEvery = def.IngestLogEvery
	}
	if len(c.Cameras) == 0 {
		c.Cameras = def.Cameras
	}
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Depth == 0 {
			cam.Depth = 1
		}
		if cam.Format == "" {
			cam.Format = "L8"
		}
		if cam.Rate == 0 {
			cam.Rate = def.Cameras[0].Rate
		}
	}
	if c.Range.Kind == "" {
		c.Range.Kind = def.Range.Kind
	}
	if c.Sim.Rate <= 0 {
		c.Sim.Rate = def.Sim.Rate
	}
	if c.Sim.Altitude <= 0 {
		c.Sim.Altitude = def.Sim.Altitude
	}
}

// Validate rejects configurations the process cannot run with at all.
func (c *AppConfig) Validate() error {
	switch c.Source {
	case SourceSim:
	case SourceZMQ:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required when source is %q", SourceZMQ)
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one camera is required")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("camera name is required")
		}
		if seen[cam.Name] {
			return fmt.Errorf("duplicate camera %q", cam.Name)
		}
		seen[cam.Name] = true
	}
	if c.Range.Enable {
		switch c.Range.Kind {
		case "lidar", "sonar":
		default:
			return fmt.Errorf("range.kind must be lidar or sonar, got %q", c.Range.Kind)
		}
		if c.Range.MaxDistance > 0 && c.Range.MinDistance >= c.Range.MaxDistance {
			return fmt.Errorf("range.min_distance must be below range.max_distance")
		}
	}
	if c.Sim.Rate <= 0 {
		return fmt.Errorf("sim.rate must be > 0")
	}
	return nil
}

// Camera returns the configuration for the named camera.
func (c *AppConfig) Camera(name string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
