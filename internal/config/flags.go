package config

import (
	"time"

	"github.com/spf13/pflag"
)

// BindFlags registers the command-line overrides on fs, writing into cfg.
func BindFlags(fs *pflag.FlagSet, cfg *AppConfig) {
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Vehicle namespace prefixed to published topics")
	fs.IntVar(&cfg.SensorID, "sensor-id", cfg.SensorID, "Sensor id stamped on optical flow records")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Source, "source", cfg.Source, "Frame source: sim or zmq")
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "ZMQ endpoint frames are pulled from")
	fs.StringVar(&cfg.PublishEndpoint, "publish", cfg.PublishEndpoint, "ZMQ endpoint records are published on (empty disables)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the live monitor")
	fs.DurationVar(&cfg.UIRate.Duration, "ui-rate", cfg.UIRate.Duration, "Minimum interval between monitor updates per camera")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for flow series output")
	fs.BoolVar(&cfg.CSVEnabled, "csv", cfg.CSVEnabled, "Write flow records to a CSV series")
	fs.BoolVar(&cfg.RawLogEnabled, "raw-log", cfg.RawLogEnabled, "Write CBOR records to a raw log")
	fs.StringVar(&cfg.RawLogDir, "raw-log-dir", cfg.RawLogDir, "Directory for raw record logs")
	fs.IntVar(&cfg.IngestLogEvery, "ingest-log-every", cfg.IngestLogEvery, "Log every Nth ingest error")
	fs.BoolVar(&cfg.IngestFallback, "ingest-fallback", cfg.IngestFallback, "Fall back to the simulator when ingest fails")
	fs.Float64Var(&cfg.Sim.Rate, "sim-rate", cfg.Sim.Rate, "Simulated frame rate (frames/sec)")
	fs.Float64Var(&cfg.Sim.VelX, "sim-vel-x", cfg.Sim.VelX, "Simulated image motion along x (px/s)")
	fs.Float64Var(&cfg.Sim.VelY, "sim-vel-y", cfg.Sim.VelY, "Simulated image motion along y (px/s)")
	fs.Float64Var(&cfg.Sim.Noise, "sim-noise", cfg.Sim.Noise, "Simulated per-pixel noise amplitude")
	fs.Int64Var(&cfg.Sim.Seed, "sim-seed", cfg.Sim.Seed, "Simulated ground texture seed")
}

// Merge copies file values into cfg for every flag that was not set
// explicitly. changed holds the names of flags given on the command line.
func Merge(cfg *AppConfig, file AppConfig, changed map[string]bool) {
	s := setter{changed: changed}

	s.str("namespace", file.Namespace, &cfg.Namespace)
	s.integer("sensor-id", file.SensorID, &cfg.SensorID)
	s.str("log-level", file.LogLevel, &cfg.LogLevel)
	s.str("source", file.Source, &cfg.Source)
	s.str("endpoint", file.Endpoint, &cfg.Endpoint)
	s.str("publish", file.PublishEndpoint, &cfg.PublishEndpoint)
	s.integer("port", file.Port, &cfg.Port)
	s.duration("ui-rate", file.UIRate.Duration, &cfg.UIRate.Duration)
	s.str("output-dir", file.OutputDir, &cfg.OutputDir)
	s.boolean("csv", file.CSVEnabled, &cfg.CSVEnabled)
	s.boolean("raw-log", file.RawLogEnabled, &cfg.RawLogEnabled)
	s.str("raw-log-dir", file.RawLogDir, &cfg.RawLogDir)
	s.integer("ingest-log-every", file.IngestLogEvery, &cfg.IngestLogEvery)
	s.boolean("ingest-fallback", file.IngestFallback, &cfg.IngestFallback)

	simRate, velX, velY, noise, seed := cfg.Sim.Rate, cfg.Sim.VelX, cfg.Sim.VelY, cfg.Sim.Noise, cfg.Sim.Seed
	cfg.Sim = file.Sim
	s.keepFloat("sim-rate", simRate, &cfg.Sim.Rate)
	s.keepFloat("sim-vel-x", velX, &cfg.Sim.VelX)
	s.keepFloat("sim-vel-y", velY, &cfg.Sim.VelY)
	s.keepFloat("sim-noise", noise, &cfg.Sim.Noise)
	if changed["sim-seed"] {
		cfg.Sim.Seed = seed
	}

	cfg.Cameras = file.Cameras
	cfg.Range = file.Range
}

type setter struct {
	changed map[string]bool
}

func (s setter) str(flag, v string, dst *string) {
	if !s.changed[flag] {
		*dst = v
	}
}

func (s setter) integer(flag string, v int, dst *int) {
	if !s.changed[flag] {
		*dst = v
	}
}

func (s setter) boolean(flag string, v bool, dst *bool) {
	if !s.changed[flag] {
		*dst = v
	}
}

func (s setter) duration(flag string, v time.Duration, dst *time.Duration) {
	if !s.changed[flag] {
		*dst = v
	}
}

// keepFloat restores a flag value over a freshly copied file section.
func (s setter) keepFloat(flag string, flagValue float64, dst *float64) {
	if s.changed[flag] {
		*dst = flagValue
	}
}
