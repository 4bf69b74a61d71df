package rangefinder

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"optflow-sim-go/internal/types"
)

const (
	// Readings outside these limits are not trustworthy on real units.
	SensorMinDistance = 0.06
	SensorMaxDistance = 35.0

	DefaultMinDistance = 0.2
	DefaultMaxDistance = 15.0

	// FOV is the fixed 3 degree beam width reported for both axes.
	FOV = 0.0523598776
)

const (
	KindLidar = "lidar"
	KindSonar = "sonar"
)

var ErrInvalidLimits = errors.New("rangefinder: min distance must be below max distance")

type Config struct {
	Kind        string
	MinDistance float64
	MaxDistance float64
	Rotation    uint8
}

// Rangefinder turns raw distance readings into range samples and remembers
// the most recent one. It is used from the frame loop only.
type Rangefinder struct {
	kind     string
	min      float64
	max      float64
	rotation uint8

	latest types.Range
	have   bool
}

// New applies defaults for unset limits and clamps configured ones into the
// sensor limits.
func New(cfg Config, log zerolog.Logger) (*Rangefinder, error) {
	r := &Rangefinder{kind: cfg.Kind, rotation: cfg.Rotation}
	switch cfg.Kind {
	case "":
		r.kind = KindLidar
	case KindLidar, KindSonar:
	default:
		return nil, fmt.Errorf("rangefinder: unknown kind %q", cfg.Kind)
	}

	switch {
	case cfg.MinDistance <= 0:
		log.Warn().Float64("min_distance", DefaultMinDistance).Msg("using default minimum distance")
		r.min = DefaultMinDistance
	case cfg.MinDistance < SensorMinDistance:
		r.min = SensorMinDistance
	default:
		r.min = cfg.MinDistance
	}
	switch {
	case cfg.MaxDistance <= 0:
		log.Warn().Float64("max_distance", DefaultMaxDistance).Msg("using default maximum distance")
		r.max = DefaultMaxDistance
	case cfg.MaxDistance > SensorMaxDistance:
		r.max = SensorMaxDistance
	default:
		r.max = cfg.MaxDistance
	}
	if r.min >= r.max {
		return nil, fmt.Errorf("%w: %.2f >= %.2f", ErrInvalidLimits, r.min, r.max)
	}
	return r, nil
}

func (r *Rangefinder) Kind() string {
	return r.kind
}

func (r *Rangefinder) Limits() (float64, float64) {
	return r.min, r.max
}

// Measure builds a sample from a raw reading. Readings below min, +Inf and
// NaN (no return) report min; readings above max report max.
func (r *Rangefinder) Measure(timeUsec uint64, distance float64) types.Range {
	switch {
	case math.IsNaN(distance), math.IsInf(distance, 1), distance < r.min:
		distance = r.min
	case distance > r.max:
		distance = r.max
	}
	sample := types.Range{
		TimeUsec:        timeUsec,
		MinDistance:     r.min,
		MaxDistance:     r.max,
		CurrentDistance: distance,
		HFOV:            FOV,
		VFOV:            FOV,
	}
	if r.kind == KindSonar {
		sample.Rotation = r.rotation
	}
	r.latest = sample
	r.have = true
	return sample
}

// Latest returns the last sample Measure produced.
func (r *Rangefinder) Latest() (types.Range, bool) {
	return r.latest, r.have
}

func (r *Rangefinder) Reset() {
	r.latest = types.Range{}
	r.have = false
}
