package flow

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"optflow-sim-go/internal/logging"
)

// lateFactor is how many nominal intervals a frame may take before it is
// counted as late.
const lateFactor = 2

// Clock is the time source for the integration timer.
type Clock func() time.Time

// IntegrationTimer measures wall time between Start and Stop.
type IntegrationTimer struct {
	now     Clock
	started time.Time
	running bool
}

func NewIntegrationTimer(now Clock) *IntegrationTimer {
	if now == nil {
		now = time.Now
	}
	return &IntegrationTimer{now: now}
}

func (t *IntegrationTimer) Start() {
	t.started = t.now()
	t.running = true
}

// Stop closes the current interval and returns its length. It returns 0 when
// the timer was not running.
func (t *IntegrationTimer) Stop() time.Duration {
	if !t.running {
		return 0
	}
	t.running = false
	return t.now().Sub(t.started)
}

func (t *IntegrationTimer) Running() bool {
	return t.running
}

func (t *IntegrationTimer) Reset() {
	t.running = false
	t.started = time.Time{}
}

// Timing derives the integration interval of each frame from the rate the
// source reports, and brackets frame processing with the integration timer.
type Timing struct {
	dt        time.Duration
	timer     *IntegrationTimer
	lastWall  time.Duration
	late      uint64
	fallbacks uint64
	log       zerolog.Logger
	warn      *logging.EveryN
}

// NewTiming seeds dt from the nominal rate so a source that never reports a
// rate still yields a usable interval.
func NewTiming(nominalRate float64, now Clock, log zerolog.Logger) *Timing {
	t := &Timing{
		timer: NewIntegrationTimer(now),
		log:   log,
		warn:  logging.NewEveryN(100),
	}
	if validRate(nominalRate) {
		t.dt = rateToDuration(nominalRate)
	}
	return t
}

// Update sets dt to 1/rate. An unusable rate keeps the previous dt.
func (t *Timing) Update(rate float64) time.Duration {
	if validRate(rate) {
		t.dt = rateToDuration(rate)
		return t.dt
	}
	t.fallbacks++
	if t.warn.Allow() {
		t.log.Warn().Float64("rate", rate).Dur("dt", t.dt).Uint64("count", t.fallbacks).
			Msg("frame rate unavailable, keeping last integration interval")
	}
	return t.dt
}

// BeginFrame stops the timer, closing out the interval since the previous
// frame was emitted, and returns it.
func (t *Timing) BeginFrame() time.Duration {
	wall := t.timer.Stop()
	t.lastWall = wall
	if wall > 0 && t.dt > 0 && wall > lateFactor*t.dt {
		t.late++
		t.log.Debug().Dur("wall", wall).Dur("dt", t.dt).Msg("late frame")
	}
	return wall
}

// EndFrame restarts the timer once the frame's outputs are emitted.
func (t *Timing) EndFrame() {
	t.timer.Start()
}

func (t *Timing) Reset() {
	t.timer.Reset()
	t.lastWall = 0
}

func (t *Timing) Dt() time.Duration {
	return t.dt
}

// IntegrationUs is dt in whole microseconds, truncated.
func (t *Timing) IntegrationUs() uint32 {
	us := t.dt.Microseconds()
	if us > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(us)
}

func (t *Timing) LastWall() time.Duration {
	return t.lastWall
}

func (t *Timing) LateFrames() uint64 {
	return t.late
}

func (t *Timing) Fallbacks() uint64 {
	return t.fallbacks
}

func validRate(rate float64) bool {
	return rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate)
}

func rateToDuration(rate float64) time.Duration {
	return time.Duration(float64(time.Second) / rate)
}
