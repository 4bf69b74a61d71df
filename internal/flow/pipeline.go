package flow

import (
	"errors"

	"github.com/rs/zerolog"

	"optflow-sim-go/internal/frame"
	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/types"
)

var ErrClosed = errors.New("flow pipeline closed")

// Sensor is anything that turns frames into flow estimates.
type Sensor interface {
	ProcessFrame(f types.Frame) (types.FlowEstimate, bool)
}

// Publisher receives each finished record. Implementations must not block
// the caller for long; delivery is fire-and-forget.
type Publisher interface {
	Publish(meta types.RecordMeta, rec types.OpticalFlow)
}

type PublisherFunc func(meta types.RecordMeta, rec types.OpticalFlow)

func (f PublisherFunc) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	f(meta, rec)
}

// Config is the setup-time description of one flow camera.
type Config struct {
	Camera      string
	SensorID    int32
	Shape       frame.Shape
	HFOV        float64
	NominalRate float64
}

type Option func(*Pipeline)

func WithCorrelator(c Correlator) Option {
	return func(p *Pipeline) { p.correlator = c }
}

func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithClock(now Clock) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs adapter, estimator, angular conversion, timing and record
// building for one camera. It is driven from a single goroutine and holds no
// locks; each camera needs its own Pipeline.
type Pipeline struct {
	camera     string
	sensorID   int32
	adapter    *frame.Adapter
	intrinsics Intrinsics
	estimator  *Estimator
	timing     *Timing
	correlator Correlator
	publisher  Publisher
	now        Clock
	log        zerolog.Logger

	err     error
	frames  uint64
	quality uint8
}

// New sets up a pipeline. A configuration problem does not fail construction:
// it is logged once and the pipeline stays inactive, see Err.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		camera:   cfg.Camera,
		sensorID: cfg.SensorID,
		log:      logging.Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("camera", cfg.Camera).Logger()
	p.timing = NewTiming(cfg.NominalRate, p.now, p.log)

	adapter, err := frame.NewAdapter(cfg.Shape)
	if err != nil {
		p.fail(err)
		return p
	}
	intrinsics, err := NewIntrinsics(cfg.HFOV, cfg.Shape.Width)
	if err != nil {
		p.fail(err)
		return p
	}
	p.adapter = adapter
	p.intrinsics = intrinsics
	p.estimator = NewEstimator(p.correlator)
	p.log.Info().Float64("hfov", intrinsics.HFOV).Float64("focal_px", intrinsics.FocalLength).
		Msg("optical flow active")
	return p
}

func (p *Pipeline) fail(err error) {
	if p.err != nil {
		return
	}
	p.err = err
	if !errors.Is(err, ErrClosed) {
		p.log.Error().Err(err).Msg("optical flow disabled")
	}
}

// ProcessFrame runs one frame through the pipeline and publishes the
// record. It returns false when the pipeline is inactive.
func (p *Pipeline) ProcessFrame(f types.Frame) (types.FlowEstimate, bool) {
	if p.err != nil {
		return types.FlowEstimate{}, false
	}
	view, err := p.adapter.View(f)
	if err != nil {
		p.fail(err)
		return types.FlowEstimate{}, false
	}

	p.timing.Update(f.Rate)
	p.timing.BeginFrame()

	dx, dy, quality := p.estimator.Estimate(view)
	ax, ay := p.intrinsics.ToAngular(dx, dy)
	est := types.FlowEstimate{
		PixelX:        dx,
		PixelY:        dy,
		IntegratedX:   ax,
		IntegratedY:   ay,
		Quality:       quality,
		IntegrationUs: p.timing.IntegrationUs(),
	}
	if p.publisher != nil {
		p.publisher.Publish(f.Meta(), BuildRecord(p.sensorID, est))
	}

	p.timing.EndFrame()
	p.frames++
	p.quality = quality
	return est, true
}

// Reconfigure swaps in a new field of view. On error the old intrinsics stay.
func (p *Pipeline) Reconfigure(hfov float64) error {
	if p.err != nil {
		return p.err
	}
	if hfov == p.intrinsics.HFOV {
		return nil
	}
	in, err := NewIntrinsics(hfov, p.intrinsics.Width)
	if err != nil {
		return err
	}
	p.intrinsics = in
	p.log.Info().Float64("hfov", in.HFOV).Float64("focal_px", in.FocalLength).Msg("camera reconfigured")
	return nil
}

// Reset forgets the previous frame and the running timer interval, so the
// next frame is treated as a cold start.
func (p *Pipeline) Reset() {
	if p.err != nil {
		return
	}
	p.estimator.Reset()
	p.timing.Reset()
}

// Close releases the stored frames. The pipeline is inactive afterwards.
func (p *Pipeline) Close() {
	p.estimator = nil
	p.fail(ErrClosed)
}

func (p *Pipeline) Active() bool {
	return p.err == nil
}

// Err returns the configuration error that deactivated the pipeline, if any.
func (p *Pipeline) Err() error {
	return p.err
}

func (p *Pipeline) Camera() string {
	return p.camera
}

func (p *Pipeline) Intrinsics() Intrinsics {
	return p.intrinsics
}

func (p *Pipeline) Status() types.CameraStatus {
	st := types.CameraStatus{
		Active:     p.Active(),
		Frames:     p.frames,
		LateFrames: p.timing.LateFrames(),
		Fallbacks:  p.timing.Fallbacks(),
		LastDtUs:   p.timing.IntegrationUs(),
		LastWallUs: p.timing.LastWall().Microseconds(),
		Quality:    p.quality,
		FocalPx:    p.intrinsics.FocalLength,
	}
	if p.err != nil {
		st.Error = p.err.Error()
	}
	return st
}
