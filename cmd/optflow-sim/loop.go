package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"optflow-sim-go/internal/config"
	"optflow-sim-go/internal/enrich"
	"optflow-sim-go/internal/flow"
	"optflow-sim-go/internal/frame"
	"optflow-sim-go/internal/ingest"
	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/rangefinder"
	"optflow-sim-go/internal/types"
)

// resetter is anything besides the pipelines that holds simulated state.
type resetter interface {
	Reset()
}

// frameLoop owns every flow pipeline. Frames, resets and config reloads are
// all handled on the goroutine running run, so pipelines need no locking.
// Only the status snapshot is shared with the HTTP side.
type frameLoop struct {
	cfg       config.AppConfig
	session   string
	started   time.Time
	pipelines map[string]*flow.Pipeline
	cameras   map[string]config.CameraConfig
	publisher flow.Publisher
	enricher  *enrich.Enricher
	ranges    *rangefinder.Rangefinder
	rangePub  func(camera, kind string, sample types.Range)
	resetters []resetter
	metrics   *metrics
	log       zerolog.Logger
	unknown   *logging.EveryN

	mu       sync.Mutex
	statuses map[string]types.CameraStatus
	current  config.AppConfig
}

// newFrameLoop builds one pipeline per configured camera. Records pass
// through the enricher before reaching sink.
func newFrameLoop(cfg config.AppConfig, session string, sink flow.Publisher, log zerolog.Logger) *frameLoop {
	l := &frameLoop{
		cfg:       cfg,
		session:   session,
		started:   time.Now(),
		pipelines: make(map[string]*flow.Pipeline),
		cameras:   make(map[string]config.CameraConfig),
		metrics:   &metrics{},
		log:       log,
		unknown:   logging.NewEveryN(100),
		statuses:  make(map[string]types.CameraStatus),
		current:   cfg,
	}

	if cfg.Range.Enable {
		r, err := rangefinder.New(rangefinder.Config{
			Kind:        cfg.Range.Kind,
			MinDistance: cfg.Range.MinDistance,
			MaxDistance: cfg.Range.MaxDistance,
			Rotation:    uint8(cfg.Range.Rotation),
		}, log.With().Str("component", "range").Logger())
		if err != nil {
			log.Error().Err(err).Msg("rangefinder disabled")
		} else {
			l.ranges = r
		}
	}
	// A nil *Rangefinder must not become a non-nil RangeSource.
	if l.ranges != nil {
		l.enricher = enrich.New(sink, l.ranges)
	} else {
		l.enricher = enrich.New(sink, nil)
	}
	l.publisher = l.enricher

	for _, cam := range cfg.Cameras {
		l.addCamera(cam)
	}
	l.refreshStatus()
	return l
}

func (l *frameLoop) addCamera(cam config.CameraConfig) {
	p := flow.New(flow.Config{
		Camera:   cam.Name,
		SensorID: int32(l.cfg.SensorID),
		Shape: frame.Shape{
			Width:  cam.Width,
			Height: cam.Height,
			Depth:  cam.Depth,
			Format: cam.Format,
		},
		HFOV:        cam.HFOV,
		NominalRate: cam.Rate,
	}, flow.WithPublisher(l.publisher), flow.WithLogger(l.log))
	l.pipelines[cam.Name] = p
	l.cameras[cam.Name] = cam
}

func (l *frameLoop) run(ctx context.Context, messages <-chan types.RawMessage, resets <-chan struct{}, reloads <-chan config.AppConfig) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				l.log.Warn().Msg("frame source closed")
				return
			}
			l.handle(msg)
		case <-resets:
			l.reset()
		case cfg := <-reloads:
			l.reconfigure(cfg)
		case <-ticker.C:
			snap := l.metrics.snapshot()
			l.log.Info().
				Interface("frames", snap["frames_flowed_total"]).
				Interface("rejected", snap["frames_rejected_total"]).
				Uint64("decode_failures", ingest.DecodeFailures()).
				Msg("flow stats")
		}
	}
}

func (l *frameLoop) handle(msg types.RawMessage) {
	l.metrics.rawMessages.Add(1)
	switch msg.Type {
	case types.MessageImage:
		l.metrics.imageMessages.Add(1)
		l.processFrame(msg.Image)
	case types.MessageReset:
		l.metrics.resetMessages.Add(1)
		if msg.Reset.Triggered() {
			l.reset()
		}
	case types.MessageRange:
		l.metrics.rangeMessages.Add(1)
		if l.ranges == nil {
			return
		}
		sample := l.ranges.Measure(msg.Range.TimeUsec, msg.Range.CurrentDistance)
		if l.rangePub != nil && len(l.cfg.Cameras) > 0 {
			l.rangePub(l.cfg.Cameras[0].Name, l.ranges.Kind(), sample)
		}
	case types.MessageGyro:
		l.metrics.gyroMessages.Add(1)
		l.enricher.UpdateGyro(msg.Gyro)
	}
}

func (l *frameLoop) processFrame(f types.Frame) {
	p, ok := l.pipelines[f.Camera]
	if !ok {
		l.metrics.unknownCamera.Add(1)
		if l.unknown.Allow() {
			l.log.Warn().Str("camera", f.Camera).Uint64("count", l.unknown.Count()).Msg("frame from unconfigured camera")
		}
		return
	}
	start := time.Now()
	_, ok = p.ProcessFrame(f)
	l.metrics.processCount.Add(1)
	l.metrics.processNanos.Add(uint64(time.Since(start).Nanoseconds()))
	if ok {
		l.metrics.framesFlowed.Add(1)
	} else {
		l.metrics.framesRejected.Add(1)
	}
	l.setStatus(f.Camera, p.Status())
}

// reset drops every pipeline's previous frame and timer, the enrichment
// inputs and any simulated state.
func (l *frameLoop) reset() {
	l.metrics.resets.Add(1)
	for _, p := range l.pipelines {
		p.Reset()
	}
	l.enricher.Reset()
	if l.ranges != nil {
		l.ranges.Reset()
	}
	for _, r := range l.resetters {
		r.Reset()
	}
	l.log.Info().Msg("model reset")
	l.refreshStatus()
}

// reconfigure applies a reloaded config between frames. A changed field of
// view is swapped in place; any other camera change rebuilds the pipeline.
func (l *frameLoop) reconfigure(cfg config.AppConfig) {
	l.metrics.reloads.Add(1)
	if cfg.LogLevel != "" && cfg.LogLevel != l.cfg.LogLevel {
		if err := logging.SetLevel(cfg.LogLevel); err != nil {
			l.log.Warn().Err(err).Msg("log level unchanged")
		}
	}

	wanted := make(map[string]bool, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		wanted[cam.Name] = true
		old, ok := l.cameras[cam.Name]
		switch {
		case !ok:
			l.addCamera(cam)
		case sameShape(old, cam):
			if err := l.pipelines[cam.Name].Reconfigure(cam.HFOV); err != nil {
				l.log.Error().Err(err).Str("camera", cam.Name).Float64("hfov", cam.HFOV).Msg("field of view rejected")
				continue
			}
			l.cameras[cam.Name] = cam
		default:
			l.pipelines[cam.Name].Close()
			l.addCamera(cam)
		}
	}
	for name, p := range l.pipelines {
		if !wanted[name] {
			p.Close()
			delete(l.pipelines, name)
			delete(l.cameras, name)
		}
	}

	l.cfg.LogLevel = cfg.LogLevel
	l.cfg.Cameras = cfg.Cameras
	l.mu.Lock()
	l.current.LogLevel = cfg.LogLevel
	l.current.Cameras = cfg.Cameras
	l.mu.Unlock()
	l.log.Info().Int("cameras", len(l.pipelines)).Msg("config reloaded")
	l.refreshStatus()
}

func sameShape(a, b config.CameraConfig) bool {
	return a.Width == b.Width && a.Height == b.Height && a.Depth == b.Depth &&
		a.Format == b.Format && a.Rate == b.Rate
}

func (l *frameLoop) setStatus(camera string, st types.CameraStatus) {
	l.mu.Lock()
	l.statuses[camera] = st
	l.mu.Unlock()
}

func (l *frameLoop) refreshStatus() {
	statuses := make(map[string]types.CameraStatus, len(l.pipelines))
	for name, p := range l.pipelines {
		statuses[name] = p.Status()
	}
	l.mu.Lock()
	l.statuses = statuses
	l.mu.Unlock()
}

// config is safe to call from any goroutine.
func (l *frameLoop) config() config.AppConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// status is safe to call from any goroutine.
func (l *frameLoop) status() map[string]any {
	l.mu.Lock()
	source := l.current.Source
	cameras := make(map[string]types.CameraStatus, len(l.statuses))
	names := make([]string, 0, len(l.statuses))
	for name, st := range l.statuses {
		cameras[name] = st
		names = append(names, name)
	}
	l.mu.Unlock()
	sort.Strings(names)

	m := l.metrics.snapshot()
	m["ingest_decode_failures_total"] = ingest.DecodeFailures()
	return map[string]any{
		"session":      l.session,
		"source":       source,
		"started":      humanize.Time(l.started),
		"camera_names": names,
		"cameras":      cameras,
		"metrics":      m,
	}
}
