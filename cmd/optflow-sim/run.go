package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"optflow-sim-go/internal/config"
	"optflow-sim-go/internal/ingest"
	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/output"
	"optflow-sim-go/internal/publish"
	"optflow-sim-go/internal/server"
	"optflow-sim-go/internal/simulator"
	"optflow-sim-go/internal/types"
)

func run(ctx context.Context, cfg config.AppConfig, cfgPath string) error {
	log := logging.Logger()
	session := uuid.NewString()
	log.Info().Str("session", session).Str("source", cfg.Source).Int("cameras", len(cfg.Cameras)).Msg("starting")

	monitor := server.NewMonitor(cfg.UIRate.Duration, 64)
	sinks := publish.Multi{monitor}

	var zmqPub *publish.ZMQ
	if cfg.PublishEndpoint != "" {
		p, err := publish.NewZMQ(cfg.PublishEndpoint, cfg.Namespace, log.With().Str("component", "publish").Logger())
		if err != nil {
			return err
		}
		defer p.Close()
		zmqPub = p
		sinks = append(sinks, p)
	}

	runTimestamp := output.Timestamp(time.Now())
	if cfg.RawLogEnabled {
		w, err := output.NewRawLogWriter(cfg.RawLogDir, "flow", session, log)
		if err != nil {
			return err
		}
		defer closeLogged(log, "record log", w.Close)
		sinks = append(sinks, w)
	}
	if cfg.CSVEnabled {
		w, err := output.NewSeriesWriter(cfg.OutputDir, runTimestamp, log)
		if err != nil {
			return err
		}
		defer closeLogged(log, "flow series", w.Close)
		sinks = append(sinks, w)
	}

	loop := newFrameLoop(cfg, session, sinks, log)
	if zmqPub != nil {
		loop.rangePub = zmqPub.PublishRange
	}
	defer func() {
		for _, p := range loop.pipelines {
			p.Close()
		}
	}()

	messages, sim, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	if sim != nil {
		loop.resetters = append(loop.resetters, sim)
	}

	var reloads <-chan config.AppConfig
	if cfgPath != "" {
		ch, err := config.Watch(ctx, cfgPath, log.With().Str("component", "config").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("config watch unavailable")
		} else {
			reloads = ch
		}
	}

	resets := make(chan struct{}, 1)
	resetFn := func() error {
		select {
		case resets <- struct{}{}:
			return nil
		default:
			return errors.New("reset already pending")
		}
	}

	srv := server.New(cfg, server.Callbacks{
		Status: func() map[string]any {
			st := loop.status()
			m := st["metrics"].(map[string]any)
			sent, dropped := monitor.Stats()
			m["monitor_sent_total"] = sent
			m["monitor_dropped_total"] = dropped
			if zmqPub != nil {
				sent, dropped := zmqPub.Stats()
				m["publish_sent_total"] = sent
				m["publish_dropped_total"] = dropped
			}
			return st
		},
		Snapshot: monitor.Snapshot,
		Config:   loop.config,
		Reset:    resetFn,
	}, log.With().Str("component", "server").Logger())

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Run(ctx, monitor.Messages())
	}()

	loop.run(ctx, messages, resets, reloads)

	select {
	case err := <-srvErr:
		return err
	case <-time.After(6 * time.Second):
		return nil
	}
}

// openSource starts the configured frame source. A failing ingest falls back
// to the simulator when allowed.
func openSource(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (<-chan types.RawMessage, *simulator.Simulator, error) {
	if cfg.Source == config.SourceZMQ {
		messages, err := ingest.Stream(ctx, cfg.Endpoint, cfg.IngestLogEvery, log.With().Str("component", "ingest").Logger())
		if err == nil {
			log.Info().Str("endpoint", cfg.Endpoint).Msg("pulling frames")
			return messages, nil, nil
		}
		if !cfg.IngestFallback {
			return nil, nil, err
		}
		log.Warn().Err(err).Msg("failed to start ingest; falling back to simulator")
	}

	sim := simulator.New(simulatorConfig(cfg))
	return sim.Stream(ctx), sim, nil
}

func simulatorConfig(cfg config.AppConfig) simulator.Config {
	cams := make([]simulator.Camera, 0, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		cams = append(cams, simulator.Camera{Name: c.Name, Width: c.Width, Height: c.Height, HFOV: c.HFOV})
	}
	return simulator.Config{
		Cameras:  cams,
		Rate:     cfg.Sim.Rate,
		VelX:     cfg.Sim.VelX,
		VelY:     cfg.Sim.VelY,
		Noise:    cfg.Sim.Noise,
		Altitude: cfg.Sim.Altitude,
		Seed:     cfg.Sim.Seed,
	}
}

func closeLogged(log zerolog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn().Err(err).Msgf("%s close failed", what)
	}
}
