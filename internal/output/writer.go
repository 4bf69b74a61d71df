package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/types"
)

const seriesHeader = "image_id, start_time, integration_time_us, integrated_x, integrated_y, " +
	"integrated_xgyro, integrated_ygyro, integrated_zgyro, quality, distance"

type seriesFile struct {
	f    *os.File
	w    *bufio.Writer
	rows uint64
}

// SeriesWriter writes one CSV flow series per camera under outputDir.
type SeriesWriter struct {
	mu        sync.Mutex
	outputDir string
	prefix    string
	files     map[string]*seriesFile
	log       zerolog.Logger
	every     *logging.EveryN
	closed    bool
}

func NewSeriesWriter(outputDir, runTimestamp string, log zerolog.Logger) (*SeriesWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	return &SeriesWriter{
		outputDir: outputDir,
		prefix:    runTimestamp,
		files:     make(map[string]*seriesFile),
		log:       log,
		every:     logging.NewEveryN(100),
	}, nil
}

// SeriesPath is the file a camera's rows go to.
func (s *SeriesWriter) SeriesPath(camera string) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("%s_%s_flow.csv", s.prefix, fileSafe(camera)))
}

func (s *SeriesWriter) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	if err := s.Write(meta, rec); err != nil && s.every.Allow() {
		s.log.Warn().Err(err).Str("camera", meta.Camera).Msg("series write failed")
	}
}

func (s *SeriesWriter) Write(meta types.RecordMeta, rec types.OpticalFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("series writer is closed")
	}
	sf, err := s.open(meta.Camera)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(
		sf.w,
		"%d, %.6f, %d, %.6f, %.6f, %.6f, %.6f, %.6f, %d, %.3f\n",
		meta.ImageID,
		meta.StartTime,
		rec.IntegrationTimeUs,
		rec.IntegratedX,
		rec.IntegratedY,
		rec.IntegratedXGyro,
		rec.IntegratedYGyro,
		rec.IntegratedZGyro,
		rec.Quality,
		rec.Distance,
	)
	if err != nil {
		return err
	}
	sf.rows++
	return nil
}

func (s *SeriesWriter) open(camera string) (*seriesFile, error) {
	if sf, ok := s.files[camera]; ok {
		return sf, nil
	}
	f, err := os.Create(s.SeriesPath(camera))
	if err != nil {
		return nil, err
	}
	sf := &seriesFile{f: f, w: bufio.NewWriter(f)}
	if _, err := fmt.Fprintln(sf.w, seriesHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.files[camera] = sf
	return sf, nil
}

func (s *SeriesWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for camera, sf := range s.files {
		err := sf.w.Flush()
		if cerr := sf.f.Close(); err == nil {
			err = cerr
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		s.log.Info().Str("camera", camera).Str("rows", humanize.Comma(int64(sf.rows))).
			Msg("wrote flow series")
	}
	return firstErr
}

func fileSafe(name string) string {
	r := strings.NewReplacer("::", "_", "/", "_", " ", "_")
	return r.Replace(name)
}
