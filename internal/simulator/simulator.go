package simulator

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"optflow-sim-go/internal/types"
)

// groundSize is the edge length of the tiled ground texture.
const groundSize = 256

type Camera struct {
	Name   string
	Width  int
	Height int
	HFOV   float64
}

// Config drives the synthetic scene. VelX/VelY are image-plane velocities
// in pixels per second; Noise is the per-pixel Gaussian sigma in grey levels.
type Config struct {
	Cameras  []Camera
	Rate     float64
	VelX     float64
	VelY     float64
	Noise    float64
	Altitude float64
	Seed     int64
}

// Simulator renders a textured ground plane that slides under every
// configured camera, together with the matching body rates and range.
type Simulator struct {
	cfg    Config
	ground []byte
	noise  *rand.Rand
	now    func() time.Time

	reset atomic.Bool
	tick  int
}

func New(cfg Config) *Simulator {
	if cfg.Rate <= 0 {
		cfg.Rate = 30
	}
	return &Simulator{
		cfg:    cfg,
		ground: groundTexture(cfg.Seed),
		noise:  rand.New(rand.NewSource(cfg.Seed + 1)),
		now:    time.Now,
	}
}

// groundTexture is blocky value noise: 2x2 cells of random grey levels, so
// every 8x8 patch carries enough gradient to be tracked.
func groundTexture(seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	g := make([]byte, groundSize*groundSize)
	for y := 0; y < groundSize; y += 2 {
		for x := 0; x < groundSize; x += 2 {
			v := byte(rng.Intn(256))
			g[y*groundSize+x] = v
			g[y*groundSize+x+1] = v
			g[(y+1)*groundSize+x] = v
			g[(y+1)*groundSize+x+1] = v
		}
	}
	return g
}

// Reset moves the scene back to its origin before the next frame. Safe to
// call from any goroutine.
func (s *Simulator) Reset() {
	s.reset.Store(true)
}

// Offset is the scene displacement in whole pixels at a given tick.
func (s *Simulator) Offset(tick int) (int, int) {
	t := float64(tick) / s.cfg.Rate
	return int(math.Round(s.cfg.VelX * t)), int(math.Round(s.cfg.VelY * t))
}

// Render draws the ground shifted by (ox, oy) into a new width x height
// buffer. Content moves with the offset: pixel (x, y) shows ground
// (x-ox, y-oy).
func (s *Simulator) Render(width, height, ox, oy int) []byte {
	pix := make([]byte, width*height)
	for y := 0; y < height; y++ {
		gy := wrap(y - oy)
		for x := 0; x < width; x++ {
			v := float64(s.ground[gy*groundSize+wrap(x-ox)])
			if s.cfg.Noise > 0 {
				v += s.noise.NormFloat64() * s.cfg.Noise
			}
			pix[y*width+x] = clampByte(v)
		}
	}
	return pix
}

// BodyRate is the angular rate a camera of the given field of view would
// have to turn at to see the configured image motion.
func (s *Simulator) BodyRate(cam Camera) (float64, float64) {
	if cam.HFOV <= 0 || cam.HFOV >= math.Pi || cam.Width <= 0 {
		return 0, 0
	}
	f := float64(cam.Width) / 2 / math.Tan(cam.HFOV/2)
	perFrameX := s.cfg.VelX / s.cfg.Rate
	perFrameY := s.cfg.VelY / s.cfg.Rate
	return math.Atan(perFrameX/f) * s.cfg.Rate, math.Atan(perFrameY/f) * s.cfg.Rate
}

// Stream emits, per tick, a frame for every camera followed by one body rate
// and one range sample.
func (s *Simulator) Stream(ctx context.Context) <-chan types.RawMessage {
	out := make(chan types.RawMessage, 2*len(s.cfg.Cameras)+2)
	go func() {
		defer close(out)

		frameInterval := time.Duration(float64(time.Second) / s.cfg.Rate)
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, msg := range s.Step() {
					select {
					case <-ctx.Done():
						return
					case out <- msg:
					}
				}
			}
		}
	}()
	return out
}

// Step renders the next tick. Stream calls it on every timer tick; tests
// call it directly.
func (s *Simulator) Step() []types.RawMessage {
	if s.reset.Swap(false) {
		s.tick = 0
	}
	now := s.now()
	startTime := float64(now.UnixNano()) / 1e9
	usec := uint64(now.UnixMicro())
	ox, oy := s.Offset(s.tick)

	msgs := make([]types.RawMessage, 0, len(s.cfg.Cameras)+2)
	for _, cam := range s.cfg.Cameras {
		msgs = append(msgs, types.RawMessage{
			Type: types.MessageImage,
			Image: types.Frame{
				Camera:    cam.Name,
				ImageID:   s.tick,
				StartTime: startTime,
				Width:     cam.Width,
				Height:    cam.Height,
				Depth:     1,
				Format:    "L8",
				Rate:      s.cfg.Rate,
				Data:      s.Render(cam.Width, cam.Height, ox, oy),
			},
		})
	}
	if len(s.cfg.Cameras) > 0 {
		rx, ry := s.BodyRate(s.cfg.Cameras[0])
		msgs = append(msgs, types.RawMessage{
			Type: types.MessageGyro,
			Gyro: types.BodyRate{TimeUsec: usec, X: rx, Y: ry},
		})
	}
	if s.cfg.Altitude > 0 {
		msgs = append(msgs, types.RawMessage{
			Type:  types.MessageRange,
			Range: types.Range{TimeUsec: usec, CurrentDistance: s.cfg.Altitude},
		})
	}
	s.tick++
	return msgs
}

func wrap(v int) int {
	v %= groundSize
	if v < 0 {
		v += groundSize
	}
	return v
}

func clampByte(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(math.Round(v))
	}
}
