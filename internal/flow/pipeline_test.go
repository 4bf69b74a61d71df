package flow

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optflow-sim-go/internal/frame"
	"optflow-sim-go/internal/types"
)

type countingCorrelator struct {
	calls int
	inner Correlator
}

func (c *countingCorrelator) Match(prev, cur *image.Gray) Displacement {
	c.calls++
	return c.inner.Match(prev, cur)
}

type recorder struct {
	metas   []types.RecordMeta
	records []types.OpticalFlow
}

func (r *recorder) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	r.metas = append(r.metas, meta)
	r.records = append(r.records, rec)
}

func testConfig() Config {
	return Config{
		Camera:      "iris::camera",
		SensorID:    2,
		Shape:       frame.Shape{Width: 64, Height: 64, Depth: 1, Format: "L8"},
		HFOV:        1.047,
		NominalRate: 30,
	}
}

func grayFrame(img *image.Gray, id int, rate float64) types.Frame {
	return types.Frame{
		Camera:  "iris::camera",
		ImageID: id,
		Width:   64,
		Height:  64,
		Depth:   1,
		Format:  "L8",
		Rate:    rate,
		Data:    img.Pix,
	}
}

func markerFrame(x, y int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	img.Pix[y*64+x] = 255
	return img
}

func TestPipelineMarkerScenario(t *testing.T) {
	rec := &recorder{}
	p := New(testConfig(), WithPublisher(rec), WithLogger(zerolog.Nop()))
	require.True(t, p.Active())
	assert.InDelta(t, 55.4, p.Intrinsics().FocalLength, 0.05)

	first, ok := p.ProcessFrame(grayFrame(markerFrame(30, 30), 0, 30))
	require.True(t, ok)
	assert.Zero(t, first.IntegratedX)
	assert.Zero(t, first.Quality)

	est, ok := p.ProcessFrame(grayFrame(markerFrame(32, 30), 1, 30))
	require.True(t, ok)
	assert.InDelta(t, 2.0, est.PixelX, 1e-9)
	assert.InDelta(t, 0.0, est.PixelY, 1e-9)
	assert.InDelta(t, math.Atan(2/p.Intrinsics().FocalLength), est.IntegratedX, 1e-12)
	assert.InDelta(t, 0.036, est.IntegratedX, 0.001)
	assert.Zero(t, est.IntegratedY)
	assert.Equal(t, uint32(1_000_000/30), est.IntegrationUs)
	assert.Equal(t, uint8(255/25), est.Quality)

	require.Len(t, rec.records, 2)
	assert.Equal(t, 1, rec.metas[1].ImageID)
}

func TestPipelinePublishesPartialRecord(t *testing.T) {
	rec := &recorder{}
	p := New(testConfig(), WithPublisher(rec), WithLogger(zerolog.Nop()))

	a := randomTexture(20)
	p.ProcessFrame(grayFrame(a, 0, 50))
	est, ok := p.ProcessFrame(grayFrame(shifted(a, -2, 1, 21), 1, 50))
	require.True(t, ok)

	want := types.OpticalFlow{
		SensorID:          2,
		IntegrationTimeUs: 20000,
		IntegratedX:       float32(est.IntegratedX),
		IntegratedY:       float32(est.IntegratedY),
		Temperature:       20,
		Quality:           255,
	}
	if diff := cmp.Diff(want, rec.records[1], cmpopts.IgnoreUnexported(types.OpticalFlow{})); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Less(t, est.IntegratedX, 0.0)
	assert.Greater(t, est.IntegratedY, 0.0)
}

func TestPipelineColdStartIgnoresContent(t *testing.T) {
	p := New(testConfig(), WithLogger(zerolog.Nop()))
	est, ok := p.ProcessFrame(grayFrame(randomTexture(22), 0, 30))
	require.True(t, ok)
	assert.Equal(t, types.FlowEstimate{IntegrationUs: 33333}, est)
}

func TestPipelineMisconfiguredNeverCorrelates(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"wrong size", func(c *Config) { c.Shape.Width, c.Shape.Height = 128, 128 }, frame.ErrFrameSize},
		{"wrong format", func(c *Config) { c.Shape.Depth, c.Shape.Format = 3, "R8G8B8" }, frame.ErrFrameFormat},
		{"no camera", func(c *Config) { c.Shape = frame.Shape{} }, frame.ErrNoCamera},
		{"bad fov", func(c *Config) { c.HFOV = 0 }, ErrInvalidFOV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			counter := &countingCorrelator{inner: DefaultBlockMatcher()}
			rec := &recorder{}
			p := New(cfg, WithCorrelator(counter), WithPublisher(rec), WithLogger(zerolog.Nop()))

			assert.False(t, p.Active())
			assert.ErrorIs(t, p.Err(), tt.want)

			a := randomTexture(23)
			for i := 0; i < 3; i++ {
				_, ok := p.ProcessFrame(grayFrame(a, i, 30))
				assert.False(t, ok)
			}
			assert.Zero(t, counter.calls)
			assert.Empty(t, rec.records)
			assert.False(t, p.Status().Active)
			assert.NotEmpty(t, p.Status().Error)
		})
	}
}

func TestPipelineDeactivatesOnMismatchedFrame(t *testing.T) {
	counter := &countingCorrelator{inner: DefaultBlockMatcher()}
	p := New(testConfig(), WithCorrelator(counter), WithLogger(zerolog.Nop()))

	a := randomTexture(24)
	_, ok := p.ProcessFrame(grayFrame(a, 0, 30))
	require.True(t, ok)

	bad := types.Frame{Width: 32, Height: 32, Depth: 1, Format: "L8", Data: make([]byte, 32*32), Rate: 30}
	_, ok = p.ProcessFrame(bad)
	assert.False(t, ok)
	assert.ErrorIs(t, p.Err(), frame.ErrFrameSize)

	// No retry, even with a good frame.
	_, ok = p.ProcessFrame(grayFrame(a, 2, 30))
	assert.False(t, ok)
	assert.Zero(t, counter.calls)
}

func TestPipelineRateFallback(t *testing.T) {
	p := New(testConfig(), WithLogger(zerolog.Nop()))
	a := randomTexture(25)

	est, _ := p.ProcessFrame(grayFrame(a, 0, 50))
	assert.Equal(t, uint32(20000), est.IntegrationUs)
	est, _ = p.ProcessFrame(grayFrame(a, 1, 0))
	assert.Equal(t, uint32(20000), est.IntegrationUs)
	est, _ = p.ProcessFrame(grayFrame(a, 2, 0))
	assert.Equal(t, uint32(20000), est.IntegrationUs)
	assert.Equal(t, uint64(2), p.Status().Fallbacks)
}

func TestPipelineTimerIsStoppedBeforeAndStartedAfterOutputs(t *testing.T) {
	clock := &fakeClock{t: time.Unix(10, 0)}
	var p *Pipeline
	var wallAtPublish []int64
	pub := PublisherFunc(func(types.RecordMeta, types.OpticalFlow) {
		// Advancing here must not leak into the measured interval.
		wallAtPublish = append(wallAtPublish, p.timing.LastWall().Microseconds())
		clock.advance(5 * time.Millisecond)
	})
	p = New(testConfig(), WithClock(clock.now), WithPublisher(pub), WithLogger(zerolog.Nop()))

	a := randomTexture(26)
	p.ProcessFrame(grayFrame(a, 0, 30))
	clock.advance(30 * time.Millisecond)
	p.ProcessFrame(grayFrame(a, 1, 30))
	clock.advance(90 * time.Millisecond)
	p.ProcessFrame(grayFrame(a, 2, 30))

	assert.Equal(t, []int64{0, 30000, 90000}, wallAtPublish)
	st := p.Status()
	assert.Equal(t, int64(90000), st.LastWallUs)
	assert.Equal(t, uint64(1), st.LateFrames)
	assert.Equal(t, uint64(3), st.Frames)
}

func TestPipelineResetIsColdStart(t *testing.T) {
	p := New(testConfig(), WithLogger(zerolog.Nop()))
	a := randomTexture(27)
	p.ProcessFrame(grayFrame(a, 0, 30))
	est, _ := p.ProcessFrame(grayFrame(a, 1, 30))
	assert.Equal(t, uint8(255), est.Quality)

	p.Reset()
	est, _ = p.ProcessFrame(grayFrame(a, 2, 30))
	assert.Zero(t, est.Quality)
}

func TestPipelineReconfigure(t *testing.T) {
	p := New(testConfig(), WithLogger(zerolog.Nop()))
	require.NoError(t, p.Reconfigure(math.Pi/2))
	assert.InDelta(t, 32.0, p.Intrinsics().FocalLength, 1e-9)

	assert.ErrorIs(t, p.Reconfigure(0), ErrInvalidFOV)
	assert.InDelta(t, 32.0, p.Intrinsics().FocalLength, 1e-9)
}

func TestPipelineClose(t *testing.T) {
	p := New(testConfig(), WithLogger(zerolog.Nop()))
	p.Close()
	assert.ErrorIs(t, p.Err(), ErrClosed)
	_, ok := p.ProcessFrame(grayFrame(randomTexture(28), 0, 30))
	assert.False(t, ok)
}

func TestPipelineImplementsSensor(t *testing.T) {
	var s Sensor = New(testConfig(), WithLogger(zerolog.Nop()))
	_, ok := s.ProcessFrame(grayFrame(randomTexture(29), 0, 30))
	assert.True(t, ok)
}
