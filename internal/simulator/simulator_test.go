package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optflow-sim-go/internal/types"
)

func testConfig() Config {
	return Config{
		Cameras:  []Camera{{Name: "iris::camera", Width: 64, Height: 64, HFOV: 1.047}},
		Rate:     30,
		VelX:     60,
		VelY:     -30,
		Altitude: 2,
		Seed:     7,
	}
}

func framesOf(msgs []types.RawMessage) []types.Frame {
	var out []types.Frame
	for _, m := range msgs {
		if m.Type == types.MessageImage {
			out = append(out, m.Image)
		}
	}
	return out
}

func TestRenderIsDeterministic(t *testing.T) {
	a := New(testConfig()).Render(64, 64, 3, 5)
	b := New(testConfig()).Render(64, 64, 3, 5)
	assert.Equal(t, a, b)

	other := testConfig()
	other.Seed = 8
	c := New(other).Render(64, 64, 3, 5)
	assert.NotEqual(t, a, c)
}

func TestConsecutiveFramesAreShifted(t *testing.T) {
	sim := New(testConfig())
	first := framesOf(sim.Step())
	second := framesOf(sim.Step())
	require.Len(t, first, 1)
	require.Len(t, second, 1)

	// 60 px/s and -30 px/s at 30 fps.
	dx, dy := 2, -1
	prev, cur := first[0].Data, second[0].Data
	for y := 8; y < 56; y++ {
		for x := 8; x < 56; x++ {
			require.Equal(t, prev[(y-dy)*64+x-dx], cur[y*64+x], "pixel %d,%d", x, y)
		}
	}
	assert.Equal(t, 0, first[0].ImageID)
	assert.Equal(t, 1, second[0].ImageID)
	assert.Equal(t, 30.0, second[0].Rate)
	assert.Equal(t, "L8", second[0].Format)
}

func TestStepEmitsGyroAndRange(t *testing.T) {
	sim := New(testConfig())
	fixed := time.Unix(100, 0)
	sim.now = func() time.Time { return fixed }

	msgs := sim.Step()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.MessageGyro, msgs[1].Type)
	assert.Equal(t, uint64(100_000_000), msgs[1].Gyro.TimeUsec)
	assert.Greater(t, msgs[1].Gyro.X, 0.0)
	assert.Less(t, msgs[1].Gyro.Y, 0.0)
	assert.Equal(t, types.MessageRange, msgs[2].Type)
	assert.Equal(t, 2.0, msgs[2].Range.CurrentDistance)
}

func TestBodyRateMatchesImageMotion(t *testing.T) {
	sim := New(testConfig())
	rx, _ := sim.BodyRate(testConfig().Cameras[0])
	// 2 px per frame at f = 32/tan(0.5235) ~= 55.4 px.
	assert.InDelta(t, 0.0361*30, rx, 0.002)

	rx, ry := sim.BodyRate(Camera{Width: 64, HFOV: 0})
	assert.Zero(t, rx)
	assert.Zero(t, ry)
}

func TestResetRewindsScene(t *testing.T) {
	sim := New(testConfig())
	first := framesOf(sim.Step())[0]
	sim.Step()
	sim.Reset()
	again := framesOf(sim.Step())[0]
	assert.Equal(t, 0, again.ImageID)
	assert.Equal(t, first.Data, again.Data)
}

func TestNoiseChangesPixels(t *testing.T) {
	cfg := testConfig()
	cfg.Noise = 20
	noisy := New(cfg).Render(64, 64, 0, 0)
	clean := New(testConfig()).Render(64, 64, 0, 0)
	assert.NotEqual(t, clean, noisy)
}

func TestStreamStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = 200
	ctx, cancel := context.WithCancel(context.Background())
	out := New(cfg).Stream(ctx)

	select {
	case msg := <-out:
		assert.Equal(t, types.MessageImage, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no message from simulator")
	}
	cancel()
	for range out {
	}
}
