package flow

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomTexture(seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

// shifted returns src moved by (dx, dy): content at (x, y) in src appears at
// (x+dx, y+dy). Uncovered pixels get fresh random values.
func shifted(src *image.Gray, dx, dy int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	out := image.NewGray(src.Rect)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			sx, sy := x-dx, y-dy
			if sx >= 0 && sx < 64 && sy >= 0 && sy < 64 {
				out.Pix[y*64+x] = src.Pix[sy*64+sx]
			} else {
				out.Pix[y*64+x] = uint8(rng.Intn(256))
			}
		}
	}
	return out
}

func withNoise(src *image.Gray, amplitude int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	out := image.NewGray(src.Rect)
	for i, v := range src.Pix {
		n := 0
		if amplitude > 0 {
			n = rng.Intn(2*amplitude+1) - amplitude
		}
		out.Pix[i] = clamp8(int(v) + n)
	}
	return out
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clone(src *image.Gray) *image.Gray {
	out := image.NewGray(src.Rect)
	copy(out.Pix, src.Pix)
	return out
}

func TestOrigins(t *testing.T) {
	m := DefaultBlockMatcher()
	assert.Equal(t, []int{4, 16, 28, 40, 52}, m.Origins(64))

	m.Grid = 1
	assert.Equal(t, []int{28}, m.Origins(64))

	assert.Nil(t, DefaultBlockMatcher().Origins(8))
}

func TestEstimatorColdStart(t *testing.T) {
	e := NewEstimator(nil)
	dx, dy, q := e.Estimate(randomTexture(1))
	assert.Zero(t, dx)
	assert.Zero(t, dy)
	assert.Zero(t, q)
}

func TestEstimatorIdenticalFrames(t *testing.T) {
	e := NewEstimator(nil)
	a := randomTexture(2)
	e.Estimate(a)
	dx, dy, q := e.Estimate(clone(a))
	assert.Zero(t, dx)
	assert.Zero(t, dy)
	assert.Equal(t, uint8(255), q)
}

func TestEstimatorRecoversShift(t *testing.T) {
	tests := []struct {
		dx, dy int
	}{
		{2, 0},
		{0, -3},
		{-4, 4},
		{1, 2},
		{-1, -1},
	}

	for _, tt := range tests {
		e := NewEstimator(nil)
		a := randomTexture(3)
		b := shifted(a, tt.dx, tt.dy, 4)
		e.Estimate(a)
		dx, dy, q := e.Estimate(b)
		assert.InDelta(t, float64(tt.dx), dx, 1e-9, "shift %+v", tt)
		assert.InDelta(t, float64(tt.dy), dy, 1e-9, "shift %+v", tt)
		assert.Equal(t, uint8(255), q, "shift %+v", tt)
	}
}

func TestEstimatorDoesNotRetainCallerBuffer(t *testing.T) {
	e := NewEstimator(nil)
	a := randomTexture(5)
	buf := clone(a)
	e.Estimate(buf)

	// Scribble over the caller's buffer; the stored frame must be unaffected.
	for i := range buf.Pix {
		buf.Pix[i] = 0
	}
	dx, dy, q := e.Estimate(clone(a))
	assert.Zero(t, dx)
	assert.Zero(t, dy)
	assert.Equal(t, uint8(255), q)
}

func TestQualityFallsWithNoise(t *testing.T) {
	a := randomTexture(6)
	var qualities []uint8
	for _, amplitude := range []int{0, 4, 60, 120} {
		e := NewEstimator(nil)
		e.Estimate(a)
		_, _, q := e.Estimate(withNoise(a, amplitude, 7))
		qualities = append(qualities, q)
	}

	for i := 1; i < len(qualities); i++ {
		assert.LessOrEqual(t, qualities[i], qualities[i-1], "qualities %v", qualities)
	}
	assert.Equal(t, uint8(255), qualities[0])
	assert.Equal(t, uint8(0), qualities[len(qualities)-1])
}

func TestQualityFallsWithTextureRemoval(t *testing.T) {
	m := DefaultBlockMatcher()
	origins := m.Origins(64)
	base := randomTexture(8)

	prevQuality := 256
	removed := 0
	for _, oy := range origins {
		for _, ox := range origins {
			// Flatten one more patch in both frames.
			for j := 0; j < m.PatchSize; j++ {
				for i := 0; i < m.PatchSize; i++ {
					base.Pix[(oy+j)*64+ox+i] = 128
				}
			}
			removed++

			e := NewEstimator(m)
			e.Estimate(base)
			_, _, q := e.Estimate(clone(base))

			assert.Equal(t, (25-removed)*255/25, int(q))
			assert.Less(t, int(q), prevQuality)
			prevQuality = int(q)
		}
	}
	assert.Zero(t, prevQuality)
}

func TestEstimatorNoSurvivorsDefaultsToZero(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range flat.Pix {
		flat.Pix[i] = 90
	}
	e := NewEstimator(nil)
	e.Estimate(flat)
	dx, dy, q := e.Estimate(randomTexture(9))
	assert.Zero(t, dx)
	assert.Zero(t, dy)
	assert.Zero(t, q)
}

func TestEstimatorReset(t *testing.T) {
	e := NewEstimator(nil)
	a := randomTexture(10)
	e.Estimate(a)
	e.Reset()
	_, _, q := e.Estimate(clone(a))
	assert.Zero(t, q)

	_, _, q = e.Estimate(clone(a))
	assert.Equal(t, uint8(255), q)
}

func TestMatchPrefersSmallestOffsetOnTie(t *testing.T) {
	// A single bright column is ambiguous vertically: every dy gives the
	// same SAD, so the zero offset must win.
	prev := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range prev.Pix {
		prev.Pix[i] = 50
	}
	for y := 0; y < 64; y++ {
		prev.Pix[y*64+30] = 250
	}
	cur := shifted(prev, 1, 0, 11)
	for y := 0; y < 64; y++ {
		cur.Pix[y*64] = 50
	}

	d := DefaultBlockMatcher().Match(prev, cur)
	require.Equal(t, 5, d.Passed)
	assert.Equal(t, 1.0, d.X)
	assert.Equal(t, 0.0, d.Y)
}
