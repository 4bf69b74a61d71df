package flow

import (
	"image"

	"gonum.org/v1/gonum/stat"
)

// Displacement is the frame-level shift from the previous frame to the
// current one, in pixels. Passed counts the patches that contributed.
type Displacement struct {
	X      float64
	Y      float64
	Passed int
	Total  int
}

// Correlator finds the bulk displacement between two equally sized frames.
type Correlator interface {
	Match(prev, cur *image.Gray) Displacement
}

// BlockMatcher is an exhaustive SAD block matcher over a square grid of
// patches.
type BlockMatcher struct {
	PatchSize    int
	SearchRadius int
	Grid         int
	// FeatureThreshold is the minimum summed neighbour gradient inside a
	// patch. Flat patches cannot be matched reliably and are skipped.
	FeatureThreshold int
	// MatchThreshold is the largest accepted mean absolute difference per
	// pixel at the best offset.
	MatchThreshold int
}

func DefaultBlockMatcher() BlockMatcher {
	return BlockMatcher{
		PatchSize:        8,
		SearchRadius:     4,
		Grid:             5,
		FeatureThreshold: 32,
		MatchThreshold:   12,
	}
}

// Origins returns the patch origins along an axis of length n. Every patch
// plus its search window stays inside the frame.
func (m BlockMatcher) Origins(n int) []int {
	lo := m.SearchRadius
	hi := n - m.SearchRadius - m.PatchSize
	if m.Grid < 1 || hi < lo {
		return nil
	}
	if m.Grid == 1 {
		return []int{lo + (hi-lo)/2}
	}
	step := (hi - lo) / (m.Grid - 1)
	out := make([]int, m.Grid)
	for i := range out {
		out[i] = lo + i*step
	}
	return out
}

func (m BlockMatcher) Match(prev, cur *image.Gray) Displacement {
	xs := m.Origins(prev.Rect.Dx())
	ys := m.Origins(prev.Rect.Dy())
	d := Displacement{Total: len(xs) * len(ys)}
	if d.Total == 0 {
		return d
	}

	maxSAD := m.MatchThreshold * m.PatchSize * m.PatchSize
	dxs := make([]float64, 0, d.Total)
	dys := make([]float64, 0, d.Total)
	for _, oy := range ys {
		for _, ox := range xs {
			if m.texture(prev, ox, oy) < m.FeatureThreshold {
				continue
			}
			dx, dy, sad := m.search(prev, cur, ox, oy)
			if sad > maxSAD {
				continue
			}
			dxs = append(dxs, float64(dx))
			dys = append(dys, float64(dy))
		}
	}

	d.Passed = len(dxs)
	if d.Passed == 0 {
		return d
	}
	d.X = stat.Mean(dxs, nil)
	d.Y = stat.Mean(dys, nil)
	return d
}

func (m BlockMatcher) texture(img *image.Gray, ox, oy int) int {
	p := m.PatchSize
	sum := 0
	for j := 0; j < p; j++ {
		row := img.Pix[(oy+j)*img.Stride+ox:]
		for i := 0; i < p; i++ {
			v := int(row[i])
			if i+1 < p {
				sum += absInt(int(row[i+1]) - v)
			}
			if j+1 < p {
				sum += absInt(int(row[img.Stride+i]) - v)
			}
		}
	}
	return sum
}

// search scans every offset in the window and keeps the lowest SAD. Ties go
// to the offset closest to zero.
func (m BlockMatcher) search(prev, cur *image.Gray, ox, oy int) (int, int, int) {
	r := m.SearchRadius
	bestX, bestY := 0, 0
	best := m.sad(prev, cur, ox, oy, 0, 0, -1)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			s := m.sad(prev, cur, ox, oy, dx, dy, best)
			if s < best || (s == best && dx*dx+dy*dy < bestX*bestX+bestY*bestY) {
				best, bestX, bestY = s, dx, dy
			}
		}
	}
	return bestX, bestY, best
}

// sad stops early once the running sum exceeds limit; a negative limit
// disables that.
func (m BlockMatcher) sad(prev, cur *image.Gray, ox, oy, dx, dy, limit int) int {
	p := m.PatchSize
	sum := 0
	for j := 0; j < p; j++ {
		a := prev.Pix[(oy+j)*prev.Stride+ox:]
		b := cur.Pix[(oy+dy+j)*cur.Stride+ox+dx:]
		for i := 0; i < p; i++ {
			sum += absInt(int(a[i]) - int(b[i]))
		}
		if limit >= 0 && sum > limit {
			return sum
		}
	}
	return sum
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Estimator keeps the previous frame and turns consecutive frames into a
// pixel displacement and quality.
type Estimator struct {
	correlator Correlator
	prev       *image.Gray
	spare      *image.Gray
	hasPrev    bool
}

func NewEstimator(c Correlator) *Estimator {
	if c == nil {
		c = DefaultBlockMatcher()
	}
	return &Estimator{correlator: c}
}

// Estimate matches cur against the stored frame and then stores a copy of
// cur. The first frame after construction or Reset yields (0, 0) with
// quality 0.
func (e *Estimator) Estimate(cur *image.Gray) (float64, float64, uint8) {
	if !e.hasPrev {
		e.store(cur)
		return 0, 0, 0
	}

	d := e.correlator.Match(e.prev, cur)
	e.store(cur)

	var quality uint8
	if d.Total > 0 {
		quality = uint8(d.Passed * 255 / d.Total)
	}
	if d.Passed == 0 {
		return 0, 0, quality
	}
	return d.X, d.Y, quality
}

func (e *Estimator) Reset() {
	e.hasPrev = false
}

// store copies cur into the spare buffer and swaps it in, so steady-state
// operation does not allocate.
func (e *Estimator) store(cur *image.Gray) {
	if e.spare == nil || e.spare.Rect != cur.Rect {
		e.spare = image.NewGray(cur.Rect)
	}
	w := cur.Rect.Dx()
	for y := 0; y < cur.Rect.Dy(); y++ {
		copy(e.spare.Pix[y*e.spare.Stride:y*e.spare.Stride+w], cur.Pix[y*cur.Stride:y*cur.Stride+w])
	}
	e.prev, e.spare = e.spare, e.prev
	e.hasPrev = true
}
