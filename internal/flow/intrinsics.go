package flow

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidFOV = errors.New("horizontal field of view must be in (0, pi) radians")

// Intrinsics holds the pinhole projection scale of a camera.
type Intrinsics struct {
	HFOV        float64
	Width       int
	FocalLength float64 // pixels
}

func NewIntrinsics(hfov float64, width int) (Intrinsics, error) {
	if math.IsNaN(hfov) || hfov <= 0 || hfov >= math.Pi {
		return Intrinsics{}, fmt.Errorf("%w: got %v", ErrInvalidFOV, hfov)
	}
	if width <= 0 {
		return Intrinsics{}, fmt.Errorf("image width must be positive, got %d", width)
	}
	return Intrinsics{
		HFOV:        hfov,
		Width:       width,
		FocalLength: float64(width) / 2 / math.Tan(hfov/2),
	}, nil
}

// ToAngular converts a pixel displacement into the angle swept over the
// interval, using the exact arctangent rather than dx/f.
func (in Intrinsics) ToAngular(dx, dy float64) (float64, float64) {
	return math.Atan(dx / in.FocalLength), math.Atan(dy / in.FocalLength)
}
