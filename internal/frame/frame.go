// Package frame turns raw camera buffers into typed grayscale views.
package frame

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"optflow-sim-go/internal/types"
)

// Size is the only frame edge length the flow estimator accepts.
const Size = 64

var (
	ErrNoCamera    = errors.New("no camera attached")
	ErrFrameSize   = errors.New("incorrect image size, must be 64 x 64")
	ErrFrameFormat = errors.New("unsupported image format, must be single channel 8-bit")
	ErrShortBuffer = errors.New("image buffer shorter than width*height")
)

// Shape is what a camera reports about the frames it will deliver.
type Shape struct {
	Width  int
	Height int
	Depth  int
	Format string
}

// Adapter checks frames against the configured shape and wraps their pixel
// buffers without copying.
type Adapter struct {
	shape Shape
}

// NewAdapter validates the camera shape. Any error is a configuration error.
func NewAdapter(shape Shape) (*Adapter, error) {
	if err := validate(shape); err != nil {
		return nil, err
	}
	return &Adapter{shape: shape}, nil
}

func (a *Adapter) Shape() Shape {
	return a.shape
}

// View returns a read-only grayscale view aliasing f.Data. The view must not
// outlive the call that delivered f.
func (a *Adapter) View(f types.Frame) (*image.Gray, error) {
	got := Shape{Width: f.Width, Height: f.Height, Depth: f.Depth, Format: f.Format}
	if err := validate(got); err != nil {
		return nil, err
	}
	if got.Width != a.shape.Width || got.Height != a.shape.Height {
		return nil, fmt.Errorf("%w: got %dx%d", ErrFrameSize, got.Width, got.Height)
	}
	n := f.Width * f.Height
	if len(f.Data) < n {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(f.Data), n)
	}
	return &image.Gray{
		Pix:    f.Data[:n:n],
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

func validate(s Shape) error {
	if s == (Shape{}) {
		return ErrNoCamera
	}
	if s.Width != Size || s.Height != Size {
		return fmt.Errorf("%w: got %dx%d", ErrFrameSize, s.Width, s.Height)
	}
	if s.Depth != 1 || !IsGray8(s.Format) {
		return fmt.Errorf("%w: got depth %d format %q", ErrFrameFormat, s.Depth, s.Format)
	}
	return nil
}

// IsGray8 reports whether format names an 8-bit single channel layout.
func IsGray8(format string) bool {
	switch strings.ToUpper(strings.TrimSpace(format)) {
	case "L8", "L_INT8", "GRAY8", "MONO8":
		return true
	default:
		return false
	}
}
