package signaturepad

import (
	"errors"
	"image"
	"image/color"
	"math"
)

const (
	DefaultHeight    = 200
	DefaultMinWidth  = 280
	DefaultLineWidth = 2

	viewportFallbackRatio = 0.9
	minStrokeWidth        = 2
)

var (
	ErrSurfaceUnavailable = errors.New("signature surface unavailable")

	inkColor   = color.RGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff}
	paperColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// ContextFactory allocates the backing store for a surface. A failing factory
// leaves the surface inert.
type ContextFactory func(width, height int) (*image.RGBA, error)

func defaultContext(width, height int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

type Size struct {
	Width  float64
	Height float64
}

// Surface owns the backing store. CSS size is what the layout sees, the
// backing store is CSS size multiplied by the device pixel ratio.
type Surface struct {
	css       Size
	dpr       float64
	minWidth  float64
	baseWidth float64
	lineWidth float64
	newCtx    ContextFactory
	buf       *image.RGBA
	lastErr   error
}

func newSurface(minWidth, baseWidth float64, factory ContextFactory) *Surface {
	if minWidth <= 0 {
		minWidth = DefaultMinWidth
	}
	if baseWidth <= 0 {
		baseWidth = DefaultLineWidth
	}
	if factory == nil {
		factory = defaultContext
	}
	return &Surface{minWidth: minWidth, baseWidth: baseWidth, newCtx: factory, dpr: 1}
}

// configure re-initialises the backing store from scratch. viewport is only
// used when the container has no width yet.
func (s *Surface) configure(containerWidth, desiredHeight, dpr, viewport float64) error {
	cssWidth := containerWidth
	if cssWidth <= 0 || math.IsNaN(cssWidth) {
		cssWidth = viewport * viewportFallbackRatio
	}
	if cssWidth < s.minWidth {
		cssWidth = s.minWidth
	}
	if desiredHeight <= 0 {
		desiredHeight = DefaultHeight
	}
	if dpr <= 0 || math.IsNaN(dpr) {
		dpr = 1
	}

	s.css = Size{Width: cssWidth, Height: desiredHeight}
	s.dpr = dpr
	s.lineWidth = math.Max(minStrokeWidth, s.baseWidth*dpr)

	w := backingDimension(cssWidth, dpr)
	h := backingDimension(desiredHeight, dpr)
	buf, err := s.newCtx(w, h)
	if err == nil && buf == nil {
		err = ErrSurfaceUnavailable
	}
	if err != nil {
		s.buf = nil
		s.lastErr = err
		return err
	}
	s.buf = buf
	s.lastErr = nil
	s.fill()
	return nil
}

func backingDimension(css, dpr float64) int {
	v := int(math.Round(css * dpr))
	if v < 1 {
		v = 1
	}
	return v
}

func (s *Surface) fill() {
	if s.buf == nil {
		return
	}
	b := s.buf.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := s.buf.Pix[s.buf.PixOffset(b.Min.X, y):s.buf.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			row[i+0] = paperColor.R
			row[i+1] = paperColor.G
			row[i+2] = paperColor.B
			row[i+3] = paperColor.A
		}
	}
}

func (s *Surface) available() bool { return s.buf != nil }

// BackingSize reports the backing store dimensions in device pixels, or zero
// when the surface is inert.
func (s *Surface) BackingSize() (int, int) {
	if s.buf == nil {
		return 0, 0
	}
	b := s.buf.Bounds()
	return b.Dx(), b.Dy()
}

func (s *Surface) CSSSize() Size { return s.css }

func (s *Surface) DevicePixelRatio() float64 { return s.dpr }

func (s *Surface) LineWidth() float64 { return s.lineWidth }

func (s *Surface) snapshot() (*image.RGBA, error) {
	if s.buf == nil {
		return nil, ErrSurfaceUnavailable
	}
	b := s.buf.Bounds()
	cp := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := s.buf.Pix[s.buf.PixOffset(b.Min.X, b.Min.Y+y):s.buf.PixOffset(b.Max.X, b.Min.Y+y)]
		copy(cp.Pix[cp.PixOffset(0, y):], src)
	}
	return cp, nil
}
