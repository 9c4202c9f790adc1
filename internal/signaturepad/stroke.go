package signaturepad

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// kappa places cubic control points so that four quarter arcs approximate a
// circle.
const kappa = 0.5522847498

type Point struct {
	X float64
	Y float64
}

func (p Point) add(q Point) Point       { return Point{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point) sub(q Point) Point       { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) scale(f float64) Point   { return Point{X: p.X * f, Y: p.Y * f} }
func (p Point) length() float64         { return math.Hypot(p.X, p.Y) }
func (p Point) perpendicular() Point    { return Point{X: -p.Y, Y: p.X} }
func (p Point) f32() (float32, float32) { return float32(p.X), float32(p.Y) }

// segment paints a round-capped line from a to b in backing-store space and
// reports whether any of it landed on the surface.
func (s *Surface) segment(a, b Point) bool {
	if s.buf == nil {
		return false
	}
	r := s.lineWidth / 2
	bounds := s.buf.Bounds()
	box := image.Rect(
		int(math.Floor(math.Min(a.X, b.X)-r))-1,
		int(math.Floor(math.Min(a.Y, b.Y)-r))-1,
		int(math.Ceil(math.Max(a.X, b.X)+r))+1,
		int(math.Ceil(math.Max(a.Y, b.Y)+r))+1,
	).Add(bounds.Min).Intersect(bounds)
	if box.Empty() {
		return false
	}

	origin := Point{X: float64(box.Min.X - bounds.Min.X), Y: float64(box.Min.Y - bounds.Min.Y)}
	z := vector.NewRasterizer(box.Dx(), box.Dy())
	z.DrawOp = draw.Over
	capsule(z, a.sub(origin), b.sub(origin), r)
	z.Draw(s.buf, box, image.NewUniform(inkColor), image.Point{})
	return true
}

// capsule adds the outline of a thick segment with semicircular ends. A zero
// length segment becomes a disc.
func capsule(z *vector.Rasterizer, a, b Point, r float64) {
	d := b.sub(a)
	l := d.length()
	if l < 1e-6 {
		disc(z, a, r)
		return
	}
	u := d.scale(1 / l)
	n := u.perpendicular()
	k := kappa * r

	start := a.add(n.scale(r))
	z.MoveTo(start.f32())
	lineTo(z, b.add(n.scale(r)))
	quarter(z, b, n, u, r, k)
	quarter(z, b, u, n.scale(-1), r, k)
	lineTo(z, a.sub(n.scale(r)))
	quarter(z, a, n.scale(-1), u.scale(-1), r, k)
	quarter(z, a, u.scale(-1), n, r, k)
	z.ClosePath()
}

func disc(z *vector.Rasterizer, c Point, r float64) {
	k := kappa * r
	right := Point{X: 1}
	down := Point{Y: 1}
	left := Point{X: -1}
	up := Point{Y: -1}
	z.MoveTo(c.add(right.scale(r)).f32())
	quarter(z, c, right, down, r, k)
	quarter(z, c, down, left, r, k)
	quarter(z, c, left, up, r, k)
	quarter(z, c, up, right, r, k)
	z.ClosePath()
}

// quarter draws the arc around c from direction from to direction to, which
// must be orthogonal unit vectors. The pen is assumed to be at c + from*r.
func quarter(z *vector.Rasterizer, c, from, to Point, r, k float64) {
	p0 := c.add(from.scale(r))
	p3 := c.add(to.scale(r))
	p1 := p0.add(to.scale(k))
	p2 := p3.add(from.scale(k))
	z.CubeTo(float32(p1.X), float32(p1.Y), float32(p2.X), float32(p2.Y), float32(p3.X), float32(p3.Y))
}

func lineTo(z *vector.Rasterizer, p Point) {
	z.LineTo(p.f32())
}
