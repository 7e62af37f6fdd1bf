// Package canvas is an in-memory drawing surface. Strokes are rendered as
// anti-aliased round-capped polylines, and the current drawing can be taken
// as an immutable snapshot or cleared.
package canvas

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

var (
	ErrInvalidSize  = errors.New("canvas size must be positive")
	ErrInvalidBrush = errors.New("brush width must be positive")
	ErrPointRange   = errors.New("stroke point out of range")
)

const maxCoord = 1 << 20

// kappa places cubic control points for a quarter circle.
const kappa = 0.5522847498

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Canvas struct {
	mu     sync.Mutex
	img    *image.NRGBA
	raster *vector.Rasterizer
	paper  color.NRGBA
	ink    *image.Uniform
	brush  float64
	empty  bool
}

type Option func(*Canvas)

// WithBrush sets the stroke width in pixels.
func WithBrush(width float64) Option {
	return func(c *Canvas) { c.brush = width }
}

func WithColors(paper, ink color.NRGBA) Option {
	return func(c *Canvas) {
		c.paper = paper
		c.ink = image.NewUniform(ink)
	}
}

// New returns a cleared canvas. Defaults follow MNIST: white ink on black
// paper with a 20px brush.
func New(width, height int, opts ...Option) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}

	c := &Canvas{
		img:    image.NewNRGBA(image.Rect(0, 0, width, height)),
		raster: vector.NewRasterizer(width, height),
		paper:  color.NRGBA{A: 255},
		ink:    image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
		brush:  20,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.brush <= 0 || math.IsNaN(c.brush) {
		return nil, ErrInvalidBrush
	}

	c.clear()
	return c, nil
}

func (c *Canvas) Size() (width, height int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Stroke draws a polyline through points. A single point draws a dot.
// Points outside the canvas are clipped.
func (c *Canvas) Stroke(points []Point) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if !(math.Abs(p.X) <= maxCoord && math.Abs(p.Y) <= maxCoord) {
			return ErrPointRange
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.brush / 2
	if len(points) == 1 {
		c.capsule(points[0], points[0], r)
	}
	for i := 1; i < len(points); i++ {
		c.capsule(points[i-1], points[i], r)
	}
	c.empty = false
	return nil
}

// capsule fills the segment a-b widened by r with round ends. Only the
// segment's bounding box is rasterised.
func (c *Canvas) capsule(a, b Point, r float64) {
	box := image.Rect(
		int(math.Floor(math.Min(a.X, b.X)-r))-1, int(math.Floor(math.Min(a.Y, b.Y)-r))-1,
		int(math.Ceil(math.Max(a.X, b.X)+r))+1, int(math.Ceil(math.Max(a.Y, b.Y)+r))+1,
	).Intersect(c.img.Bounds())
	if box.Empty() {
		return
	}

	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	ux, uy := 1.0, 0.0
	if length > 0 {
		ux, uy = dx/length, dy/length
	}
	nx, ny := -uy, ux
	k := kappa * r

	origin := Point{X: float64(box.Min.X), Y: float64(box.Min.Y)}
	a = Point{X: a.X - origin.X, Y: a.Y - origin.Y}
	b = Point{X: b.X - origin.X, Y: b.Y - origin.Y}

	z := c.raster
	z.Reset(box.Dx(), box.Dy())

	z.MoveTo(float32(a.X+nx*r), float32(a.Y+ny*r))
	z.LineTo(float32(b.X+nx*r), float32(b.Y+ny*r))
	quarter(z, b, nx, ny, ux, uy, r, k)
	quarter(z, b, ux, uy, -nx, -ny, r, k)
	z.LineTo(float32(a.X-nx*r), float32(a.Y-ny*r))
	quarter(z, a, -nx, -ny, -ux, -uy, r, k)
	quarter(z, a, -ux, -uy, nx, ny, r, k)
	z.ClosePath()

	z.Draw(c.img, box, c.ink, image.Point{})
}

// quarter appends a cubic approximating the arc around centre from direction
// u to direction v, which must be u rotated by 90 degrees.
func quarter(z *vector.Rasterizer, centre Point, ux, uy, vx, vy, r, k float64) {
	x0, y0 := centre.X+ux*r, centre.Y+uy*r
	x3, y3 := centre.X+vx*r, centre.Y+vy*r
	z.CubeTo(
		float32(x0+vx*k), float32(y0+vy*k),
		float32(x3+ux*k), float32(y3+uy*k),
		float32(x3), float32(y3),
	)
}

// Bitmap returns a copy of the current drawing.
func (c *Canvas) Bitmap() *image.NRGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := image.NewNRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// Reset clears the canvas back to paper.
func (c *Canvas) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

func (c *Canvas) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.empty
}

func (c *Canvas) clear() {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(c.paper), image.Point{}, draw.Src)
	c.empty = true
}
