package debug

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

var (
	boxColor     = color.RGBA{R: 0, G: 220, B: 0, A: 255}
	headingColor = color.RGBA{R: 230, G: 30, B: 30, A: 255}
)

const headingLength = 25.0

// Annotate returns a copy of s.Frame with the blob box, the position and
// the heading drawn on it. It returns nil when the sample has no frame.
func Annotate(s Sample) *image.RGBA {
	if s.Frame == nil {
		return nil
	}
	out := image.NewRGBA(s.Frame.Bounds())
	draw.Draw(out, out.Bounds(), s.Frame, s.Frame.Bounds().Min, draw.Src)

	if !s.Box.Empty() {
		drawRect(out, s.Box, boxColor)
	}
	if s.HasPosition {
		c := s.Position.Vec()
		drawRect(out, image.Rect(int(c.X)-2, int(c.Y)-2, int(c.X)+3, int(c.Y)+3), headingColor)
		if s.HasOrientation {
			rad := s.Orientation * math.Pi / 180
			if s.Convention == l4estimate.ConventionMath {
				rad = -rad
			}
			tip := r2.Add(c, r2.Rotate(r2.Vec{X: headingLength}, rad, r2.Vec{}))
			drawLine(out, c, tip, headingColor)
		}
	}
	return out
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}

func drawLine(img *image.RGBA, from, to r2.Vec, c color.RGBA) {
	d := r2.Sub(to, from)
	steps := int(math.Ceil(r2.Norm(d)))
	if steps == 0 {
		return
	}
	step := r2.Scale(1/float64(steps), d)
	p := from
	for i := 0; i <= steps; i++ {
		pt := image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
		if pt.In(img.Bounds()) {
			img.SetRGBA(pt.X, pt.Y, c)
		}
		p = r2.Add(p, step)
	}
}
