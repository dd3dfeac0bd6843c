package sim

import (
	"image"
	"image/draw"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

const gridSpacing = 40

func renderFloor(cfg Config) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(cfg.Floor), image.Point{}, draw.Src)
	for x := gridSpacing; x < cfg.Width; x += gridSpacing {
		for y := 0; y < cfg.Height; y++ {
			img.SetRGBA(x, y, cfg.Grid)
		}
	}
	for y := gridSpacing; y < cfg.Height; y += gridSpacing {
		for x := 0; x < cfg.Width; x++ {
			img.SetRGBA(x, y, cfg.Grid)
		}
	}
	return img
}

// Render draws the scene at the current pose, robot included.
func (s *Simulator) Render() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked(true)
}

// renderLocked copies the floor and, when visible, paints the robot as a
// rectangle rotated to the heading with its front fifth in the nose colour.
func (s *Simulator) renderLocked(visible bool) *image.RGBA {
	img := image.NewRGBA(s.floor.Bounds())
	copy(img.Pix, s.floor.Pix)
	if !visible {
		return img
	}

	c := r2.Vec{X: s.x, Y: s.y}
	halfL, halfW := s.cfg.BodyLength/2, s.cfg.BodyWidth/2
	nose := halfL - s.cfg.BodyLength/5
	reach := math.Hypot(halfL, halfW)
	toBody := r2.NewRotation(-s.theta, c)

	area := image.Rect(
		int(math.Floor(c.X-reach)), int(math.Floor(c.Y-reach)),
		int(math.Ceil(c.X+reach))+1, int(math.Ceil(c.Y+reach))+1,
	).Intersect(img.Bounds())

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			p := r2.Vec{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			local := r2.Sub(toBody.Rotate(p), c)
			if math.Abs(local.X) > halfL || math.Abs(local.Y) > halfW {
				continue
			}
			if local.X > nose {
				img.SetRGBA(x, y, s.cfg.Nose)
			} else {
				img.SetRGBA(x, y, s.cfg.Body)
			}
		}
	}
	return img
}
