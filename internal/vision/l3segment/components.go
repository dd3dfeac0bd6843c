package l3segment

import "image"

// Blob is a connected foreground region.
type Blob struct {
	Area int             // pixel count
	Box  image.Rectangle // axis-aligned bounding box, Max exclusive
}

// Center returns the centre of the bounding box, (x + w/2, y + h/2).
func (b Blob) Center() (x, y float64) {
	return float64(b.Box.Min.X) + float64(b.Box.Dx())/2,
		float64(b.Box.Min.Y) + float64(b.Box.Dy())/2
}

// Components returns the external 8-connected components of mask in scan
// order of their first pixel. A component is external when it touches the
// image border or borders background that is reachable from the border;
// components nested inside another component's hole are dropped.
func Components(mask *image.Gray) []Blob {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil
	}
	reach := outside(mask, SeedBorder)
	on := func(x, y int) bool { return mask.Pix[y*mask.Stride+x] == On }

	seen := make([]bool, w*h)
	var blobs []Blob
	var stack []int

	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			si := sy*w + sx
			if seen[si] || !on(sx, sy) {
				continue
			}

			blob := Blob{Box: image.Rect(sx, sy, sx+1, sy+1)}
			external := false
			seen[si] = true
			stack = append(stack[:0], si)

			for len(stack) > 0 {
				i := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				x, y := i%w, i/w
				blob.Area++
				blob.Box = blob.Box.Union(image.Rect(x, y, x+1, y+1))

				if x == 0 || y == 0 || x == w-1 || y == h-1 {
					external = true
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx, ny := x+dx, y+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						ni := ny*w + nx
						if !on(nx, ny) {
							if (dx == 0 || dy == 0) && reach[ni] {
								external = true
							}
							continue
						}
						if !seen[ni] {
							seen[ni] = true
							stack = append(stack, ni)
						}
					}
				}
			}

			if external {
				blobs = append(blobs, blob)
			}
		}
	}
	return blobs
}

// Largest returns the blob with maximum area among those with area at least
// minArea. Ties go to the first blob in scan order. ok is false when no blob
// survives.
func Largest(blobs []Blob, minArea float64) (best Blob, ok bool) {
	for _, b := range blobs {
		if float64(b.Area) < minArea || b.Area == 0 {
			continue
		}
		if !ok || b.Area > best.Area {
			best, ok = b, true
		}
	}
	return best, ok
}
