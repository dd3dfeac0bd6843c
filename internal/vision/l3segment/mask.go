package l3segment

import (
	"image"

	"github.com/disintegration/gift"
)

// Mask values.
const (
	Off uint8 = 0
	On  uint8 = 255
)

// Threshold binarises a label map: any value at or above thr becomes On.
func Threshold(labels *image.Gray, thr uint8) *image.Gray {
	w, h := labels.Bounds().Dx(), labels.Bounds().Dy()
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := labels.Pix[y*labels.Stride : y*labels.Stride+w]
		dst := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x, v := range src {
			if v >= thr {
				dst[x] = On
			}
		}
	}
	return mask
}

// outside marks the background pixels 4-connected to the seed set. The
// returned slice is indexed y*w+x.
func outside(mask *image.Gray, seed SeedPolicy) []bool {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	reach := make([]bool, w*h)
	if w == 0 || h == 0 {
		return reach
	}
	at := func(x, y int) uint8 { return mask.Pix[y*mask.Stride+x] }

	stack := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if !reach[i] && at(x, y) == Off {
			reach[i] = true
			stack = append(stack, i)
		}
	}

	switch seed {
	case SeedCorner:
		push(0, 0)
	default:
		for x := 0; x < w; x++ {
			push(x, 0)
			push(x, h-1)
		}
		for y := 0; y < h; y++ {
			push(0, y)
			push(w-1, y)
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	return reach
}

// FillHoles fills enclosed holes: every background pixel not reachable from
// the seed set becomes On. The exterior silhouette is unchanged. When no
// seed pixel is background the mask is returned unchanged, since filling
// would otherwise swallow the whole frame.
func FillHoles(mask *image.Gray, seed SeedPolicy) *image.Gray {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	reach := outside(mask, seed)

	filled := image.NewGray(image.Rect(0, 0, w, h))
	copy(filled.Pix, mask.Pix)

	seeded := false
	for _, r := range reach {
		if r {
			seeded = true
			break
		}
	}
	if !seeded {
		return filled
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !reach[y*w+x] {
				filled.Pix[y*filled.Stride+x] = On
			}
		}
	}
	return filled
}

// Close applies a morphological closing: iterations dilations followed by
// the same number of erosions with a square kernel.
func Close(mask *image.Gray, kernel, iterations int) *image.Gray {
	filters := make([]gift.Filter, 0, 2*iterations)
	for i := 0; i < iterations; i++ {
		filters = append(filters, gift.Maximum(kernel, false))
	}
	for i := 0; i < iterations; i++ {
		filters = append(filters, gift.Minimum(kernel, false))
	}
	g := gift.New(filters...)
	dst := image.NewGray(g.Bounds(mask.Bounds()))
	g.Draw(dst, mask)

	// Resampling through the filter pipeline may leave values off the two
	// mask levels.
	for i, v := range dst.Pix {
		if v >= 128 {
			dst.Pix[i] = On
		} else {
			dst.Pix[i] = Off
		}
	}
	return dst
}

// Count returns the number of On pixels.
func Count(mask *image.Gray) int {
	n := 0
	for _, v := range mask.Pix {
		if v == On {
			n++
		}
	}
	return n
}
