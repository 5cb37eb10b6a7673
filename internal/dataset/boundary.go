package dataset

import (
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// BoundaryFromLabel derives a binary edge map from an HW label: a pixel is
// an edge when a 4-neighbor carries a different valid class. Edges are then
// thickened by the given Chebyshev radius. Ignored pixels never form edges.
func BoundaryFromLabel(label *tensor.Ints, ignore int32, radius int) *tensor.Ints {
	h, w := label.Shape[0], label.Shape[1]
	edges := tensor.NewInts(h, w)
	at := func(y, x int) int32 { return label.Data[y*w+x] }
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := at(y, x)
			if v == ignore {
				continue
			}
			hit := false
			if x+1 < w {
				if n := at(y, x+1); n != ignore && n != v {
					hit = true
				}
			}
			if !hit && y+1 < h {
				if n := at(y+1, x); n != ignore && n != v {
					hit = true
				}
			}
			if !hit && x > 0 {
				if n := at(y, x-1); n != ignore && n != v {
					hit = true
				}
			}
			if !hit && y > 0 {
				if n := at(y-1, x); n != ignore && n != v {
					hit = true
				}
			}
			if hit {
				edges.Data[y*w+x] = 1
			}
		}
	}
	if radius <= 0 {
		return edges
	}
	out := tensor.NewInts(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if edges.Data[y*w+x] == 0 {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					out.Data[yy*w+xx] = 1
				}
			}
		}
	}
	return out
}
