package dataset

import (
	"fmt"
	"math/rand"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Transform rewrites a sample into the geometry the batcher expects. The
// input sample is never mutated.
type Transform interface {
	Apply(s *Sample, rng *rand.Rand) (*Sample, error)
}

// TrainTransform applies random scale, padding, crop, and flip, then
// rebuilds the boundary map on the transformed label. With a nil rng all
// randomness collapses to the deterministic center path.
type TrainTransform struct {
	CropH       int
	CropW       int
	MultiScale  bool
	Flip        bool
	ScaleFactor int
	IgnoreLabel int32
	EdgeRadius  int
}

func (t *TrainTransform) Apply(s *Sample, rng *rand.Rand) (*Sample, error) {
	if t.CropH < 4 || t.CropW < 4 {
		return nil, fmt.Errorf("dataset: crop %dx%d too small", t.CropH, t.CropW)
	}
	h, w := s.Image.Shape[1], s.Image.Shape[2]

	// Random scale in 0.5 + [0, factor]/10 steps.
	scale := 1.0
	if t.MultiScale && rng != nil && t.ScaleFactor > 0 {
		scale = 0.5 + float64(rng.Intn(t.ScaleFactor+1))/10
	}
	nh, nw := int(float64(h)*scale+0.5), int(float64(w)*scale+0.5)
	if nh < 1 {
		nh = 1
	}
	if nw < 1 {
		nw = 1
	}

	img := resizeCHW(s.Image, nh, nw)
	var lbl *tensor.Ints
	if s.Label != nil {
		lbl = resizeLabel(s.Label, nh, nw)
	}

	img, lbl = padToCHW(img, lbl, t.CropH, t.CropW, t.IgnoreLabel)
	ph, pw := img.Shape[1], img.Shape[2]

	y0, x0 := (ph-t.CropH)/2, (pw-t.CropW)/2
	if rng != nil {
		y0, x0 = rng.Intn(ph-t.CropH+1), rng.Intn(pw-t.CropW+1)
	}
	img = cropCHW(img, y0, x0, t.CropH, t.CropW)
	if lbl != nil {
		lbl = cropLabel(lbl, y0, x0, t.CropH, t.CropW)
	}

	if t.Flip && rng != nil && rng.Intn(2) == 1 {
		flipCHW(img)
		if lbl != nil {
			flipLabel(lbl)
		}
	}

	out := &Sample{Name: s.Name, Image: img, Label: lbl}
	if lbl != nil {
		out.Boundary = BoundaryFromLabel(lbl, t.IgnoreLabel, t.EdgeRadius)
	}
	return out, nil
}

// EvalTransform resizes image and label to a fixed evaluation size.
type EvalTransform struct {
	Height      int
	Width       int
	IgnoreLabel int32
	EdgeRadius  int
}

func (t *EvalTransform) Apply(s *Sample, _ *rand.Rand) (*Sample, error) {
	if t.Height < 4 || t.Width < 4 {
		return nil, fmt.Errorf("dataset: eval size %dx%d too small", t.Height, t.Width)
	}
	out := &Sample{Name: s.Name, Image: resizeCHW(s.Image, t.Height, t.Width)}
	if s.Label != nil {
		out.Label = resizeLabel(s.Label, t.Height, t.Width)
		out.Boundary = BoundaryFromLabel(out.Label, t.IgnoreLabel, t.EdgeRadius)
	}
	return out, nil
}

// resizeCHW nearest-neighbor resizes a CHW tensor, always returning a
// fresh tensor even when the size is unchanged.
func resizeCHW(x *tensor.Dense, outH, outW int) *tensor.Dense {
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	if h == outH && w == outW {
		return x.Clone()
	}
	out := tensor.NewDense(c, outH, outW)
	for k := 0; k < c; k++ {
		src := x.Data[k*h*w:]
		dst := out.Data[k*outH*outW:]
		for y := 0; y < outH; y++ {
			sy := y * h / outH
			for xx := 0; xx < outW; xx++ {
				dst[y*outW+xx] = src[sy*w+xx*w/outW]
			}
		}
	}
	return out
}

func resizeLabel(l *tensor.Ints, outH, outW int) *tensor.Ints {
	h, w := l.Shape[0], l.Shape[1]
	if h == outH && w == outW {
		return l.Clone()
	}
	out := tensor.NewInts(outH, outW)
	for y := 0; y < outH; y++ {
		sy := y * h / outH
		for x := 0; x < outW; x++ {
			out.Data[y*outW+x] = l.Data[sy*w+x*w/outW]
		}
	}
	return out
}

// padToCHW grows image and label to at least the crop size. New image
// pixels are zero (the normalized mean), new label pixels are ignored.
func padToCHW(img *tensor.Dense, lbl *tensor.Ints, minH, minW int, ignore int32) (*tensor.Dense, *tensor.Ints) {
	c, h, w := img.Shape[0], img.Shape[1], img.Shape[2]
	if h >= minH && w >= minW {
		return img, lbl
	}
	nh, nw := h, w
	if nh < minH {
		nh = minH
	}
	if nw < minW {
		nw = minW
	}
	nimg := tensor.NewDense(c, nh, nw)
	for k := 0; k < c; k++ {
		for y := 0; y < h; y++ {
			copy(nimg.Data[(k*nh+y)*nw:(k*nh+y)*nw+w], img.Data[(k*h+y)*w:(k*h+y)*w+w])
		}
	}
	if lbl == nil {
		return nimg, nil
	}
	nlbl := tensor.NewInts(nh, nw)
	nlbl.Fill(ignore)
	for y := 0; y < h; y++ {
		copy(nlbl.Data[y*nw:y*nw+w], lbl.Data[y*w:y*w+w])
	}
	return nimg, nlbl
}

func cropCHW(x *tensor.Dense, y0, x0, ch, cw int) *tensor.Dense {
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	if y0 == 0 && x0 == 0 && h == ch && w == cw {
		return x
	}
	out := tensor.NewDense(c, ch, cw)
	for k := 0; k < c; k++ {
		for y := 0; y < ch; y++ {
			src := x.Data[(k*h+y0+y)*w+x0:]
			copy(out.Data[(k*ch+y)*cw:(k*ch+y+1)*cw], src[:cw])
		}
	}
	return out
}

func cropLabel(l *tensor.Ints, y0, x0, ch, cw int) *tensor.Ints {
	h, w := l.Shape[0], l.Shape[1]
	if y0 == 0 && x0 == 0 && h == ch && w == cw {
		return l
	}
	out := tensor.NewInts(ch, cw)
	for y := 0; y < ch; y++ {
		copy(out.Data[y*cw:(y+1)*cw], l.Data[(y0+y)*w+x0:(y0+y)*w+x0+cw])
	}
	return out
}

func flipCHW(x *tensor.Dense) {
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	for k := 0; k < c; k++ {
		for y := 0; y < h; y++ {
			row := x.Data[(k*h+y)*w : (k*h+y+1)*w]
			for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
}

func flipLabel(l *tensor.Ints) {
	h, w := l.Shape[0], l.Shape[1]
	for y := 0; y < h; y++ {
		row := l.Data[y*w : (y+1)*w]
		for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
}
