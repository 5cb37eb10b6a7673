package dataset

import (
	"fmt"
	"math/rand"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// synthShift generates paired synthetic domains: "source" renders labeled
// scenes, "target" renders the same scene family under a color shift with
// labels withheld, and "val" renders shifted scenes with labels. Sample
// content depends only on the configured seed and the index.
type synthShift struct {
	cfg     Config
	split   string
	n       int
	labeled bool
	shifted bool
}

func newSynthShift(cfg Config, split string) (*synthShift, error) {
	d := &synthShift{cfg: cfg, split: split}
	switch split {
	case "source":
		d.n, d.labeled, d.shifted = cfg.SynthTrainLen, true, false
	case "target":
		d.n, d.labeled, d.shifted = cfg.SynthTrainLen, false, true
	case "val", "test":
		d.n, d.labeled, d.shifted = cfg.SynthValLen, true, true
	default:
		return nil, fmt.Errorf("dataset: unknown synthshift split %q", split)
	}
	return d, nil
}

func (d *synthShift) Name() string { return "synthshift/" + d.split }
func (d *synthShift) Len() int     { return d.n }

func (d *synthShift) sampleSeed(idx int) int64 {
	off := int64(0)
	switch d.split {
	case "target":
		off = 1 << 40
	case "val", "test":
		off = 2 << 40
	}
	return d.cfg.Seed<<20 ^ off ^ int64(idx)
}

// Fixed per-class base colors, cycled when there are more classes.
var synthPalette = [][3]float32{
	{0.35, 0.35, 0.40},
	{0.55, 0.30, 0.25},
	{0.20, 0.55, 0.30},
	{0.70, 0.65, 0.25},
	{0.30, 0.35, 0.65},
	{0.60, 0.30, 0.60},
	{0.25, 0.60, 0.60},
	{0.75, 0.45, 0.20},
}

func synthColor(class int) [3]float32 {
	return synthPalette[class%len(synthPalette)]
}

// The shifted domain applies a fixed channel gain/bias plus per-image
// brightness jitter.
var shiftGain = [3]float32{0.82, 1.12, 1.05}
var shiftBias = [3]float32{0.06, -0.03, 0.09}

func (d *synthShift) Sample(idx int) (*Sample, error) {
	if idx < 0 || idx >= d.n {
		return nil, fmt.Errorf("dataset: synthshift index %d out of %d", idx, d.n)
	}
	g := rand.New(rand.NewSource(d.sampleSeed(idx)))
	h, w := d.cfg.SynthHeight, d.cfg.SynthWidth
	k := d.cfg.NumClasses

	img := tensor.NewDense(3, h, w)
	lbl := tensor.NewInts(h, w)
	plane := h * w

	// Background: class 0 with a vertical shade ramp.
	base := synthColor(0)
	for y := 0; y < h; y++ {
		shade := 0.85 + 0.3*float32(y)/float32(h)
		for x := 0; x < w; x++ {
			i := y*w + x
			img.Data[i] = base[0] * shade
			img.Data[plane+i] = base[1] * shade
			img.Data[2*plane+i] = base[2] * shade
		}
	}

	shapes := 3 + g.Intn(4)
	for s := 0; s < shapes; s++ {
		class := 1 + g.Intn(k-1)
		col := synthColor(class)
		cy, cx := g.Intn(h), g.Intn(w)
		size := 3 + g.Intn(h/3)
		round := g.Intn(2) == 1
		for y := cy - size; y <= cy+size; y++ {
			if y < 0 || y >= h {
				continue
			}
			for x := cx - size; x <= cx+size; x++ {
				if x < 0 || x >= w {
					continue
				}
				if round {
					dy, dx := y-cy, x-cx
					if dy*dy+dx*dx > size*size {
						continue
					}
				}
				i := y*w + x
				lbl.Data[i] = int32(class)
				img.Data[i] = col[0]
				img.Data[plane+i] = col[1]
				img.Data[2*plane+i] = col[2]
			}
		}
	}

	brightness := float32(1)
	if d.shifted {
		brightness = 0.9 + 0.2*float32(g.Float64())
	}
	noise := float32(0.02)
	for c := 0; c < 3; c++ {
		gain, bias := float32(1), float32(0)
		if d.shifted {
			gain, bias = shiftGain[c]*brightness, shiftBias[c]
		}
		for i := 0; i < plane; i++ {
			v := img.Data[c*plane+i]*gain + bias + noise*float32(g.NormFloat64())
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			img.Data[c*plane+i] = (v - d.cfg.Mean[c]) / d.cfg.Std[c]
		}
	}

	out := &Sample{Name: fmt.Sprintf("%s-%04d", d.split, idx), Image: img}
	if d.labeled {
		out.Label = lbl
		out.Boundary = BoundaryFromLabel(lbl, d.cfg.IgnoreLabel, 1)
	}
	return out, nil
}
