package trainer

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/loader"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// pseudoLabels runs a prediction pass over the target images and returns the
// per-pixel argmax labels plus the fraction of pixels whose softmax
// confidence clears the configured threshold.
func (t *Trainer) pseudoLabels(images *tensor.Dense) (*tensor.Ints, float64, error) {
	out, err := t.model.Net.Forward(images)
	if err != nil {
		return nil, 0, err
	}
	probs, err := tensor.SoftmaxChannel(out.Semantic)
	if err != nil {
		return nil, 0, err
	}
	pseudo, conf, err := tensor.ArgmaxChannel(probs)
	if err != nil {
		return nil, 0, err
	}

	thres := float32(t.cfg.Train.DACS.Confidence)
	confident := 0
	for _, p := range conf.Data {
		if p >= thres {
			confident++
		}
	}
	frac := float64(confident) / float64(len(conf.Data))
	return pseudo, frac, nil
}

// classMix pastes half of the classes present in each source label onto the
// matching target image. The mixed label takes the source label inside the
// paste mask and the pseudo-label outside it.
func classMix(src *loader.Batch, tgtImages *tensor.Dense, pseudo *tensor.Ints, ignore int32, rng *rand.Rand) (*tensor.Dense, *tensor.Ints, error) {
	n := src.Images.Shape[0]
	if tgtImages.Shape[0] < n {
		n = tgtImages.Shape[0]
	}
	c, h, w := src.Images.Shape[1], src.Images.Shape[2], src.Images.Shape[3]
	if tgtImages.Shape[1] != c || tgtImages.Shape[2] != h || tgtImages.Shape[3] != w {
		return nil, nil, fmt.Errorf("trainer: source %v and target %v batches disagree on image geometry",
			src.Images.Shape, tgtImages.Shape)
	}

	mixedImg := tensor.NewDense(n, c, h, w)
	mixedLbl := tensor.NewInts(n, h, w)
	plane := h * w

	for i := 0; i < n; i++ {
		srcLbl := src.Labels.Data[i*plane : (i+1)*plane]
		chosen := chooseHalfClasses(srcLbl, ignore, rng)

		mask := make([]bool, plane)
		for p, cls := range srcLbl {
			if chosen[cls] {
				mask[p] = true
			}
		}

		for ch := 0; ch < c; ch++ {
			srcPix := src.Images.Data[(i*c+ch)*plane : (i*c+ch+1)*plane]
			tgtPix := tgtImages.Data[(i*c+ch)*plane : (i*c+ch+1)*plane]
			dst := mixedImg.Data[(i*c+ch)*plane : (i*c+ch+1)*plane]
			for p := range dst {
				if mask[p] {
					dst[p] = srcPix[p]
				} else {
					dst[p] = tgtPix[p]
				}
			}
		}

		pseudoLbl := pseudo.Data[i*plane : (i+1)*plane]
		dstLbl := mixedLbl.Data[i*plane : (i+1)*plane]
		for p := range dstLbl {
			if mask[p] {
				dstLbl[p] = srcLbl[p]
			} else {
				dstLbl[p] = pseudoLbl[p]
			}
		}
	}
	return mixedImg, mixedLbl, nil
}

// chooseHalfClasses picks a random half (rounded up) of the classes present
// in one label plane.
func chooseHalfClasses(label []int32, ignore int32, rng *rand.Rand) map[int32]bool {
	present := make(map[int32]bool)
	for _, cls := range label {
		if cls != ignore {
			present[cls] = true
		}
	}
	classes := make([]int32, 0, len(present))
	for cls := range present {
		classes = append(classes, cls)
	}
	// Map iteration order is random; sort before shuffling so the pick is
	// deterministic for a given rng.
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	rng.Shuffle(len(classes), func(i, j int) {
		classes[i], classes[j] = classes[j], classes[i]
	})

	chosen := make(map[int32]bool, (len(classes)+1)/2)
	for _, cls := range classes[:(len(classes)+1)/2] {
		chosen[cls] = true
	}
	return chosen
}

// augmentMixed applies the DACS photometric augmentations in place: per-image
// channel gain/bias jitter and a 3x3 box blur, each with probability 1/2.
func (t *Trainer) augmentMixed(images *tensor.Dense, rng *rand.Rand) {
	n, c, h, w := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	plane := h * w
	for i := 0; i < n; i++ {
		if t.cfg.Train.DACS.ColorJitter && rng.Intn(2) == 1 {
			for ch := 0; ch < c; ch++ {
				gain := float32(0.8 + 0.4*rng.Float64())
				bias := float32(-0.1 + 0.2*rng.Float64())
				pix := images.Data[(i*c+ch)*plane : (i*c+ch+1)*plane]
				for p := range pix {
					pix[p] = pix[p]*gain + bias
				}
			}
		}
		if t.cfg.Train.DACS.Blur && rng.Intn(2) == 1 {
			for ch := 0; ch < c; ch++ {
				boxBlur3(images.Data[(i*c+ch)*plane:(i*c+ch+1)*plane], h, w)
			}
		}
	}
}

// boxBlur3 replaces one HW plane with its 3x3 box blur, clamping at edges.
func boxBlur3(plane []float32, h, w int) {
	src := make([]float32, len(plane))
	copy(src, plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float32
			var cnt float32
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					sum += src[yy*w+xx]
					cnt++
				}
			}
			plane[y*w+x] = sum / cnt
		}
	}
}

