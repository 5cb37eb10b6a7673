package seg

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// lightNet is a small fully-convolutional net built from 1x1 convolutions
// and a two-level average-pool pyramid. The stem feeds an aux head, the
// pyramid concat feeds the semantic and boundary heads.
type lightNet struct {
	name    string
	inC     int
	hid     int
	classes int

	conv1 tensor.Param
	bias1 tensor.Param
	conv2 tensor.Param
	bias2 tensor.Param
	sem   tensor.Param
	semB  tensor.Param
	aux   tensor.Param
	auxB  tensor.Param
	bd    tensor.Param
	bdB   tensor.Param

	// Activations cached by Forward for the next Backward.
	x    *tensor.Dense
	f1   *tensor.Dense
	f2   *tensor.Dense
	feat *tensor.Dense
}

func newLightNet(name string, inC, hid, classes int, rng *rand.Rand) (*lightNet, error) {
	if inC < 1 || hid < 1 || classes < 2 {
		return nil, fmt.Errorf("seg: bad lightnet dims in=%d hidden=%d classes=%d", inC, hid, classes)
	}
	m := &lightNet{
		name:    name,
		inC:     inC,
		hid:     hid,
		classes: classes,
		conv1:   tensor.NewParam("conv1.weight", hid, inC),
		bias1:   tensor.NewParam("conv1.bias", hid),
		conv2:   tensor.NewParam("conv2.weight", hid, hid),
		bias2:   tensor.NewParam("conv2.bias", hid),
		sem:     tensor.NewParam("sem.weight", classes, 3*hid),
		semB:    tensor.NewParam("sem.bias", classes),
		aux:     tensor.NewParam("aux.weight", classes, hid),
		auxB:    tensor.NewParam("aux.bias", classes),
		bd:      tensor.NewParam("bd.weight", 1, 3*hid),
		bdB:     tensor.NewParam("bd.bias", 1),
	}
	for _, p := range []tensor.Param{m.conv1, m.conv2, m.sem, m.aux, m.bd} {
		fanIn := p.Value.Shape[1]
		std := math.Sqrt(2 / float64(fanIn))
		for i := range p.Value.Data {
			p.Value.Data[i] = float32(rng.NormFloat64() * std)
		}
	}
	return m, nil
}

func (m *lightNet) Name() string    { return m.name }
func (m *lightNet) NumClasses() int { return m.classes }

func (m *lightNet) Params() []tensor.Param {
	return []tensor.Param{m.conv1, m.bias1, m.conv2, m.bias2, m.sem, m.semB, m.aux, m.auxB, m.bd, m.bdB}
}

func (m *lightNet) ZeroGrad() {
	for _, p := range m.Params() {
		p.ZeroGrad()
	}
}

// conv1x1 applies out[n,o,p] = sum_c w[o,c]*x[n,c,p] + b[o].
func conv1x1(x *tensor.Dense, w, b *tensor.Dense) *tensor.Dense {
	n, inC, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outC := w.Shape[0]
	out := tensor.NewDense(n, outC, h, wd)
	plane := h * wd
	for bb := 0; bb < n; bb++ {
		for o := 0; o < outC; o++ {
			dst := out.Data[(bb*outC+o)*plane : (bb*outC+o+1)*plane]
			bias := b.Data[o]
			for i := range dst {
				dst[i] = bias
			}
			for c := 0; c < inC; c++ {
				wv := w.Data[o*inC+c]
				if wv == 0 {
					continue
				}
				src := x.Data[(bb*inC+c)*plane : (bb*inC+c+1)*plane]
				for i, v := range src {
					dst[i] += wv * v
				}
			}
		}
	}
	return out
}

// conv1x1Backward accumulates weight/bias gradients and, when gin is not
// nil, the input gradient.
func conv1x1Backward(x, gout *tensor.Dense, w *tensor.Dense, gw, gb *tensor.Dense, gin *tensor.Dense) {
	n, inC, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outC := w.Shape[0]
	plane := h * wd
	for bb := 0; bb < n; bb++ {
		for o := 0; o < outC; o++ {
			g := gout.Data[(bb*outC+o)*plane : (bb*outC+o+1)*plane]
			var bs float32
			for _, v := range g {
				bs += v
			}
			gb.Data[o] += bs
			for c := 0; c < inC; c++ {
				src := x.Data[(bb*inC+c)*plane : (bb*inC+c+1)*plane]
				var ws float32
				for i, v := range g {
					ws += v * src[i]
				}
				gw.Data[o*inC+c] += ws
				if gin != nil {
					wv := w.Data[o*inC+c]
					dst := gin.Data[(bb*inC+c)*plane : (bb*inC+c+1)*plane]
					for i, v := range g {
						dst[i] += wv * v
					}
				}
			}
		}
	}
}

func reluInPlace(t *tensor.Dense) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
}

// maskReLU zeroes grad entries where the activation did not fire.
func maskReLU(grad, act *tensor.Dense) {
	for i, v := range act.Data {
		if v <= 0 {
			grad.Data[i] = 0
		}
	}
}

func (m *lightNet) Forward(x *tensor.Dense) (*Output, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("seg: input must be NCHW, got %v", x.Shape)
	}
	if x.Shape[1] != m.inC {
		return nil, fmt.Errorf("seg: input has %d channels, model wants %d", x.Shape[1], m.inC)
	}
	h, w := x.Shape[2], x.Shape[3]
	if h < 4 || w < 4 {
		return nil, fmt.Errorf("seg: input %dx%d too small for the pool pyramid", h, w)
	}

	f1 := conv1x1(x, m.conv1.Value, m.bias1.Value)
	reluInPlace(f1)
	f2 := conv1x1(f1, m.conv2.Value, m.bias2.Value)
	reluInPlace(f2)

	p2, err := tensor.AvgPool2D(f2, 2)
	if err != nil {
		return nil, err
	}
	p4, err := tensor.AvgPool2D(f2, 4)
	if err != nil {
		return nil, err
	}
	p2u, err := tensor.UpsampleNearest(p2, h, w)
	if err != nil {
		return nil, err
	}
	p4u, err := tensor.UpsampleNearest(p4, h, w)
	if err != nil {
		return nil, err
	}
	feat, err := tensor.ConcatChannels(f2, p2u, p4u)
	if err != nil {
		return nil, err
	}

	m.x, m.f1, m.f2, m.feat = x, f1, f2, feat
	return &Output{
		Semantic: conv1x1(feat, m.sem.Value, m.semB.Value),
		Aux:      conv1x1(f1, m.aux.Value, m.auxB.Value),
		Boundary: conv1x1(feat, m.bd.Value, m.bdB.Value),
	}, nil
}

func (m *lightNet) Backward(gradSem, gradAux, gradBd *tensor.Dense) error {
	if m.feat == nil {
		return fmt.Errorf("seg: backward before forward")
	}
	n := m.x.Shape[0]
	h, w := m.x.Shape[2], m.x.Shape[3]

	gfeat := tensor.NewDense(m.feat.Shape...)
	if gradSem != nil {
		conv1x1Backward(m.feat, gradSem, m.sem.Value, m.sem.Grad, m.semB.Grad, gfeat)
	}
	if gradBd != nil {
		conv1x1Backward(m.feat, gradBd, m.bd.Value, m.bd.Grad, m.bdB.Grad, gfeat)
	}

	parts, err := tensor.SplitChannels(gfeat, m.hid, m.hid, m.hid)
	if err != nil {
		return err
	}
	gf2 := parts[0]
	gp2 := tensor.NewDense(n, m.hid, h/2, w/2)
	if err := tensor.UpsampleNearestBackward(parts[1], gp2); err != nil {
		return err
	}
	if err := tensor.AvgPool2DBackward(gp2, gf2, 2); err != nil {
		return err
	}
	gp4 := tensor.NewDense(n, m.hid, h/4, w/4)
	if err := tensor.UpsampleNearestBackward(parts[2], gp4); err != nil {
		return err
	}
	if err := tensor.AvgPool2DBackward(gp4, gf2, 4); err != nil {
		return err
	}

	gf1 := tensor.NewDense(m.f1.Shape...)
	if gradAux != nil {
		conv1x1Backward(m.f1, gradAux, m.aux.Value, m.aux.Grad, m.auxB.Grad, gf1)
	}
	maskReLU(gf2, m.f2)
	conv1x1Backward(m.f1, gf2, m.conv2.Value, m.conv2.Grad, m.bias2.Grad, gf1)
	maskReLU(gf1, m.f1)
	conv1x1Backward(m.x, gf1, m.conv1.Value, m.conv1.Grad, m.bias1.Grad, nil)
	return nil
}

func (m *lightNet) StateMap() map[string][]float32 {
	out := make(map[string][]float32, 10)
	for _, p := range m.Params() {
		c := make([]float32, len(p.Value.Data))
		copy(c, p.Value.Data)
		out[p.Name] = c
	}
	return out
}

func (m *lightNet) LoadStateMap(state map[string][]float32) error {
	params := m.Params()
	if len(state) != len(params) {
		return fmt.Errorf("seg: state holds %d tensors, model has %d", len(state), len(params))
	}
	for _, p := range params {
		data, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("seg: state is missing %q", p.Name)
		}
		if len(data) != len(p.Value.Data) {
			return fmt.Errorf("seg: %q has %d values, model wants %d", p.Name, len(data), len(p.Value.Data))
		}
		copy(p.Value.Data, data)
	}
	return nil
}

func (m *lightNet) Complexity(h, w int) (int64, int64) {
	var params int64
	for _, p := range m.Params() {
		params += int64(len(p.Value.Data))
	}
	// Multiply-accumulate pairs for the 1x1 convolutions at full resolution.
	perPixel := int64(m.inC*m.hid + m.hid*m.hid + 3*m.hid*m.classes + m.hid*m.classes + 3*m.hid)
	flops := 2 * perPixel * int64(h) * int64(w)
	return params, flops
}
