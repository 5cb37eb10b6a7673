package seg

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/criterion"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

func testModel(t *testing.T, seed int64) Model {
	t.Helper()
	m, err := New(Config{Name: "lightnet", InChannels: 2, Hidden: 3, NumClasses: 4}, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return m
}

func randomInput(rng *rand.Rand, n, c, h, w int) *tensor.Dense {
	x := tensor.NewDense(n, c, h, w)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}
	return x
}

func TestNewRejectsUnknownModel(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	if _, err := New(Config{Name: "hrnet", InChannels: 3, NumClasses: 4}, rng); err == nil {
		t.Fatal("unknown model name should fail")
	}
	m, err := New(Config{Name: "lightnet-s", InChannels: 3, NumClasses: 4}, rng)
	if err != nil {
		t.Fatalf("preset: %v", err)
	}
	if m.Name() != "lightnet-s" {
		t.Fatalf("name = %s", m.Name())
	}
}

func TestInitIsSeedDeterministic(t *testing.T) {
	t.Parallel()
	a := testModel(t, 7)
	b := testModel(t, 7)
	pa, pb := a.Params(), b.Params()
	for i := range pa {
		for j := range pa[i].Value.Data {
			if pa[i].Value.Data[j] != pb[i].Value.Data[j] {
				t.Fatalf("param %s diverges at %d with equal seeds", pa[i].Name, j)
			}
		}
	}
}

func TestForwardShapes(t *testing.T) {
	t.Parallel()
	m := testModel(t, 1)
	x := randomInput(rand.New(rand.NewSource(2)), 2, 2, 8, 8)
	out, err := m.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !tensor.SameShape(out.Semantic.Shape, []int{2, 4, 8, 8}) {
		t.Fatalf("semantic shape %v", out.Semantic.Shape)
	}
	if !tensor.SameShape(out.Aux.Shape, []int{2, 4, 8, 8}) {
		t.Fatalf("aux shape %v", out.Aux.Shape)
	}
	if !tensor.SameShape(out.Boundary.Shape, []int{2, 1, 8, 8}) {
		t.Fatalf("boundary shape %v", out.Boundary.Shape)
	}

	if _, err := m.Forward(randomInput(rand.New(rand.NewSource(3)), 1, 2, 2, 2)); err == nil {
		t.Fatal("tiny input should be rejected")
	}
	if _, err := m.Forward(randomInput(rand.New(rand.NewSource(3)), 1, 5, 8, 8)); err == nil {
		t.Fatal("channel mismatch should be rejected")
	}
}

func TestBackwardBeforeForwardFails(t *testing.T) {
	t.Parallel()
	m := testModel(t, 1)
	if err := m.Backward(nil, nil, nil); err == nil {
		t.Fatal("backward without a forward should fail")
	}
}

func TestStateMapRoundTrip(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(5))
	a := testModel(t, 10)
	b := testModel(t, 11)
	x := randomInput(rng, 1, 2, 8, 8)

	if err := b.LoadStateMap(a.StateMap()); err != nil {
		t.Fatalf("load: %v", err)
	}
	oa, err := a.Forward(x)
	if err != nil {
		t.Fatalf("forward a: %v", err)
	}
	ob, err := b.Forward(x)
	if err != nil {
		t.Fatalf("forward b: %v", err)
	}
	for i := range oa.Semantic.Data {
		if oa.Semantic.Data[i] != ob.Semantic.Data[i] {
			t.Fatalf("outputs differ at %d after state transfer", i)
		}
	}

	bad := a.StateMap()
	delete(bad, "conv1.weight")
	if err := b.LoadStateMap(bad); err == nil {
		t.Fatal("missing tensor should be rejected")
	}
	bad = a.StateMap()
	bad["conv1.weight"] = bad["conv1.weight"][:1]
	if err := b.LoadStateMap(bad); err == nil {
		t.Fatal("truncated tensor should be rejected")
	}
}

func TestComplexityCountsParams(t *testing.T) {
	t.Parallel()
	m := testModel(t, 1)
	params, flops := m.Complexity(64, 64)
	var want int64
	for _, p := range m.Params() {
		want += int64(len(p.Value.Data))
	}
	if params != want {
		t.Fatalf("params = %d, want %d", params, want)
	}
	if flops <= 0 {
		t.Fatalf("flops = %d", flops)
	}
}

// Finite differences against the analytic gradients through the full
// loss, covering every layer of the backward pass.
func TestFullModelGradientCheck(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	m := testModel(t, 42)
	full := &FullModel{
		Net:       m,
		Sem:       criterion.NewCrossEntropy(255, nil),
		Bd:        criterion.NewBoundaryBCE(),
		AuxWeight: 0.4,
		BdWeight:  0.7,
	}

	x := randomInput(rng, 1, 2, 4, 4)
	label := tensor.NewInts(1, 4, 4)
	bd := tensor.NewInts(1, 4, 4)
	for i := range label.Data {
		label.Data[i] = int32(rng.Intn(4))
		bd.Data[i] = int32(rng.Intn(2))
	}

	lossAt := func() float64 {
		m.ZeroGrad()
		_, parts, err := full.ForwardLoss(x, label, bd, 1)
		if err != nil {
			t.Fatalf("forward loss: %v", err)
		}
		return parts.Total
	}

	m.ZeroGrad()
	_, _, err := full.ForwardLoss(x, label, bd, 1)
	if err != nil {
		t.Fatalf("forward loss: %v", err)
	}
	analytic := make(map[string][]float32)
	for _, p := range m.Params() {
		g := make([]float32, len(p.Grad.Data))
		copy(g, p.Grad.Data)
		analytic[p.Name] = g
	}

	const eps = 1e-3
	for _, p := range m.Params() {
		// Probe a few entries per tensor.
		step := len(p.Value.Data)/3 + 1
		for i := 0; i < len(p.Value.Data); i += step {
			orig := p.Value.Data[i]
			p.Value.Data[i] = orig + eps
			up := lossAt()
			p.Value.Data[i] = orig - eps
			down := lossAt()
			p.Value.Data[i] = orig
			numeric := (up - down) / (2 * eps)
			got := float64(analytic[p.Name][i])
			if math.Abs(numeric-got) > 2e-2*(1+math.Abs(numeric)) {
				t.Fatalf("%s[%d]: analytic %v vs numeric %v", p.Name, i, got, numeric)
			}
		}
	}
}

func TestBackwardScalesWithLossScale(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(9))
	m := testModel(t, 9)
	full := &FullModel{Net: m, Sem: criterion.NewCrossEntropy(255, nil), AuxWeight: 0.4}
	x := randomInput(rng, 1, 2, 4, 4)
	label := tensor.NewInts(1, 4, 4)
	for i := range label.Data {
		label.Data[i] = int32(rng.Intn(4))
	}

	m.ZeroGrad()
	if _, _, err := full.ForwardLoss(x, label, nil, 1); err != nil {
		t.Fatalf("forward: %v", err)
	}
	base := make([]float32, len(m.Params()[0].Grad.Data))
	copy(base, m.Params()[0].Grad.Data)

	m.ZeroGrad()
	if _, _, err := full.ForwardLoss(x, label, nil, 0.5); err != nil {
		t.Fatalf("forward: %v", err)
	}
	for i, v := range m.Params()[0].Grad.Data {
		if math.Abs(float64(v-0.5*base[i])) > 1e-5 {
			t.Fatalf("grad[%d] = %v, want %v", i, v, 0.5*base[i])
		}
	}
}

func TestInferReturnsArgmax(t *testing.T) {
	t.Parallel()
	m := testModel(t, 3)
	full := &FullModel{Net: m, Sem: criterion.NewCrossEntropy(255, nil)}
	x := randomInput(rand.New(rand.NewSource(4)), 1, 2, 8, 8)
	out, pred, err := full.Infer(x)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if !tensor.SameShape(pred.Shape, []int{1, 8, 8}) {
		t.Fatalf("pred shape %v", pred.Shape)
	}
	// Spot-check one pixel against the logits.
	best, bestC := out.Semantic.Data[0], 0
	for c := 1; c < 4; c++ {
		if v := out.Semantic.Data[c*64]; v > best {
			best, bestC = v, c
		}
	}
	if pred.Data[0] != int32(bestC) {
		t.Fatalf("pred[0] = %d, want %d", pred.Data[0], bestC)
	}
}
