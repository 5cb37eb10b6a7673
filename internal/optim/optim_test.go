package optim

import (
	"math"
	"reflect"
	"testing"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

func param(t *testing.T, name string, vals, grads []float32) tensor.Param {
	t.Helper()
	p := tensor.NewParam(name, len(vals))
	copy(p.Value.Data, vals)
	copy(p.Grad.Data, grads)
	return p
}

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-6 }

func TestNewRejectsUnknownOptimizer(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Name: "rmsprop", LR: 0.1}); err == nil {
		t.Fatal("rmsprop should be rejected")
	}
	for _, name := range []string{"sgd", "SGD", "adam"} {
		if _, err := New(Config{Name: name, LR: 0.1}); err != nil {
			t.Fatalf("%s rejected: %v", name, err)
		}
	}
}

func TestSGDPlainStep(t *testing.T) {
	t.Parallel()
	s := NewSGD(0.1, 0, 0, false)
	p := param(t, "w", []float32{1}, []float32{0.5})
	if err := s.Step([]tensor.Param{p}); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !near(p.Value.Data[0], 0.95) {
		t.Fatalf("w = %v, want 0.95", p.Value.Data[0])
	}
}

func TestSGDWeightDecay(t *testing.T) {
	t.Parallel()
	s := NewSGD(0.1, 0, 0.1, false)
	p := param(t, "w", []float32{1}, []float32{0})
	if err := s.Step([]tensor.Param{p}); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !near(p.Value.Data[0], 0.99) {
		t.Fatalf("w = %v, want 0.99", p.Value.Data[0])
	}
}

func TestSGDMomentum(t *testing.T) {
	t.Parallel()
	s := NewSGD(0.1, 0.9, 0, false)
	p := param(t, "w", []float32{0}, []float32{1})
	for i := 0; i < 2; i++ {
		if err := s.Step([]tensor.Param{p}); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	// buf goes 1 then 1.9, so w = -0.1 - 0.19.
	if !near(p.Value.Data[0], -0.29) {
		t.Fatalf("w = %v, want -0.29", p.Value.Data[0])
	}
}

func TestSGDNesterov(t *testing.T) {
	t.Parallel()
	s := NewSGD(0.1, 0.9, 0, true)
	p := param(t, "w", []float32{0}, []float32{1})
	for i := 0; i < 2; i++ {
		if err := s.Step([]tensor.Param{p}); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	// Lookahead gradients are 1.9 then 2.71.
	if !near(p.Value.Data[0], -0.461) {
		t.Fatalf("w = %v, want -0.461", p.Value.Data[0])
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	t.Parallel()
	a := NewSGD(0.1, 0.9, 0, false)
	pa := param(t, "w", []float32{0}, []float32{1})
	if err := a.Step([]tensor.Param{pa}); err != nil {
		t.Fatalf("step: %v", err)
	}

	b := NewSGD(0.2, 0.9, 0, false)
	if err := b.LoadState(a.State()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.LR() != 0.1 {
		t.Fatalf("loaded lr = %v, want 0.1", b.LR())
	}
	if !reflect.DeepEqual(a.State(), b.State()) {
		t.Fatal("state mismatch after round trip")
	}

	// Continuing on either optimizer must produce the same parameter.
	pb := param(t, "w", []float32{0}, []float32{1})
	pb.Value.Data[0] = pa.Value.Data[0]
	if err := a.Step([]tensor.Param{pa}); err != nil {
		t.Fatalf("step a: %v", err)
	}
	if err := b.Step([]tensor.Param{pb}); err != nil {
		t.Fatalf("step b: %v", err)
	}
	if !near(pa.Value.Data[0], pb.Value.Data[0]) {
		t.Fatalf("diverged: %v vs %v", pa.Value.Data[0], pb.Value.Data[0])
	}
}

func TestSGDRejectsForeignState(t *testing.T) {
	t.Parallel()
	s := NewSGD(0.1, 0.9, 0, false)
	if err := s.LoadState(State{Name: "adam"}); err == nil {
		t.Fatal("adam state should be rejected by sgd")
	}
}

func TestAdamFirstStepMovesByLR(t *testing.T) {
	t.Parallel()
	a := NewAdam(0.1, 0)
	p := param(t, "w", []float32{1}, []float32{1})
	if err := a.Step([]tensor.Param{p}); err != nil {
		t.Fatalf("step: %v", err)
	}
	// Bias correction makes the first update lr*sign(grad) up to eps.
	if !near(p.Value.Data[0], 0.9) {
		t.Fatalf("w = %v, want 0.9", p.Value.Data[0])
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	t.Parallel()
	a := NewAdam(0.1, 0)
	pa := param(t, "w", []float32{1}, []float32{1})
	for i := 0; i < 3; i++ {
		if err := a.Step([]tensor.Param{pa}); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	b := NewAdam(0.1, 0)
	if err := b.LoadState(a.State()); err != nil {
		t.Fatalf("load: %v", err)
	}
	pb := param(t, "w", []float32{1}, []float32{1})
	pb.Value.Data[0] = pa.Value.Data[0]
	if err := a.Step([]tensor.Param{pa}); err != nil {
		t.Fatalf("step a: %v", err)
	}
	if err := b.Step([]tensor.Param{pb}); err != nil {
		t.Fatalf("step b: %v", err)
	}
	if !near(pa.Value.Data[0], pb.Value.Data[0]) {
		t.Fatalf("diverged after resume: %v vs %v", pa.Value.Data[0], pb.Value.Data[0])
	}
}

func TestStepRejectsShapeDrift(t *testing.T) {
	t.Parallel()
	s := NewSGD(0.1, 0.9, 0, false)
	p := param(t, "w", []float32{0, 0}, []float32{1, 1})
	if err := s.Step([]tensor.Param{p}); err != nil {
		t.Fatalf("step: %v", err)
	}
	shrunk := param(t, "w", []float32{0}, []float32{1})
	if err := s.Step([]tensor.Param{shrunk}); err == nil {
		t.Fatal("resized parameter should be rejected")
	}
}
