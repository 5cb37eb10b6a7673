package tensor

import (
	"math"
	"testing"
)

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestFromSliceRejectsBadShape(t *testing.T) {
	t.Parallel()

	if _, err := FromSlice([]float32{1, 2, 3}, 2, 2); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestAddScaled(t *testing.T) {
	t.Parallel()

	a, _ := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	b, _ := FromSlice([]float32{10, 10, 10, 10}, 2, 2)
	if err := a.AddScaled(b, 0.5); err != nil {
		t.Fatalf("AddScaled: %v", err)
	}
	want := []float32{6, 7, 8, 9}
	for i, v := range a.Data {
		if !almostEqual(v, want[i]) {
			t.Fatalf("element %d = %v, want %v", i, v, want[i])
		}
	}

	c := NewDense(3)
	if err := a.AddScaled(c, 1); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestArgmaxChannel(t *testing.T) {
	t.Parallel()

	// 1 batch, 3 channels, 1x2 pixels.
	x, _ := FromSlice([]float32{
		0.1, 0.9, // channel 0
		0.8, 0.2, // channel 1
		0.3, 0.3, // channel 2
	}, 1, 3, 1, 2)
	idx, val, err := ArgmaxChannel(x)
	if err != nil {
		t.Fatalf("ArgmaxChannel: %v", err)
	}
	if idx.Data[0] != 1 || idx.Data[1] != 0 {
		t.Fatalf("argmax = %v, want [1 0]", idx.Data)
	}
	if !almostEqual(val.Data[0], 0.8) || !almostEqual(val.Data[1], 0.9) {
		t.Fatalf("values = %v", val.Data)
	}
}

func TestSoftmaxChannelSumsToOne(t *testing.T) {
	t.Parallel()

	x, _ := FromSlice([]float32{2, -1, 0.5, 0, 1, 3}, 1, 3, 1, 2)
	p, err := SoftmaxChannel(x)
	if err != nil {
		t.Fatalf("SoftmaxChannel: %v", err)
	}
	for px := 0; px < 2; px++ {
		var sum float32
		for c := 0; c < 3; c++ {
			v := p.Data[c*2+px]
			if v <= 0 || v >= 1 {
				t.Fatalf("prob out of range: %v", v)
			}
			sum += v
		}
		if !almostEqual(sum, 1) {
			t.Fatalf("pixel %d sums to %v", px, sum)
		}
	}
}

func TestAvgPoolRoundTripGradient(t *testing.T) {
	t.Parallel()

	x, _ := FromSlice([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, 1, 1, 4, 4)
	y, err := AvgPool2D(x, 2)
	if err != nil {
		t.Fatalf("AvgPool2D: %v", err)
	}
	if !SameShape(y.Shape, []int{1, 1, 2, 2}) {
		t.Fatalf("pooled shape %v", y.Shape)
	}
	if !almostEqual(y.Data[0], 3.5) || !almostEqual(y.Data[3], 12.5) {
		t.Fatalf("pooled values %v", y.Data)
	}

	dy := NewDense(1, 1, 2, 2)
	dy.Fill(4)
	dx := NewDense(1, 1, 4, 4)
	if err := AvgPool2DBackward(dy, dx, 2); err != nil {
		t.Fatalf("backward: %v", err)
	}
	// Every input cell contributed 1/4 of one window.
	for i, v := range dx.Data {
		if !almostEqual(v, 1) {
			t.Fatalf("dx[%d] = %v, want 1", i, v)
		}
	}
}

func TestUpsampleNearest(t *testing.T) {
	t.Parallel()

	x, _ := FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	y, err := UpsampleNearest(x, 4, 4)
	if err != nil {
		t.Fatalf("UpsampleNearest: %v", err)
	}
	if !almostEqual(y.Data[0], 1) || !almostEqual(y.Data[3], 2) || !almostEqual(y.Data[15], 4) {
		t.Fatalf("upsampled values %v", y.Data)
	}

	dy := NewDense(1, 1, 4, 4)
	dy.Fill(1)
	dx := NewDense(1, 1, 2, 2)
	if err := UpsampleNearestBackward(dy, dx); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for i, v := range dx.Data {
		if !almostEqual(v, 4) {
			t.Fatalf("dx[%d] = %v, want 4", i, v)
		}
	}
}

func TestConcatSplitChannels(t *testing.T) {
	t.Parallel()

	a, _ := FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	b, _ := FromSlice([]float32{5, 6, 7, 8, 9, 10, 11, 12}, 1, 2, 2, 2)
	cat, err := ConcatChannels(a, b)
	if err != nil {
		t.Fatalf("ConcatChannels: %v", err)
	}
	if !SameShape(cat.Shape, []int{1, 3, 2, 2}) {
		t.Fatalf("concat shape %v", cat.Shape)
	}

	parts, err := SplitChannels(cat, 1, 2)
	if err != nil {
		t.Fatalf("SplitChannels: %v", err)
	}
	for i, v := range parts[0].Data {
		if !almostEqual(v, a.Data[i]) {
			t.Fatalf("part0[%d] = %v", i, v)
		}
	}
	for i, v := range parts[1].Data {
		if !almostEqual(v, b.Data[i]) {
			t.Fatalf("part1[%d] = %v", i, v)
		}
	}

	if _, err := SplitChannels(cat, 2, 2); err == nil {
		t.Fatal("expected width mismatch error")
	}
}
