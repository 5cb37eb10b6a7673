// Package tensor provides the dense numeric containers shared by the model,
// criteria, and data pipeline. Layout is contiguous row-major; image batches
// use NCHW and label maps use NHW.
package tensor

import (
	"fmt"
	"math"
)

// Dense is a contiguous row-major float32 tensor.
type Dense struct {
	Shape []int
	Data  []float32
}

// NewDense allocates a zero-filled tensor with the given shape.
func NewDense(shape ...int) *Dense {
	return &Dense{Shape: append([]int(nil), shape...), Data: make([]float32, numElements(shape))}
}

// FromSlice wraps data in a tensor after checking it matches the shape.
func FromSlice(data []float32, shape ...int) (*Dense, error) {
	if len(data) != numElements(shape) {
		return nil, fmt.Errorf("tensor: %d values do not fill shape %v", len(data), shape)
	}
	return &Dense{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Len returns the total element count.
func (t *Dense) Len() int { return len(t.Data) }

// Dim returns the size of axis i.
func (t *Dense) Dim(i int) int { return t.Shape[i] }

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	out := NewDense(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// Fill sets every element to v.
func (t *Dense) Fill(v float32) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Zero resets every element to zero.
func (t *Dense) Zero() { t.Fill(0) }

// Scale multiplies every element by s.
func (t *Dense) Scale(s float32) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// AddScaled accumulates s*other into t. Shapes must match exactly.
func (t *Dense) AddScaled(other *Dense, s float32) error {
	if !SameShape(t.Shape, other.Shape) {
		return fmt.Errorf("tensor: add-scaled shape mismatch %v vs %v", t.Shape, other.Shape)
	}
	for i, v := range other.Data {
		t.Data[i] += s * v
	}
	return nil
}

// MaxAbs returns the largest absolute element, 0 for an empty tensor.
func (t *Dense) MaxAbs() float32 {
	var m float32
	for _, v := range t.Data {
		a := float32(math.Abs(float64(v)))
		if a > m {
			m = a
		}
	}
	return m
}

// Ints is a contiguous row-major int32 tensor, used for label maps.
type Ints struct {
	Shape []int
	Data  []int32
}

// NewInts allocates a zero-filled int tensor with the given shape.
func NewInts(shape ...int) *Ints {
	return &Ints{Shape: append([]int(nil), shape...), Data: make([]int32, numElements(shape))}
}

// Len returns the total element count.
func (t *Ints) Len() int { return len(t.Data) }

// Dim returns the size of axis i.
func (t *Ints) Dim(i int) int { return t.Shape[i] }

// Clone returns a deep copy.
func (t *Ints) Clone() *Ints {
	out := NewInts(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// Fill sets every element to v.
func (t *Ints) Fill(v int32) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
