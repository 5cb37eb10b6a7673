package tensor

// Param is a named learnable tensor paired with its gradient buffer. The
// two tensors always share a shape.
type Param struct {
	Name  string
	Value *Dense
	Grad  *Dense
}

// NewParam allocates a zeroed parameter and gradient of the given shape.
func NewParam(name string, shape ...int) Param {
	return Param{Name: name, Value: NewDense(shape...), Grad: NewDense(shape...)}
}

// ZeroGrad clears the gradient buffer.
func (p Param) ZeroGrad() { p.Grad.Zero() }
