package optim

import (
	"fmt"
	"math"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// Adam keeps exponential moving averages of gradients and squared
// gradients with bias correction.
type Adam struct {
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           map[string][]float32
	v           map[string][]float32
}

// NewAdam builds an Adam optimizer with the usual 0.9/0.999 betas.
func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		eps:         1e-8,
		weightDecay: weightDecay,
		m:           make(map[string][]float32),
		v:           make(map[string][]float32),
	}
}

func (a *Adam) Name() string     { return "adam" }
func (a *Adam) LR() float64      { return a.lr }
func (a *Adam) SetLR(lr float64) { a.lr = lr }

func (a *Adam) slot(m map[string][]float32, name string, n int) ([]float32, error) {
	buf, ok := m[name]
	if !ok {
		buf = make([]float32, n)
		m[name] = buf
		return buf, nil
	}
	if len(buf) != n {
		return nil, fmt.Errorf("optim: parameter %q resized from %d to %d elements", name, len(buf), n)
	}
	return buf, nil
}

// Step updates each parameter in place from its gradient.
func (a *Adam) Step(params []tensor.Param) error {
	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))
	stepSize := a.lr / bc1
	b1 := float32(a.beta1)
	b2 := float32(a.beta2)
	wd := float32(a.weightDecay)
	for _, p := range params {
		if p.Grad == nil || p.Value == nil {
			return fmt.Errorf("optim: parameter %q has no gradient buffer", p.Name)
		}
		val := p.Value.Data
		grad := p.Grad.Data
		if len(grad) != len(val) {
			return fmt.Errorf("optim: parameter %q gradient size %d != value size %d", p.Name, len(grad), len(val))
		}
		m, err := a.slot(a.m, p.Name, len(val))
		if err != nil {
			return err
		}
		v, err := a.slot(a.v, p.Name, len(val))
		if err != nil {
			return err
		}
		for i := range val {
			g := grad[i]
			if wd != 0 {
				g += wd * val[i]
			}
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g
			denom := math.Sqrt(float64(v[i])/bc2) + a.eps
			val[i] -= float32(stepSize * float64(m[i]) / denom)
		}
	}
	return nil
}

// State snapshots moment buffers and the step counter.
func (a *Adam) State() State {
	return State{Name: a.Name(), LR: a.lr, Step: a.step, M: cloneSlots(a.m), V: cloneSlots(a.v)}
}

// LoadState restores moment buffers and the step counter.
func (a *Adam) LoadState(st State) error {
	if st.Name != a.Name() {
		return fmt.Errorf("optim: checkpoint holds %q state, optimizer is %q", st.Name, a.Name())
	}
	a.lr = st.LR
	a.step = st.Step
	a.m = cloneSlots(st.M)
	a.v = cloneSlots(st.V)
	if a.m == nil {
		a.m = make(map[string][]float32)
	}
	if a.v == nil {
		a.v = make(map[string][]float32)
	}
	return nil
}
