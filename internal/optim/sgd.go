package optim

import (
	"fmt"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// SGD is stochastic gradient descent with optional momentum, weight decay,
// and Nesterov lookahead.
type SGD struct {
	lr          float64
	momentum    float64
	weightDecay float64
	nesterov    bool
	buf         map[string][]float32
}

// NewSGD builds an SGD optimizer.
func NewSGD(lr, momentum, weightDecay float64, nesterov bool) *SGD {
	return &SGD{lr: lr, momentum: momentum, weightDecay: weightDecay, nesterov: nesterov, buf: make(map[string][]float32)}
}

func (s *SGD) Name() string     { return "sgd" }
func (s *SGD) LR() float64      { return s.lr }
func (s *SGD) SetLR(lr float64) { s.lr = lr }

// Step updates each parameter in place from its gradient.
func (s *SGD) Step(params []tensor.Param) error {
	lr := float32(s.lr)
	mu := float32(s.momentum)
	wd := float32(s.weightDecay)
	for _, p := range params {
		if p.Grad == nil || p.Value == nil {
			return fmt.Errorf("optim: parameter %q has no gradient buffer", p.Name)
		}
		if len(p.Grad.Data) != len(p.Value.Data) {
			return fmt.Errorf("optim: parameter %q gradient size %d != value size %d", p.Name, len(p.Grad.Data), len(p.Value.Data))
		}
		val := p.Value.Data
		grad := p.Grad.Data
		if s.momentum == 0 {
			for i := range val {
				g := grad[i]
				if wd != 0 {
					g += wd * val[i]
				}
				val[i] -= lr * g
			}
			continue
		}
		buf, ok := s.buf[p.Name]
		if !ok {
			buf = make([]float32, len(val))
			s.buf[p.Name] = buf
		} else if len(buf) != len(val) {
			return fmt.Errorf("optim: parameter %q resized from %d to %d elements", p.Name, len(buf), len(val))
		}
		for i := range val {
			g := grad[i]
			if wd != 0 {
				g += wd * val[i]
			}
			buf[i] = mu*buf[i] + g
			if s.nesterov {
				g += mu * buf[i]
			} else {
				g = buf[i]
			}
			val[i] -= lr * g
		}
	}
	return nil
}

// State snapshots the momentum buffers.
func (s *SGD) State() State {
	return State{Name: s.Name(), LR: s.lr, Momentum: cloneSlots(s.buf)}
}

// LoadState restores momentum buffers from a snapshot.
func (s *SGD) LoadState(st State) error {
	if st.Name != s.Name() {
		return fmt.Errorf("optim: checkpoint holds %q state, optimizer is %q", st.Name, s.Name())
	}
	s.lr = st.LR
	s.buf = cloneSlots(st.Momentum)
	if s.buf == nil {
		s.buf = make(map[string][]float32)
	}
	return nil
}
