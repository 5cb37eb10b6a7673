package seg

import (
	"fmt"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/criterion"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// FullModel couples a network with its losses so one call scores a batch
// and pushes the gradients back into the parameter buffers.
type FullModel struct {
	Net       Model
	Sem       criterion.Loss
	Bd        criterion.Loss
	AuxWeight float64
	BdWeight  float64
}

// LossParts breaks a combined loss into its logged components. Total is
// Sem + AuxWeight*Aux + BdWeight*Bd.
type LossParts struct {
	Total float64
	Sem   float64
	Aux   float64
	Bd    float64
}

// ForwardLoss runs one forward pass, evaluates the losses, and accumulates
// parameter gradients scaled by scale. A nil bdLabel skips the boundary
// term.
func (f *FullModel) ForwardLoss(x *tensor.Dense, label, bdLabel *tensor.Ints, scale float64) (*Output, LossParts, error) {
	out, err := f.Net.Forward(x)
	if err != nil {
		return nil, LossParts{}, err
	}

	gradSem := tensor.NewDense(out.Semantic.Shape...)
	lossSem, err := f.Sem.Forward(out.Semantic, label, gradSem)
	if err != nil {
		return nil, LossParts{}, fmt.Errorf("seg: semantic loss: %w", err)
	}
	gradAux := tensor.NewDense(out.Aux.Shape...)
	lossAux, err := f.Sem.Forward(out.Aux, label, gradAux)
	if err != nil {
		return nil, LossParts{}, fmt.Errorf("seg: aux loss: %w", err)
	}

	var gradBd *tensor.Dense
	var lossBd float64
	if bdLabel != nil && f.Bd != nil && f.BdWeight != 0 {
		gradBd = tensor.NewDense(out.Boundary.Shape...)
		lossBd, err = f.Bd.Forward(out.Boundary, bdLabel, gradBd)
		if err != nil {
			return nil, LossParts{}, fmt.Errorf("seg: boundary loss: %w", err)
		}
		gradBd.Scale(float32(scale * f.BdWeight))
	}

	gradSem.Scale(float32(scale))
	gradAux.Scale(float32(scale * f.AuxWeight))
	if err := f.Net.Backward(gradSem, gradAux, gradBd); err != nil {
		return nil, LossParts{}, err
	}

	parts := LossParts{
		Sem:   lossSem,
		Aux:   lossAux,
		Bd:    lossBd,
		Total: lossSem + f.AuxWeight*lossAux + f.BdWeight*lossBd,
	}
	return out, parts, nil
}

// Score evaluates the combined loss without touching parameter gradients.
// Validation uses it so scoring a batch cannot leak into the next step.
func (f *FullModel) Score(x *tensor.Dense, label, bdLabel *tensor.Ints) (*Output, LossParts, error) {
	out, err := f.Net.Forward(x)
	if err != nil {
		return nil, LossParts{}, err
	}

	scratch := tensor.NewDense(out.Semantic.Shape...)
	lossSem, err := f.Sem.Forward(out.Semantic, label, scratch)
	if err != nil {
		return nil, LossParts{}, fmt.Errorf("seg: semantic loss: %w", err)
	}
	scratch = tensor.NewDense(out.Aux.Shape...)
	lossAux, err := f.Sem.Forward(out.Aux, label, scratch)
	if err != nil {
		return nil, LossParts{}, fmt.Errorf("seg: aux loss: %w", err)
	}

	var lossBd float64
	if bdLabel != nil && f.Bd != nil && f.BdWeight != 0 {
		scratch = tensor.NewDense(out.Boundary.Shape...)
		lossBd, err = f.Bd.Forward(out.Boundary, bdLabel, scratch)
		if err != nil {
			return nil, LossParts{}, fmt.Errorf("seg: boundary loss: %w", err)
		}
	}

	parts := LossParts{
		Sem:   lossSem,
		Aux:   lossAux,
		Bd:    lossBd,
		Total: lossSem + f.AuxWeight*lossAux + f.BdWeight*lossBd,
	}
	return out, parts, nil
}

// Infer runs a gradient-free forward pass and returns the per-pixel class
// prediction alongside the raw outputs.
func (f *FullModel) Infer(x *tensor.Dense) (*Output, *tensor.Ints, error) {
	out, err := f.Net.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	pred, _, err := tensor.ArgmaxChannel(out.Semantic)
	if err != nil {
		return nil, nil, err
	}
	return out, pred, nil
}
