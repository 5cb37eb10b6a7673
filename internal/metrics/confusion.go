// Package metrics implements segmentation accuracy accounting: a class
// confusion matrix and the IoU/accuracy figures derived from it.
package metrics

import (
	"fmt"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// ConfusionMatrix accumulates label/prediction pair counts. Rows are ground
// truth, columns are predictions. Pixels carrying the ignore label are
// skipped; predictions outside [0,K) are dropped rather than panicking.
type ConfusionMatrix struct {
	K      int
	Ignore int32
	counts []int64
}

// NewConfusionMatrix creates a KxK matrix with the given ignore label.
func NewConfusionMatrix(numClasses int, ignore int32) *ConfusionMatrix {
	return &ConfusionMatrix{K: numClasses, Ignore: ignore, counts: make([]int64, numClasses*numClasses)}
}

// Update adds one prediction map against its label map.
func (m *ConfusionMatrix) Update(pred, label *tensor.Ints) error {
	if len(pred.Data) != len(label.Data) {
		return fmt.Errorf("metrics: prediction has %d pixels, label has %d", len(pred.Data), len(label.Data))
	}
	k := int32(m.K)
	for i, l := range label.Data {
		if l == m.Ignore || l < 0 || l >= k {
			continue
		}
		p := pred.Data[i]
		if p < 0 || p >= k {
			continue
		}
		m.counts[int(l)*m.K+int(p)]++
	}
	return nil
}

// Merge folds another matrix of the same shape into m.
func (m *ConfusionMatrix) Merge(other *ConfusionMatrix) error {
	if other.K != m.K {
		return fmt.Errorf("metrics: merge %d-class matrix into %d-class", other.K, m.K)
	}
	for i, v := range other.counts {
		m.counts[i] += v
	}
	return nil
}

// Total returns the number of counted pixels.
func (m *ConfusionMatrix) Total() int64 {
	var t int64
	for _, v := range m.counts {
		t += v
	}
	return t
}

// Results holds the derived accuracy figures.
type Results struct {
	MeanIoU  float64
	IoU      []float64
	PixelAcc float64
	MeanAcc  float64
}

// Results derives IoU per class, mean IoU, pixel accuracy, and mean class
// accuracy. Empty denominators are clamped to one so absent classes score
// zero instead of poisoning the means.
func (m *ConfusionMatrix) Results() Results {
	iou := make([]float64, m.K)
	var tpSum, posSum int64
	var iouAcc, accAcc float64
	for c := 0; c < m.K; c++ {
		var pos, res int64
		tp := m.counts[c*m.K+c]
		for j := 0; j < m.K; j++ {
			pos += m.counts[c*m.K+j]
			res += m.counts[j*m.K+c]
		}
		denom := pos + res - tp
		if denom < 1 {
			denom = 1
		}
		iou[c] = float64(tp) / float64(denom)
		iouAcc += iou[c]

		posDen := pos
		if posDen < 1 {
			posDen = 1
		}
		accAcc += float64(tp) / float64(posDen)

		tpSum += tp
		posSum += pos
	}
	r := Results{IoU: iou, MeanIoU: iouAcc / float64(m.K), MeanAcc: accAcc / float64(m.K)}
	if posSum > 0 {
		r.PixelAcc = float64(tpSum) / float64(posSum)
	}
	return r
}
