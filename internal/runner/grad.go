package runner

import (
	"math"

	"github.com/vk/perceptgo/internal/tensor"
)

// flattenGrads packs every parameter gradient into one vector for the
// allreduce, in the model's stable parameter order.
func flattenGrads(params []*tensor.Tensor) []float64 {
	total := 0
	for _, p := range params {
		total += len(p.Grad)
	}
	flat := make([]float64, 0, total)
	for _, p := range params {
		flat = append(flat, p.Grad...)
	}
	return flat
}

// applyReduced unpacks the summed gradient vector back into the parameters,
// scaling each element by scale (1/W for the mean across workers).
func applyReduced(params []*tensor.Tensor, sum []float64, scale float64) {
	i := 0
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] = sum[i] * scale
			i++
		}
	}
}

func gradsFinite(params []*tensor.Tensor) bool {
	for _, p := range params {
		for _, g := range p.Grad {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				return false
			}
		}
	}
	return true
}

// clipGrads rescales all gradients so their global L2 norm does not exceed
// maxNorm. Deterministic given identical inputs, so replicas stay in sync.
func clipGrads(params []*tensor.Tensor, maxNorm float64) {
	sq := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			sq += g * g
		}
	}
	norm := math.Sqrt(sq)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := maxNorm / norm
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
}
