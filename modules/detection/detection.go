// Package detection provides the object-detection task branch: a synthetic
// box dataset, a 4-coordinate regression head, smooth-L1 loss and mean IoU.
// Boxes are axis-aligned (x1, y1, x2, y2) in normalized image coordinates.
package detection

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/registry"
	"github.com/vk/perceptgo/internal/tensor"
	"github.com/vk/perceptgo/modules/nn"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// DatasetArgs configures the 'synthetic_boxes' dataset.
type DatasetArgs struct {
	Size int   `cfg:"size"`
	Dim  int   `cfg:"dim"`
	Seed int64 `cfg:"seed,optional"`
}

type dataset struct {
	size, dim int
	seed      int64
}

func (d *dataset) Len() int { return d.size }

// Sample encodes the target box into the leading input features with noise,
// so a regression head can actually recover it.
func (d *dataset) Sample(i int) (data.Sample, error) {
	if i < 0 || i >= d.size {
		return data.Sample{}, fmt.Errorf("detection: sample index %d out of range", i)
	}
	rng := rand.New(rand.NewSource(d.seed*1_000_003 + int64(i) + 1))

	x1 := rng.Float64() * 0.5
	y1 := rng.Float64() * 0.5
	box := []float64{x1, y1, x1 + 0.1 + rng.Float64()*0.4, y1 + 0.1 + rng.Float64()*0.4}

	in := tensor.New(1, d.dim)
	for c := 0; c < d.dim; c++ {
		if c < 4 {
			in.Data[c] = box[c] + rng.NormFloat64()*0.05
		} else {
			in.Data[c] = rng.NormFloat64() * 0.1
		}
	}
	return data.Sample{Input: in, Target: box}, nil
}

// HeadArgs configures the 'box_regressor' head.
type HeadArgs struct {
	InDim int   `cfg:"in_dim"`
	Seed  int64 `cfg:"seed,optional"`
}

// Head projects features to the 4 box coordinates.
type Head struct {
	layer *nn.Linear
}

func (h *Head) Forward(features *tensor.Tensor) *tensor.Tensor {
	return h.layer.Forward(features)
}

func (h *Head) Backward(predGrad *tensor.Tensor) *tensor.Tensor {
	return h.layer.Backward(predGrad)
}

func (h *Head) Parameters() []*tensor.Tensor { return h.layer.Parameters() }

// SmoothL1Args configures the 'smooth_l1' loss.
type SmoothL1Args struct {
	Beta float64 `cfg:"beta,optional"`
}

// smoothL1 is the Huber-style box regression loss, averaged over all
// coordinates in the batch.
type smoothL1 struct{ beta float64 }

func (l smoothL1) Compute(preds *tensor.Tensor, tb *data.TaskBatch) (float64, *tensor.Tensor, error) {
	rows, cols := preds.Rows(), preds.Cols()
	grad := tensor.New(rows, cols)
	total := 0.0
	n := float64(rows * cols)
	for r := 0; r < rows; r++ {
		box, err := boxTarget(tb.Targets[r], cols)
		if err != nil {
			return 0, nil, err
		}
		for c := 0; c < cols; c++ {
			diff := preds.At(r, c) - box[c]
			abs := math.Abs(diff)
			if abs < l.beta {
				total += 0.5 * diff * diff / l.beta
				grad.Set(r, c, diff/l.beta/n)
			} else {
				total += abs - 0.5*l.beta
				grad.Set(r, c, math.Copysign(1, diff)/n)
			}
		}
	}
	return total / n, grad, nil
}

// meanIoU averages intersection-over-union between predicted and target
// boxes. Degenerate predictions score zero.
type meanIoU struct {
	sum  float64
	seen int
}

func (m *meanIoU) Name() string { return "mean_iou" }

func (m *meanIoU) Update(preds *tensor.Tensor, tb *data.TaskBatch) error {
	for r := 0; r < preds.Rows(); r++ {
		box, err := boxTarget(tb.Targets[r], preds.Cols())
		if err != nil {
			return err
		}
		pred := []float64{preds.At(r, 0), preds.At(r, 1), preds.At(r, 2), preds.At(r, 3)}
		m.sum += iou(pred, box)
		m.seen++
	}
	return nil
}

func (m *meanIoU) Compute() float64 {
	if m.seen == 0 {
		return 0
	}
	return m.sum / float64(m.seen)
}

func (m *meanIoU) Reset() { m.sum, m.seen = 0, 0 }

func iou(a, b []float64) float64 {
	ix := math.Min(a[2], b[2]) - math.Max(a[0], b[0])
	iy := math.Min(a[3], b[3]) - math.Max(a[1], b[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func boxTarget(raw any, want int) ([]float64, error) {
	box, ok := raw.([]float64)
	if !ok {
		return nil, fmt.Errorf("detection: target must be a box, got %T", raw)
	}
	if len(box) != want {
		return nil, fmt.Errorf("detection: target box has %d coordinates, want %d", len(box), want)
	}
	return box, nil
}

func (m *Module) Register(r *registry.Registry) error {
	if err := r.Register(registry.CategoryDataset, "synthetic_boxes", &registry.Factory{
		NewArgs: func() any { return &DatasetArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*DatasetArgs)
			if a.Size <= 0 || a.Dim < 4 {
				return nil, fmt.Errorf("detection: size must be positive and dim at least 4")
			}
			return &dataset{size: a.Size, dim: a.Dim, seed: a.Seed}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryHead, "box_regressor", &registry.Factory{
		NewArgs: func() any { return &HeadArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*HeadArgs)
			if a.InDim <= 0 {
				return nil, fmt.Errorf("detection: in_dim must be positive")
			}
			l := nn.NewLinear(a.InDim, 4)
			l.InitXavier(rand.New(rand.NewSource(a.Seed + 1)))
			return &Head{layer: l}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryLoss, "smooth_l1", &registry.Factory{
		NewArgs: func() any { return &SmoothL1Args{Beta: 1.0} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*SmoothL1Args)
			if a.Beta <= 0 {
				return nil, fmt.Errorf("detection: smooth_l1 beta must be positive")
			}
			return smoothL1{beta: a.Beta}, nil
		},
	}); err != nil {
		return err
	}
	return r.Register(registry.CategoryMetric, "mean_iou", &registry.Factory{
		Build: func(ctx context.Context, args any) (any, error) { return &meanIoU{}, nil },
	})
}
