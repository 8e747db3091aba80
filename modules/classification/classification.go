// Package classification provides the image-classification task branch: a
// synthetic labeled dataset, a linear classifier head, cross-entropy loss
// and top-1 accuracy.
package classification

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

// DatasetArgs configures the 'synthetic_classification' dataset. Each class
// occupies its own cluster center so the task is actually learnable.
type DatasetArgs struct {
	Size    int   `cfg:"size"`
	Dim     int   `cfg:"dim"`
	Classes int   `cfg:"classes"`
	Seed    int64 `cfg:"seed,optional"`
}

type dataset struct {
	size, dim, classes int
	seed               int64
}

func (d *dataset) Len() int { return d.size }

func (d *dataset) Sample(i int) (data.Sample, error) {
	if i < 0 || i >= d.size {
		return data.Sample{}, fmt.Errorf("classification: sample index %d out of range", i)
	}
	label := i % d.classes
	rng := rand.New(rand.NewSource(d.seed*1_000_003 + int64(i) + 1))
	in := tensor.New(1, d.dim)
	for c := 0; c < d.dim; c++ {
		center := 0.0
		if c%d.classes == label {
			center = 2.0
		}
		in.Data[c] = center + rng.NormFloat64()*0.3
	}
	return data.Sample{Input: in, Target: int64(label)}, nil
}

// HeadArgs configures the 'linear_classifier' head.
type HeadArgs struct {
	InDim   int   `cfg:"in_dim"`
	Classes int   `cfg:"classes"`
	Seed    int64 `cfg:"seed,optional"`
}

// Head is a single linear projection to class logits.
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

// loss is softmax cross-entropy over integer class targets.
type loss struct{}

func (loss) Compute(preds *tensor.Tensor, tb *data.TaskBatch) (float64, *tensor.Tensor, error) {
	rows, cols := preds.Rows(), preds.Cols()
	probs := tensor.SoftmaxRows(preds)
	grad := tensor.New(rows, cols)
	total := 0.0
	for r := 0; r < rows; r++ {
		label, err := classTarget(tb.Targets[r])
		if err != nil {
			return 0, nil, err
		}
		if label < 0 || label >= cols {
			return 0, nil, fmt.Errorf("classification: label %d out of range for %d classes", label, cols)
		}
		p := probs.At(r, label)
		total += -math.Log(math.Max(p, 1e-12))
		for c := 0; c < cols; c++ {
			g := probs.At(r, c)
			if c == label {
				g -= 1
			}
			grad.Set(r, c, g/float64(rows))
		}
	}
	return total / float64(rows), grad, nil
}

// top1 is streaming top-1 accuracy.
type top1 struct {
	correct, seen int
}

func (m *top1) Name() string { return "top1_accuracy" }

func (m *top1) Update(preds *tensor.Tensor, tb *data.TaskBatch) error {
	cols := preds.Cols()
	for r := 0; r < preds.Rows(); r++ {
		label, err := classTarget(tb.Targets[r])
		if err != nil {
			return err
		}
		best := 0
		for c := 1; c < cols; c++ {
			if preds.At(r, c) > preds.At(r, best) {
				best = c
			}
		}
		if best == label {
			m.correct++
		}
		m.seen++
	}
	return nil
}

func (m *top1) Compute() float64 {
	if m.seen == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.seen)
}

func (m *top1) Reset() { m.correct, m.seen = 0, 0 }

func classTarget(raw any) (int, error) {
	switch v := raw.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("classification: target must be an integer label, got %T", raw)
	}
}

func (m *Module) Register(r *registry.Registry) error {
	if err := r.Register(registry.CategoryDataset, "synthetic_classification", &registry.Factory{
		NewArgs: func() any { return &DatasetArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*DatasetArgs)
			if a.Size <= 0 || a.Dim <= 0 || a.Classes <= 0 {
				return nil, fmt.Errorf("classification: size, dim and classes must be positive")
			}
			return &dataset{size: a.Size, dim: a.Dim, classes: a.Classes, seed: a.Seed}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryHead, "linear_classifier", &registry.Factory{
		NewArgs: func() any { return &HeadArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*HeadArgs)
			if a.InDim <= 0 || a.Classes <= 0 {
				return nil, fmt.Errorf("classification: in_dim and classes must be positive")
			}
			l := nn.NewLinear(a.InDim, a.Classes)
			l.InitXavier(rand.New(rand.NewSource(a.Seed + 1)))
			return &Head{layer: l}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryLoss, "cross_entropy", &registry.Factory{
		Build: func(ctx context.Context, args any) (any, error) { return loss{}, nil },
	}); err != nil {
		return err
	}
	return r.Register(registry.CategoryMetric, "top1_accuracy", &registry.Factory{
		Build: func(ctx context.Context, args any) (any, error) { return &top1{}, nil },
	})
}
