// Package keypoint provides the keypoint-estimation task branch: a synthetic
// landmark dataset, a coordinate regression head, mean squared error and the
// PCK metric (percentage of correct keypoints within a radius).
package keypoint

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

// DatasetArgs configures the 'synthetic_keypoints' dataset.
type DatasetArgs struct {
	Size      int   `cfg:"size"`
	Dim       int   `cfg:"dim"`
	Keypoints int   `cfg:"keypoints"`
	Seed      int64 `cfg:"seed,optional"`
}

type dataset struct {
	size, dim, keypoints int
	seed                 int64
}

func (d *dataset) Len() int { return d.size }

func (d *dataset) Sample(i int) (data.Sample, error) {
	if i < 0 || i >= d.size {
		return data.Sample{}, fmt.Errorf("keypoint: sample index %d out of range", i)
	}
	rng := rand.New(rand.NewSource(d.seed*1_000_003 + int64(i) + 1))

	coords := make([]float64, 2*d.keypoints)
	for k := range coords {
		coords[k] = rng.Float64()
	}
	in := tensor.New(1, d.dim)
	for c := 0; c < d.dim; c++ {
		base := 0.0
		if c < len(coords) {
			base = coords[c]
		}
		in.Data[c] = base + rng.NormFloat64()*0.05
	}
	return data.Sample{Input: in, Target: coords}, nil
}

// HeadArgs configures the 'keypoint_regressor' head.
type HeadArgs struct {
	InDim     int   `cfg:"in_dim"`
	Keypoints int   `cfg:"keypoints"`
	Seed      int64 `cfg:"seed,optional"`
}

// Head projects features to 2 coordinates per keypoint.
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

// mse averages squared coordinate error over the batch.
type mse struct{}

func (mse) Compute(preds *tensor.Tensor, tb *data.TaskBatch) (float64, *tensor.Tensor, error) {
	rows, cols := preds.Rows(), preds.Cols()
	grad := tensor.New(rows, cols)
	total := 0.0
	n := float64(rows * cols)
	for r := 0; r < rows; r++ {
		coords, err := coordTarget(tb.Targets[r], cols)
		if err != nil {
			return 0, nil, err
		}
		for c := 0; c < cols; c++ {
			diff := preds.At(r, c) - coords[c]
			total += diff * diff
			grad.Set(r, c, 2*diff/n)
		}
	}
	return total / n, grad, nil
}

// PCKArgs configures the 'pck' metric.
type PCKArgs struct {
	Threshold float64 `cfg:"threshold,optional"`
}

// pck counts keypoints whose predicted position lands within the threshold
// radius of the target.
type pck struct {
	threshold     float64
	correct, seen int
}

func (m *pck) Name() string { return "pck" }

func (m *pck) Update(preds *tensor.Tensor, tb *data.TaskBatch) error {
	cols := preds.Cols()
	if cols%2 != 0 {
		return fmt.Errorf("keypoint: prediction width %d is not coordinate pairs", cols)
	}
	for r := 0; r < preds.Rows(); r++ {
		coords, err := coordTarget(tb.Targets[r], cols)
		if err != nil {
			return err
		}
		for k := 0; k < cols/2; k++ {
			dx := preds.At(r, 2*k) - coords[2*k]
			dy := preds.At(r, 2*k+1) - coords[2*k+1]
			if math.Hypot(dx, dy) <= m.threshold {
				m.correct++
			}
			m.seen++
		}
	}
	return nil
}

func (m *pck) Compute() float64 {
	if m.seen == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.seen)
}

func (m *pck) Reset() { m.correct, m.seen = 0, 0 }

func coordTarget(raw any, want int) ([]float64, error) {
	coords, ok := raw.([]float64)
	if !ok {
		return nil, fmt.Errorf("keypoint: target must be coordinates, got %T", raw)
	}
	if len(coords) != want {
		return nil, fmt.Errorf("keypoint: target has %d coordinates, want %d", len(coords), want)
	}
	return coords, nil
}

func (m *Module) Register(r *registry.Registry) error {
	if err := r.Register(registry.CategoryDataset, "synthetic_keypoints", &registry.Factory{
		NewArgs: func() any { return &DatasetArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*DatasetArgs)
			if a.Size <= 0 || a.Keypoints <= 0 || a.Dim < 2*a.Keypoints {
				return nil, fmt.Errorf("keypoint: size and keypoints must be positive, dim at least 2*keypoints")
			}
			return &dataset{size: a.Size, dim: a.Dim, keypoints: a.Keypoints, seed: a.Seed}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryHead, "keypoint_regressor", &registry.Factory{
		NewArgs: func() any { return &HeadArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*HeadArgs)
			if a.InDim <= 0 || a.Keypoints <= 0 {
				return nil, fmt.Errorf("keypoint: in_dim and keypoints must be positive")
			}
			l := nn.NewLinear(a.InDim, 2*a.Keypoints)
			l.InitXavier(rand.New(rand.NewSource(a.Seed + 1)))
			return &Head{layer: l}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryLoss, "keypoint_mse", &registry.Factory{
		Build: func(ctx context.Context, args any) (any, error) { return mse{}, nil },
	}); err != nil {
		return err
	}
	return r.Register(registry.CategoryMetric, "pck", &registry.Factory{
		NewArgs: func() any { return &PCKArgs{Threshold: 0.05} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*PCKArgs)
			if a.Threshold <= 0 {
				return nil, fmt.Errorf("keypoint: pck threshold must be positive")
			}
			return &pck{threshold: a.Threshold}, nil
		},
	})
}
