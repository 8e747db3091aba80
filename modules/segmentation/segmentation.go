// Package segmentation provides the semantic-segmentation task branch. The
// prediction for one sample is a flattened pixels-by-classes logit grid; the
// target is one class index per pixel.
package segmentation

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

// DatasetArgs configures the 'synthetic_masks' dataset.
type DatasetArgs struct {
	Size    int   `cfg:"size"`
	Dim     int   `cfg:"dim"`
	Pixels  int   `cfg:"pixels"`
	Classes int   `cfg:"classes"`
	Seed    int64 `cfg:"seed,optional"`
}

type dataset struct {
	size, dim, pixels, classes int
	seed                       int64
}

func (d *dataset) Len() int { return d.size }

func (d *dataset) Sample(i int) (data.Sample, error) {
	if i < 0 || i >= d.size {
		return data.Sample{}, fmt.Errorf("segmentation: sample index %d out of range", i)
	}
	rng := rand.New(rand.NewSource(d.seed*1_000_003 + int64(i) + 1))

	mask := make([]int64, d.pixels)
	for p := range mask {
		mask[p] = int64(rng.Intn(d.classes))
	}
	in := tensor.New(1, d.dim)
	for c := 0; c < d.dim; c++ {
		// Fold the mask into the features so the head has signal to learn.
		base := 0.0
		if c < d.pixels {
			base = float64(mask[c])
		}
		in.Data[c] = base + rng.NormFloat64()*0.2
	}
	return data.Sample{Input: in, Target: mask}, nil
}

// HeadArgs configures the 'pixel_classifier' head.
type HeadArgs struct {
	InDim   int   `cfg:"in_dim"`
	Pixels  int   `cfg:"pixels"`
	Classes int   `cfg:"classes"`
	Seed    int64 `cfg:"seed,optional"`
}

// Head projects features to pixels*classes logits per sample.
type Head struct {
	layer  *nn.Linear
	pixels int
}

func (h *Head) Forward(features *tensor.Tensor) *tensor.Tensor {
	return h.layer.Forward(features)
}

func (h *Head) Backward(predGrad *tensor.Tensor) *tensor.Tensor {
	return h.layer.Backward(predGrad)
}

func (h *Head) Parameters() []*tensor.Tensor { return h.layer.Parameters() }

// PixelCEArgs configures the 'pixel_cross_entropy' loss.
type PixelCEArgs struct {
	Classes int `cfg:"classes"`
}

// pixelCE averages softmax cross-entropy over every pixel of every sample.
type pixelCE struct{ classes int }

func (l pixelCE) Compute(preds *tensor.Tensor, tb *data.TaskBatch) (float64, *tensor.Tensor, error) {
	rows, cols := preds.Rows(), preds.Cols()
	if cols%l.classes != 0 {
		return 0, nil, fmt.Errorf("segmentation: %d logits not divisible by %d classes", cols, l.classes)
	}
	pixels := cols / l.classes

	grad := tensor.New(rows, cols)
	total := 0.0
	n := float64(rows * pixels)
	for r := 0; r < rows; r++ {
		mask, err := maskTarget(tb.Targets[r], pixels)
		if err != nil {
			return 0, nil, err
		}
		for p := 0; p < pixels; p++ {
			off := p * l.classes
			probs := softmax(preds.Data[r*cols+off : r*cols+off+l.classes])
			label := int(mask[p])
			if label < 0 || label >= l.classes {
				return 0, nil, fmt.Errorf("segmentation: pixel label %d out of range for %d classes", label, l.classes)
			}
			total += -math.Log(math.Max(probs[label], 1e-12))
			for c := 0; c < l.classes; c++ {
				g := probs[c]
				if c == label {
					g -= 1
				}
				grad.Data[r*cols+off+c] = g / n
			}
		}
	}
	return total / n, grad, nil
}

func softmax(logits []float64) []float64 {
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// pixelAccuracy is the fraction of pixels whose argmax class matches the
// mask, streamed across batches.
type pixelAccuracy struct {
	classes       int
	correct, seen int
}

func (m *pixelAccuracy) Name() string { return "pixel_accuracy" }

func (m *pixelAccuracy) Update(preds *tensor.Tensor, tb *data.TaskBatch) error {
	cols := preds.Cols()
	if cols%m.classes != 0 {
		return fmt.Errorf("segmentation: %d logits not divisible by %d classes", cols, m.classes)
	}
	pixels := cols / m.classes
	for r := 0; r < preds.Rows(); r++ {
		mask, err := maskTarget(tb.Targets[r], pixels)
		if err != nil {
			return err
		}
		for p := 0; p < pixels; p++ {
			off := r*cols + p*m.classes
			best := 0
			for c := 1; c < m.classes; c++ {
				if preds.Data[off+c] > preds.Data[off+best] {
					best = c
				}
			}
			if int64(best) == mask[p] {
				m.correct++
			}
			m.seen++
		}
	}
	return nil
}

func (m *pixelAccuracy) Compute() float64 {
	if m.seen == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.seen)
}

func (m *pixelAccuracy) Reset() { m.correct, m.seen = 0, 0 }

func maskTarget(raw any, pixels int) ([]int64, error) {
	mask, ok := raw.([]int64)
	if !ok {
		return nil, fmt.Errorf("segmentation: target must be a pixel mask, got %T", raw)
	}
	if len(mask) != pixels {
		return nil, fmt.Errorf("segmentation: mask has %d pixels, want %d", len(mask), pixels)
	}
	return mask, nil
}

func (m *Module) Register(r *registry.Registry) error {
	if err := r.Register(registry.CategoryDataset, "synthetic_masks", &registry.Factory{
		NewArgs: func() any { return &DatasetArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*DatasetArgs)
			if a.Size <= 0 || a.Dim <= 0 || a.Pixels <= 0 || a.Classes <= 1 {
				return nil, fmt.Errorf("segmentation: size, dim and pixels must be positive, classes at least 2")
			}
			return &dataset{size: a.Size, dim: a.Dim, pixels: a.Pixels, classes: a.Classes, seed: a.Seed}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryHead, "pixel_classifier", &registry.Factory{
		NewArgs: func() any { return &HeadArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*HeadArgs)
			if a.InDim <= 0 || a.Pixels <= 0 || a.Classes <= 1 {
				return nil, fmt.Errorf("segmentation: in_dim and pixels must be positive, classes at least 2")
			}
			l := nn.NewLinear(a.InDim, a.Pixels*a.Classes)
			l.InitXavier(rand.New(rand.NewSource(a.Seed + 1)))
			return &Head{layer: l, pixels: a.Pixels}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryLoss, "pixel_cross_entropy", &registry.Factory{
		NewArgs: func() any { return &PixelCEArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*PixelCEArgs)
			if a.Classes <= 1 {
				return nil, fmt.Errorf("segmentation: classes must be at least 2")
			}
			return pixelCE{classes: a.Classes}, nil
		},
	}); err != nil {
		return err
	}
	return r.Register(registry.CategoryMetric, "pixel_accuracy", &registry.Factory{
		NewArgs: func() any { return &PixelCEArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*PixelCEArgs)
			if a.Classes <= 1 {
				return nil, fmt.Errorf("segmentation: classes must be at least 2")
			}
			return &pixelAccuracy{classes: a.Classes}, nil
		},
	})
}
