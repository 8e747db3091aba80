// Package transforms provides the stochastic input augmenters applied inside
// the data pipeline. Augmenters draw only from the rng the feeder hands them,
// which keeps every batch reproducible from its stream seed.
package transforms

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// GaussianNoiseArgs configures the 'gaussian_noise' augmenter.
type GaussianNoiseArgs struct {
	Std float64 `cfg:"std"`
}

type gaussianNoise struct{ std float64 }

func (g gaussianNoise) Apply(rng *rand.Rand, s data.Sample) data.Sample {
	in := s.Input.Clone()
	for i := range in.Data {
		in.Data[i] += rng.NormFloat64() * g.std
	}
	return data.Sample{Input: in, Target: s.Target}
}

// RandomScaleArgs configures the 'random_scale' augmenter.
type RandomScaleArgs struct {
	Min float64 `cfg:"min"`
	Max float64 `cfg:"max"`
}

type randomScale struct{ min, max float64 }

func (r randomScale) Apply(rng *rand.Rand, s data.Sample) data.Sample {
	factor := r.min + rng.Float64()*(r.max-r.min)
	in := s.Input.Clone()
	for i := range in.Data {
		in.Data[i] *= factor
	}
	return data.Sample{Input: in, Target: s.Target}
}

func (m *Module) Register(r *registry.Registry) error {
	if err := r.Register(registry.CategoryTransform, "gaussian_noise", &registry.Factory{
		NewArgs: func() any { return &GaussianNoiseArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*GaussianNoiseArgs)
			if a.Std < 0 {
				return nil, fmt.Errorf("transforms: gaussian_noise std must be non-negative")
			}
			return gaussianNoise{std: a.Std}, nil
		},
	}); err != nil {
		return err
	}
	return r.Register(registry.CategoryTransform, "random_scale", &registry.Factory{
		NewArgs: func() any { return &RandomScaleArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*RandomScaleArgs)
			if a.Max < a.Min {
				return nil, fmt.Errorf("transforms: random_scale max %v below min %v", a.Max, a.Min)
			}
			return randomScale{min: a.Min, max: a.Max}, nil
		},
	})
}
