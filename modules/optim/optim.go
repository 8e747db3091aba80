// Package optim provides the optimizers and learning-rate schedulers. All
// optimizer state round-trips through the checkpoint as flat float slices;
// schedulers are pure functions of the global step, so they carry no state
// at all.
package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/perceptgo/internal/registry"
	"github.com/vk/perceptgo/internal/tensor"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// SGDArgs configures the 'sgd' optimizer.
type SGDArgs struct {
	Momentum    float64 `cfg:"momentum,optional"`
	WeightDecay float64 `cfg:"weight_decay,optional"`
}

// SGD is stochastic gradient descent with optional momentum and decoupled
// weight decay. Velocity buffers are allocated on first use.
type SGD struct {
	momentum    float64
	weightDecay float64
	velocity    [][]float64
}

func NewSGD(args *SGDArgs) *SGD {
	return &SGD{momentum: args.Momentum, weightDecay: args.WeightDecay}
}

func (o *SGD) Step(params []*tensor.Tensor, lr float64) {
	if o.velocity == nil {
		o.velocity = make([][]float64, len(params))
		for i, p := range params {
			o.velocity[i] = make([]float64, len(p.Data))
		}
	}
	for i, p := range params {
		v := o.velocity[i]
		for j := range p.Data {
			g := p.Grad[j] + o.weightDecay*p.Data[j]
			v[j] = o.momentum*v[j] + g
			p.Data[j] -= lr * v[j]
		}
	}
}

func (o *SGD) State() [][]float64 {
	out := make([][]float64, len(o.velocity))
	for i, v := range o.velocity {
		out[i] = append([]float64(nil), v...)
	}
	return out
}

func (o *SGD) LoadState(state [][]float64) error {
	if len(state) == 0 {
		o.velocity = nil
		return nil
	}
	o.velocity = make([][]float64, len(state))
	for i, v := range state {
		o.velocity[i] = append([]float64(nil), v...)
	}
	return nil
}

// AdamArgs configures the 'adam' optimizer.
type AdamArgs struct {
	Beta1       float64 `cfg:"beta1,optional"`
	Beta2       float64 `cfg:"beta2,optional"`
	Eps         float64 `cfg:"eps,optional"`
	WeightDecay float64 `cfg:"weight_decay,optional"`
}

// Adam keeps first and second moment estimates per parameter element plus
// the update count for bias correction.
type Adam struct {
	beta1, beta2, eps float64
	weightDecay       float64

	m, v [][]float64
	t    float64
}

func NewAdam(args *AdamArgs) *Adam {
	return &Adam{beta1: args.Beta1, beta2: args.Beta2, eps: args.Eps, weightDecay: args.WeightDecay}
}

func (o *Adam) Step(params []*tensor.Tensor, lr float64) {
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.v = make([][]float64, len(params))
		for i, p := range params {
			o.m[i] = make([]float64, len(p.Data))
			o.v[i] = make([]float64, len(p.Data))
		}
	}
	o.t++
	c1 := 1 - math.Pow(o.beta1, o.t)
	c2 := 1 - math.Pow(o.beta2, o.t)
	for i, p := range params {
		m, v := o.m[i], o.v[i]
		for j := range p.Data {
			g := p.Grad[j] + o.weightDecay*p.Data[j]
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			p.Data[j] -= lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.eps)
		}
	}
}

// State lays out the moment buffers followed by a one-element slice holding
// the update count.
func (o *Adam) State() [][]float64 {
	out := make([][]float64, 0, 2*len(o.m)+1)
	for _, m := range o.m {
		out = append(out, append([]float64(nil), m...))
	}
	for _, v := range o.v {
		out = append(out, append([]float64(nil), v...))
	}
	return append(out, []float64{o.t})
}

func (o *Adam) LoadState(state [][]float64) error {
	if len(state) == 0 {
		o.m, o.v, o.t = nil, nil, 0
		return nil
	}
	if len(state)%2 != 1 {
		return fmt.Errorf("optim: adam state must hold 2n+1 slices, got %d", len(state))
	}
	n := (len(state) - 1) / 2
	o.m = make([][]float64, n)
	o.v = make([][]float64, n)
	for i := 0; i < n; i++ {
		o.m[i] = append([]float64(nil), state[i]...)
		o.v[i] = append([]float64(nil), state[n+i]...)
	}
	tail := state[len(state)-1]
	if len(tail) != 1 {
		return fmt.Errorf("optim: adam state tail must hold the update count")
	}
	o.t = tail[0]
	return nil
}

// ConstantArgs configures the 'constant' scheduler.
type ConstantArgs struct {
	LR float64 `cfg:"lr"`
}

type constantSchedule struct{ lr float64 }

func (s constantSchedule) LR(step int64) float64 { return s.lr }

// StepDecayArgs configures the 'step_decay' scheduler.
type StepDecayArgs struct {
	BaseLR   float64 `cfg:"base_lr"`
	Gamma    float64 `cfg:"gamma,optional"`
	StepSize int64   `cfg:"step_size"`
}

type stepDecaySchedule struct {
	base     float64
	gamma    float64
	stepSize int64
}

func (s stepDecaySchedule) LR(step int64) float64 {
	return s.base * math.Pow(s.gamma, float64(step/s.stepSize))
}

// WarmupCosineArgs configures the 'warmup_cosine' scheduler.
type WarmupCosineArgs struct {
	BaseLR      float64 `cfg:"base_lr"`
	MinLR       float64 `cfg:"min_lr,optional"`
	WarmupSteps int64   `cfg:"warmup_steps,optional"`
	TotalSteps  int64   `cfg:"total_steps"`
}

// warmupCosineSchedule ramps linearly to base over the warmup window, then
// anneals to min on a half cosine.
type warmupCosineSchedule struct {
	base, min     float64
	warmup, total int64
}

func (s warmupCosineSchedule) LR(step int64) float64 {
	if step < s.warmup {
		return s.base * float64(step+1) / float64(s.warmup)
	}
	if step >= s.total {
		return s.min
	}
	frac := float64(step-s.warmup) / float64(s.total-s.warmup)
	return s.min + (s.base-s.min)*0.5*(1+math.Cos(math.Pi*frac))
}

func (m *Module) Register(r *registry.Registry) error {
	if err := r.Register(registry.CategoryOptimizer, "sgd", &registry.Factory{
		NewArgs: func() any { return &SGDArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			return NewSGD(args.(*SGDArgs)), nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryOptimizer, "adam", &registry.Factory{
		NewArgs: func() any { return &AdamArgs{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8} },
		Build: func(ctx context.Context, args any) (any, error) {
			return NewAdam(args.(*AdamArgs)), nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryScheduler, "constant", &registry.Factory{
		NewArgs: func() any { return &ConstantArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			return constantSchedule{lr: args.(*ConstantArgs).LR}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryScheduler, "step_decay", &registry.Factory{
		NewArgs: func() any { return &StepDecayArgs{Gamma: 0.1} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*StepDecayArgs)
			if a.StepSize <= 0 {
				return nil, fmt.Errorf("optim: step_decay step_size must be positive")
			}
			return stepDecaySchedule{base: a.BaseLR, gamma: a.Gamma, stepSize: a.StepSize}, nil
		},
	}); err != nil {
		return err
	}
	return r.Register(registry.CategoryScheduler, "warmup_cosine", &registry.Factory{
		NewArgs: func() any { return &WarmupCosineArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*WarmupCosineArgs)
			if a.TotalSteps <= a.WarmupSteps {
				return nil, fmt.Errorf("optim: warmup_cosine total_steps must exceed warmup_steps")
			}
			return warmupCosineSchedule{base: a.BaseLR, min: a.MinLR, warmup: a.WarmupSteps, total: a.TotalSteps}, nil
		},
	})
}
