// Package backbones provides the shared feature extractors and the weight
// initializers they are configured with.
package backbones

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/vk/perceptgo/internal/config"
	"github.com/vk/perceptgo/internal/registry"
	"github.com/vk/perceptgo/internal/tensor"
	"github.com/vk/perceptgo/modules/nn"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Initializer fills a freshly allocated weight tensor.
type Initializer interface {
	Apply(rng *rand.Rand, t *tensor.Tensor)
}

// NormalArgs configures the 'normal' initializer.
type NormalArgs struct {
	Std float64 `cfg:"std,optional"`
}

type normalInit struct{ std float64 }

func (n normalInit) Apply(rng *rand.Rand, t *tensor.Tensor) {
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * n.std
	}
}

type xavierInit struct{}

func (xavierInit) Apply(rng *rand.Rand, t *tensor.Tensor) {
	l := &nn.Linear{W: t}
	l.InitXavier(rng)
}

// ConstantArgs configures the 'constant' initializer.
type ConstantArgs struct {
	Value float64 `cfg:"value"`
}

type constantInit struct{ value float64 }

func (c constantInit) Apply(_ *rand.Rand, t *tensor.Tensor) {
	for i := range t.Data {
		t.Data[i] = c.value
	}
}

// MLPArgs configures the 'mlp' backbone. With no hidden layers it degenerates
// to a single linear projection.
type MLPArgs struct {
	InDim  int         `cfg:"in_dim"`
	Hidden []int       `cfg:"hidden,optional"`
	OutDim int         `cfg:"out_dim"`
	Init   config.Node `cfg:"init,optional"`
	Seed   int64       `cfg:"seed,optional"`
}

// MLP is a fully-connected backbone with ReLU between layers. The final
// layer stays linear so heads see an unbounded feature space.
type MLP struct {
	layers []*nn.Linear
	outDim int

	// pre-activation outputs of every hidden layer, cached per forward pass
	acts []*tensor.Tensor
}

// NewMLP builds and initializes the layer stack. Construction is fully
// determined by args, which keeps worker replicas identical.
func NewMLP(args *MLPArgs, init Initializer) (*MLP, error) {
	if args.InDim <= 0 || args.OutDim <= 0 {
		return nil, fmt.Errorf("backbones: mlp dims must be positive, got in=%d out=%d", args.InDim, args.OutDim)
	}
	dims := append([]int{args.InDim}, args.Hidden...)
	dims = append(dims, args.OutDim)

	rng := rand.New(rand.NewSource(args.Seed + 1))
	m := &MLP{outDim: args.OutDim}
	for i := 0; i < len(dims)-1; i++ {
		l := nn.NewLinear(dims[i], dims[i+1])
		init.Apply(rng, l.W)
		m.layers = append(m.layers, l)
	}
	return m, nil
}

func (m *MLP) Forward(inputs *tensor.Tensor) *tensor.Tensor {
	m.acts = m.acts[:0]
	h := inputs
	for i, l := range m.layers {
		y := l.Forward(h)
		if i < len(m.layers)-1 {
			m.acts = append(m.acts, y)
			h = tensor.ReLU(y)
		} else {
			h = y
		}
	}
	return h
}

func (m *MLP) Backward(featGrad *tensor.Tensor) {
	g := featGrad
	for i := len(m.layers) - 1; i >= 0; i-- {
		g = m.layers[i].Backward(g)
		if i > 0 {
			g = tensor.ReLUBackward(m.acts[i-1], g)
		}
	}
}

func (m *MLP) Parameters() []*tensor.Tensor {
	var out []*tensor.Tensor
	for _, l := range m.layers {
		out = append(out, l.Parameters()...)
	}
	return out
}

func (m *MLP) OutDim() int { return m.outDim }

// Register wires the backbone and initializer factories. The mlp factory
// captures the registry so it can build its configured initializer.
func (m *Module) Register(r *registry.Registry) error {
	if err := r.Register(registry.CategoryInitializer, "normal", &registry.Factory{
		NewArgs: func() any { return &NormalArgs{Std: 0.02} },
		Build: func(ctx context.Context, args any) (any, error) {
			return normalInit{std: args.(*NormalArgs).Std}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryInitializer, "xavier", &registry.Factory{
		Build: func(ctx context.Context, args any) (any, error) {
			return xavierInit{}, nil
		},
	}); err != nil {
		return err
	}
	if err := r.Register(registry.CategoryInitializer, "constant", &registry.Factory{
		NewArgs: func() any { return &ConstantArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			return constantInit{value: args.(*ConstantArgs).Value}, nil
		},
	}); err != nil {
		return err
	}
	return r.Register(registry.CategoryBackbone, "mlp", &registry.Factory{
		NewArgs: func() any { return &MLPArgs{} },
		Build: func(ctx context.Context, args any) (any, error) {
			a := args.(*MLPArgs)
			init, err := buildInit(ctx, r, a.Init)
			if err != nil {
				return nil, err
			}
			return NewMLP(a, init)
		},
	})
}

func buildInit(ctx context.Context, r *registry.Registry, node config.Node) (Initializer, error) {
	if node == nil {
		return normalInit{std: 0.02}, nil
	}
	desc, err := registry.DescriptorFromNode(registry.CategoryInitializer, node)
	if err != nil {
		return nil, err
	}
	obj, err := r.Build(ctx, desc)
	if err != nil {
		return nil, err
	}
	init, ok := obj.(Initializer)
	if !ok {
		return nil, fmt.Errorf("backbones: initializer %q built %T", desc.Type, obj)
	}
	return init, nil
}
