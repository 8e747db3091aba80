package runner

import "github.com/vk/perceptgo/internal/tensor"

// Optimizer applies one update step over the model's parameters in their
// stable order. State exposes whatever per-parameter buffers the optimizer
// keeps (momentum, moments), in the same order, for checkpointing.
type Optimizer interface {
	Step(params []*tensor.Tensor, lr float64)
	State() [][]float64
	LoadState(state [][]float64) error
}

// Scheduler maps a global step to a learning rate. Schedulers are pure
// functions of the step, which is what makes a resumed run land in exactly
// the original schedule phase.
type Scheduler interface {
	LR(step int64) float64
}
