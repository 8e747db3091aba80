// Package nn holds the small trainable building blocks the backbone and head
// modules assemble: fully-connected layers with cached activations for the
// manual backward pass.
package nn

import (
	"math"
	"math/rand"

	"github.com/vk/perceptgo/internal/tensor"
)

// Linear is one fully-connected layer, y = x@W + b.
type Linear struct {
	W *tensor.Tensor
	B *tensor.Tensor

	lastIn *tensor.Tensor
}

// NewLinear creates a zero-initialized layer of the given shape.
func NewLinear(in, out int) *Linear {
	return &Linear{W: tensor.New(in, out), B: tensor.New(1, out)}
}

// InitNormal fills W with N(0, std) draws. Biases stay zero.
func (l *Linear) InitNormal(rng *rand.Rand, std float64) {
	for i := range l.W.Data {
		l.W.Data[i] = rng.NormFloat64() * std
	}
}

// InitXavier fills W with the Glorot uniform scheme for its fan-in/fan-out.
func (l *Linear) InitXavier(rng *rand.Rand) {
	in, out := l.W.Rows(), l.W.Cols()
	limit := math.Sqrt(6.0 / float64(in+out))
	for i := range l.W.Data {
		l.W.Data[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Forward caches the input for the backward pass.
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	l.lastIn = x
	y := tensor.MatMul(x, l.W)
	tensor.AddBias(y, l.B)
	return y
}

// Backward accumulates parameter gradients and returns the input gradient.
func (l *Linear) Backward(gradY *tensor.Tensor) *tensor.Tensor {
	gradX, gradW := tensor.MatMulBackward(l.lastIn, l.W, gradY)
	l.W.AccumulateGrad(gradW.Data)
	l.B.AccumulateGrad(tensor.BiasBackward(gradY))
	return gradX
}

// Parameters returns the layer's weight then bias.
func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.W, l.B}
}
