// Package tensor provides the minimal dense numeric type the composed model
// needs: a row-major float64 tensor with an explicit gradient buffer and the
// handful of kernels the task heads use. The real numeric engine lives
// outside the orchestrator; this package is just enough of it to make the
// lifecycle executable and testable.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a multi-dimensional array of float64 values in row-major order,
// with a gradient buffer of the same size.
//
// Tensor is not safe for concurrent use; each worker owns its replica's
// tensors exclusively.
type Tensor struct {
	Data  []float64
	Grad  []float64
	shape []int
}

// New creates a zero tensor with the given shape. Shape errors are
// programmer bugs and panic.
func New(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}
	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Tensor{
		Data:  make([]float64, size),
		Grad:  make([]float64, size),
		shape: shapeCopy,
	}
}

// NewRand creates a tensor with values drawn from N(0, std²) using the
// provided source, so initialization is reproducible per run seed.
func NewRand(rng *rand.Rand, std float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * std
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Rows returns the leading dimension.
func (t *Tensor) Rows() int { return t.shape[0] }

// Cols returns the trailing dimension of a 2-D tensor.
func (t *Tensor) Cols() int { return t.shape[len(t.shape)-1] }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// At returns the element at (row, col) of a 2-D tensor.
func (t *Tensor) At(row, col int) float64 {
	return t.Data[row*t.Cols()+col]
}

// Set assigns the element at (row, col) of a 2-D tensor.
func (t *Tensor) Set(row, col int, v float64) {
	t.Data[row*t.Cols()+col] = v
}

// Clone returns a deep copy including the gradient buffer.
func (t *Tensor) Clone() *Tensor {
	out := New(t.shape...)
	copy(out.Data, t.Data)
	copy(out.Grad, t.Grad)
	return out
}

// ZeroGrad clears the gradient buffer.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// AccumulateGrad adds grad element-wise into the tensor's gradient buffer.
// Shared parameters receive the sum of all task contributions through
// repeated calls.
func (t *Tensor) AccumulateGrad(grad []float64) {
	if len(grad) != len(t.Grad) {
		panic(fmt.Sprintf("tensor: gradient size %d does not match parameter size %d", len(grad), len(t.Grad)))
	}
	for i, g := range grad {
		t.Grad[i] += g
	}
}

// SliceRows returns a new tensor holding rows [from, to) of a 2-D tensor.
func (t *Tensor) SliceRows(from, to int) *Tensor {
	cols := t.Cols()
	out := New(to-from, cols)
	copy(out.Data, t.Data[from*cols:to*cols])
	return out
}

// IsFinite reports whether every element and gradient is finite.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, g := range t.Grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return false
		}
	}
	return true
}
