package tensor

import (
	"fmt"
	"math"
)

// MatMul computes a @ b for 2-D tensors.
func MatMul(a, b *Tensor) *Tensor {
	m, k, n := a.Rows(), a.Cols(), b.Cols()
	if b.Rows() != k {
		panic(fmt.Sprintf("tensor: matmul shape mismatch (%d,%d)@(%d,%d)", m, k, b.Rows(), n))
	}
	out := New(m, n)
	for i := 0; i < m; i++ {
		for kk := 0; kk < k; kk++ {
			av := a.Data[i*k+kk]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out.Data[i*n+j] += av * b.Data[kk*n+j]
			}
		}
	}
	return out
}

// MatMulBackward computes gradients of c = a @ b:
// gradA = gradC @ bᵀ, gradB = aᵀ @ gradC.
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	m, k, n := a.Rows(), a.Cols(), b.Cols()
	gradA = New(m, k)
	gradB = New(k, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			gc := gradC.Data[i*n+j]
			if gc == 0 {
				continue
			}
			for kk := 0; kk < k; kk++ {
				gradA.Data[i*k+kk] += gc * b.Data[kk*n+j]
				gradB.Data[kk*n+j] += a.Data[i*k+kk] * gc
			}
		}
	}
	return gradA, gradB
}

// AddBias adds a row vector to every row of a 2-D tensor, in place.
func AddBias(x, bias *Tensor) {
	cols := x.Cols()
	for i := 0; i < x.Rows(); i++ {
		for j := 0; j < cols; j++ {
			x.Data[i*cols+j] += bias.Data[j]
		}
	}
}

// BiasBackward sums gradient rows into a bias gradient vector.
func BiasBackward(gradY *Tensor) []float64 {
	cols := gradY.Cols()
	out := make([]float64, cols)
	for i := 0; i < gradY.Rows(); i++ {
		for j := 0; j < cols; j++ {
			out[j] += gradY.Data[i*cols+j]
		}
	}
	return out
}

// ReLU applies max(0, x) element-wise, returning a new tensor.
func ReLU(x *Tensor) *Tensor {
	out := New(x.shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

// ReLUBackward masks gradY where the forward input was non-positive.
func ReLUBackward(x, gradY *Tensor) *Tensor {
	out := New(x.shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = gradY.Data[i]
		}
	}
	return out
}

// SoftmaxRows applies a numerically stable softmax to each row.
func SoftmaxRows(x *Tensor) *Tensor {
	out := New(x.shape...)
	cols := x.Cols()
	for i := 0; i < x.Rows(); i++ {
		row := x.Data[i*cols : (i+1)*cols]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		sum := 0.0
		for j, v := range row {
			e := math.Exp(v - maxV)
			out.Data[i*cols+j] = e
			sum += e
		}
		for j := range row {
			out.Data[i*cols+j] /= sum
		}
	}
	return out
}

// Scale multiplies every element by s, in place.
func Scale(x *Tensor, s float64) {
	for i := range x.Data {
		x.Data[i] *= s
	}
}
