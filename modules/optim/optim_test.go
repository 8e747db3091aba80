package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/perceptgo/internal/tensor"
)

func paramWith(data, grad []float64) *tensor.Tensor {
	p := tensor.New(1, len(data))
	copy(p.Data, data)
	copy(p.Grad, grad)
	return p
}

func TestSGDPlainStep(t *testing.T) {
	p := paramWith([]float64{1, 2}, []float64{0.5, -0.5})
	o := NewSGD(&SGDArgs{})
	o.Step([]*tensor.Tensor{p}, 0.1)
	assert.InDelta(t, 0.95, p.Data[0], 1e-12)
	assert.InDelta(t, 2.05, p.Data[1], 1e-12)
}

func TestSGDMomentumAccumulates(t *testing.T) {
	p := paramWith([]float64{1}, []float64{1})
	o := NewSGD(&SGDArgs{Momentum: 0.9})
	o.Step([]*tensor.Tensor{p}, 0.1) // v=1, p=0.9
	p.Grad[0] = 1
	o.Step([]*tensor.Tensor{p}, 0.1) // v=1.9, p=0.71
	assert.InDelta(t, 0.71, p.Data[0], 1e-12)
}

func TestSGDStateRoundTrip(t *testing.T) {
	p := paramWith([]float64{1}, []float64{1})
	o := NewSGD(&SGDArgs{Momentum: 0.9})
	o.Step([]*tensor.Tensor{p}, 0.1)

	restored := NewSGD(&SGDArgs{Momentum: 0.9})
	require.NoError(t, restored.LoadState(o.State()))

	q := paramWith(p.Data, []float64{1})
	o.Step([]*tensor.Tensor{paramWith(p.Data, []float64{1})}, 0.1)
	restored.Step([]*tensor.Tensor{q}, 0.1)
	assert.Equal(t, o.velocity, restored.velocity)
}

func TestAdamStateRoundTrip(t *testing.T) {
	args := &AdamArgs{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
	p := paramWith([]float64{1, -1}, []float64{0.3, 0.7})
	o := NewAdam(args)
	o.Step([]*tensor.Tensor{p}, 0.01)

	restored := NewAdam(args)
	require.NoError(t, restored.LoadState(o.State()))

	a := paramWith(p.Data, []float64{0.1, 0.1})
	b := paramWith(p.Data, []float64{0.1, 0.1})
	o.Step([]*tensor.Tensor{a}, 0.01)
	restored.Step([]*tensor.Tensor{b}, 0.01)
	assert.Equal(t, a.Data, b.Data)
}

func TestAdamLoadStateRejectsBadShape(t *testing.T) {
	o := NewAdam(&AdamArgs{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8})
	require.Error(t, o.LoadState([][]float64{{1}, {2}}))
}

func TestConstantSchedule(t *testing.T) {
	s := constantSchedule{lr: 0.3}
	assert.Equal(t, 0.3, s.LR(0))
	assert.Equal(t, 0.3, s.LR(1_000_000))
}

func TestStepDecaySchedule(t *testing.T) {
	s := stepDecaySchedule{base: 1.0, gamma: 0.1, stepSize: 10}
	assert.InDelta(t, 1.0, s.LR(9), 1e-12)
	assert.InDelta(t, 0.1, s.LR(10), 1e-12)
	assert.InDelta(t, 0.01, s.LR(25), 1e-12)
}

func TestWarmupCosineSchedule(t *testing.T) {
	s := warmupCosineSchedule{base: 1.0, min: 0.1, warmup: 10, total: 110}

	// Linear ramp during warmup.
	assert.InDelta(t, 0.1, s.LR(0), 1e-12)
	assert.InDelta(t, 1.0, s.LR(9), 1e-12)

	// Midpoint of the cosine phase sits halfway between base and min.
	assert.InDelta(t, 0.55, s.LR(60), 1e-9)

	// Clamped at min past the end.
	assert.InDelta(t, 0.1, s.LR(110), 1e-12)
	assert.InDelta(t, 0.1, s.LR(10_000), 1e-12)
}
