package compose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/tensor"
)

// identityBackbone passes inputs through and records the gradient it was
// handed, so tests can inspect the summed contributions.
type identityBackbone struct {
	dim      int
	param    *tensor.Tensor
	lastGrad *tensor.Tensor
}

func newIdentityBackbone(dim int) *identityBackbone {
	return &identityBackbone{dim: dim, param: tensor.New(dim, dim)}
}

func (b *identityBackbone) Forward(inputs *tensor.Tensor) *tensor.Tensor { return inputs }
func (b *identityBackbone) Backward(featGrad *tensor.Tensor)            { b.lastGrad = featGrad }
func (b *identityBackbone) Parameters() []*tensor.Tensor                { return []*tensor.Tensor{b.param} }
func (b *identityBackbone) OutDim() int                                 { return b.dim }

// scaleHead multiplies features by a fixed factor.
type scaleHead struct {
	factor float64
	param  *tensor.Tensor
}

func (h *scaleHead) Forward(features *tensor.Tensor) *tensor.Tensor {
	out := features.Clone()
	tensor.Scale(out, h.factor)
	return out
}

func (h *scaleHead) Backward(predGrad *tensor.Tensor) *tensor.Tensor {
	out := predGrad.Clone()
	tensor.Scale(out, h.factor)
	return out
}

func (h *scaleHead) Parameters() []*tensor.Tensor { return []*tensor.Tensor{h.param} }

// meanLoss is the mean of predictions; its gradient is 1/n everywhere.
type meanLoss struct{ value float64 }

func (l *meanLoss) Compute(preds *tensor.Tensor, _ *data.TaskBatch) (float64, *tensor.Tensor, error) {
	if l.value != 0 {
		grad := tensor.New(preds.Rows(), preds.Cols())
		return l.value, grad, nil
	}
	sum := 0.0
	for _, v := range preds.Data {
		sum += v
	}
	n := float64(preds.Size())
	grad := tensor.New(preds.Rows(), preds.Cols())
	for i := range grad.Data {
		grad.Data[i] = 1 / n
	}
	return sum / n, grad, nil
}

func twoTaskBatch(t *testing.T, detSamples, clsSamples int) *data.Batch {
	t.Helper()
	mk := func(n int) []data.Sample {
		out := make([]data.Sample, n)
		for i := range out {
			in := tensor.New(1, 2)
			in.Data[0], in.Data[1] = 1, 1
			out[i] = data.Sample{Input: in}
		}
		return out
	}
	det, err := data.Collate("det", mk(detSamples))
	require.NoError(t, err)
	cls, err := data.Collate("cls", mk(clsSamples))
	require.NoError(t, err)
	b, err := data.Assemble([]string{"det", "cls"}, map[string]*data.TaskBatch{"det": det, "cls": cls})
	require.NoError(t, err)
	return b
}

func TestAggregateLoss(t *testing.T) {
	got := AggregateLoss(
		map[string]float64{"det": 1.0, "cls": 0.5},
		map[string]float64{"det": 2.0, "cls": 4.0},
	)
	assert.Equal(t, 1.0*2.0+0.5*4.0, got)
}

func TestComputeLossWeightedSum(t *testing.T) {
	c, err := New(newIdentityBackbone(2), []Task{
		{ID: "det", Head: &scaleHead{factor: 1, param: tensor.New(1, 2)}, Loss: &meanLoss{value: 3.0}, Weight: 1.0},
		{ID: "cls", Head: &scaleHead{factor: 1, param: tensor.New(1, 2)}, Loss: &meanLoss{value: 2.0}, Weight: 0.5},
	})
	require.NoError(t, err)

	b := twoTaskBatch(t, 2, 2)
	preds, err := c.Forward(b)
	require.NoError(t, err)

	res, err := c.ComputeLoss(preds, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0*3.0+0.5*2.0, res.Total, 1e-12)
	assert.Equal(t, 3.0, res.PerTask["det"])
	assert.Equal(t, 2.0, res.PerTask["cls"])
}

// Detection weight 1.0, classification weight 0.5, zero classification
// samples: the aggregate equals the detection loss alone and no gradient
// turns NaN.
func TestEmptyTaskContributesZero(t *testing.T) {
	bb := newIdentityBackbone(2)
	c, err := New(bb, []Task{
		{ID: "det", Head: &scaleHead{factor: 1, param: tensor.New(1, 2)}, Loss: &meanLoss{}, Weight: 1.0},
		{ID: "cls", Head: &scaleHead{factor: 1, param: tensor.New(1, 2)}, Loss: &meanLoss{}, Weight: 0.5},
	})
	require.NoError(t, err)

	b := twoTaskBatch(t, 4, 0)
	preds, err := c.Forward(b)
	require.NoError(t, err)
	_, hasCls := preds["cls"]
	assert.False(t, hasCls, "empty task gets no predictions")

	res, err := c.ComputeLoss(preds, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.PerTask["cls"])
	assert.Equal(t, res.PerTask["det"], res.Total)

	require.NoError(t, c.Backward(b, res))
	require.NotNil(t, bb.lastGrad)
	for _, g := range bb.lastGrad.Data {
		assert.False(t, math.IsNaN(g))
	}
}

func TestBackwardScalesByWeightAndRoutesRows(t *testing.T) {
	bb := newIdentityBackbone(2)
	c, err := New(bb, []Task{
		{ID: "det", Head: &scaleHead{factor: 2, param: tensor.New(1, 2)}, Loss: &meanLoss{}, Weight: 1.0},
		{ID: "cls", Head: &scaleHead{factor: 2, param: tensor.New(1, 2)}, Loss: &meanLoss{}, Weight: 0.5},
	})
	require.NoError(t, err)

	b := twoTaskBatch(t, 1, 1)
	preds, err := c.Forward(b)
	require.NoError(t, err)
	res, err := c.ComputeLoss(preds, b)
	require.NoError(t, err)
	require.NoError(t, c.Backward(b, res))

	// meanLoss grad is 1/n per element (n=2 per row here); the head doubles
	// it; det keeps weight 1.0, cls is halved.
	require.NotNil(t, bb.lastGrad)
	assert.InDelta(t, 1.0*2*0.5, bb.lastGrad.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5*2*0.5, bb.lastGrad.At(1, 0), 1e-12)
}

func TestNonFiniteLossRejected(t *testing.T) {
	c, err := New(newIdentityBackbone(2), []Task{
		{ID: "det", Head: &scaleHead{factor: 1, param: tensor.New(1, 2)}, Loss: &meanLoss{value: math.NaN()}},
	})
	require.NoError(t, err)

	b := twoTaskBatch(t, 1, 0)
	// Rebuild with only det present.
	det := b.Tasks["det"]
	single, err := data.Assemble([]string{"det"}, map[string]*data.TaskBatch{"det": det})
	require.NoError(t, err)

	preds, err := c.Forward(single)
	require.NoError(t, err)
	_, err = c.ComputeLoss(preds, single)
	require.ErrorIs(t, err, ErrNonFiniteLoss)
}

func TestNewValidation(t *testing.T) {
	head := &scaleHead{factor: 1, param: tensor.New(1, 2)}
	loss := &meanLoss{}

	_, err := New(nil, []Task{{ID: "a", Head: head, Loss: loss}})
	require.Error(t, err)

	_, err = New(newIdentityBackbone(2), nil)
	require.Error(t, err)

	_, err = New(newIdentityBackbone(2), []Task{
		{ID: "a", Head: head, Loss: loss},
		{ID: "a", Head: head, Loss: loss},
	})
	require.Error(t, err)

	_, err = New(newIdentityBackbone(2), []Task{{ID: "a", Head: head, Loss: loss, Weight: -1}})
	require.Error(t, err)

	c, err := New(newIdentityBackbone(2), []Task{{ID: "a", Head: head, Loss: loss}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Tasks()[0].Weight, "zero weight defaults to uniform")
}

func TestParametersStableOrder(t *testing.T) {
	bb := newIdentityBackbone(2)
	h1 := &scaleHead{factor: 1, param: tensor.New(1, 2)}
	h2 := &scaleHead{factor: 1, param: tensor.New(1, 2)}
	c, err := New(bb, []Task{
		{ID: "det", Head: h1, Loss: &meanLoss{}},
		{ID: "cls", Head: h2, Loss: &meanLoss{}},
	})
	require.NoError(t, err)

	params := c.Parameters()
	require.Len(t, params, 3)
	assert.Same(t, bb.param, params[0])
	assert.Same(t, h1.param, params[1])
	assert.Same(t, h2.param, params[2])
}
