package segmentation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/tensor"
)

func TestDatasetMaskShape(t *testing.T) {
	d := &dataset{size: 6, dim: 10, pixels: 4, classes: 3, seed: 1}
	s, err := d.Sample(2)
	require.NoError(t, err)
	mask := s.Target.([]int64)
	require.Len(t, mask, 4)
	for _, v := range mask {
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(3))
	}
}

func TestPixelCEUniformLogits(t *testing.T) {
	// 2 pixels, 2 classes, all-zero logits: loss is log(2) per pixel.
	preds := tensor.New(1, 4)
	tb := &data.TaskBatch{Targets: []any{[]int64{0, 1}}, Count: 1}

	value, grad, err := pixelCE{classes: 2}.Compute(preds, tb)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), value, 1e-9)

	// Gradient pushes probability toward each pixel's label.
	assert.Negative(t, grad.Data[0]) // pixel 0, label 0
	assert.Positive(t, grad.Data[1])
	assert.Positive(t, grad.Data[2]) // pixel 1, label 1
	assert.Negative(t, grad.Data[3])
}

func TestPixelCERejectsMismatchedMask(t *testing.T) {
	preds := tensor.New(1, 4)
	_, _, err := pixelCE{classes: 2}.Compute(preds, &data.TaskBatch{Targets: []any{[]int64{0}}, Count: 1})
	require.Error(t, err)
}

func TestPixelAccuracy(t *testing.T) {
	m := &pixelAccuracy{classes: 2}
	preds := tensor.New(1, 4)
	preds.Data[1] = 1 // pixel 0 predicts class 1
	preds.Data[2] = 1 // pixel 1 predicts class 0

	require.NoError(t, m.Update(preds, &data.TaskBatch{Targets: []any{[]int64{1, 1}}, Count: 1}))
	assert.InDelta(t, 0.5, m.Compute(), 1e-12)

	m.Reset()
	assert.Zero(t, m.Compute())
}
