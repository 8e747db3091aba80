package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/tensor"
)

// meanMetric streams a running mean over all prediction elements.
type meanMetric struct {
	name  string
	sum   float64
	count int
}

func (m *meanMetric) Name() string { return m.name }

func (m *meanMetric) Update(preds *tensor.Tensor, _ *data.TaskBatch) error {
	for _, v := range preds.Data {
		m.sum += v
		m.count++
	}
	return nil
}

func (m *meanMetric) Compute() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

func (m *meanMetric) Reset() { m.sum, m.count = 0, 0 }

func predBatch(vals ...float64) (*tensor.Tensor, *data.TaskBatch) {
	preds := tensor.New(len(vals), 1)
	copy(preds.Data, vals)
	return preds, &data.TaskBatch{Count: len(vals)}
}

func TestStreamingAccumulation(t *testing.T) {
	e := New(map[string][]Metric{"det": {&meanMetric{name: "mean"}}})

	p1, b1 := predBatch(1, 2)
	require.NoError(t, e.Observe("det", p1, b1))
	p2, b2 := predBatch(3)
	require.NoError(t, e.Observe("det", p2, b2))

	rep := e.Report("run-1", 100)
	require.Len(t, rep.Entries, 1)
	assert.InDelta(t, 2.0, rep.Entries[0].Value, 1e-12, "streaming mean over both batches")
	assert.Equal(t, int64(100), rep.GlobalStep)
	assert.Equal(t, "run-1", rep.RunID)
}

func TestReportStableOrder(t *testing.T) {
	e := New(map[string][]Metric{
		"seg": {&meanMetric{name: "pixel_acc"}, &meanMetric{name: "miou"}},
		"cls": {&meanMetric{name: "top1"}},
		"det": {&meanMetric{name: "mean_iou"}},
	})

	rep := e.Report("r", 1)
	var got []string
	for _, entry := range rep.Entries {
		got = append(got, entry.TaskID+"/"+entry.Metric)
	}
	assert.Equal(t, []string{"cls/top1", "det/mean_iou", "seg/miou", "seg/pixel_acc"}, got)
}

func TestObserveUnknownTask(t *testing.T) {
	e := New(map[string][]Metric{})
	p, b := predBatch(1)
	require.Error(t, e.Observe("nope", p, b))
}

func TestObserveEmptyBatchIsNoop(t *testing.T) {
	m := &meanMetric{name: "mean"}
	e := New(map[string][]Metric{"det": {m}})
	require.NoError(t, e.Observe("det", nil, &data.TaskBatch{Count: 0}))
	assert.Zero(t, m.count)
}

func TestReset(t *testing.T) {
	m := &meanMetric{name: "mean"}
	e := New(map[string][]Metric{"det": {m}})
	p, b := predBatch(5)
	require.NoError(t, e.Observe("det", p, b))
	e.Reset()
	assert.Zero(t, m.Compute())
}
