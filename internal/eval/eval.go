// Package eval accumulates per-task metrics over an evaluation split and
// renders one cross-task summary report. Metrics are pluggable through the
// module registry like every other component and must support streaming
// updates; the evaluator never assumes the whole split fits in memory.
package eval

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/tensor"
)

// Metric accumulates one task's predictions against ground truth.
type Metric interface {
	Name() string
	Update(preds *tensor.Tensor, tb *data.TaskBatch) error
	Compute() float64
	Reset()
}

// Entry is one (task, metric, value) result row.
type Entry struct {
	TaskID string  `json:"task_id"`
	Metric string  `json:"metric_name"`
	Value  float64 `json:"value"`
}

// Report is the cross-task summary for one evaluation pass, ordered by
// (task id, metric name) so repeated runs render identically.
type Report struct {
	RunID      string  `json:"run_id"`
	GlobalStep int64   `json:"global_step"`
	Entries    []Entry `json:"entries"`
}

// Evaluator owns the metric instances of every task for one run.
type Evaluator struct {
	metrics map[string][]Metric
}

// New creates an evaluator over per-task metric sets.
func New(taskMetrics map[string][]Metric) *Evaluator {
	return &Evaluator{metrics: taskMetrics}
}

// Observe feeds one batch of a task's predictions into its metrics.
func (e *Evaluator) Observe(taskID string, preds *tensor.Tensor, tb *data.TaskBatch) error {
	metrics, ok := e.metrics[taskID]
	if !ok {
		return fmt.Errorf("eval: no metrics configured for task %q", taskID)
	}
	if tb.Count == 0 {
		return nil
	}
	for _, m := range metrics {
		if err := m.Update(preds, tb); err != nil {
			return fmt.Errorf("eval: task %q metric %q: %w", taskID, m.Name(), err)
		}
	}
	return nil
}

// Report computes every metric and returns the ordered summary.
func (e *Evaluator) Report(runID string, globalStep int64) Report {
	var entries []Entry
	for taskID, metrics := range e.metrics {
		for _, m := range metrics {
			entries = append(entries, Entry{TaskID: taskID, Metric: m.Name(), Value: m.Compute()})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TaskID != entries[j].TaskID {
			return entries[i].TaskID < entries[j].TaskID
		}
		return entries[i].Metric < entries[j].Metric
	})
	return Report{RunID: runID, GlobalStep: globalStep, Entries: entries}
}

// Reset clears all accumulated state so the evaluator can stream the next
// evaluation pass.
func (e *Evaluator) Reset() {
	for _, metrics := range e.metrics {
		for _, m := range metrics {
			m.Reset()
		}
	}
}

// Log emits the report through a structured logger, one record per entry,
// suitable for append-only consumption.
func (r Report) Log(logger *slog.Logger) {
	for _, entry := range r.Entries {
		logger.Info("eval",
			"run_id", r.RunID,
			"global_step", r.GlobalStep,
			"task_id", entry.TaskID,
			"metric", entry.Metric,
			"value", entry.Value,
		)
	}
}
