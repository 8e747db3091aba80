package data

import (
	"fmt"

	"github.com/vk/perceptgo/internal/tensor"
)

// TaskBatch is one task's slice of a step batch. Count may be zero; the
// model composition skip-masks empty task batches.
type TaskBatch struct {
	TaskID  string
	Inputs  *tensor.Tensor
	Targets []any
	Count   int
}

// Range is a half-open row interval into the union input tensor.
type Range struct {
	From, To int
}

// Batch is the per-step unit of work: per-task batches aligned into one
// union input tensor so the shared backbone runs once. Consumed exactly
// once per step and not retained.
type Batch struct {
	Order  []string
	Tasks  map[string]*TaskBatch
	Union  *tensor.Tensor
	Ranges map[string]Range
}

// Collate stacks per-sample input rows into one task batch. All samples of
// a task must share the feature width.
func Collate(taskID string, samples []Sample) (*TaskBatch, error) {
	if len(samples) == 0 {
		return &TaskBatch{TaskID: taskID}, nil
	}
	cols := samples[0].Input.Cols()
	inputs := tensor.New(len(samples), cols)
	targets := make([]any, len(samples))
	for i, s := range samples {
		if s.Input.Cols() != cols || s.Input.Rows() != 1 {
			return nil, fmt.Errorf("data: task %q sample %d has shape %v, want [1 %d]", taskID, i, s.Input.Shape(), cols)
		}
		copy(inputs.Data[i*cols:(i+1)*cols], s.Input.Data)
		targets[i] = s.Target
	}
	return &TaskBatch{TaskID: taskID, Inputs: inputs, Targets: targets, Count: len(samples)}, nil
}

// Assemble combines per-task batches, in the given task order, into one
// Batch with a union input tensor and per-task row ranges. Empty task
// batches get an empty range.
func Assemble(order []string, tasks map[string]*TaskBatch) (*Batch, error) {
	total, cols := 0, 0
	for _, id := range order {
		tb, ok := tasks[id]
		if !ok {
			return nil, fmt.Errorf("data: missing task batch %q", id)
		}
		if tb.Count == 0 {
			continue
		}
		if cols == 0 {
			cols = tb.Inputs.Cols()
		} else if tb.Inputs.Cols() != cols {
			return nil, fmt.Errorf("data: task %q feature width %d does not match union width %d", id, tb.Inputs.Cols(), cols)
		}
		total += tb.Count
	}

	b := &Batch{
		Order:  append([]string(nil), order...),
		Tasks:  tasks,
		Ranges: make(map[string]Range, len(order)),
	}
	if total == 0 {
		for _, id := range order {
			b.Ranges[id] = Range{}
		}
		return b, nil
	}

	b.Union = tensor.New(total, cols)
	row := 0
	for _, id := range order {
		tb := tasks[id]
		if tb.Count == 0 {
			b.Ranges[id] = Range{From: row, To: row}
			continue
		}
		copy(b.Union.Data[row*cols:(row+tb.Count)*cols], tb.Inputs.Data)
		b.Ranges[id] = Range{From: row, To: row + tb.Count}
		row += tb.Count
	}
	return b, nil
}
