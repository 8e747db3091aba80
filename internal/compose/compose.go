// Package compose assembles one shared backbone with per-task heads and
// losses into a single trainable model. Tasks are co-trained: the aggregate
// loss is an explicit weighted sum, and the backbone's gradient is the sum
// of every task's contribution flowing back through the union feature rows.
package compose

import (
	"errors"
	"fmt"
	"math"

	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/tensor"
)

// ErrNonFiniteLoss reports a NaN or infinite per-task loss. The runner
// decides whether to retry the step or abort.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// Backbone is the shared feature extractor. Forward caches whatever its
// Backward needs; each worker replica owns its instances exclusively.
type Backbone interface {
	Forward(inputs *tensor.Tensor) *tensor.Tensor
	Backward(featGrad *tensor.Tensor)
	Parameters() []*tensor.Tensor
	// OutDim is the feature width every head consumes.
	OutDim() int
}

// Head maps backbone features to task predictions. Backward consumes the
// prediction gradient, accumulates parameter gradients, and returns the
// gradient with respect to its feature rows.
type Head interface {
	Forward(features *tensor.Tensor) *tensor.Tensor
	Backward(predGrad *tensor.Tensor) *tensor.Tensor
	Parameters() []*tensor.Tensor
}

// Loss scores predictions against a task batch, returning the scalar loss
// and the gradient with respect to the predictions.
type Loss interface {
	Compute(preds *tensor.Tensor, tb *data.TaskBatch) (float64, *tensor.Tensor, error)
}

// Task binds one task's head, loss and aggregation weight under its id.
type Task struct {
	ID     string
	Head   Head
	Loss   Loss
	Weight float64
}

// Composite is the assembled multi-task model.
type Composite struct {
	backbone Backbone
	tasks    []Task
}

// New validates task identifiers and weights. A zero weight is replaced by
// the uniform default 1.0; negative weights are rejected.
func New(backbone Backbone, tasks []Task) (*Composite, error) {
	if backbone == nil {
		return nil, errors.New("compose: nil backbone")
	}
	if len(tasks) == 0 {
		return nil, errors.New("compose: at least one task is required")
	}
	seen := map[string]bool{}
	for i := range tasks {
		t := &tasks[i]
		if t.ID == "" {
			return nil, errors.New("compose: empty task id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("compose: duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if t.Head == nil || t.Loss == nil {
			return nil, fmt.Errorf("compose: task %q missing head or loss", t.ID)
		}
		if t.Weight < 0 {
			return nil, fmt.Errorf("compose: task %q has negative weight %v", t.ID, t.Weight)
		}
		if t.Weight == 0 {
			t.Weight = 1.0
		}
	}
	return &Composite{backbone: backbone, tasks: tasks}, nil
}

// Tasks returns the task bindings in their stable order.
func (c *Composite) Tasks() []Task {
	return append([]Task(nil), c.tasks...)
}

// Forward runs the backbone once over the union inputs and routes each
// task's feature rows through its head. Tasks with an empty batch get no
// predictions.
func (c *Composite) Forward(b *data.Batch) (map[string]*tensor.Tensor, error) {
	preds := make(map[string]*tensor.Tensor, len(c.tasks))
	if b.Union == nil {
		return preds, nil
	}
	features := c.backbone.Forward(b.Union)
	for _, task := range c.tasks {
		r := b.Ranges[task.ID]
		if r.To == r.From {
			continue
		}
		preds[task.ID] = task.Head.Forward(features.SliceRows(r.From, r.To))
	}
	return preds, nil
}

// StepResult carries one step's losses and the retained prediction
// gradients Backward needs.
type StepResult struct {
	Total     float64
	PerTask   map[string]float64
	predGrads map[string]*tensor.Tensor
}

// ComputeLoss applies each task's loss and reduces them with AggregateLoss.
// An empty task batch contributes exactly zero; a non-finite per-task loss
// fails with ErrNonFiniteLoss before it can poison the aggregate.
func (c *Composite) ComputeLoss(preds map[string]*tensor.Tensor, b *data.Batch) (*StepResult, error) {
	res := &StepResult{
		PerTask:   make(map[string]float64, len(c.tasks)),
		predGrads: make(map[string]*tensor.Tensor, len(c.tasks)),
	}
	weights := make(map[string]float64, len(c.tasks))
	for _, task := range c.tasks {
		weights[task.ID] = task.Weight
		tb := b.Tasks[task.ID]
		if tb == nil || tb.Count == 0 {
			res.PerTask[task.ID] = 0
			continue
		}
		p, ok := preds[task.ID]
		if !ok {
			return nil, fmt.Errorf("compose: no predictions for task %q", task.ID)
		}
		value, grad, err := task.Loss.Compute(p, tb)
		if err != nil {
			return nil, fmt.Errorf("compose: task %q loss: %w", task.ID, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("compose: task %q: %w", task.ID, ErrNonFiniteLoss)
		}
		res.PerTask[task.ID] = value
		res.predGrads[task.ID] = grad
	}
	res.Total = AggregateLoss(weights, res.PerTask)
	return res, nil
}

// AggregateLoss is the named multi-task reduction: Σ w_i · loss_i over task
// ids present in losses. It is the single place the aggregation policy
// lives, so tests can audit it directly.
func AggregateLoss(weights, losses map[string]float64) float64 {
	total := 0.0
	for id, l := range losses {
		w, ok := weights[id]
		if !ok {
			w = 1.0
		}
		total += w * l
	}
	return total
}

// Backward propagates the combined loss: each task's prediction gradient is
// scaled by its weight, pushed through its head, and the resulting feature
// gradients are written into the disjoint union rows before the single
// backbone backward pass. Empty tasks are skipped, so they contribute no
// gradient at all.
func (c *Composite) Backward(b *data.Batch, res *StepResult) error {
	if b.Union == nil {
		return nil
	}
	unionGrad := tensor.New(b.Union.Rows(), c.backbone.OutDim())
	for _, task := range c.tasks {
		grad, ok := res.predGrads[task.ID]
		if !ok {
			continue
		}
		scaled := grad.Clone()
		tensor.Scale(scaled, task.Weight)
		featGrad := task.Head.Backward(scaled)
		r := b.Ranges[task.ID]
		cols := featGrad.Cols()
		copy(unionGrad.Data[r.From*cols:r.To*cols], featGrad.Data)
	}
	c.backbone.Backward(unionGrad)
	return nil
}

// Parameters returns the model's parameters in a stable order: backbone
// first, then each task's head in task order. The optimizer, the gradient
// allreduce and the checkpoint all rely on this ordering.
func (c *Composite) Parameters() []*tensor.Tensor {
	var out []*tensor.Tensor
	out = append(out, c.backbone.Parameters()...)
	for _, task := range c.tasks {
		out = append(out, task.Head.Parameters()...)
	}
	return out
}

// ZeroGrad clears every parameter gradient.
func (c *Composite) ZeroGrad() {
	for _, p := range c.Parameters() {
		p.ZeroGrad()
	}
}
