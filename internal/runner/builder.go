package runner

import (
	"context"
	"fmt"

	"github.com/vk/perceptgo/internal/checkpoint"
	"github.com/vk/perceptgo/internal/compose"
	"github.com/vk/perceptgo/internal/config"
	"github.com/vk/perceptgo/internal/data"
	"github.com/vk/perceptgo/internal/eval"
	"github.com/vk/perceptgo/internal/registry"
	"github.com/vk/perceptgo/internal/tensor"
)

// replica is one worker's private copy of the full training pipeline. No
// object inside a replica is ever shared with another worker; cross-worker
// communication goes through the collective package only.
type replica struct {
	worker       int
	model        *compose.Composite
	feeder       *data.Feeder
	opt          Optimizer
	params       []*tensor.Tensor
	lastCkptStep int64
}

// valSet is one task's held-out split, evaluated in document order.
type valSet struct {
	taskID    string
	dataset   data.Dataset
	batchSize int
}

func buildTyped[T any](ctx context.Context, reg *registry.Registry, category string, node config.Node) (T, error) {
	var zero T
	desc, err := registry.DescriptorFromNode(category, node)
	if err != nil {
		return zero, err
	}
	obj, err := reg.Build(ctx, desc)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("runner: %s/%s built %T, which does not satisfy %T", category, desc.Type, obj, zero)
	}
	return typed, nil
}

// buildReplica constructs one worker's model, optimizer and feeder from the
// resolved configuration. Factories must be deterministic given the seed, so
// every replica starts with the same parameter shapes; values are then
// broadcast from worker 0 to remove any residual divergence.
func buildReplica(ctx context.Context, reg *registry.Registry, cfg *ExperimentConfig, seed int64, worker int) (*replica, error) {
	backbone, err := buildTyped[compose.Backbone](ctx, reg, registry.CategoryBackbone, cfg.Backbone)
	if err != nil {
		return nil, err
	}

	tasks := make([]compose.Task, 0, len(cfg.Tasks))
	specs := make([]data.TaskSpec, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		head, err := buildTyped[compose.Head](ctx, reg, registry.CategoryHead, tc.Head)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", tc.ID, err)
		}
		loss, err := buildTyped[compose.Loss](ctx, reg, registry.CategoryLoss, tc.Loss)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", tc.ID, err)
		}
		tasks = append(tasks, compose.Task{ID: tc.ID, Head: head, Loss: loss, Weight: tc.Weight})

		dataset, err := buildTyped[data.Dataset](ctx, reg, registry.CategoryDataset, tc.Dataset)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", tc.ID, err)
		}
		var augmenters []data.Augmenter
		for i, tn := range tc.Transforms {
			aug, err := buildTyped[data.Augmenter](ctx, reg, registry.CategoryTransform, tn)
			if err != nil {
				return nil, fmt.Errorf("task %q transform %d: %w", tc.ID, i, err)
			}
			augmenters = append(augmenters, aug)
		}
		specs = append(specs, data.TaskSpec{
			ID:         tc.ID,
			Dataset:    dataset,
			Augmenters: augmenters,
			BatchSize:  tc.BatchSize,
		})
	}

	model, err := compose.New(backbone, tasks)
	if err != nil {
		return nil, err
	}
	feeder, err := data.NewFeeder(seed, worker, cfg.Run.Workers, specs)
	if err != nil {
		return nil, err
	}
	opt, err := buildTyped[Optimizer](ctx, reg, registry.CategoryOptimizer, cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	return &replica{
		worker: worker,
		model:  model,
		feeder: feeder,
		opt:    opt,
		params: model.Parameters(),
	}, nil
}

// buildEvaluator constructs worker 0's metric sets and validation splits.
// Tasks without a validation dataset or metrics sit out of evaluation.
func buildEvaluator(ctx context.Context, reg *registry.Registry, cfg *ExperimentConfig) (*eval.Evaluator, []valSet, error) {
	taskMetrics := make(map[string][]eval.Metric)
	var sets []valSet
	for _, tc := range cfg.Tasks {
		if tc.ValDataset == nil || len(tc.Metrics) == 0 {
			continue
		}
		dataset, err := buildTyped[data.Dataset](ctx, reg, registry.CategoryDataset, tc.ValDataset)
		if err != nil {
			return nil, nil, fmt.Errorf("task %q val dataset: %w", tc.ID, err)
		}
		var metrics []eval.Metric
		for i, mn := range tc.Metrics {
			m, err := buildTyped[eval.Metric](ctx, reg, registry.CategoryMetric, mn)
			if err != nil {
				return nil, nil, fmt.Errorf("task %q metric %d: %w", tc.ID, i, err)
			}
			metrics = append(metrics, m)
		}
		taskMetrics[tc.ID] = metrics
		sets = append(sets, valSet{taskID: tc.ID, dataset: dataset, batchSize: tc.BatchSize})
	}
	if len(taskMetrics) == 0 {
		return nil, nil, nil
	}
	return eval.New(taskMetrics), sets, nil
}

// taskSignatures extracts the identifying configuration of each task for the
// checkpoint task-set hash. Head and loss shape the trainable model, so they
// identify the task; datasets, transforms and metrics do not.
func taskSignatures(cfg *ExperimentConfig) []checkpoint.TaskSignature {
	sigs := make([]checkpoint.TaskSignature, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		sig := config.Node{"head": tc.Head}
		if tc.Loss != nil {
			sig["loss"] = tc.Loss
		}
		sigs = append(sigs, checkpoint.TaskSignature{ID: tc.ID, Config: sig})
	}
	return sigs
}

// broadcastParams copies worker 0's parameter values into every other
// replica, making the start state bitwise-identical across workers.
func broadcastParams(replicas []*replica) error {
	src := replicas[0].params
	for _, rep := range replicas[1:] {
		if len(rep.params) != len(src) {
			return fmt.Errorf("runner: worker %d built %d parameters, worker 0 built %d", rep.worker, len(rep.params), len(src))
		}
		for i, p := range rep.params {
			if len(p.Data) != len(src[i].Data) {
				return fmt.Errorf("runner: worker %d parameter %d has size %d, worker 0 has %d", rep.worker, i, len(p.Data), len(src[i].Data))
			}
			copy(p.Data, src[i].Data)
		}
	}
	return nil
}

func snapshotParams(params []*tensor.Tensor) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = append([]float64(nil), p.Data...)
	}
	return out
}

func loadParams(params []*tensor.Tensor, values [][]float64) error {
	if len(values) != len(params) {
		return fmt.Errorf("runner: checkpoint holds %d parameters, model has %d", len(values), len(params))
	}
	for i, p := range params {
		if len(values[i]) != len(p.Data) {
			return fmt.Errorf("runner: checkpoint parameter %d has size %d, model has %d", i, len(values[i]), len(p.Data))
		}
		copy(p.Data, values[i])
	}
	return nil
}
