package runner

import (
	"time"

	"github.com/vk/perceptgo/internal/config"
)

// CheckpointConfig controls periodic persistence of run state.
type CheckpointConfig struct {
	// Interval counts optimizer steps between checkpoints. Zero disables
	// periodic checkpoints; a final one is still written on exit.
	Interval int64  `cfg:"interval,optional"`
	Dir      string `cfg:"dir,optional"`
	// KeepLatest prunes every superseded record after a successful write.
	KeepLatest bool `cfg:"keep_latest,optional"`
}

// RunConfig is the top-level "run" section of a resolved experiment config.
type RunConfig struct {
	Seed         int64            `cfg:"seed,optional"`
	MaxSteps     int64            `cfg:"max_steps"`
	Workers      int              `cfg:"workers,optional"`
	EvalInterval int64            `cfg:"eval_interval,optional"`
	RetryLimit   int              `cfg:"retry_limit,optional"`
	SyncTimeout  time.Duration    `cfg:"sync_timeout,optional"`
	GradClip     float64          `cfg:"grad_clip,optional"`
	Checkpoint   CheckpointConfig `cfg:"checkpoint,optional"`
}

// TaskConfig describes one task branch of the composite model.
type TaskConfig struct {
	ID         string        `cfg:"id"`
	Weight     float64       `cfg:"weight,optional"`
	BatchSize  int           `cfg:"batch_size"`
	Dataset    config.Node   `cfg:"dataset"`
	ValDataset config.Node   `cfg:"val_dataset,optional"`
	Transforms []config.Node `cfg:"transforms,optional"`
	Head       config.Node   `cfg:"head"`
	Loss       config.Node   `cfg:"loss"`
	Metrics    []config.Node `cfg:"metrics,optional"`
}

// ExperimentConfig is the whole resolved experiment document.
type ExperimentConfig struct {
	Run       RunConfig    `cfg:"run"`
	Backbone  config.Node  `cfg:"backbone"`
	Optimizer config.Node  `cfg:"optimizer"`
	Scheduler config.Node  `cfg:"scheduler"`
	Tasks     []TaskConfig `cfg:"tasks"`
}

// DecodeExperiment decodes a resolved config tree and applies defaults.
func DecodeExperiment(root config.Node) (*ExperimentConfig, error) {
	var ec ExperimentConfig
	if err := config.Decode(root, &ec); err != nil {
		return nil, err
	}
	if ec.Run.Workers <= 0 {
		ec.Run.Workers = 1
	}
	if ec.Run.RetryLimit <= 0 {
		ec.Run.RetryLimit = 3
	}
	if ec.Run.SyncTimeout <= 0 {
		ec.Run.SyncTimeout = 30 * time.Second
	}
	if ec.Run.Checkpoint.Dir == "" {
		ec.Run.Checkpoint.Dir = "checkpoints"
	}
	return &ec, nil
}
