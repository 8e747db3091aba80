package data

import (
	"fmt"
	"math/rand"
)

// TaskSpec describes one task's pipeline inside a worker's feeder.
type TaskSpec struct {
	ID         string
	Dataset    Dataset
	Augmenters []Augmenter
	BatchSize  int
}

// Feeder produces one multi-task Batch per step for a single worker. Its
// position is a pure function of (seed, worker, step): Seek recomputes the
// per-task epoch and cursor arithmetically, which is what makes resumes
// reproduce the original batch sequence without persisting pipeline state.
type Feeder struct {
	seed    int64
	worker  int
	workers int
	order   []string
	feeds   map[string]*taskFeed
}

type taskFeed struct {
	spec   TaskSpec
	epoch  int
	cursor int
	step   int // step index within the current epoch
	shard  []int
}

// NewFeeder builds a feeder positioned at step 0.
func NewFeeder(seed int64, worker, workers int, specs []TaskSpec) (*Feeder, error) {
	f := &Feeder{
		seed:    seed,
		worker:  worker,
		workers: workers,
		feeds:   make(map[string]*taskFeed, len(specs)),
	}
	for _, spec := range specs {
		if spec.BatchSize <= 0 {
			return nil, fmt.Errorf("data: task %q batch size must be positive", spec.ID)
		}
		if _, dup := f.feeds[spec.ID]; dup {
			return nil, fmt.Errorf("data: duplicate task id %q", spec.ID)
		}
		f.order = append(f.order, spec.ID)
		tf := &taskFeed{spec: spec}
		tf.reshard(seed, worker, workers)
		f.feeds[spec.ID] = tf
	}
	return f, nil
}

func (tf *taskFeed) reshard(seed int64, worker, workers int) {
	tf.shard = Shard(tf.spec.Dataset.Len(), seed, tf.epoch, worker, workers)
	tf.cursor = 0
	tf.step = 0
}

// stepsPerEpoch is how many batches one epoch of this shard yields.
func (tf *taskFeed) stepsPerEpoch() int {
	l := len(tf.shard)
	if l == 0 {
		return 1
	}
	return (l + tf.spec.BatchSize - 1) / tf.spec.BatchSize
}

// Epoch reports the lead task's epoch, the value recorded in Training State.
func (f *Feeder) Epoch() int {
	if len(f.order) == 0 {
		return 0
	}
	return f.feeds[f.order[0]].epoch
}

// Seek positions every task feed at the given global step.
func (f *Feeder) Seek(step int64) {
	for _, id := range f.order {
		tf := f.feeds[id]
		tf.epoch = 0
		tf.reshard(f.seed, f.worker, f.workers)
		spe := int64(tf.stepsPerEpoch())
		tf.epoch = int(step / spe)
		tf.reshard(f.seed, f.worker, f.workers)
		within := int(step % spe)
		tf.step = within
		tf.cursor = within * tf.spec.BatchSize
		if tf.cursor > len(tf.shard) {
			tf.cursor = len(tf.shard)
		}
	}
}

// Next produces the batch for the current step and advances.
func (f *Feeder) Next() (*Batch, error) {
	tasks := make(map[string]*TaskBatch, len(f.order))
	for _, id := range f.order {
		tb, err := f.feeds[id].next(f.seed, f.worker, f.workers)
		if err != nil {
			return nil, err
		}
		tasks[id] = tb
	}
	return Assemble(f.order, tasks)
}

func (tf *taskFeed) next(seed int64, worker, workers int) (*TaskBatch, error) {
	if tf.cursor >= len(tf.shard) && len(tf.shard) > 0 {
		tf.epoch++
		tf.reshard(seed, worker, workers)
	}
	if len(tf.shard) == 0 {
		return &TaskBatch{TaskID: tf.spec.ID}, nil
	}

	take := tf.spec.BatchSize
	if remaining := len(tf.shard) - tf.cursor; take > remaining {
		take = remaining
	}

	// One rand stream per (stream, step) pair keeps mid-epoch positions
	// reproducible after Seek.
	rng := rand.New(rand.NewSource(batchSeed(
		StreamSeed(seed, tf.spec.ID, tf.epoch, worker), tf.step)))

	samples := make([]Sample, 0, take)
	for _, idx := range tf.shard[tf.cursor : tf.cursor+take] {
		s, err := tf.spec.Dataset.Sample(idx)
		if err != nil {
			return nil, fmt.Errorf("data: task %q sample %d: %w", tf.spec.ID, idx, err)
		}
		for _, aug := range tf.spec.Augmenters {
			s = aug.Apply(rng, s)
		}
		samples = append(samples, s)
	}
	tf.cursor += take
	tf.step++
	return Collate(tf.spec.ID, samples)
}

func batchSeed(streamSeed int64, step int) int64 {
	return streamSeed ^ int64(uint64(int64(step)+1)*0x9E3779B97F4A7C15)
}
