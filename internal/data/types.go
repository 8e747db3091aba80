package data

import (
	"math/rand"

	"github.com/vk/perceptgo/internal/tensor"
)

// Sample is one dataset element: a feature row plus a task-specific target.
// Targets stay opaque to the pipeline; only the task's loss and metrics
// interpret them.
type Sample struct {
	Input  *tensor.Tensor
	Target any
}

// Dataset is random access to a task's samples.
type Dataset interface {
	Len() int
	Sample(i int) (Sample, error)
}

// Augmenter is a pure, stateless transform over a sample. Randomness comes
// exclusively from the provided source, so a stream seed fully determines
// the augmented sequence.
type Augmenter interface {
	Apply(rng *rand.Rand, s Sample) Sample
}
