package fl

import "context"

// Batch is one (inputs, targets) pair produced by a DataLoader.
type Batch struct {
	X [][]float64
	Y []int
}

func (b Batch) Len() int {
	return len(b.Y)
}

// Model is the trainable network the coordinator treats as opaque.
// Parameters must return tensors that alias the model's live storage so
// that ApplyUpdate can mutate them in place.
type Model interface {
	Forward(x [][]float64) [][]float64
	// Backward accumulates parameter gradients for the batch and returns its mean loss.
	Backward(b Batch) float64
	Parameters() []Tensor
	Gradients() []Tensor
	SaveState() []Tensor
	LoadState(state []Tensor) error
	Clone() Model
}

type Optimizer interface {
	Step()
	ZeroGrad()
	SetLearningRate(lr float64)
	LearningRate() float64
}

type LRScheduler interface {
	Step()
}

// DataLoader yields a restartable sequence of batches.
type DataLoader interface {
	Batches() []Batch
	BatchSize() int
	Len() int
}

type MetricEvaluator interface {
	Evaluate(ctx context.Context, m Model, loader DataLoader) (loss, accuracy float64, err error)
}

// ModelFunc builds a freshly initialised model.
type ModelFunc func() Model

// OptimizerFunc builds an optimizer bound to m.
type OptimizerFunc func(m Model, lr float64) Optimizer

// SchedulerFunc builds a learning-rate scheduler bound to opt.
type SchedulerFunc func(opt Optimizer) LRScheduler
