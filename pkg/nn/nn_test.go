package nn_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/absmach/cffl/pkg/dataset"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogisticRegressionForward(t *testing.T) {
	t.Parallel()

	m := nn.NewLogisticRegression(4, 3, rand.New(rand.NewPCG(1, 1)))
	out := m.Forward([][]float64{{1, 0, -1, 2}, {0, 0, 0, 0}})

	require.Len(t, out, 2)
	for _, p := range out {
		require.Len(t, p, 3)
		sum := 0.0
		for _, v := range p {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestLogisticRegressionState(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(2, 2))
	m := nn.NewLogisticRegression(3, 2, rng)
	other := nn.NewLogisticRegression(3, 2, rng)

	saved := m.SaveState()
	saved[0].Data[0] += 100
	assert.NotEqual(t, saved[0].Data[0], m.Parameters()[0].Data[0], "saved state must be a copy")

	require.NoError(t, m.LoadState(other.SaveState()))
	assert.Equal(t, other.Parameters(), m.Parameters())

	clone := m.Clone()
	clone.Parameters()[1].Data[0] = 42
	assert.NotEqual(t, 42.0, m.Parameters()[1].Data[0])

	wrong := nn.NewLogisticRegression(4, 2, rng)
	assert.Error(t, m.LoadState(wrong.SaveState()))
}

func TestSGDTrainingImprovesAccuracy(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 8))
	data := dataset.Synthetic(600, 5, 3, 0.1, rng)
	train, val, err := data.TrainValSplit(0.8)
	require.NoError(t, err)

	m := nn.NewLogisticRegression(5, 3, rng)
	opt := nn.NewSGD(m, 0.5)
	loader := dataset.NewLoader(train, 32)
	valLoader := dataset.NewLoader(val, 64)

	ctx := context.Background()
	lossBefore, _, err := nn.Evaluator{}.Evaluate(ctx, m, valLoader)
	require.NoError(t, err)

	for epoch := 0; epoch < 20; epoch++ {
		for _, b := range loader.Batches() {
			opt.ZeroGrad()
			m.Backward(b)
			opt.Step()
		}
	}

	lossAfter, acc, err := nn.Evaluator{}.Evaluate(ctx, m, valLoader)
	require.NoError(t, err)
	assert.Less(t, lossAfter, lossBefore)
	assert.Greater(t, acc, 0.7)
}

func TestExponentialLR(t *testing.T) {
	t.Parallel()

	m := nn.NewLogisticRegression(1, 2, rand.New(rand.NewPCG(0, 0)))
	opt := nn.NewSGD(m, 0.1)
	sched := nn.NewExponentialLR(0.5)(opt)

	sched.Step()
	sched.Step()

	assert.InDelta(t, 0.025, opt.LearningRate(), 1e-12)
}

func TestEvaluatorHonoursContext(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(9, 9))
	m := nn.NewLogisticRegression(2, 2, rng)
	loader := dataset.NewLoader(dataset.Synthetic(10, 2, 2, 0, rng), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := nn.Evaluator{}.Evaluate(ctx, m, loader)
	assert.ErrorIs(t, err, context.Canceled)

	loss, acc, err := nn.Evaluator{}.Evaluate(context.Background(), m, dataset.NewLoader(dataset.Dataset{}, 4))
	require.NoError(t, err)
	assert.Zero(t, loss)
	assert.Zero(t, acc)
}

func TestZeroGrad(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(4, 4))
	m := nn.NewLogisticRegression(2, 2, rng)
	opt := nn.NewSGD(m, 0.1)

	m.Backward(fl.Batch{X: [][]float64{{1, 2}}, Y: []int{1}})
	assert.False(t, fl.GradientUpdate(m.Gradients()).IsZero())

	opt.ZeroGrad()
	assert.True(t, fl.GradientUpdate(m.Gradients()).IsZero())
}
