package dssgd_test

import (
	"math/rand/v2"
	"testing"

	"github.com/absmach/cffl/pkg/dssgd"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/nn"
	"github.com/absmach/cffl/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitUpdate(m fl.Model, idx int, v float64) fl.GradientUpdate {
	u := fl.ZeroUpdate(m.Parameters())
	u[0].Data[idx] = v

	return u
}

func TestRotate(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	baseline := nn.NewLogisticRegression(2, 2, rng)
	start := fl.GradientUpdate(baseline.SaveState()).Flatten()

	replicas := []fl.Model{
		nn.NewLogisticRegression(2, 2, rng),
		nn.NewLogisticRegression(2, 2, rng),
		nn.NewLogisticRegression(2, 2, rng),
	}
	updates := []fl.GradientUpdate{
		unitUpdate(baseline, 0, 1),
		unitUpdate(baseline, 1, 10),
		unitUpdate(baseline, 2, 100),
	}

	r := dssgd.NewRotator(baseline, nil)
	seq, err := r.Rotate(1, updates, replicas)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, seq)

	// Worker 1 goes first and only sees its own update; worker 0 goes last
	// and sees all three.
	expect := func(deltas map[int]float64) []float64 {
		out := append([]float64(nil), start...)
		for i, d := range deltas {
			out[i] += d
		}

		return out
	}
	assert.InDeltaSlice(t, expect(map[int]float64{1: 10}), fl.GradientUpdate(replicas[1].Parameters()).Flatten(), 1e-12)
	assert.InDeltaSlice(t, expect(map[int]float64{1: 10, 2: 100}), fl.GradientUpdate(replicas[2].Parameters()).Flatten(), 1e-12)
	assert.InDeltaSlice(t, expect(map[int]float64{0: 1, 1: 10, 2: 100}), fl.GradientUpdate(replicas[0].Parameters()).Flatten(), 1e-12)
	assert.InDeltaSlice(t, expect(map[int]float64{0: 1, 1: 10, 2: 100}), fl.GradientUpdate(r.Snapshot()).Flatten(), 1e-12)
}

func TestRotateSkipsNilUpdates(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	baseline := nn.NewLogisticRegression(2, 2, rng)
	start := fl.GradientUpdate(baseline.SaveState()).Flatten()
	replicas := []fl.Model{nn.NewLogisticRegression(2, 2, rng), nn.NewLogisticRegression(2, 2, rng)}

	r := dssgd.NewRotator(baseline, scheduler.NewRoundRobin())
	_, err := r.Rotate(0, []fl.GradientUpdate{nil, unitUpdate(baseline, 3, 2)}, replicas)
	require.NoError(t, err)

	assert.InDeltaSlice(t, start, fl.GradientUpdate(replicas[0].Parameters()).Flatten(), 1e-12)
	start[3] += 2
	assert.InDeltaSlice(t, start, fl.GradientUpdate(replicas[1].Parameters()).Flatten(), 1e-12)
}

func TestRotateErrors(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	baseline := nn.NewLogisticRegression(2, 2, rng)
	r := dssgd.NewRotator(baseline, nil)

	_, err := r.Rotate(0, []fl.GradientUpdate{nil}, nil)
	assert.ErrorIs(t, err, dssgd.ErrLengthMismatch)

	_, err = r.Rotate(0, nil, nil)
	assert.ErrorIs(t, err, scheduler.ErrNoWorker)

	bad := fl.GradientUpdate{fl.NewTensor(3)}
	_, err = r.Rotate(0, []fl.GradientUpdate{bad}, []fl.Model{nn.NewLogisticRegression(2, 2, rng)})
	assert.ErrorIs(t, err, fl.ErrShapeMismatch)
}
