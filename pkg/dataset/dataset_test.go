package dataset_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/absmach/cffl/pkg/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		n      int
		shards int
		split  dataset.Split
		sizes  []int
		err    error
	}{
		{
			name:   "uniform",
			n:      100,
			shards: 4,
			split:  dataset.SplitUniform,
			sizes:  []int{25, 25, 25, 25},
		},
		{
			name:   "uniform drops remainder",
			n:      10,
			shards: 3,
			split:  dataset.SplitUniform,
			sizes:  []int{3, 3, 3},
		},
		{
			name:   "default split is uniform",
			n:      6,
			shards: 2,
			sizes:  []int{3, 3},
		},
		{
			name:   "unknown split",
			n:      10,
			shards: 2,
			split:  dataset.Split("dirichlet"),
			err:    dataset.ErrInvalidSplit,
		},
		{
			name:   "more shards than samples",
			n:      2,
			shards: 3,
			split:  dataset.SplitUniform,
			err:    dataset.ErrTooFewShards,
		},
		{
			name:   "zero shards",
			n:      2,
			shards: 0,
			split:  dataset.SplitUniform,
			err:    dataset.ErrTooFewShards,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			shards, err := dataset.Partition(tc.n, tc.shards, tc.split, rand.New(rand.NewPCG(1, 2)))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)

			sizes := make([]int, len(shards))
			for i, s := range shards {
				sizes[i] = len(s)
			}
			assert.Equal(t, tc.sizes, sizes)
		})
	}
}

func TestPartitionPowerLaw(t *testing.T) {
	t.Parallel()

	shards, err := dataset.Partition(1000, 5, dataset.SplitPowerLaw, rand.New(rand.NewPCG(3, 3)))
	require.NoError(t, err)
	require.Len(t, shards, 5)

	seen := make(map[int]bool)
	for i, s := range shards {
		if i > 0 {
			assert.GreaterOrEqual(t, len(s), len(shards[i-1]), "shard sizes grow")
		}
		for _, idx := range s {
			assert.False(t, seen[idx], "index %d assigned twice", idx)
			seen[idx] = true
		}
	}
	assert.Less(t, len(shards[0]), len(shards[4]))
	assert.LessOrEqual(t, len(seen), 1000)
}

func TestDatasetSplits(t *testing.T) {
	t.Parallel()

	d := dataset.Synthetic(50, 3, 4, 0.2, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, 50, d.Len())
	assert.Equal(t, 3, d.Features())
	for _, y := range d.Y {
		assert.True(t, y >= 0 && y < 4)
	}

	train, val, err := d.TrainValSplit(0.8)
	require.NoError(t, err)
	assert.Equal(t, 40, train.Len())
	assert.Equal(t, 10, val.Len())

	_, _, err = d.TrainValSplit(1)
	assert.ErrorIs(t, err, dataset.ErrInvalidRatio)
	_, _, err = dataset.Dataset{}.TrainValSplit(0.5)
	assert.ErrorIs(t, err, dataset.ErrEmptyDataset)

	assert.Equal(t, 5, d.Head(5).Len())
	assert.Equal(t, 50, d.Head(0).Len())

	sub := d.Subset([]int{4, 2})
	assert.Equal(t, []int{d.Y[4], d.Y[2]}, sub.Y)
}

func TestLoader(t *testing.T) {
	t.Parallel()

	d := dataset.Synthetic(10, 2, 2, 0, rand.New(rand.NewPCG(1, 1)))
	l := dataset.NewLoader(d, 4)

	assert.Equal(t, 4, l.BatchSize())
	assert.Equal(t, 10, l.Len())

	var lens []int
	for _, b := range l.Batches() {
		lens = append(lens, b.Len())
	}
	assert.Equal(t, []int{4, 4, 2}, lens)
	assert.True(t, slices.Equal(l.Batches()[0].Y, d.Y[:4]), "batches are restartable")
}
