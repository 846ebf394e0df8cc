package scheduler_test

import (
	"testing"

	"github.com/absmach/cffl/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		round    int
		n        int
		expected []int
		err      error
	}{
		{name: "first round", round: 0, n: 3, expected: []int{0, 1, 2}},
		{name: "second round", round: 1, n: 3, expected: []int{1, 2, 0}},
		{name: "wraps around", round: 5, n: 3, expected: []int{2, 0, 1}},
		{name: "full cycle", round: 6, n: 3, expected: []int{0, 1, 2}},
		{name: "single worker", round: 4, n: 1, expected: []int{0}},
		{name: "no workers", round: 0, n: 0, err: scheduler.ErrNoWorker},
	}

	s := scheduler.NewRoundRobin()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			seq, err := s.Sequence(tc.round, tc.n)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, seq)
		})
	}
}

func TestPriority(t *testing.T) {
	t.Parallel()

	weights := []float64{0.2, 0.5, 0.2, 0.1}
	s := scheduler.NewPriority(func() []float64 { return weights })

	seq, err := s.Sequence(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2, 3}, seq)

	seq, err = s.Sequence(3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2, 3, 4}, seq)

	_, err = s.Sequence(0, 0)
	assert.ErrorIs(t, err, scheduler.ErrNoWorker)
}
