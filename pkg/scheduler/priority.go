package scheduler

import "sort"

type priorityScheduler struct {
	weights func() []float64
}

// NewPriority visits workers by descending weight, as reported by weights at
// call time. Equal weights keep index order; workers beyond the reported
// weights count as zero.
func NewPriority(weights func() []float64) Scheduler {
	return &priorityScheduler{
		weights: weights,
	}
}

func (ps *priorityScheduler) Sequence(_, n int) ([]int, error) {
	if n <= 0 {
		return nil, ErrNoWorker
	}

	w := ps.weights()
	weight := func(i int) float64 {
		if i < len(w) {
			return w[i]
		}

		return 0
	}

	seq := make([]int, n)
	for i := range seq {
		seq[i] = i
	}
	sort.SliceStable(seq, func(i, j int) bool {
		return weight(seq[i]) > weight(seq[j])
	})

	return seq, nil
}
