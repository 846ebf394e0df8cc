package scheduler

type roundRobin struct{}

func NewRoundRobin() Scheduler {
	return roundRobin{}
}

// Sequence is the window of length n starting at round mod n over the
// doubled index sequence 0..n-1, 0..n-1.
func (roundRobin) Sequence(round, n int) ([]int, error) {
	return RoundRobin(round, n)
}

func RoundRobin(round, n int) ([]int, error) {
	if n <= 0 {
		return nil, ErrNoWorker
	}

	start := round % n
	if start < 0 {
		start += n
	}

	seq := make([]int, n)
	for i := range seq {
		seq[i] = (start + i) % n
	}

	return seq, nil
}
