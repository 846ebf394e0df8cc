package dataset

import (
	"errors"
	"math/rand/v2"

	"github.com/absmach/cffl/pkg/fl"
)

var (
	ErrEmptyDataset = errors.New("dataset is empty")
	ErrInvalidRatio = errors.New("split ratio must be in (0, 1)")
)

// Dataset is an in-memory classification dataset.
type Dataset struct {
	X [][]float64
	Y []int
}

func (d Dataset) Len() int {
	return len(d.Y)
}

func (d Dataset) Features() int {
	if len(d.X) == 0 {
		return 0
	}

	return len(d.X[0])
}

func (d Dataset) Subset(indices []int) Dataset {
	sub := Dataset{
		X: make([][]float64, len(indices)),
		Y: make([]int, len(indices)),
	}
	for i, idx := range indices {
		sub.X[i] = d.X[idx]
		sub.Y[i] = d.Y[idx]
	}

	return sub
}

// Head returns the first n samples (all of them when n <= 0 or n >= Len).
func (d Dataset) Head(n int) Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}

	return Dataset{X: d.X[:n], Y: d.Y[:n]}
}

// TrainValSplit keeps the first ratio of samples for training and the rest for validation.
func (d Dataset) TrainValSplit(ratio float64) (train, val Dataset, err error) {
	if d.Len() == 0 {
		return Dataset{}, Dataset{}, ErrEmptyDataset
	}
	if ratio <= 0 || ratio >= 1 {
		return Dataset{}, Dataset{}, ErrInvalidRatio
	}

	cut := int(float64(d.Len()) * ratio)

	return Dataset{X: d.X[:cut], Y: d.Y[:cut]}, Dataset{X: d.X[cut:], Y: d.Y[cut:]}, nil
}

// Synthetic draws n samples labelled by a random linear model with
// additive label noise on the logits.
func Synthetic(n, features, classes int, noise float64, rng *rand.Rand) Dataset {
	w := make([][]float64, classes)
	for k := range w {
		w[k] = make([]float64, features)
		for j := range w[k] {
			w[k][j] = rng.NormFloat64()
		}
	}

	d := Dataset{
		X: make([][]float64, n),
		Y: make([]int, n),
	}
	for i := 0; i < n; i++ {
		x := make([]float64, features)
		for j := range x {
			x[j] = rng.NormFloat64()
		}
		best, bestScore := 0, 0.0
		for k := range w {
			score := noise * rng.NormFloat64()
			for j, v := range x {
				score += w[k][j] * v
			}
			if k == 0 || score > bestScore {
				best, bestScore = k, score
			}
		}
		d.X[i] = x
		d.Y[i] = best
	}

	return d
}

type loader struct {
	batches   []fl.Batch
	batchSize int
	size      int
}

var _ fl.DataLoader = (*loader)(nil)

// NewLoader slices d into consecutive batches of batchSize; the last batch may be short.
func NewLoader(d Dataset, batchSize int) fl.DataLoader {
	if batchSize <= 0 {
		batchSize = max(d.Len(), 1)
	}

	l := &loader{batchSize: batchSize, size: d.Len()}
	for start := 0; start < d.Len(); start += batchSize {
		end := min(start+batchSize, d.Len())
		l.batches = append(l.batches, fl.Batch{X: d.X[start:end], Y: d.Y[start:end]})
	}

	return l
}

func (l *loader) Batches() []fl.Batch {
	return l.batches
}

func (l *loader) BatchSize() int {
	return l.batchSize
}

func (l *loader) Len() int {
	return l.size
}
