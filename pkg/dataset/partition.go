package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

type Split string

const (
	SplitUniform  Split = "uniform"
	SplitPowerLaw Split = "powerlaw"

	// powerLawAlpha is the shape of the power-law shard-size profile; smaller is more skewed.
	powerLawAlpha = 1.65911332899
)

var (
	ErrInvalidSplit = errors.New("unknown split")
	ErrTooFewShards = errors.New("more shards requested than samples")
)

// Partition assigns sample indices [0, n) to shards. Indices are shuffled
// with rng before being cut.
func Partition(n, shards int, split Split, rng *rand.Rand) ([][]int, error) {
	if shards <= 0 || shards > n {
		return nil, fmt.Errorf("%w: %d shards for %d samples", ErrTooFewShards, shards, n)
	}

	indices := rng.Perm(n)

	var sizes []int
	switch split {
	case SplitUniform, "":
		sizes = uniformSizes(n, shards)
	case SplitPowerLaw:
		sizes = powerLawSizes(n, shards)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSplit, split)
	}

	out := make([][]int, shards)
	start := 0
	for i, size := range sizes {
		end := min(start+size, n)
		out[i] = indices[start:end]
		start = end
	}

	return out, nil
}

func uniformSizes(n, shards int) []int {
	sizes := make([]int, shards)
	for i := range sizes {
		sizes[i] = n / shards
	}

	return sizes
}

// powerLawSizes spaces shard weights evenly between the 1% and 99% quantiles
// of a power-law distribution (ppf(q) = q^(1/alpha)) and scales them to n.
func powerLawSizes(n, shards int) []int {
	b := make([]float64, shards)
	lo, hi := math.Pow(0.01, 1/powerLawAlpha), math.Pow(0.99, 1/powerLawAlpha)
	if shards == 1 {
		b[0] = hi
	} else {
		floats.Span(b, lo, hi)
	}
	total := floats.Sum(b)

	sizes := make([]int, shards)
	for i, w := range b {
		sizes[i] = int(math.Ceil(w / total * float64(n)))
	}

	return sizes
}
