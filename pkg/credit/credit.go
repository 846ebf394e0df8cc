// Package credit maintains the per-worker credit vector and the adaptive
// qualification threshold that gate how much aggregated knowledge each
// worker may download.
package credit

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultAlpha = 5.0

	// ratchet is the factor applied to the threshold per qualifying worker.
	ratchet = 2.0 / 3.0
)

var (
	// ErrDegenerateCredit is returned when a round cannot produce a valid
	// credit vector; the engine keeps its previous state.
	ErrDegenerateCredit = errors.New("degenerate credit update")
	ErrLengthMismatch   = errors.New("accuracies do not match number of workers")
	ErrNoWorkers        = errors.New("credit engine needs at least one worker")
)

type Options struct {
	// Alpha scales the sinh amplification; 0 means DefaultAlpha.
	Alpha float64
	// Fade weights the new round 0.8 against history 0.2 instead of 0.5/0.5.
	Fade bool
	// Floor is the lowest value the threshold may ratchet down to.
	Floor float64
}

// Engine is not safe for concurrent use; the coordinator serialises access.
type Engine struct {
	credits   []float64
	threshold float64
	opts      Options
}

// NewEngine starts every worker at 1/n credit with threshold (1/n)*(2/3).
func NewEngine(n int, opts Options) (*Engine, error) {
	if n <= 0 {
		return nil, ErrNoWorkers
	}
	if opts.Alpha == 0 {
		opts.Alpha = DefaultAlpha
	}

	credits := make([]float64, n)
	for i := range credits {
		credits[i] = 1 / float64(n)
	}

	return &Engine{
		credits:   credits,
		threshold: max(ratchet/float64(n), opts.Floor),
		opts:      opts,
	}, nil
}

// Restore builds an engine from previously committed state.
func Restore(credits []float64, threshold float64, opts Options) (*Engine, error) {
	if len(credits) == 0 {
		return nil, ErrNoWorkers
	}
	if opts.Alpha == 0 {
		opts.Alpha = DefaultAlpha
	}

	return &Engine{
		credits:   slices.Clone(credits),
		threshold: threshold,
		opts:      opts,
	}, nil
}

func (e *Engine) Credits() []float64 {
	return slices.Clone(e.credits)
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Qualified counts workers whose credit is strictly above the threshold.
func (e *Engine) Qualified() int {
	return countAbove(e.credits, e.threshold)
}

// Update folds one round of per-worker validation accuracies into the
// credits. Workers flagged in excluded count as zero accuracy and get zero
// credit this round. On
// ErrDegenerateCredit neither credits nor threshold change.
func (e *Engine) Update(accs []float64, excluded []bool) error {
	if len(accs) != len(e.credits) {
		return fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(accs), len(e.credits))
	}
	if excluded != nil && len(excluded) != len(e.credits) {
		return fmt.Errorf("%w: exclusion mask has %d entries", ErrLengthMismatch, len(excluded))
	}

	threshold, err := NextThreshold(e.threshold, e.credits)
	if err != nil {
		return err
	}
	threshold = max(threshold, e.opts.Floor)

	// An excluded worker contributed nothing, so its accuracy must not
	// dilute the epoch credit of the others.
	counted := slices.Clone(accs)
	for i := range counted {
		if excluded != nil && excluded[i] {
			counted[i] = 0
		}
	}

	total := floats.Sum(counted)
	if total == 0 || math.IsNaN(total) {
		return fmt.Errorf("%w: validation accuracies sum to %v", ErrDegenerateCredit, total)
	}

	next := make([]float64, len(e.credits))
	for i, c := range e.credits {
		epoch := counted[i] / total
		if e.opts.Fade {
			next[i] = 0.2*c + 0.8*epoch
		} else {
			next[i] = 0.5 * (c + epoch)
		}
		if next[i] < threshold || (excluded != nil && excluded[i]) {
			next[i] = 0
		}
		next[i] = math.Sinh(e.opts.Alpha * next[i])
	}

	sum := floats.Sum(next)
	if sum == 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return fmt.Errorf("%w: no worker kept credit above threshold %v", ErrDegenerateCredit, threshold)
	}
	floats.Scale(1/sum, next)

	e.credits = next
	e.threshold = threshold

	return nil
}

// NextThreshold ratchets tau by (2/3) / |{i : c_i > tau}|.
func NextThreshold(tau float64, credits []float64) (float64, error) {
	q := countAbove(credits, tau)
	if q == 0 {
		return tau, fmt.Errorf("%w: no worker qualifies above threshold %v", ErrDegenerateCredit, tau)
	}

	return tau * ratchet / float64(q), nil
}

func countAbove(credits []float64, tau float64) int {
	n := 0
	for _, c := range credits {
		if c > tau {
			n++
		}
	}

	return n
}
