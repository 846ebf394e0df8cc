// Package allocation turns the round's aggregated update into a personalised
// download per worker, sized by that worker's credit.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/absmach/cffl/pkg/fl"
	"golang.org/x/sync/errgroup"
)

type Strategy string

const (
	StrategyTopK      Strategy = "topk"
	StrategyFrequency Strategy = "frequency"
)

// Budget decides how a credit is turned into a number of downloadable entries.
type Budget string

const (
	// BudgetAbsolute grants floor(credit * paramCount) entries.
	BudgetAbsolute Budget = "absolute"
	// BudgetRelative grants floor(credit / max(credits) * paramCount) entries,
	// so the most trusted worker always receives the whole aggregate.
	BudgetRelative Budget = "relative"
)

var (
	ErrInvalidStrategy = errors.New("unknown allocation strategy")
	ErrInvalidBudget   = errors.New("unknown allocation budget")
	ErrLengthMismatch  = errors.New("credits and worker updates differ in length")
)

// Result holds one download per worker and the sharing ledger increments
// for the round.
type Result struct {
	Downloads []fl.GradientUpdate
	// Shared[i] is how many coordinates of other workers' updates worker i's
	// download carried this round.
	Shared []int
	// Contributed[j] is how many coordinates of worker j's update reached
	// other workers this round.
	Contributed []int
}

type Allocator interface {
	// Allocate computes every worker's download. own[i] is worker i's
	// filtered update as it entered aggregation. Inputs are not modified.
	Allocate(ctx context.Context, credits []float64, aggregate fl.GradientUpdate, own []fl.GradientUpdate) (Result, error)
}

type Options struct {
	Strategy Strategy
	Budget   Budget
	// Parallelism bounds concurrent per-worker allocations; 0 means unbounded.
	Parallelism int
}

func New(opts Options) (Allocator, error) {
	switch opts.Budget {
	case "":
		opts.Budget = BudgetAbsolute
	case BudgetAbsolute, BudgetRelative:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBudget, opts.Budget)
	}

	switch opts.Strategy {
	case StrategyTopK, "":
		return &topK{opts: opts}, nil
	case StrategyFrequency:
		return &frequency{opts: opts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, opts.Strategy)
	}
}

// budgets converts credits into per-worker entry counts.
func budgets(credits []float64, paramCount int, mode Budget) []int {
	scale := 1.0
	if mode == BudgetRelative {
		top := 0.0
		for _, c := range credits {
			top = max(top, c)
		}
		if top > 0 {
			scale = 1 / top
		}
	}

	out := make([]int, len(credits))
	for i, c := range credits {
		out[i] = int(math.Floor(c * scale * float64(paramCount)))
	}

	return out
}

// RemoveOwn subtracts own from allocated wherever both are nonzero.
func RemoveOwn(allocated, own fl.GradientUpdate) (fl.GradientUpdate, error) {
	if !allocated.SameShape(own) {
		return nil, fmt.Errorf("%w: allocation %v, own %v", fl.ErrShapeMismatch, allocated.Shapes(), own.Shapes())
	}

	out := allocated.Clone()
	for t := range out {
		for i, v := range out[t].Data {
			if v != 0 && own[t].Data[i] != 0 {
				out[t].Data[i] = v - own[t].Data[i]
			}
		}
	}

	return out, nil
}

// distribute runs pick for every worker, removes the worker's own signal
// and tallies the sharing ledger.
func distribute(ctx context.Context, parallelism int, credits []float64, aggregate fl.GradientUpdate, own []fl.GradientUpdate, pick func(i int) fl.GradientUpdate) (Result, error) {
	if len(credits) != len(own) {
		return Result{}, fmt.Errorf("%w: %d credits, %d updates", ErrLengthMismatch, len(credits), len(own))
	}
	for i, u := range own {
		if !u.SameShape(aggregate) {
			return Result{}, fmt.Errorf("%w: worker %d update %v, aggregate %v", fl.ErrShapeMismatch, i, u.Shapes(), aggregate.Shapes())
		}
	}

	res := Result{
		Downloads: make([]fl.GradientUpdate, len(own)),
		Shared:    make([]int, len(own)),
	}
	perReceiver := make([][]int, len(own))

	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i := range own {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if credits[i] <= 0 {
				res.Downloads[i] = fl.ZeroUpdate(aggregate)
				perReceiver[i] = make([]int, len(own))

				return nil
			}

			download, err := RemoveOwn(pick(i), own[i])
			if err != nil {
				return err
			}
			res.Downloads[i] = download
			perReceiver[i] = overlap(download, own, i)

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res.Contributed = make([]int, len(own))
	for i, row := range perReceiver {
		for j, n := range row {
			res.Shared[i] += n
			res.Contributed[j] += n
		}
	}

	return res, nil
}

// overlap counts, per other worker j, the coordinates where both download
// and own[j] are nonzero.
func overlap(download fl.GradientUpdate, own []fl.GradientUpdate, self int) []int {
	counts := make([]int, len(own))
	for j, u := range own {
		if j == self {
			continue
		}
		for t := range download {
			for k, v := range download[t].Data {
				if v != 0 && u[t].Data[k] != 0 {
					counts[j]++
				}
			}
		}
	}

	return counts
}
