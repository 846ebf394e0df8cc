package allocation

import (
	"context"
	"sync"

	"github.com/absmach/cffl/pkg/fl"
)

// frequency hands each worker the aggregate's entries at the coordinates
// that have been updated most often across rounds so far.
type frequency struct {
	opts Options

	mu     sync.Mutex
	counts fl.GradientUpdate
}

func (a *frequency) Allocate(ctx context.Context, credits []float64, aggregate fl.GradientUpdate, own []fl.GradientUpdate) (Result, error) {
	counts, err := a.observe(aggregate)
	if err != nil {
		return Result{}, err
	}
	b := budgets(credits, aggregate.NumParams(), a.opts.Budget)

	return distribute(ctx, a.opts.Parallelism, credits, aggregate, own, func(i int) fl.GradientUpdate {
		if b[i] <= 0 {
			return fl.ZeroUpdate(aggregate)
		}
		keep := fl.MaskByOrder(counts, b[i])
		out := aggregate.Clone()
		for t := range out {
			for k := range out[t].Data {
				if keep[t].Data[k] == 0 {
					out[t].Data[k] = 0
				}
			}
		}

		return out
	})
}

// observe adds this round's nonzero pattern to the running counts and
// returns a snapshot of them.
func (a *frequency) observe(aggregate fl.GradientUpdate) (fl.GradientUpdate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counts == nil {
		a.counts = fl.ZeroUpdate(aggregate)
	}
	if !a.counts.SameShape(aggregate) {
		return nil, fl.ErrShapeMismatch
	}

	for t := range aggregate {
		for k, v := range aggregate[t].Data {
			if v != 0 {
				a.counts[t].Data[k]++
			}
		}
	}

	return a.counts.Clone(), nil
}
