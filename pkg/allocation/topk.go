package allocation

import (
	"context"

	"github.com/absmach/cffl/pkg/fl"
)

// topK hands each worker the largest-magnitude entries of the aggregate.
type topK struct {
	opts Options
}

func (a *topK) Allocate(ctx context.Context, credits []float64, aggregate fl.GradientUpdate, own []fl.GradientUpdate) (Result, error) {
	b := budgets(credits, aggregate.NumParams(), a.opts.Budget)

	return distribute(ctx, a.opts.Parallelism, credits, aggregate, own, func(i int) fl.GradientUpdate {
		return fl.MaskByOrder(aggregate, b[i])
	})
}
