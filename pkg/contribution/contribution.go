// Package contribution scores workers' updates against a validation set
// without touching the models it is given.
package contribution

import (
	"context"
	"fmt"

	"github.com/absmach/cffl/pkg/fl"
	"golang.org/x/sync/errgroup"
)

type Evaluator struct {
	metric      fl.MetricEvaluator
	parallelism int
}

// NewEvaluator scores with metric; parallelism bounds concurrent model
// evaluations (0 means unbounded). metric must be safe for concurrent use.
func NewEvaluator(metric fl.MetricEvaluator, parallelism int) *Evaluator {
	return &Evaluator{
		metric:      metric,
		parallelism: parallelism,
	}
}

// OneOnOne returns, per update, the validation accuracy of base with only
// that update applied.
func (e *Evaluator) OneOnOne(ctx context.Context, base fl.Model, updates []fl.GradientUpdate, val fl.DataLoader) ([]float64, error) {
	accs := make([]float64, len(updates))

	g, ctx := errgroup.WithContext(ctx)
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for i, u := range updates {
		g.Go(func() error {
			acc, err := e.accuracyWith(ctx, base, u, val)
			if err != nil {
				return fmt.Errorf("one-on-one evaluation of update %d: %w", i, err)
			}
			accs[i] = acc

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return accs, nil
}

// LeaveOneOut returns, per update i, acc(base + mean(updates)) minus
// acc(base + mean(updates without i)). Positive values mean the update
// helped. With a single update the reduced aggregate is the zero update.
func (e *Evaluator) LeaveOneOut(ctx context.Context, base fl.Model, updates []fl.GradientUpdate, val fl.DataLoader) ([]float64, error) {
	full, err := fl.Aggregate(updates, fl.ModeMean)
	if err != nil {
		return nil, err
	}
	fullAcc, err := e.accuracyWith(ctx, base, full, val)
	if err != nil {
		return nil, fmt.Errorf("evaluating full aggregate: %w", err)
	}

	marginals := make([]float64, len(updates))

	g, ctx := errgroup.WithContext(ctx)
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for i := range updates {
		g.Go(func() error {
			rest := make([]fl.GradientUpdate, 0, len(updates)-1)
			rest = append(rest, updates[:i]...)
			rest = append(rest, updates[i+1:]...)

			reduced := fl.ZeroUpdate(full)
			if len(rest) > 0 {
				var err error
				if reduced, err = fl.Aggregate(rest, fl.ModeMean); err != nil {
					return err
				}
			}

			acc, err := e.accuracyWith(ctx, base, reduced, val)
			if err != nil {
				return fmt.Errorf("leave-one-out evaluation without update %d: %w", i, err)
			}
			marginals[i] = fullAcc - acc

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return marginals, nil
}

func (e *Evaluator) accuracyWith(ctx context.Context, base fl.Model, u fl.GradientUpdate, val fl.DataLoader) (float64, error) {
	scratch := base.Clone()
	if err := fl.ApplyUpdate(scratch, u, 1); err != nil {
		return 0, err
	}

	_, acc, err := e.metric.Evaluate(ctx, scratch, val)

	return acc, err
}
