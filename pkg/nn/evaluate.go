package nn

import (
	"context"
	"math"

	"github.com/absmach/cffl/pkg/fl"
)

var _ fl.MetricEvaluator = (*Evaluator)(nil)

// Evaluator reports mean cross-entropy loss and top-1 accuracy.
type Evaluator struct{}

func (Evaluator) Evaluate(ctx context.Context, m fl.Model, loader fl.DataLoader) (loss, accuracy float64, err error) {
	var correct, total int
	for _, batch := range loader.Batches() {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		for n, p := range m.Forward(batch.X) {
			y := batch.Y[n]
			loss -= math.Log(max(p[y], 1e-12))
			if argmax(p) == y {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0, 0, nil
	}

	return loss / float64(total), float64(correct) / float64(total), nil
}

func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}

	return best
}
