package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/cffl/pkg/fl"
)

// Run drives svc through every phase: pretraining, initialisation, all
// rounds and the final report.
func Run(ctx context.Context, svc Service) (Report, error) {
	if err := svc.Pretrain(ctx); err != nil {
		return Report{}, fmt.Errorf("pretrain: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		return Report{}, fmt.Errorf("initialize: %w", err)
	}

	return complete(ctx, svc)
}

// Resume restores svc from cp and drives it through the remaining rounds
// and the final report.
func Resume(ctx context.Context, svc Service, cp fl.Checkpoint) (Report, error) {
	if err := svc.Resume(ctx, cp); err != nil {
		return Report{}, fmt.Errorf("resume: %w", err)
	}

	return complete(ctx, svc)
}

func complete(ctx context.Context, svc Service) (Report, error) {
	for {
		if _, err := svc.RunRound(ctx); err != nil {
			if errors.Is(err, ErrRunComplete) {
				break
			}

			return Report{}, err
		}
	}

	return svc.Finish(ctx)
}
