package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/fl"
)

var errNoActiveRun = errors.New("no run has started")

var _ coordinator.Service = (*Current)(nil)

// Current is a coordinator.Service that forwards to whichever run is active,
// so one HTTP handler can serve every repeat of an experiment.
type Current struct {
	svc atomic.Pointer[coordinator.Service]
}

func (c *Current) Set(svc coordinator.Service) {
	c.svc.Store(&svc)
}

func (c *Current) get() (coordinator.Service, error) {
	svc := c.svc.Load()
	if svc == nil {
		return nil, fmt.Errorf("%w: %w", coordinator.ErrInvalidState, errNoActiveRun)
	}

	return *svc, nil
}

func (c *Current) Pretrain(ctx context.Context) error {
	svc, err := c.get()
	if err != nil {
		return err
	}

	return svc.Pretrain(ctx)
}

func (c *Current) Initialize(ctx context.Context) error {
	svc, err := c.get()
	if err != nil {
		return err
	}

	return svc.Initialize(ctx)
}

func (c *Current) RunRound(ctx context.Context) (coordinator.RoundRecord, error) {
	svc, err := c.get()
	if err != nil {
		return coordinator.RoundRecord{}, err
	}

	return svc.RunRound(ctx)
}

func (c *Current) Finish(ctx context.Context) (coordinator.Report, error) {
	svc, err := c.get()
	if err != nil {
		return coordinator.Report{}, err
	}

	return svc.Finish(ctx)
}

func (c *Current) Resume(ctx context.Context, cp fl.Checkpoint) error {
	svc, err := c.get()
	if err != nil {
		return err
	}

	return svc.Resume(ctx, cp)
}

func (c *Current) Status(ctx context.Context) (coordinator.Status, error) {
	svc, err := c.get()
	if err != nil {
		return coordinator.Status{}, err
	}

	return svc.Status(ctx)
}

func (c *Current) GetRound(ctx context.Context, round int) (coordinator.RoundRecord, error) {
	svc, err := c.get()
	if err != nil {
		return coordinator.RoundRecord{}, err
	}

	return svc.GetRound(ctx, round)
}

func (c *Current) ListRounds(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	svc, err := c.get()
	if err != nil {
		return coordinator.RoundPage{}, err
	}

	return svc.ListRounds(ctx, offset, limit)
}

func (c *Current) Report(ctx context.Context) (coordinator.Report, error) {
	svc, err := c.get()
	if err != nil {
		return coordinator.Report{}, err
	}

	return svc.Report(ctx)
}
