package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	credits metrics.Gauge
	svc     coordinator.Service
}

// Metrics counts and times every call. After each successful round the
// credits gauge is set per worker index.
func Metrics(counter metrics.Counter, latency metrics.Histogram, credits metrics.Gauge, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		credits: credits,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) Pretrain(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "pretrain").Add(1)
		mm.latency.With("method", "pretrain").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Pretrain(ctx)
}

func (mm *metricsMiddleware) Initialize(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "initialize").Add(1)
		mm.latency.With("method", "initialize").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Initialize(ctx)
}

func (mm *metricsMiddleware) RunRound(ctx context.Context) (coordinator.RoundRecord, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run-round").Add(1)
		mm.latency.With("method", "run-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	rec, err := mm.svc.RunRound(ctx)
	if err == nil {
		for i, c := range rec.Credits {
			mm.credits.With("worker", strconv.Itoa(i)).Set(c)
		}
	}

	return rec, err
}

func (mm *metricsMiddleware) Finish(ctx context.Context) (coordinator.Report, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "finish").Add(1)
		mm.latency.With("method", "finish").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Finish(ctx)
}

func (mm *metricsMiddleware) Resume(ctx context.Context, cp fl.Checkpoint) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "resume").Add(1)
		mm.latency.With("method", "resume").Observe(time.Since(begin).Seconds())
	}(time.Now())

	err := mm.svc.Resume(ctx, cp)
	if err == nil {
		for i, c := range cp.Credits {
			mm.credits.With("worker", strconv.Itoa(i)).Set(c)
		}
	}

	return err
}

func (mm *metricsMiddleware) Status(ctx context.Context) (coordinator.Status, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "status").Add(1)
		mm.latency.With("method", "status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) GetRound(ctx context.Context, round int) (coordinator.RoundRecord, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-round").Add(1)
		mm.latency.With("method", "get-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRound(ctx, round)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-rounds").Add(1)
		mm.latency.With("method", "list-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRounds(ctx, offset, limit)
}

func (mm *metricsMiddleware) Report(ctx context.Context) (coordinator.Report, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "report").Add(1)
		mm.latency.With("method", "report").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Report(ctx)
}
