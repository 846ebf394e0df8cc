package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/fl"
)

var _ coordinator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    coordinator.Service
}

func Logging(logger *slog.Logger, svc coordinator.Service) coordinator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Pretrain(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Pretrain failed", args...)

			return
		}
		lm.logger.Info("Pretrain completed successfully", args...)
	}(time.Now())

	return lm.svc.Pretrain(ctx)
}

func (lm *loggingMiddleware) Initialize(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Initialize federated model failed", args...)

			return
		}
		lm.logger.Info("Initialize federated model completed successfully", args...)
	}(time.Now())

	return lm.svc.Initialize(ctx)
}

func (lm *loggingMiddleware) RunRound(ctx context.Context) (rec coordinator.RoundRecord, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.String("run_id", rec.RunID),
				slog.Int("round", rec.Round),
				slog.Float64("threshold", rec.Threshold),
				slog.Int("qualified", rec.Qualified),
				slog.Float64("federated_val_acc", rec.FederatedValAcc),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run round failed", args...)

			return
		}
		lm.logger.Info("Run round completed successfully", args...)
	}(time.Now())

	return lm.svc.RunRound(ctx)
}

func (lm *loggingMiddleware) Finish(ctx context.Context) (report coordinator.Report, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("report",
				slog.String("run_id", report.RunID),
				slog.Int("rounds", report.Rounds),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Finish run failed", args...)

			return
		}
		lm.logger.Info("Finish run completed successfully", args...)
	}(time.Now())

	return lm.svc.Finish(ctx)
}

func (lm *loggingMiddleware) Resume(ctx context.Context, cp fl.Checkpoint) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("run_id", cp.RunID),
			slog.Int("from_round", cp.Round),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Resume run failed", args...)

			return
		}
		lm.logger.Info("Resume run completed successfully", args...)
	}(time.Now())

	return lm.svc.Resume(ctx, cp)
}

func (lm *loggingMiddleware) Status(ctx context.Context) (st coordinator.Status, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get status failed", args...)

			return
		}
		lm.logger.Debug("Get status completed successfully", args...)
	}(time.Now())

	return lm.svc.Status(ctx)
}

func (lm *loggingMiddleware) GetRound(ctx context.Context, round int) (rec coordinator.RoundRecord, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("round", round),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round failed", args...)

			return
		}
		lm.logger.Info("Get round completed successfully", args...)
	}(time.Now())

	return lm.svc.GetRound(ctx, round)
}

func (lm *loggingMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (page coordinator.RoundPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List rounds failed", args...)

			return
		}
		lm.logger.Info("List rounds completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRounds(ctx, offset, limit)
}

func (lm *loggingMiddleware) Report(ctx context.Context) (report coordinator.Report, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get report failed", args...)

			return
		}
		lm.logger.Info("Get report completed successfully", args...)
	}(time.Now())

	return lm.svc.Report(ctx)
}
