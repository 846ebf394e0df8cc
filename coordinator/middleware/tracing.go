package middleware

import (
	"context"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/fl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Pretrain(ctx context.Context) (err error) {
	ctx, span := tm.tracer.Start(ctx, "pretrain")
	defer endSpan(span, &err)

	return tm.svc.Pretrain(ctx)
}

func (tm *tracing) Initialize(ctx context.Context) (err error) {
	ctx, span := tm.tracer.Start(ctx, "initialize")
	defer endSpan(span, &err)

	return tm.svc.Initialize(ctx)
}

func (tm *tracing) RunRound(ctx context.Context) (rec coordinator.RoundRecord, err error) {
	ctx, span := tm.tracer.Start(ctx, "run-round")
	defer endSpan(span, &err)

	rec, err = tm.svc.RunRound(ctx)
	span.SetAttributes(
		attribute.String("run_id", rec.RunID),
		attribute.Int("round", rec.Round),
		attribute.Float64("threshold", rec.Threshold),
		attribute.Float64Slice("credits", rec.Credits),
		attribute.IntSlice("timed_out", rec.TimedOut),
	)

	return rec, err
}

func (tm *tracing) Finish(ctx context.Context) (report coordinator.Report, err error) {
	ctx, span := tm.tracer.Start(ctx, "finish")
	defer endSpan(span, &err)

	return tm.svc.Finish(ctx)
}

func (tm *tracing) Resume(ctx context.Context, cp fl.Checkpoint) (err error) {
	ctx, span := tm.tracer.Start(ctx, "resume", trace.WithAttributes(
		attribute.String("run_id", cp.RunID),
		attribute.Int("round", cp.Round),
	))
	defer endSpan(span, &err)

	return tm.svc.Resume(ctx, cp)
}

func (tm *tracing) Status(ctx context.Context) (coordinator.Status, error) {
	ctx, span := tm.tracer.Start(ctx, "status")
	defer span.End()

	return tm.svc.Status(ctx)
}

func (tm *tracing) GetRound(ctx context.Context, round int) (coordinator.RoundRecord, error) {
	ctx, span := tm.tracer.Start(ctx, "get-round", trace.WithAttributes(
		attribute.Int("round", round),
	))
	defer span.End()

	return tm.svc.GetRound(ctx, round)
}

func (tm *tracing) ListRounds(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, offset, limit)
}

func (tm *tracing) Report(ctx context.Context) (coordinator.Report, error) {
	ctx, span := tm.tracer.Start(ctx, "report")
	defer span.End()

	return tm.svc.Report(ctx)
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
