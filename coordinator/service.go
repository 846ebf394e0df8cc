package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/absmach/cffl/pkg/allocation"
	"github.com/absmach/cffl/pkg/contribution"
	"github.com/absmach/cffl/pkg/credit"
	"github.com/absmach/cffl/pkg/dssgd"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/mqtt"
	"github.com/absmach/cffl/pkg/scheduler"
	"github.com/absmach/cffl/pkg/storage"
	"golang.org/x/sync/errgroup"
)

const (
	roundKeyTemplate = "round-%06d"

	OrderRoundRobin = "roundrobin"
	OrderCredit     = "credit"
)

type Config struct {
	RunID           string
	PretrainEpochs  int
	Rounds          int
	LocalEpochs     int
	EpochSampleSize int
	Aggregation     fl.Mode
	Credit          credit.Options
	Allocation      allocation.Options
	// DSSGDOrder is OrderRoundRobin (default) or OrderCredit.
	DSSGDOrder  string
	LeaveOneOut bool
	// WorkerTimeout bounds one worker's local training per round; 0 disables it.
	WorkerTimeout time.Duration
	// Parallelism bounds concurrently training or evaluating workers; 0 means unbounded.
	Parallelism int
}

// Environment is what a run operates on. The service takes ownership of
// the federated model and the workers.
type Environment struct {
	Federated  fl.Model
	Workers    []*Worker
	Validation fl.DataLoader
	Test       fl.DataLoader
	Metric     fl.MetricEvaluator
}

type service struct {
	cfg         Config
	federated   fl.Model
	workers     []*Worker
	validation  fl.DataLoader
	test        fl.DataLoader
	metric      fl.MetricEvaluator
	aggregator  fl.Aggregator
	credits     *credit.Engine
	allocator   allocation.Allocator
	contrib     *contribution.Evaluator
	sched       scheduler.Scheduler
	rotator     *dssgd.Rotator
	records     storage.Storage[RoundRecord]
	publisher   mqtt.PubSub
	checkpoints *fl.CheckpointStore
	logger      *slog.Logger

	// runMu serialises the phases; mu guards the committed state below.
	runMu            sync.Mutex
	mu               sync.RWMutex
	state            State
	round            int
	status           Status
	ledger           []int
	testAccsBefore   []float64
	federatedValAccs []float64
	report           *Report
}

// NewService validates its inputs and returns a coordinator in StateCreated.
// publisher and checkpoints may be nil.
func NewService(cfg Config, env Environment, records storage.Storage[RoundRecord], publisher mqtt.PubSub, checkpoints *fl.CheckpointStore, logger *slog.Logger) (Service, error) {
	if len(env.Workers) == 0 {
		return nil, ErrNoWorkers
	}
	if env.Federated == nil || env.Validation == nil || env.Test == nil || env.Metric == nil || records == nil {
		return nil, ErrMissingInput
	}
	if cfg.Rounds <= 0 {
		return nil, fmt.Errorf("%w: rounds must be positive", ErrMissingInput)
	}

	aggregator, err := fl.NewAggregator(cfg.Aggregation)
	if err != nil {
		return nil, err
	}
	engine, err := credit.NewEngine(len(env.Workers), cfg.Credit)
	if err != nil {
		return nil, err
	}
	allocator, err := allocation.New(cfg.Allocation)
	if err != nil {
		return nil, err
	}

	svc := &service{
		cfg:         cfg,
		federated:   env.Federated,
		workers:     env.Workers,
		validation:  env.Validation,
		test:        env.Test,
		metric:      env.Metric,
		aggregator:  aggregator,
		credits:     engine,
		allocator:   allocator,
		contrib:     contribution.NewEvaluator(env.Metric, cfg.Parallelism),
		records:     records,
		publisher:   publisher,
		checkpoints: checkpoints,
		logger:      logger,
		state:       StateCreated,
		ledger:      make([]int, len(env.Workers)),
	}

	switch cfg.DSSGDOrder {
	case OrderRoundRobin, "":
		svc.sched = scheduler.NewRoundRobin()
	case OrderCredit:
		svc.sched = scheduler.NewPriority(func() []float64 { return svc.credits.Credits() })
	default:
		return nil, fmt.Errorf("%w: unknown DSSGD order %q", ErrMissingInput, cfg.DSSGDOrder)
	}

	for _, w := range svc.workers {
		logger.Info("worker registered",
			slog.Int("worker", w.ID),
			slog.String("name", w.Name),
			slog.Float64("theta", w.Theta),
			slog.Bool("free_rider", w.FreeRider),
			slog.Int("shard_size", w.ShardSize()),
			slog.Int("param_count", w.ParamCount()),
		)
	}
	svc.commitStatus()

	return svc, nil
}

func (svc *service) Pretrain(ctx context.Context) error {
	svc.runMu.Lock()
	defer svc.runMu.Unlock()

	if err := svc.expect(StateCreated); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	svc.limit(g)
	for _, w := range svc.workers {
		g.Go(func() error {
			if err := w.pretrain(gctx, svc.cfg.PretrainEpochs, svc.cfg.EpochSampleSize); err != nil {
				return fmt.Errorf("pretraining worker %d: %w", w.ID, err)
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return svc.fail(err)
	}

	svc.setState(StatePretrained)

	return nil
}

func (svc *service) Initialize(ctx context.Context) error {
	svc.runMu.Lock()
	defer svc.runMu.Unlock()

	if err := svc.expect(StatePretrained); err != nil {
		return err
	}

	participants := make([]fl.Model, len(svc.workers))
	for i, w := range svc.workers {
		participants[i] = w.Model(Participant)
	}
	if err := fl.AverageModels(svc.federated, participants); err != nil {
		return svc.fail(fmt.Errorf("initialising federated model: %w", err))
	}
	svc.rotator = dssgd.NewRotator(svc.federated.Clone(), svc.sched)

	before, err := svc.evaluateRole(ctx, Participant, svc.test)
	if err != nil {
		return svc.fail(err)
	}

	svc.mu.Lock()
	svc.testAccsBefore = before
	svc.state = StateTraining
	svc.mu.Unlock()
	svc.commitStatus()

	return nil
}

func (svc *service) RunRound(ctx context.Context) (RoundRecord, error) {
	svc.runMu.Lock()
	defer svc.runMu.Unlock()

	svc.mu.RLock()
	state, round := svc.state, svc.round
	svc.mu.RUnlock()
	switch state {
	case StateTraining:
	case StateDone:
		return RoundRecord{}, ErrRunComplete
	default:
		return RoundRecord{}, fmt.Errorf("%w: cannot run a round in state %s", ErrInvalidState, state)
	}

	start := time.Now()
	n := len(svc.workers)

	updates, baselineUpdates, timedOut, err := svc.localTrain(ctx, round)
	if err != nil {
		return RoundRecord{}, svc.fail(err)
	}

	filtered := make([]fl.GradientUpdate, n)
	baselineFiltered := make([]fl.GradientUpdate, n)
	included := make([]fl.GradientUpdate, 0, n)
	for i, w := range svc.workers {
		if timedOut[i] {
			filtered[i] = fl.ZeroUpdate(svc.federated.Parameters())
			continue
		}
		filtered[i] = fl.FilterSelfContribution(updates[i], w.Theta)
		baselineFiltered[i] = fl.FilterSelfContribution(baselineUpdates[i], w.Theta)
		included = append(included, filtered[i])
	}

	aggregate, err := svc.aggregator.Aggregate(included)
	if err != nil {
		// Nothing shared has been mutated yet, so the round can be retried.
		return RoundRecord{}, fmt.Errorf("aggregating round %d: %w", round, err)
	}

	previous := svc.federated.Clone()
	if err := fl.ApplyUpdate(svc.federated, aggregate, 1); err != nil {
		return RoundRecord{}, svc.fail(fmt.Errorf("updating federated model: %w", err))
	}

	rec, err := svc.completeRound(ctx, round, previous, aggregate, filtered, baselineFiltered, timedOut)
	if err != nil {
		return RoundRecord{}, svc.fail(err)
	}
	rec.Duration = time.Since(start)
	rec.CompletedAt = time.Now()

	if err := svc.storeRound(ctx, rec); err != nil {
		return RoundRecord{}, svc.fail(fmt.Errorf("storing round %d: %w", round, err))
	}
	svc.publish(ctx, fmt.Sprintf(mqtt.RoundTopicTemplate, svc.cfg.RunID), rec)

	svc.mu.Lock()
	svc.round++
	svc.federatedValAccs = append(svc.federatedValAccs, rec.FederatedValAcc)
	if svc.round >= svc.cfg.Rounds {
		svc.state = StateDone
	}
	svc.mu.Unlock()
	svc.commitStatus()
	svc.checkpoint(ctx, rec)

	svc.logger.InfoContext(ctx, "round completed",
		slog.String("run_id", svc.cfg.RunID),
		slog.Int("round", round),
		slog.Any("credits", rec.Credits),
		slog.Float64("threshold", rec.Threshold),
		slog.Float64("federated_val_acc", rec.FederatedValAcc),
		slog.Bool("degenerate", rec.Degenerate),
		slog.Int("timed_out", len(rec.TimedOut)),
	)

	return rec, nil
}

// completeRound runs every phase after the federated update.
func (svc *service) completeRound(ctx context.Context, round int, previous fl.Model, aggregate fl.GradientUpdate, filtered, baselineFiltered []fl.GradientUpdate, timedOut []bool) (RoundRecord, error) {
	rec := RoundRecord{
		RunID: svc.cfg.RunID,
		Round: round,
	}

	var err error
	if _, rec.FederatedValAcc, err = svc.metric.Evaluate(ctx, svc.federated, svc.validation); err != nil {
		return RoundRecord{}, fmt.Errorf("evaluating federated model: %w", err)
	}

	baselines := make([]fl.Model, len(svc.workers))
	for i, w := range svc.workers {
		baselines[i] = w.Model(Baseline)
	}
	if rec.DSSGDSequence, err = svc.rotator.Rotate(round, baselineFiltered, baselines); err != nil {
		return RoundRecord{}, fmt.Errorf("rotating DSSGD baseline: %w", err)
	}
	if rec.DSSGDValAccs, err = svc.evaluateRole(ctx, Baseline, svc.validation); err != nil {
		return RoundRecord{}, err
	}

	if rec.OneOnOneValAccs, err = svc.contrib.OneOnOne(ctx, svc.federated, filtered, svc.validation); err != nil {
		return RoundRecord{}, err
	}
	if svc.cfg.LeaveOneOut {
		if rec.LeaveOneOut, err = svc.leaveOneOut(ctx, previous, filtered, timedOut); err != nil {
			return RoundRecord{}, err
		}
	}

	if err := svc.credits.Update(rec.OneOnOneValAccs, timedOut); err != nil {
		if !errors.Is(err, credit.ErrDegenerateCredit) {
			return RoundRecord{}, err
		}
		rec.Degenerate = true
		svc.logger.WarnContext(ctx, "credits held for round",
			slog.Int("round", round),
			slog.Any("error", err),
		)
	}
	rec.Credits = svc.credits.Credits()
	rec.Threshold = svc.credits.Threshold()
	rec.Qualified = svc.credits.Qualified()

	granted := slices.Clone(rec.Credits)
	for i, out := range timedOut {
		if out {
			granted[i] = 0
			rec.TimedOut = append(rec.TimedOut, svc.workers[i].ID)
		}
	}
	alloc, err := svc.allocator.Allocate(ctx, granted, aggregate, filtered)
	if err != nil {
		return RoundRecord{}, fmt.Errorf("allocating round %d: %w", round, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	svc.limit(g)
	for i, w := range svc.workers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			return fl.ApplyUpdate(w.Model(Participant), alloc.Downloads[i], 1)
		})
	}
	if err := g.Wait(); err != nil {
		return RoundRecord{}, fmt.Errorf("applying allocations: %w", err)
	}

	svc.mu.Lock()
	for j, c := range alloc.Contributed {
		svc.ledger[j] += c
	}
	rec.SharingLedger = slices.Clone(svc.ledger)
	before := svc.testAccsBefore
	svc.mu.Unlock()

	if rec.ParticipantTestAccs, err = svc.evaluateRole(ctx, Participant, svc.test); err != nil {
		return RoundRecord{}, err
	}
	if rec.StandaloneTestAccs, err = svc.evaluateRole(ctx, Standalone, svc.test); err != nil {
		return RoundRecord{}, err
	}
	if rec.DSSGDTestAccs, err = svc.evaluateRole(ctx, Baseline, svc.test); err != nil {
		return RoundRecord{}, err
	}
	if rec.PretrainTestAccs, err = svc.evaluateRole(ctx, Pretrain, svc.test); err != nil {
		return RoundRecord{}, err
	}
	rec.Improvements = make([]float64, len(svc.workers))
	for i, acc := range rec.ParticipantTestAccs {
		rec.Improvements[i] = acc - before[i]
	}

	return rec, nil
}

// localTrain trains every worker in parallel and returns the participant and
// baseline deltas. A worker that exceeds WorkerTimeout is rolled back and
// flagged in timedOut instead of failing the round.
func (svc *service) localTrain(ctx context.Context, round int) (updates, baselineUpdates []fl.GradientUpdate, timedOut []bool, err error) {
	n := len(svc.workers)
	updates = make([]fl.GradientUpdate, n)
	baselineUpdates = make([]fl.GradientUpdate, n)
	timedOut = make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	svc.limit(g)
	for i, w := range svc.workers {
		g.Go(func() error {
			var snapshots [numRoles][]fl.Tensor
			for role := range snapshots {
				snapshots[role] = w.replicas[role].Model.SaveState()
			}

			wctx, cancel := gctx, context.CancelFunc(func() {})
			if svc.cfg.WorkerTimeout > 0 {
				wctx, cancel = context.WithTimeout(gctx, svc.cfg.WorkerTimeout)
			}
			defer cancel()

			err := w.train(wctx, svc.cfg.LocalEpochs, svc.cfg.EpochSampleSize)
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded) && gctx.Err() == nil:
				for role, state := range snapshots {
					if err := w.replicas[role].Model.LoadState(state); err != nil {
						return fmt.Errorf("rolling back worker %d: %w", w.ID, err)
					}
				}
				timedOut[i] = true
				svc.logger.WarnContext(ctx, "worker_timeout",
					slog.Int("round", round),
					slog.Int("worker", w.ID),
					slog.String("name", w.Name),
					slog.Duration("timeout", svc.cfg.WorkerTimeout),
					slog.Any("error", ErrWorkerTimeout),
				)

				return nil
			default:
				return fmt.Errorf("local training of worker %d: %w", w.ID, err)
			}

			if updates[i], err = fl.DeltaOf(snapshots[Participant], w.Model(Participant).Parameters()); err != nil {
				return err
			}
			baselineUpdates[i], err = fl.DeltaOf(snapshots[Baseline], w.Model(Baseline).Parameters())

			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	return updates, baselineUpdates, timedOut, nil
}

// leaveOneOut scores only the workers that contributed this round.
func (svc *service) leaveOneOut(ctx context.Context, previous fl.Model, filtered []fl.GradientUpdate, timedOut []bool) ([]float64, error) {
	var idx []int
	var included []fl.GradientUpdate
	for i, u := range filtered {
		if !timedOut[i] {
			idx = append(idx, i)
			included = append(included, u)
		}
	}

	marginals, err := svc.contrib.LeaveOneOut(ctx, previous, included, svc.validation)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(filtered))
	for k, i := range idx {
		out[i] = marginals[k]
	}

	return out, nil
}

func (svc *service) Resume(ctx context.Context, cp fl.Checkpoint) error {
	svc.runMu.Lock()
	defer svc.runMu.Unlock()

	svc.mu.RLock()
	state := svc.state
	svc.mu.RUnlock()
	if state != StateCreated && state != StateFailed {
		return fmt.Errorf("%w: cannot resume in state %s", ErrInvalidState, state)
	}
	if err := svc.validateCheckpoint(cp); err != nil {
		return err
	}

	engine, err := credit.Restore(cp.Credits, cp.Threshold, svc.cfg.Credit)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}

	// From here on a failure leaves the models half restored.
	if err := svc.federated.LoadState(cp.State); err != nil {
		return svc.fail(fmt.Errorf("restoring federated model: %w", err))
	}
	baseline := svc.federated.Clone()
	if err := baseline.LoadState(cp.Baseline); err != nil {
		return svc.fail(fmt.Errorf("restoring DSSGD baseline: %w", err))
	}
	for i, w := range svc.workers {
		if err := w.restore(cp.Workers[i]); err != nil {
			return svc.fail(err)
		}
	}
	svc.rotator = dssgd.NewRotator(baseline, svc.sched)

	svc.mu.Lock()
	svc.credits = engine
	svc.round = cp.Round + 1
	svc.ledger = slices.Clone(cp.Ledger)
	svc.testAccsBefore = slices.Clone(cp.TestAccsBefore)
	svc.federatedValAccs = slices.Clone(cp.FederatedValAccs)
	svc.report = nil
	svc.state = StateTraining
	if svc.round >= svc.cfg.Rounds {
		svc.state = StateDone
	}
	svc.mu.Unlock()
	svc.commitStatus()

	svc.logger.InfoContext(ctx, "run resumed",
		slog.String("run_id", svc.cfg.RunID),
		slog.Int("from_round", cp.Round),
		slog.Any("credits", cp.Credits),
		slog.Float64("threshold", cp.Threshold),
	)

	return nil
}

func (svc *service) validateCheckpoint(cp fl.Checkpoint) error {
	n := len(svc.workers)
	switch {
	case cp.RunID != svc.cfg.RunID:
		return fmt.Errorf("%w: checkpoint of run %q", ErrInvalidCheckpoint, cp.RunID)
	case cp.Round < 0 || cp.Round >= svc.cfg.Rounds:
		return fmt.Errorf("%w: round %d outside [0, %d)", ErrInvalidCheckpoint, cp.Round, svc.cfg.Rounds)
	case len(cp.Credits) != n || len(cp.Workers) != n || len(cp.Ledger) != n || len(cp.TestAccsBefore) != n:
		return fmt.Errorf("%w: checkpoint is for a different number of workers", ErrInvalidCheckpoint)
	case len(cp.FederatedValAccs) != cp.Round+1:
		return fmt.Errorf("%w: %d federated accuracies after round %d", ErrInvalidCheckpoint, len(cp.FederatedValAccs), cp.Round)
	}

	return nil
}

func (svc *service) Finish(ctx context.Context) (Report, error) {
	svc.runMu.Lock()
	defer svc.runMu.Unlock()

	svc.mu.RLock()
	if svc.report != nil {
		report := *svc.report
		svc.mu.RUnlock()

		return report, nil
	}
	svc.mu.RUnlock()

	if err := svc.expect(StateDone); err != nil {
		return Report{}, err
	}

	participant, err := svc.evaluateRole(ctx, Participant, svc.test)
	if err != nil {
		return Report{}, err
	}
	standalone, err := svc.evaluateRole(ctx, Standalone, svc.test)
	if err != nil {
		return Report{}, err
	}
	baseline, err := svc.evaluateRole(ctx, Baseline, svc.test)
	if err != nil {
		return Report{}, err
	}
	_, federated, err := svc.metric.Evaluate(ctx, svc.federated, svc.test)
	if err != nil {
		return Report{}, err
	}

	svc.mu.RLock()
	report := Report{
		RunID:               svc.cfg.RunID,
		Rounds:              svc.round,
		Workers:             make([]WorkerInfo, len(svc.workers)),
		TestAccsBefore:      slices.Clone(svc.testAccsBefore),
		ParticipantTestAccs: participant,
		StandaloneTestAccs:  standalone,
		DSSGDTestAccs:       baseline,
		SharingLedger:       slices.Clone(svc.ledger),
		Credits:             slices.Clone(svc.status.Credits),
		Threshold:           svc.status.Threshold,
		FederatedValAccs:    slices.Clone(svc.federatedValAccs),
	}
	svc.mu.RUnlock()

	report.Improvements = make([]float64, len(svc.workers))
	report.SharingContributions = make([]float64, len(svc.workers))
	for i, w := range svc.workers {
		report.Workers[i] = WorkerInfo{
			ID:         w.ID,
			Name:       w.Name,
			Theta:      w.Theta,
			FreeRider:  w.FreeRider,
			ShardSize:  w.ShardSize(),
			ParamCount: w.ParamCount(),
		}
		report.Improvements[i] = participant[i] - report.TestAccsBefore[i]
		report.SharingContributions[i] = float64(w.ShardSize()) * w.Theta
	}
	report.Fairness = analyseFairness(report, federated)

	svc.mu.Lock()
	svc.report = &report
	svc.mu.Unlock()

	svc.publish(ctx, fmt.Sprintf(mqtt.ReportTopicTemplate, svc.cfg.RunID), report)
	svc.logger.InfoContext(ctx, "run finished",
		slog.String("run_id", report.RunID),
		slog.Float64("federated_final_performance", report.Fairness.FederatedFinal),
		slog.Float64("standalone_vs_final_corr", report.Fairness.StandaloneVsFinal),
		slog.Float64("sharingcontribution_vs_final_corr", report.Fairness.SharingContributionVsFinal),
	)

	return report, nil
}

func (svc *service) Status(_ context.Context) (Status, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	st := svc.status
	st.Credits = slices.Clone(st.Credits)

	return st, nil
}

func (svc *service) GetRound(ctx context.Context, round int) (RoundRecord, error) {
	return svc.records.Get(ctx, fmt.Sprintf(roundKeyTemplate, round))
}

func (svc *service) ListRounds(ctx context.Context, offset, limit uint64) (RoundPage, error) {
	rounds, total, err := svc.records.List(ctx, offset, limit)
	if err != nil {
		return RoundPage{}, err
	}

	return RoundPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Rounds: rounds,
	}, nil
}

func (svc *service) Report(_ context.Context) (Report, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	if svc.report == nil {
		return Report{}, fmt.Errorf("%w: run has not finished", ErrInvalidState)
	}

	return *svc.report, nil
}

func (svc *service) evaluateRole(ctx context.Context, role ModelRole, loader fl.DataLoader) ([]float64, error) {
	accs := make([]float64, len(svc.workers))

	g, gctx := errgroup.WithContext(ctx)
	svc.limit(g)
	for i, w := range svc.workers {
		g.Go(func() error {
			_, acc, err := svc.metric.Evaluate(gctx, w.Model(role), loader)
			if err != nil {
				return fmt.Errorf("evaluating %s model of worker %d: %w", role, w.ID, err)
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

func (svc *service) publish(ctx context.Context, topic string, msg any) {
	if svc.publisher == nil {
		return
	}
	if err := svc.publisher.Publish(ctx, topic, msg); err != nil {
		svc.logger.WarnContext(ctx, "failed to publish", slog.String("topic", topic), slog.Any("error", err))
	}
}

// storeRound keeps rec under its round key. A record left by an earlier
// attempt at the same round, before a resume, is overwritten.
func (svc *service) storeRound(ctx context.Context, rec RoundRecord) error {
	key := fmt.Sprintf(roundKeyTemplate, rec.Round)
	err := svc.records.Create(ctx, key, rec)
	if errors.Is(err, storage.ErrEntityExists) {
		return svc.records.Update(ctx, key, rec)
	}

	return err
}

// checkpoint saves the committed state after rec's round. Failures are
// logged; the run goes on without a restore point for that round.
func (svc *service) checkpoint(ctx context.Context, rec RoundRecord) {
	if svc.checkpoints == nil {
		return
	}

	cp := fl.Checkpoint{
		RunID:     svc.cfg.RunID,
		Round:     rec.Round,
		State:     svc.federated.SaveState(),
		Credits:   rec.Credits,
		Threshold: rec.Threshold,
		CreatedAt: rec.CompletedAt,
		Baseline:  svc.rotator.Snapshot(),
		Workers:   make([][]fl.ReplicaState, len(svc.workers)),
	}
	for i, w := range svc.workers {
		cp.Workers[i] = w.snapshot()
	}

	svc.mu.RLock()
	cp.Ledger = slices.Clone(svc.ledger)
	cp.TestAccsBefore = slices.Clone(svc.testAccsBefore)
	cp.FederatedValAccs = slices.Clone(svc.federatedValAccs)
	svc.mu.RUnlock()

	if err := svc.checkpoints.Save(cp); err != nil {
		svc.logger.WarnContext(ctx, "failed to save checkpoint", slog.Int("round", rec.Round), slog.Any("error", err))
	}
}

func (svc *service) limit(g *errgroup.Group) {
	if svc.cfg.Parallelism > 0 {
		g.SetLimit(svc.cfg.Parallelism)
	}
}

func (svc *service) expect(want State) error {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	if svc.state != want {
		return fmt.Errorf("%w: in state %s, want %s", ErrInvalidState, svc.state, want)
	}

	return nil
}

func (svc *service) setState(s State) {
	svc.mu.Lock()
	svc.state = s
	svc.mu.Unlock()
	svc.commitStatus()
}

func (svc *service) fail(err error) error {
	svc.setState(StateFailed)

	return err
}

// commitStatus publishes the committed protocol state to readers.
func (svc *service) commitStatus() {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.status = Status{
		RunID:     svc.cfg.RunID,
		State:     svc.state,
		Round:     svc.round,
		Rounds:    svc.cfg.Rounds,
		Credits:   svc.credits.Credits(),
		Threshold: svc.credits.Threshold(),
		Qualified: svc.credits.Qualified(),
		UpdatedAt: time.Now(),
	}
}
