package coordinator_test

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/allocation"
	"github.com/absmach/cffl/pkg/credit"
	"github.com/absmach/cffl/pkg/dataset"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/mqtt"
	"github.com/absmach/cffl/pkg/mqtt/mocks"
	"github.com/absmach/cffl/pkg/nn"
	"github.com/absmach/cffl/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testRunID    = "test-run"
	testFeatures = 4
	testClasses  = 2
)

// slowModel delays every Backward call once armed.
type slowModel struct {
	fl.Model
	delay time.Duration
	armed *atomic.Bool
}

func (m *slowModel) Backward(b fl.Batch) float64 {
	if m.armed.Load() {
		time.Sleep(m.delay)
	}

	return m.Model.Backward(b)
}

func (m *slowModel) Clone() fl.Model {
	return &slowModel{Model: m.Model.Clone(), delay: m.delay, armed: m.armed}
}

type envOptions struct {
	workers    int
	freeRiders map[int]bool
	slow       map[int]bool
	armed      *atomic.Bool
}

func newEnv(t *testing.T, opts envOptions) coordinator.Environment {
	t.Helper()

	rng := rand.New(rand.NewPCG(42, 7))
	data := dataset.Synthetic(800, testFeatures, testClasses, 0.1, rng)
	train, test, err := data.TrainValSplit(0.8)
	require.NoError(t, err)
	train, val, err := train.TrainValSplit(0.9)
	require.NoError(t, err)

	shards, err := dataset.Partition(train.Len(), opts.workers, dataset.SplitUniform, rng)
	require.NoError(t, err)

	proto := nn.NewLogisticRegression(testFeatures, testClasses, rng)
	workers := make([]*coordinator.Worker, opts.workers)
	for i := range workers {
		var model fl.Model = proto
		if opts.slow[i] {
			model = &slowModel{Model: proto.Clone(), delay: 200 * time.Millisecond, armed: opts.armed}
		}
		workers[i] = coordinator.NewWorker(coordinator.WorkerConfig{
			ID:        i,
			Name:      fmt.Sprintf("worker-%d", i),
			Theta:     0.5,
			FreeRider: opts.freeRiders[i],
			Shard:     dataset.NewLoader(train.Subset(shards[i]), 16),
			Model:     model,
			Optimizer: nn.NewSGD,
			Scheduler: nn.NewExponentialLR(0.977),
			LR:        0.1,
			Rand:      rand.New(rand.NewPCG(uint64(i), 99)),
		})
	}

	return coordinator.Environment{
		Federated:  proto.Clone(),
		Workers:    workers,
		Validation: dataset.NewLoader(val, 32),
		Test:       dataset.NewLoader(test, 32),
		Metric:     nn.Evaluator{},
	}
}

func newConfig(rounds int) coordinator.Config {
	return coordinator.Config{
		RunID:          testRunID,
		PretrainEpochs: 1,
		Rounds:         rounds,
		LocalEpochs:    1,
		Aggregation:    fl.ModeMean,
		Allocation:     allocation.Options{Strategy: allocation.StrategyTopK},
		LeaveOneOut:    true,
	}
}

func newService(t *testing.T, cfg coordinator.Config, env coordinator.Environment, pub mqtt.PubSub) coordinator.Service {
	t.Helper()

	svc, err := coordinator.NewService(cfg, env, storage.NewInMemoryStorage[coordinator.RoundRecord](), pub, nil, slog.Default())
	require.NoError(t, err)

	return svc
}

func TestRunCompletesAllRounds(t *testing.T) {
	t.Parallel()

	const rounds = 3
	ctx := context.Background()

	pub := new(mocks.MockPubSub)
	pub.On("Publish", mock.Anything, fmt.Sprintf(mqtt.RoundTopicTemplate, testRunID), mock.AnythingOfType("coordinator.RoundRecord")).Return(nil).Times(rounds)
	pub.On("Publish", mock.Anything, fmt.Sprintf(mqtt.ReportTopicTemplate, testRunID), mock.AnythingOfType("coordinator.Report")).Return(nil).Once()

	svc := newService(t, newConfig(rounds), newEnv(t, envOptions{workers: 3}), pub)

	report, err := coordinator.Run(ctx, svc)
	require.NoError(t, err)
	pub.AssertExpectations(t)

	assert.Equal(t, testRunID, report.RunID)
	assert.Equal(t, rounds, report.Rounds)
	assert.Len(t, report.Workers, 3)
	assert.Len(t, report.FederatedValAccs, rounds)
	assert.Len(t, report.SharingLedger, 3)

	sum := 0.0
	for _, c := range report.Credits {
		assert.GreaterOrEqual(t, c, 0.0)
		sum += c
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	for i, w := range report.Workers {
		assert.InDelta(t, float64(w.ShardSize)*w.Theta, report.SharingContributions[i], 1e-9)
		assert.InDelta(t, report.ParticipantTestAccs[i]-report.TestAccsBefore[i], report.Improvements[i], 1e-9)
	}
	assert.Greater(t, report.Fairness.FederatedFinal, 0.5)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateDone, status.State)
	assert.Equal(t, rounds, status.Round)
	assert.Equal(t, report.Credits, status.Credits)

	page, err := svc.ListRounds(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(rounds), page.Total)
	require.Len(t, page.Rounds, rounds-1)
	assert.Equal(t, 1, page.Rounds[0].Round)

	rec, err := svc.GetRound(ctx, rounds-1)
	require.NoError(t, err)
	assert.Equal(t, report.Credits, rec.Credits)
	assert.Len(t, rec.LeaveOneOut, 3)
	assert.Len(t, rec.DSSGDSequence, 3)
	assert.Equal(t, report.SharingLedger, rec.SharingLedger)

	_, err = svc.GetRound(ctx, rounds)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.RunRound(ctx)
	assert.ErrorIs(t, err, coordinator.ErrRunComplete)

	again, err := svc.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, report, again)

	stored, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, report, stored)
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	run := func() coordinator.Report {
		svc := newService(t, newConfig(2), newEnv(t, envOptions{workers: 3}), nil)
		report, err := coordinator.Run(context.Background(), svc)
		require.NoError(t, err)

		return report
	}

	first, second := run(), run()
	assert.Equal(t, first.Credits, second.Credits)
	assert.Equal(t, first.ParticipantTestAccs, second.ParticipantTestAccs)
	assert.Equal(t, first.SharingLedger, second.SharingLedger)
}

func TestPhaseOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cases := []struct {
		desc  string
		setup func(t *testing.T, svc coordinator.Service)
		call  func(svc coordinator.Service) error
		err   error
	}{
		{
			desc:  "initialize before pretrain",
			setup: func(*testing.T, coordinator.Service) {},
			call:  func(svc coordinator.Service) error { return svc.Initialize(ctx) },
			err:   coordinator.ErrInvalidState,
		},
		{
			desc:  "round before initialize",
			setup: func(t *testing.T, svc coordinator.Service) { require.NoError(t, svc.Pretrain(ctx)) },
			call: func(svc coordinator.Service) error {
				_, err := svc.RunRound(ctx)

				return err
			},
			err: coordinator.ErrInvalidState,
		},
		{
			desc:  "pretrain twice",
			setup: func(t *testing.T, svc coordinator.Service) { require.NoError(t, svc.Pretrain(ctx)) },
			call:  func(svc coordinator.Service) error { return svc.Pretrain(ctx) },
			err:   coordinator.ErrInvalidState,
		},
		{
			desc: "finish before last round",
			setup: func(t *testing.T, svc coordinator.Service) {
				require.NoError(t, svc.Pretrain(ctx))
				require.NoError(t, svc.Initialize(ctx))
			},
			call: func(svc coordinator.Service) error {
				_, err := svc.Finish(ctx)

				return err
			},
			err: coordinator.ErrInvalidState,
		},
		{
			desc:  "report before finish",
			setup: func(*testing.T, coordinator.Service) {},
			call: func(svc coordinator.Service) error {
				_, err := svc.Report(ctx)

				return err
			},
			err: coordinator.ErrInvalidState,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			svc := newService(t, newConfig(2), newEnv(t, envOptions{workers: 2}), nil)
			tc.setup(t, svc)
			assert.ErrorIs(t, tc.call(svc), tc.err)
		})
	}
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc   string
		mutate func(cfg *coordinator.Config, env *coordinator.Environment)
		err    error
	}{
		{
			desc:   "no workers",
			mutate: func(_ *coordinator.Config, env *coordinator.Environment) { env.Workers = nil },
			err:    coordinator.ErrNoWorkers,
		},
		{
			desc:   "missing metric",
			mutate: func(_ *coordinator.Config, env *coordinator.Environment) { env.Metric = nil },
			err:    coordinator.ErrMissingInput,
		},
		{
			desc:   "no rounds",
			mutate: func(cfg *coordinator.Config, _ *coordinator.Environment) { cfg.Rounds = 0 },
			err:    coordinator.ErrMissingInput,
		},
		{
			desc:   "unknown DSSGD order",
			mutate: func(cfg *coordinator.Config, _ *coordinator.Environment) { cfg.DSSGDOrder = "random" },
			err:    coordinator.ErrMissingInput,
		},
		{
			desc:   "unknown aggregation mode",
			mutate: func(cfg *coordinator.Config, _ *coordinator.Environment) { cfg.Aggregation = "median" },
			err:    fl.ErrInvalidMode,
		},
		{
			desc: "unknown allocation strategy",
			mutate: func(cfg *coordinator.Config, _ *coordinator.Environment) {
				cfg.Allocation.Strategy = "random"
			},
			err: allocation.ErrInvalidStrategy,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			cfg, env := newConfig(1), newEnv(t, envOptions{workers: 2})
			tc.mutate(&cfg, &env)
			_, err := coordinator.NewService(cfg, env, storage.NewInMemoryStorage[coordinator.RoundRecord](), nil, nil, slog.Default())
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestWorkerTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	armed := new(atomic.Bool)
	env := newEnv(t, envOptions{workers: 3, slow: map[int]bool{2: true}, armed: armed})
	slow := env.Workers[2]

	cfg := newConfig(2)
	cfg.WorkerTimeout = 20 * time.Millisecond
	svc := newService(t, cfg, env, nil)

	require.NoError(t, svc.Pretrain(ctx))
	require.NoError(t, svc.Initialize(ctx))
	armed.Store(true)

	before := slow.Model(coordinator.Participant).SaveState()
	rec, err := svc.RunRound(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, rec.TimedOut)
	assert.Zero(t, rec.Credits[2])

	zeroed := slices.Clone(rec.OneOnOneValAccs)
	zeroed[2] = 0
	want, err := credit.NewEngine(3, cfg.Credit)
	require.NoError(t, err)
	require.NoError(t, want.Update(zeroed, []bool{false, false, true}))
	assert.InDeltaSlice(t, want.Credits(), rec.Credits, 1e-12)
	assert.Zero(t, rec.LeaveOneOut[2])
	assert.Equal(t, before, slow.Model(coordinator.Participant).SaveState())

	sum := 0.0
	for _, c := range rec.Credits {
		sum += c
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateTraining, status.State)
	assert.Equal(t, 1, status.Round)
}

func TestAllWorkersTimeOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	armed := new(atomic.Bool)
	env := newEnv(t, envOptions{workers: 2, slow: map[int]bool{0: true, 1: true}, armed: armed})

	cfg := newConfig(2)
	cfg.WorkerTimeout = 20 * time.Millisecond
	svc := newService(t, cfg, env, nil)

	require.NoError(t, svc.Pretrain(ctx))
	require.NoError(t, svc.Initialize(ctx))
	armed.Store(true)

	_, err := svc.RunRound(ctx)
	assert.ErrorIs(t, err, fl.ErrEmptyInput)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateTraining, status.State)
	assert.Zero(t, status.Round)

	page, err := svc.ListRounds(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestFreeRiderEarnsLessCredit(t *testing.T) {
	t.Parallel()

	svc := newService(t, newConfig(3), newEnv(t, envOptions{workers: 3, freeRiders: map[int]bool{2: true}}), nil)

	report, err := coordinator.Run(context.Background(), svc)
	require.NoError(t, err)

	assert.True(t, report.Workers[2].FreeRider)
	assert.Less(t, report.Credits[2], max(report.Credits[0], report.Credits[1]))
}

func TestCancelledContextFailsRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newService(t, newConfig(1), newEnv(t, envOptions{workers: 2}), nil)
	err := svc.Pretrain(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateFailed, status.State)
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	t.Parallel()

	const rounds = 3
	ctx := context.Background()
	cfg := newConfig(rounds)
	cfg.DSSGDOrder = coordinator.OrderCredit
	records := storage.NewInMemoryStorage[coordinator.RoundRecord]()

	checkpoints, err := fl.NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	full, err := coordinator.NewService(cfg, newEnv(t, envOptions{workers: 3}), records, nil, checkpoints, slog.Default())
	require.NoError(t, err)
	want, err := coordinator.Run(ctx, full)
	require.NoError(t, err)

	saved, err := checkpoints.Rounds(testRunID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, saved)

	cp, err := checkpoints.Load(testRunID, 0)
	require.NoError(t, err)
	assert.Len(t, cp.FederatedValAccs, 1)
	assert.Equal(t, want.TestAccsBefore, cp.TestAccsBefore)

	// The resumed run shares the record store, so rounds 1 and 2 are
	// written over the records the full run left behind.
	resumed, err := coordinator.NewService(cfg, newEnv(t, envOptions{workers: 3}), records, nil, nil, slog.Default())
	require.NoError(t, err)

	status, err := resumed.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateCreated, status.State)

	got, err := coordinator.Resume(ctx, resumed, *cp)
	require.NoError(t, err)

	assert.InDeltaSlice(t, want.Credits, got.Credits, 1e-12)
	assert.InDelta(t, want.Threshold, got.Threshold, 1e-12)
	assert.Equal(t, want.SharingLedger, got.SharingLedger)
	assert.InDeltaSlice(t, want.FederatedValAccs, got.FederatedValAccs, 1e-12)
	assert.InDeltaSlice(t, want.ParticipantTestAccs, got.ParticipantTestAccs, 1e-12)
	assert.InDeltaSlice(t, want.StandaloneTestAccs, got.StandaloneTestAccs, 1e-12)
	assert.InDeltaSlice(t, want.DSSGDTestAccs, got.DSSGDTestAccs, 1e-12)

	page, err := resumed.ListRounds(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(rounds), page.Total)

	for i, w := range got.Workers {
		assert.Equal(t, testFeatures*testClasses+testClasses, w.ParamCount, "worker %d", i)
	}
}

func TestResumeValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	checkpoints, err := fl.NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	full, err := coordinator.NewService(newConfig(2), newEnv(t, envOptions{workers: 2}), storage.NewInMemoryStorage[coordinator.RoundRecord](), nil, checkpoints, slog.Default())
	require.NoError(t, err)
	require.NoError(t, full.Pretrain(ctx))
	require.NoError(t, full.Initialize(ctx))
	_, err = full.RunRound(ctx)
	require.NoError(t, err)

	valid, err := checkpoints.Latest(testRunID)
	require.NoError(t, err)

	cases := []struct {
		desc   string
		setup  func(t *testing.T, svc coordinator.Service)
		mutate func(cp *fl.Checkpoint)
		err    error
	}{
		{
			desc:   "other run",
			setup:  func(*testing.T, coordinator.Service) {},
			mutate: func(cp *fl.Checkpoint) { cp.RunID = "other-run" },
			err:    coordinator.ErrInvalidCheckpoint,
		},
		{
			desc:   "round past the end",
			setup:  func(*testing.T, coordinator.Service) {},
			mutate: func(cp *fl.Checkpoint) { cp.Round = 2 },
			err:    coordinator.ErrInvalidCheckpoint,
		},
		{
			desc:   "worker count differs",
			setup:  func(*testing.T, coordinator.Service) {},
			mutate: func(cp *fl.Checkpoint) { cp.Workers = cp.Workers[:1] },
			err:    coordinator.ErrInvalidCheckpoint,
		},
		{
			desc: "run already training",
			setup: func(t *testing.T, svc coordinator.Service) {
				require.NoError(t, svc.Pretrain(ctx))
				require.NoError(t, svc.Initialize(ctx))
			},
			mutate: func(*fl.Checkpoint) {},
			err:    coordinator.ErrInvalidState,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			svc := newService(t, newConfig(2), newEnv(t, envOptions{workers: 2}), nil)
			tc.setup(t, svc)

			cp := *valid
			cp.Workers = slices.Clone(valid.Workers)
			tc.mutate(&cp)
			assert.ErrorIs(t, svc.Resume(ctx, cp), tc.err)
		})
	}

	t.Run("after a failed round", func(t *testing.T) {
		t.Parallel()

		svc := newService(t, newConfig(2), newEnv(t, envOptions{workers: 2}), nil)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		require.Error(t, svc.Pretrain(cancelled))

		require.NoError(t, svc.Resume(ctx, *valid))
		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, coordinator.StateTraining, status.State)
		assert.Equal(t, 1, status.Round)
		assert.Equal(t, valid.Credits, status.Credits)

		_, err = svc.RunRound(ctx)
		require.NoError(t, err)
		_, err = svc.Finish(ctx)
		require.NoError(t, err)
	})
}
