package experiment_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/absmach/cffl"
	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/experiment"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/results"
	"github.com/absmach/cffl/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig(t *testing.T) cffl.Config {
	t.Helper()

	cfg := cffl.Default()
	cfg.Experiment.LogDir = t.TempDir()
	cfg.Experiment.Repeats = 2
	cfg.Data.Samples = 600
	cfg.Data.Features = 4
	cfg.Data.SampleSizeCap = 400
	cfg.Data.Split = "uniform"
	cfg.Training.LR = 0.1
	cfg.Training.PretrainEpochs = 1
	cfg.Training.FLEpochs = 2
	cfg.Training.LocalEpochs = 1
	cfg.Protocol.Workers = 3
	cfg.Protocol.Thetas = []float64{0.5}
	cfg.Protocol.FreeRiders = 1
	require.NoError(t, cfg.Validate())

	return cfg
}

func TestBuild(t *testing.T) {
	t.Parallel()

	cfg := smallConfig(t)
	env, err := experiment.Build(cfg, 0)
	require.NoError(t, err)

	require.Len(t, env.Workers, 3)
	total := 0
	for i, w := range env.Workers {
		assert.Equal(t, i, w.ID)
		assert.NotEmpty(t, w.Name)
		assert.InDelta(t, 0.5, w.Theta, 1e-12)
		assert.Equal(t, i == 2, w.FreeRider)
		total += w.ShardSize()
	}
	assert.LessOrEqual(t, total, cfg.Data.SampleSizeCap+cfg.Protocol.Workers*cfg.Data.BatchSize)
	assert.Equal(t, 60, env.Test.Len())
	assert.Equal(t, 54, env.Validation.Len())

	again, err := experiment.Build(cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, env.Federated.SaveState(), again.Federated.SaveState())

	other, err := experiment.Build(cfg, 1)
	require.NoError(t, err)
	assert.NotEqual(t, env.Federated.SaveState(), other.Federated.SaveState())
}

func TestCoordinatorConfig(t *testing.T) {
	t.Parallel()

	cfg := smallConfig(t)
	cfg.Protocol.WorkerTimeout = "2s"
	cfg.Protocol.DSSGDOrder = coordinator.OrderCredit

	cc, err := experiment.CoordinatorConfig(cfg, "run")
	require.NoError(t, err)
	assert.Equal(t, "run", cc.RunID)
	assert.Equal(t, 2, cc.Rounds)
	assert.Equal(t, "2s", cc.WorkerTimeout.String())
	assert.Equal(t, coordinator.OrderCredit, cc.DSSGDOrder)
	assert.InDelta(t, 5, cc.Credit.Alpha, 1e-12)
}

func TestRunnerWritesResults(t *testing.T) {
	t.Parallel()

	cfg := smallConfig(t)
	current := new(experiment.Current)
	runner := experiment.NewRunner(cfg, experiment.Options{
		Storage: storage.Config{Dir: t.TempDir()},
		Current: current,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = runner.Close() })

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	dir := runner.Dir()
	assert.True(t, results.IsComplete(dir))
	for _, name := range []string{"settings.toml", "report_0.json", "report_1.json", results.AggregateFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	assert.Len(t, summary.Runs["federated_val_acc"], 2)
	assert.Len(t, summary.Mean["federated_val_acc"], 2)
	assert.Len(t, summary.Mean["credits"], 3)
	assert.Contains(t, summary.Names(), "CFFL_best_worker")

	status, err := current.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateDone, status.State)

	page, err := current.ListRounds(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(cfg.Training.FLEpochs), page.Total)

	again, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary.Runs, again.Runs)
}

func TestCurrentWithoutRun(t *testing.T) {
	t.Parallel()

	current := new(experiment.Current)
	_, err := current.Status(context.Background())
	assert.ErrorIs(t, err, coordinator.ErrInvalidState)
	_, err = current.Report(context.Background())
	assert.ErrorIs(t, err, coordinator.ErrInvalidState)
}

func TestRunnerResumesFromCheckpoints(t *testing.T) {
	t.Parallel()

	cfg := smallConfig(t)
	cfg.Experiment.CheckpointDir = t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := experiment.NewRunner(cfg, experiment.Options{}, logger).Run(context.Background())
	require.NoError(t, err)

	store, err := fl.NewCheckpointStore(cfg.Experiment.CheckpointDir)
	require.NoError(t, err)
	dir := cfg.RunDir()
	for repeat := range cfg.Experiment.Repeats {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("run_%d.id", repeat)))
		require.NoError(t, err)

		cp, err := store.Latest(strings.TrimSpace(string(data)))
		require.NoError(t, err)
		assert.Equal(t, cfg.Training.FLEpochs-1, cp.Round)
		assert.Len(t, cp.Workers, cfg.Protocol.Workers)
	}

	require.NoError(t, os.Remove(filepath.Join(dir, results.CompleteFile)))

	resumed, err := experiment.NewRunner(cfg, experiment.Options{}, logger).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, results.IsComplete(dir))
	assert.Equal(t, first.Runs, resumed.Runs)
}
