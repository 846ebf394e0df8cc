// Package experiment turns an experiment file into coordinator runs: it
// generates and shards the data, builds the workers, runs every repeat and
// aggregates the results into the experiment's log directory.
package experiment

import (
	"fmt"
	"math/rand/v2"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/cffl"
	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/allocation"
	"github.com/absmach/cffl/pkg/credit"
	"github.com/absmach/cffl/pkg/dataset"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/nn"
)

// Build generates the data of one repeat and the workers that train on it.
// Every random draw comes from a generator seeded with the experiment seed
// and the repeat index.
func Build(cfg cffl.Config, repeat int) (coordinator.Environment, error) {
	rng := rand.New(rand.NewPCG(cfg.Experiment.Seed, uint64(repeat)))

	data := dataset.Synthetic(cfg.Data.Samples, cfg.Data.Features, cfg.Data.Classes, cfg.Data.Noise, rng)
	trainVal, test, err := data.TrainValSplit(1 - cfg.Data.TestRatio)
	if err != nil {
		return coordinator.Environment{}, fmt.Errorf("splitting test set: %w", err)
	}
	train, val, err := trainVal.TrainValSplit(cfg.Data.TrainValSplitRatio)
	if err != nil {
		return coordinator.Environment{}, fmt.Errorf("splitting validation set: %w", err)
	}
	train = train.Head(cfg.Data.SampleSizeCap)

	shards, err := dataset.Partition(train.Len(), cfg.Protocol.Workers, dataset.Split(cfg.Data.Split), rng)
	if err != nil {
		return coordinator.Environment{}, err
	}

	proto := nn.NewLogisticRegression(cfg.Data.Features, cfg.Data.Classes, rng)
	names := namegenerator.NewGenerator()
	firstFreeRider := cfg.Protocol.Workers - cfg.Protocol.FreeRiders

	workers := make([]*coordinator.Worker, cfg.Protocol.Workers)
	for i := range workers {
		workers[i] = coordinator.NewWorker(coordinator.WorkerConfig{
			ID:         i,
			Name:       names.Generate(),
			Theta:      cfg.Protocol.ThetaOf(i),
			FreeRider:  i >= firstFreeRider,
			Shard:      dataset.NewLoader(train.Subset(shards[i]), cfg.Data.BatchSize),
			Model:      proto,
			Optimizer:  nn.NewSGD,
			Scheduler:  nn.NewExponentialLR(cfg.Training.Gamma),
			LR:         cfg.Training.LR,
			PretrainLR: cfg.Training.PretrainLR,
			Rand:       rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())),
		})
	}

	return coordinator.Environment{
		Federated:  proto.Clone(),
		Workers:    workers,
		Validation: dataset.NewLoader(val, cfg.Data.BatchSize),
		Test:       dataset.NewLoader(test, cfg.Data.BatchSize),
		Metric:     nn.Evaluator{},
	}, nil
}

// CoordinatorConfig maps the experiment settings onto one coordinator run.
func CoordinatorConfig(cfg cffl.Config, runID string) (coordinator.Config, error) {
	timeout, err := cfg.Protocol.Timeout()
	if err != nil {
		return coordinator.Config{}, err
	}

	return coordinator.Config{
		RunID:           runID,
		PretrainEpochs:  cfg.Training.PretrainEpochs,
		Rounds:          cfg.Training.FLEpochs,
		LocalEpochs:     cfg.Training.LocalEpochs,
		EpochSampleSize: cfg.Training.EpochSampleSize,
		Aggregation:     fl.ModeMean,
		Credit: credit.Options{
			Alpha: cfg.Protocol.Alpha,
			Fade:  cfg.Protocol.Fade,
			Floor: cfg.Protocol.ThresholdFloor,
		},
		Allocation: allocation.Options{
			Strategy:    allocation.Strategy(cfg.Protocol.Allocation),
			Budget:      allocation.Budget(cfg.Protocol.Budget),
			Parallelism: cfg.Protocol.Parallelism,
		},
		DSSGDOrder:    cfg.Protocol.DSSGDOrder,
		LeaveOneOut:   cfg.Protocol.LeaveOneOut,
		WorkerTimeout: timeout,
		Parallelism:   cfg.Protocol.Parallelism,
	}, nil
}
