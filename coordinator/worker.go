package coordinator

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/absmach/cffl/pkg/fl"
)

// ModelRole names one of the independently trained replicas a worker owns.
type ModelRole int

const (
	// Participant receives fair allocations from the federation.
	Participant ModelRole = iota
	// Standalone never exchanges anything and trains one local epoch per round.
	Standalone
	// Baseline is the worker's copy of the round-robin DSSGD model.
	Baseline
	// Pretrain keeps training locally for the whole run.
	Pretrain

	numRoles = iota
)

func (r ModelRole) String() string {
	switch r {
	case Participant:
		return "participant"
	case Standalone:
		return "standalone"
	case Baseline:
		return "baseline"
	case Pretrain:
		return "pretrain"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Replica is a model together with the optimizer and schedule that train it.
type Replica struct {
	Model     fl.Model
	Optimizer fl.Optimizer
	Scheduler fl.LRScheduler
}

type WorkerConfig struct {
	ID        int
	Name      string
	Theta     float64
	FreeRider bool
	Shard     fl.DataLoader
	// Model is the prototype every replica is cloned from.
	Model     fl.Model
	Optimizer fl.OptimizerFunc
	Scheduler fl.SchedulerFunc
	LR        float64
	// PretrainLR, when set, is used by every replica during pretraining.
	PretrainLR float64
	Rand       *rand.Rand
}

// Worker owns a data shard and one replica per ModelRole. Only the worker's
// own goroutine trains its replicas; the coordinator writes to them between
// training phases.
type Worker struct {
	ID        int
	Name      string
	Theta     float64
	FreeRider bool

	shard      fl.DataLoader
	replicas   [numRoles]*Replica
	lr         float64
	pretrainLR float64
	rng        *rand.Rand
}

func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		ID:         cfg.ID,
		Name:       cfg.Name,
		Theta:      cfg.Theta,
		FreeRider:  cfg.FreeRider,
		shard:      cfg.Shard,
		lr:         cfg.LR,
		pretrainLR: cfg.PretrainLR,
		rng:        cfg.Rand,
	}

	for role := range w.replicas {
		m := cfg.Model.Clone()
		opt := cfg.Optimizer(m, cfg.LR)
		var sched fl.LRScheduler
		if cfg.Scheduler != nil {
			sched = cfg.Scheduler(opt)
		}
		w.replicas[role] = &Replica{Model: m, Optimizer: opt, Scheduler: sched}
	}

	return w
}

func (w *Worker) Model(role ModelRole) fl.Model {
	return w.replicas[role].Model
}

// ShardSize is the number of samples the worker trains on per epoch,
// counted in whole batches.
func (w *Worker) ShardSize() int {
	return len(w.shard.Batches()) * w.shard.BatchSize()
}

// ParamCount is the number of scalar parameters of the participant model.
func (w *Worker) ParamCount() int {
	return fl.GradientUpdate(w.Model(Participant).Parameters()).NumParams()
}

// snapshot captures every replica in role order.
func (w *Worker) snapshot() []fl.ReplicaState {
	out := make([]fl.ReplicaState, numRoles)
	for role, r := range w.replicas {
		out[role] = fl.ReplicaState{
			State: r.Model.SaveState(),
			LR:    r.Optimizer.LearningRate(),
		}
	}

	return out
}

// restore loads a snapshot taken by snapshot. Learning-rate schedules decay
// the optimizer's current rate, so restoring the rate restores the schedule.
func (w *Worker) restore(states []fl.ReplicaState) error {
	if len(states) != numRoles {
		return fmt.Errorf("%w: worker %d has %d replicas, want %d", ErrInvalidCheckpoint, w.ID, len(states), numRoles)
	}

	for role, r := range w.replicas {
		if err := r.Model.LoadState(states[role].State); err != nil {
			return fmt.Errorf("restoring %s model of worker %d: %w", ModelRole(role), w.ID, err)
		}
		r.Optimizer.SetLearningRate(states[role].LR)
	}

	return nil
}

// pretrain trains every replica for epochs full passes.
func (w *Worker) pretrain(ctx context.Context, epochs, sampleSize int) error {
	if w.FreeRider {
		return w.perturb()
	}

	if w.pretrainLR > 0 {
		for _, r := range w.replicas {
			r.Optimizer.SetLearningRate(w.pretrainLR)
		}
		defer func() {
			for _, r := range w.replicas {
				r.Optimizer.SetLearningRate(w.lr)
			}
		}()
	}

	all := []ModelRole{Participant, Standalone, Baseline, Pretrain}
	for range epochs {
		if err := w.epoch(ctx, sampleSize, all); err != nil {
			return err
		}
	}

	return nil
}

// train runs one round of local training. Participant, Baseline and
// Pretrain replicas train for every epoch; Standalone only for the first.
// Participant and Pretrain schedules advance every epoch, Standalone's once
// per round and Baseline's never.
func (w *Worker) train(ctx context.Context, epochs, sampleSize int) error {
	if w.FreeRider {
		return w.perturb()
	}

	for e := range epochs {
		roles := []ModelRole{Pretrain, Participant, Baseline}
		if e == 0 {
			roles = append(roles, Standalone)
		}
		if err := w.epoch(ctx, sampleSize, roles); err != nil {
			return err
		}

		w.step(Pretrain)
		w.step(Participant)
		if e == 0 {
			w.step(Standalone)
		}
	}

	return nil
}

// epoch makes one pass over the shard, stopping after sampleSize samples
// when sampleSize > 0.
func (w *Worker) epoch(ctx context.Context, sampleSize int, roles []ModelRole) error {
	seen := 0
	for _, batch := range w.shard.Batches() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sampleSize > 0 && seen >= sampleSize {
			return nil
		}

		for _, role := range roles {
			r := w.replicas[role]
			r.Optimizer.ZeroGrad()
			r.Model.Backward(batch)
			r.Optimizer.Step()
		}
		seen += batch.Len()
	}

	return nil
}

func (w *Worker) step(role ModelRole) {
	if s := w.replicas[role].Scheduler; s != nil {
		s.Step()
	}
}

// perturb adds uniform noise in [-1, 1) to every replica instead of training.
func (w *Worker) perturb() error {
	for _, r := range w.replicas {
		noise := fl.ZeroUpdate(r.Model.Parameters())
		for _, t := range noise {
			for i := range t.Data {
				t.Data[i] = w.rng.Float64()*2 - 1
			}
		}
		if err := fl.ApplyUpdate(r.Model, noise, 1); err != nil {
			return err
		}
	}

	return nil
}
