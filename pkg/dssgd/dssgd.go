// Package dssgd circulates one shared baseline model through the workers in
// turn, as sequential decentralised SGD with no fairness weighting.
package dssgd

import (
	"errors"
	"fmt"
	"sync"

	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/scheduler"
)

var ErrLengthMismatch = errors.New("updates and replicas differ in length")

type Rotator struct {
	mu       sync.RWMutex
	baseline fl.Model
	sched    scheduler.Scheduler
}

// NewRotator takes ownership of baseline. A nil sched means round robin.
func NewRotator(baseline fl.Model, sched scheduler.Scheduler) *Rotator {
	if sched == nil {
		sched = scheduler.NewRoundRobin()
	}

	return &Rotator{
		baseline: baseline,
		sched:    sched,
	}
}

// Rotate applies updates[id] to the baseline in the scheduled order for the
// round and, after each step, loads the baseline state into replicas[id].
// A nil update leaves the baseline unchanged for that worker but still
// syncs its replica.
func (r *Rotator) Rotate(round int, updates []fl.GradientUpdate, replicas []fl.Model) ([]int, error) {
	if len(updates) != len(replicas) {
		return nil, fmt.Errorf("%w: %d updates, %d replicas", ErrLengthMismatch, len(updates), len(replicas))
	}

	seq, err := r.sched.Sequence(round, len(updates))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range seq {
		if updates[id] != nil {
			if err := fl.ApplyUpdate(r.baseline, updates[id], 1); err != nil {
				return nil, fmt.Errorf("applying update of worker %d: %w", id, err)
			}
		}
		if err := replicas[id].LoadState(r.baseline.SaveState()); err != nil {
			return nil, fmt.Errorf("syncing replica of worker %d: %w", id, err)
		}
	}

	return seq, nil
}

// Snapshot returns a copy of the baseline's current parameters.
func (r *Rotator) Snapshot() []fl.Tensor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.baseline.SaveState()
}
