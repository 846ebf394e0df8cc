// Package scheduler decides the order in which workers visit a shared model.
package scheduler

import "errors"

var ErrNoWorker = errors.New("no worker was provided")

type Scheduler interface {
	// Sequence returns the visiting order of n workers for the given round.
	Sequence(round, n int) ([]int, error)
}
