// Package coordinator drives credit-based fair federated learning: it owns
// the federated model and the workers, and runs each round through local
// training, masking, aggregation, evaluation, credit update and allocation.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/absmach/cffl/pkg/fl"
)

type State string

const (
	StateCreated    State = "created"
	StatePretrained State = "pretrained"
	StateTraining   State = "training"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var (
	// ErrInvalidState is returned when a phase is invoked out of order.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrRunComplete is returned by RunRound once every round has run.
	ErrRunComplete = errors.New("all rounds already completed")
	// ErrWorkerTimeout marks a worker that did not finish local training in time.
	ErrWorkerTimeout = errors.New("worker timed out")
	ErrNoWorkers     = errors.New("at least one worker is required")
	ErrMissingInput  = errors.New("missing coordinator input")
	// ErrInvalidCheckpoint is returned when a checkpoint does not fit the run.
	ErrInvalidCheckpoint = errors.New("checkpoint does not match run")
)

type Service interface {
	// Pretrain trains every worker's replicas locally with no exchange.
	Pretrain(ctx context.Context) error
	// Initialize sets the federated model to the mean of the pretrained
	// participant models and seeds the DSSGD baseline from it.
	Initialize(ctx context.Context) error
	// RunRound runs one federated round and returns its record.
	RunRound(ctx context.Context) (RoundRecord, error)
	// Finish evaluates the final models and returns the run report.
	Finish(ctx context.Context) (Report, error)
	// Resume restores the run from a checkpoint instead of Pretrain and
	// Initialize, or after a failed round. The next round run is the one
	// after cp.Round.
	Resume(ctx context.Context, cp fl.Checkpoint) error

	Status(ctx context.Context) (Status, error)
	GetRound(ctx context.Context, round int) (RoundRecord, error)
	ListRounds(ctx context.Context, offset, limit uint64) (RoundPage, error)
	Report(ctx context.Context) (Report, error)
}

type Status struct {
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Round     int       `json:"round"`
	Rounds    int       `json:"rounds"`
	Credits   []float64 `json:"credits"`
	Threshold float64   `json:"threshold"`
	Qualified int       `json:"qualified"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoundRecord is everything measured in one round.
type RoundRecord struct {
	RunID      string    `json:"run_id"`
	Round      int       `json:"round"`
	Credits    []float64 `json:"credits"`
	Threshold  float64   `json:"credit_threshold"`
	Qualified  int       `json:"qualified"`
	Degenerate bool      `json:"degenerate,omitempty"`

	FederatedValAcc float64   `json:"federated_val_acc"`
	OneOnOneValAccs []float64 `json:"one_on_one_val_accs"`
	LeaveOneOut     []float64 `json:"leave_one_out,omitempty"`
	DSSGDValAccs    []float64 `json:"dssgd_val_accs"`
	DSSGDSequence   []int     `json:"dssgd_sequence"`

	ParticipantTestAccs []float64 `json:"worker_model_test_accs_after"`
	StandaloneTestAccs  []float64 `json:"worker_standalone_test_accs"`
	DSSGDTestAccs       []float64 `json:"dssgd_model_test_accs"`
	PretrainTestAccs    []float64 `json:"worker_pretrain_test_accs"`
	Improvements        []float64 `json:"worker_model_improvements"`

	SharingLedger []int `json:"sharing_ledger"`
	TimedOut      []int `json:"timed_out,omitempty"`

	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

type RoundPage struct {
	Offset uint64        `json:"offset"`
	Limit  uint64        `json:"limit"`
	Total  uint64        `json:"total"`
	Rounds []RoundRecord `json:"rounds"`
}

type WorkerInfo struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Theta      float64 `json:"theta"`
	FreeRider  bool    `json:"free_rider"`
	ShardSize  int     `json:"shard_size"`
	ParamCount int     `json:"param_count"`
}

// Fairness summarises how final performance tracks what each worker put in.
// Correlations are Pearson coefficients; an undefined coefficient is 0.
type Fairness struct {
	StandaloneVsFinal                 float64 `json:"standalone_vs_final_corr"`
	StandaloneVsDSSGD                 float64 `json:"standalone_vs_rrdssgd_corr"`
	SharingContributionVsFinal        float64 `json:"sharingcontribution_vs_final_corr"`
	SharingContributionVsImprovements float64 `json:"sharingcontribution_vs_improvements_corr"`
	StandaloneBestWorker              float64 `json:"standalone_best_worker"`
	CFFLBestWorker                    float64 `json:"CFFL_best_worker"`
	DSSGDBestWorker                   float64 `json:"rr_dssgd_best"`
	DSSGDAverage                      float64 `json:"rr_dssgd_avg"`
	FederatedFinal                    float64 `json:"federated_final_performance"`
}

type Report struct {
	RunID   string       `json:"run_id"`
	Rounds  int          `json:"rounds"`
	Workers []WorkerInfo `json:"workers"`

	TestAccsBefore       []float64 `json:"worker_model_test_accs_before"`
	ParticipantTestAccs  []float64 `json:"worker_model_test_accs_after"`
	StandaloneTestAccs   []float64 `json:"worker_standalone_test_accs"`
	DSSGDTestAccs        []float64 `json:"dssgd_model_test_accs"`
	Improvements         []float64 `json:"worker_model_improvements"`
	SharingContributions []float64 `json:"sharing_contributions"`
	SharingLedger        []int     `json:"sharing_ledger"`

	Credits          []float64 `json:"credits"`
	Threshold        float64   `json:"credit_threshold"`
	FederatedValAccs []float64 `json:"federated_val_acc"`

	Fairness Fairness `json:"fairness"`
}
