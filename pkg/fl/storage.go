package fl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
)

const checkpointExt = ".cbor.sz"

var (
	// ErrNoCheckpoint is returned by Latest when a run has no checkpoint yet.
	ErrNoCheckpoint = errors.New("no checkpoint found")
	errInvalidRunID = errors.New("invalid run id")
)

// ReplicaState is one worker model together with the learning rate its
// optimizer had decayed to.
type ReplicaState struct {
	State []Tensor `cbor:"1,keyasint"`
	LR    float64  `cbor:"2,keyasint"`
}

// Checkpoint is everything a run needs to continue after the round it was
// taken in.
type Checkpoint struct {
	RunID     string    `cbor:"1,keyasint"`
	Round     int       `cbor:"2,keyasint"`
	State     []Tensor  `cbor:"3,keyasint"`
	Credits   []float64 `cbor:"4,keyasint"`
	Threshold float64   `cbor:"5,keyasint"`
	CreatedAt time.Time `cbor:"6,keyasint"`
	// Baseline is the shared DSSGD model.
	Baseline []Tensor `cbor:"7,keyasint"`
	// Workers holds one ReplicaState per worker and model role.
	Workers          [][]ReplicaState `cbor:"8,keyasint"`
	Ledger           []int            `cbor:"9,keyasint"`
	TestAccsBefore   []float64        `cbor:"10,keyasint"`
	FederatedValAccs []float64        `cbor:"11,keyasint"`
}

// CheckpointStore keeps snappy-compressed CBOR checkpoints under
// <dir>/<run id>/round_NNNN.cbor.sz.
type CheckpointStore struct {
	dir string
	mu  sync.RWMutex
}

func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &CheckpointStore{dir: dir}, nil
}

func (cs *CheckpointStore) Save(cp Checkpoint) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	runDir, err := cs.runDir(cp.RunID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := cbor.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	file := filepath.Join(runDir, fmt.Sprintf("round_%04d%s", cp.Round, checkpointExt))
	if err := os.WriteFile(file, snappy.Encode(nil, data), 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	return nil
}

func (cs *CheckpointStore) Load(runID string, round int) (*Checkpoint, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	runDir, err := cs.runDir(runID)
	if err != nil {
		return nil, err
	}

	compressed, err := os.ReadFile(filepath.Join(runDir, fmt.Sprintf("round_%04d%s", round, checkpointExt)))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := cbor.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return &cp, nil
}

// Rounds lists the checkpointed rounds of a run in ascending order.
func (cs *CheckpointStore) Rounds(runID string) ([]int, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	runDir, err := cs.runDir(runID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(runDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var rounds []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var round int
		if _, err := fmt.Sscanf(strings.TrimSuffix(entry.Name(), checkpointExt), "round_%d", &round); err == nil {
			rounds = append(rounds, round)
		}
	}
	slices.Sort(rounds)

	return rounds, nil
}

// Latest loads the highest checkpointed round of a run.
func (cs *CheckpointStore) Latest(runID string) (*Checkpoint, error) {
	rounds, err := cs.Rounds(runID)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, fmt.Errorf("%w for run %q", ErrNoCheckpoint, runID)
	}

	return cs.Load(runID, rounds[len(rounds)-1])
}

func (cs *CheckpointStore) runDir(runID string) (string, error) {
	sanitized := sanitizeRunID(runID)
	if sanitized == "" {
		return "", fmt.Errorf("%w: %q", errInvalidRunID, runID)
	}

	return filepath.Join(cs.dir, sanitized), nil
}

// sanitizeRunID keeps only characters that are safe inside a single path
// element, so a run id can never escape the checkpoint directory.
func sanitizeRunID(runID string) string {
	var b strings.Builder
	for _, r := range runID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
