package cffl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig     = errors.New("invalid experiment config")
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// Config describes one experiment: how the data is generated and sharded,
// how workers train, and how the fair-exchange protocol is parameterised.
type Config struct {
	Experiment ExperimentConfig `toml:"experiment" yaml:"experiment"`
	Data       DataConfig       `toml:"data"       yaml:"data"`
	Training   TrainingConfig   `toml:"training"   yaml:"training"`
	Protocol   ProtocolConfig   `toml:"protocol"   yaml:"protocol"`
}

type ExperimentConfig struct {
	Name          string `toml:"name"           yaml:"name"`
	Repeats       int    `toml:"repeats"        yaml:"repeats"`
	Seed          uint64 `toml:"seed"           yaml:"seed"`
	LogDir        string `toml:"log_dir"        yaml:"log_dir"`
	CheckpointDir string `toml:"checkpoint_dir" yaml:"checkpoint_dir"`
}

type DataConfig struct {
	Samples            int     `toml:"samples"               yaml:"samples"`
	Features           int     `toml:"features"              yaml:"features"`
	Classes            int     `toml:"classes"               yaml:"classes"`
	Noise              float64 `toml:"noise"                 yaml:"noise"`
	Split              string  `toml:"split"                 yaml:"split"`
	SampleSizeCap      int     `toml:"sample_size_cap"       yaml:"sample_size_cap"`
	TrainValSplitRatio float64 `toml:"train_val_split_ratio" yaml:"train_val_split_ratio"`
	TestRatio          float64 `toml:"test_ratio"            yaml:"test_ratio"`
	BatchSize          int     `toml:"batch_size"            yaml:"batch_size"`
}

type TrainingConfig struct {
	LR              float64 `toml:"lr"                yaml:"lr"`
	PretrainLR      float64 `toml:"pretrain_lr"       yaml:"pretrain_lr"`
	Gamma           float64 `toml:"gamma"             yaml:"gamma"`
	PretrainEpochs  int     `toml:"pretrain_epochs"   yaml:"pretrain_epochs"`
	FLEpochs        int     `toml:"fl_epochs"         yaml:"fl_epochs"`
	LocalEpochs     int     `toml:"local_epochs"      yaml:"local_epochs"`
	EpochSampleSize int     `toml:"epoch_sample_size" yaml:"epoch_sample_size"`
}

type ProtocolConfig struct {
	Workers        int       `toml:"workers"         yaml:"workers"`
	Thetas         []float64 `toml:"thetas"          yaml:"thetas"`
	FreeRiders     int       `toml:"free_riders"     yaml:"free_riders"`
	Alpha          float64   `toml:"alpha"           yaml:"alpha"`
	Fade           bool      `toml:"fade"            yaml:"fade"`
	ThresholdFloor float64   `toml:"threshold_floor" yaml:"threshold_floor"`
	Allocation     string    `toml:"allocation"      yaml:"allocation"`
	Budget         string    `toml:"budget"          yaml:"budget"`
	DSSGDOrder     string    `toml:"dssgd_order"     yaml:"dssgd_order"`
	LeaveOneOut    bool      `toml:"leave_one_out"   yaml:"leave_one_out"`
	WorkerTimeout  string    `toml:"worker_timeout"  yaml:"worker_timeout"`
	Parallelism    int       `toml:"parallelism"     yaml:"parallelism"`
}

// Default returns the settings of the reference experiment.
func Default() Config {
	return Config{
		Experiment: ExperimentConfig{
			Name:    "cffl",
			Repeats: 1,
			Seed:    1,
			LogDir:  "logs",
		},
		Data: DataConfig{
			Samples:            6000,
			Features:           14,
			Classes:            2,
			Noise:              0.5,
			Split:              "powerlaw",
			SampleSizeCap:      5000,
			TrainValSplitRatio: 0.9,
			TestRatio:          0.1,
			BatchSize:          16,
		},
		Training: TrainingConfig{
			LR:             0.01,
			Gamma:          0.977,
			PretrainEpochs: 5,
			FLEpochs:       10,
			LocalEpochs:    5,
		},
		Protocol: ProtocolConfig{
			Workers:    5,
			Thetas:     []float64{0.1},
			Alpha:      5,
			Allocation: "topk",
			Budget:     "absolute",
			DSSGDOrder: "roundrobin",
		},
	}
}

// LoadConfig reads a TOML (.toml) or YAML (.yaml, .yml) experiment file on
// top of Default and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		tree, err := toml.Load(string(data))
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if err := tree.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("error unmarshaling config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error unmarshaling config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg as TOML.
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Experiment.Repeats > 0, "repeats must be positive, got %d", c.Experiment.Repeats)
	check(c.Data.Samples > 0, "samples must be positive, got %d", c.Data.Samples)
	check(c.Data.Features > 0, "features must be positive, got %d", c.Data.Features)
	check(c.Data.Classes >= 2, "classes must be at least 2, got %d", c.Data.Classes)
	check(c.Data.SampleSizeCap >= 0, "sample_size_cap must not be negative")
	check(c.Data.TrainValSplitRatio > 0 && c.Data.TrainValSplitRatio < 1, "train_val_split_ratio must be in (0, 1)")
	check(c.Data.TestRatio > 0 && c.Data.TestRatio < 1, "test_ratio must be in (0, 1)")
	check(c.Data.BatchSize > 0, "batch_size must be positive, got %d", c.Data.BatchSize)
	check(c.Training.LR > 0, "lr must be positive")
	check(c.Training.PretrainLR >= 0, "pretrain_lr must not be negative")
	check(c.Training.Gamma > 0 && c.Training.Gamma <= 1, "gamma must be in (0, 1]")
	check(c.Training.PretrainEpochs >= 0, "pretrain_epochs must not be negative")
	check(c.Training.FLEpochs > 0, "fl_epochs must be positive")
	check(c.Training.LocalEpochs > 0, "local_epochs must be positive")
	check(c.Training.EpochSampleSize >= 0, "epoch_sample_size must not be negative")
	check(c.Protocol.Workers > 0, "workers must be positive, got %d", c.Protocol.Workers)
	check(c.Protocol.FreeRiders >= 0 && c.Protocol.FreeRiders < c.Protocol.Workers,
		"free_riders must be in [0, workers), got %d", c.Protocol.FreeRiders)
	check(len(c.Protocol.Thetas) == 1 || len(c.Protocol.Thetas) == c.Protocol.Workers,
		"thetas must hold one value or one per worker, got %d", len(c.Protocol.Thetas))
	for _, theta := range c.Protocol.Thetas {
		check(theta >= 0 && theta <= 1, "theta must be in [0, 1], got %v", theta)
	}
	check(c.Protocol.Alpha > 0, "alpha must be positive")
	check(c.Protocol.ThresholdFloor >= 0 && c.Protocol.ThresholdFloor < 1, "threshold_floor must be in [0, 1)")
	check(c.Protocol.Parallelism >= 0, "parallelism must not be negative")
	if _, err := c.Protocol.Timeout(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// ThetaOf returns worker i's sharing fraction.
func (p ProtocolConfig) ThetaOf(i int) float64 {
	if len(p.Thetas) == 1 {
		return p.Thetas[0]
	}

	return p.Thetas[i]
}

// Timeout parses WorkerTimeout; empty means no per-worker timeout.
func (p ProtocolConfig) Timeout() (time.Duration, error) {
	if p.WorkerTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(p.WorkerTimeout)
	if err != nil {
		return 0, fmt.Errorf("worker_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("worker_timeout must not be negative, got %s", d)
	}

	return d, nil
}

// RunDir names the log directory of the experiment after its settings.
func (c Config) RunDir() string {
	thetas := make([]string, len(c.Protocol.Thetas))
	for i, theta := range c.Protocol.Thetas {
		thetas[i] = fmt.Sprint(theta)
	}

	name := fmt.Sprintf("%s_p%d_e%d-%d-%d_b%d_size%d_lr%v_theta%s",
		c.Data.Split, c.Protocol.Workers,
		c.Training.PretrainEpochs, c.Training.FLEpochs, c.Training.LocalEpochs,
		c.Data.BatchSize, c.Data.SampleSizeCap, c.Training.LR, strings.Join(thetas, "-"))
	if c.Protocol.FreeRiders > 0 {
		name += fmt.Sprintf("_fr%d", c.Protocol.FreeRiders)
	}

	return filepath.Join(c.Experiment.LogDir, name)
}
