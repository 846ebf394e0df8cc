package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/absmach/cffl"
	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/pkg/fl"
	"github.com/absmach/cffl/pkg/mqtt"
	"github.com/absmach/cffl/pkg/results"
	"github.com/absmach/cffl/pkg/storage"
	"github.com/google/uuid"
)

const (
	settingsFile = "settings.toml"
	reportFile   = "report_%d.json"
	runIDFile    = "run_%d.id"
)

type Options struct {
	// Storage selects where round records are kept; each run gets its own
	// namespace.
	Storage storage.Config
	// Publisher, when set, receives every round record and report.
	Publisher mqtt.PubSub
	// Wrap decorates each run's service, e.g. with middleware.
	Wrap func(coordinator.Service) coordinator.Service
	// Current, when set, is pointed at each run as it starts.
	Current *Current
}

type Runner struct {
	cfg    cffl.Config
	opts   Options
	logger *slog.Logger

	mu sync.Mutex
	// served is the record store of the run Current points at; it stays
	// open until the next run replaces it or Close is called.
	served storage.Storage[coordinator.RoundRecord]
}

func NewRunner(cfg cffl.Config, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
}

// Dir is the experiment's log directory.
func (r *Runner) Dir() string {
	return r.cfg.RunDir()
}

// Run executes every repeat and writes the aggregated results. An
// experiment whose directory is already marked complete is not rerun; its
// stored summary is returned instead.
func (r *Runner) Run(ctx context.Context) (results.Summary, error) {
	dir := r.Dir()
	if results.IsComplete(dir) {
		r.logger.InfoContext(ctx, "experiment already complete", slog.String("dir", dir))

		return results.Load(dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return results.Summary{}, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := r.cfg.Save(filepath.Join(dir, settingsFile)); err != nil {
		return results.Summary{}, err
	}

	runs := make([]results.Metrics, 0, r.cfg.Experiment.Repeats)
	for repeat := range r.cfg.Experiment.Repeats {
		report, err := r.runOnce(ctx, repeat)
		if err != nil {
			return results.Summary{}, fmt.Errorf("repeat %d: %w", repeat, err)
		}
		if err := writeJSON(filepath.Join(dir, fmt.Sprintf(reportFile, repeat)), report); err != nil {
			return results.Summary{}, err
		}
		runs = append(runs, Metrics(report))
	}

	summary, err := results.Summarize(runs)
	if err != nil {
		return results.Summary{}, err
	}
	if err := results.Save(dir, summary); err != nil {
		return results.Summary{}, err
	}
	if err := results.MarkComplete(dir); err != nil {
		return results.Summary{}, err
	}

	r.logger.InfoContext(ctx, "experiment complete",
		slog.String("dir", dir),
		slog.Int("repeats", r.cfg.Experiment.Repeats),
	)

	return summary, nil
}

func (r *Runner) runOnce(ctx context.Context, repeat int) (coordinator.Report, error) {
	checkpoints, err := r.checkpoints()
	if err != nil {
		return coordinator.Report{}, err
	}
	runID, err := r.runID(repeat, checkpoints != nil)
	if err != nil {
		return coordinator.Report{}, err
	}
	logger := r.logger.With(slog.String("run_id", runID), slog.Int("repeat", repeat))

	env, err := Build(r.cfg, repeat)
	if err != nil {
		return coordinator.Report{}, err
	}
	cfg, err := CoordinatorConfig(r.cfg, runID)
	if err != nil {
		return coordinator.Report{}, err
	}

	records, err := storage.Open[coordinator.RoundRecord](r.opts.Storage, runID)
	if err != nil {
		return coordinator.Report{}, fmt.Errorf("failed to open round storage: %w", err)
	}

	svc, err := r.newService(cfg, env, records, checkpoints, logger)
	if err != nil {
		r.closeRecords(records, logger)

		return coordinator.Report{}, err
	}
	if r.opts.Current != nil {
		r.opts.Current.Set(svc)
		r.serve(records, logger)
	} else {
		defer r.closeRecords(records, logger)
	}

	if checkpoints != nil {
		cp, err := checkpoints.Latest(runID)
		switch {
		case err == nil:
			logger.InfoContext(ctx, "resuming run from checkpoint", slog.Int("round", cp.Round))

			return coordinator.Resume(ctx, svc, *cp)
		case !errors.Is(err, fl.ErrNoCheckpoint):
			return coordinator.Report{}, err
		}
	}

	return coordinator.Run(ctx, svc)
}

// checkpoints opens the configured checkpoint store, or returns nil when
// checkpointing is off.
func (r *Runner) checkpoints() (*fl.CheckpointStore, error) {
	if r.cfg.Experiment.CheckpointDir == "" {
		return nil, nil
	}

	return fl.NewCheckpointStore(r.cfg.Experiment.CheckpointDir)
}

// runID names a repeat's run. With checkpoints on, the id is kept in the
// log directory so an interrupted experiment finds its checkpoints again.
func (r *Runner) runID(repeat int, persist bool) (string, error) {
	if !persist {
		return uuid.NewString(), nil
	}

	path := filepath.Join(r.Dir(), fmt.Sprintf(runIDFile, repeat))
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("failed to read run id: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write run id: %w", err)
	}

	return id, nil
}

func (r *Runner) newService(cfg coordinator.Config, env coordinator.Environment, records storage.Storage[coordinator.RoundRecord], checkpoints *fl.CheckpointStore, logger *slog.Logger) (coordinator.Service, error) {
	svc, err := coordinator.NewService(cfg, env, records, r.opts.Publisher, checkpoints, logger)
	if err != nil {
		return nil, err
	}
	if r.opts.Wrap != nil {
		svc = r.opts.Wrap(svc)
	}

	return svc, nil
}

// serve keeps records open for Current and closes the store it replaces.
func (r *Runner) serve(records storage.Storage[coordinator.RoundRecord], logger *slog.Logger) {
	r.mu.Lock()
	prev := r.served
	r.served = records
	r.mu.Unlock()

	if prev != nil {
		r.closeRecords(prev, logger)
	}
}

// Close releases the record store still served through Current.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.served == nil {
		return nil
	}
	err := r.served.Close()
	r.served = nil

	return err
}

func (r *Runner) closeRecords(records storage.Storage[coordinator.RoundRecord], logger *slog.Logger) {
	if err := records.Close(); err != nil {
		logger.Warn("failed to close round storage", slog.Any("error", err))
	}
}

// Metrics flattens a run report into the named series aggregated across repeats.
func Metrics(report coordinator.Report) results.Metrics {
	f := report.Fairness

	return results.Metrics{
		"federated_val_acc":                        report.FederatedValAccs,
		"worker_model_test_accs_before":            report.TestAccsBefore,
		"worker_model_test_accs_after":             report.ParticipantTestAccs,
		"worker_standalone_test_accs":              report.StandaloneTestAccs,
		"dssgd_model_test_accs":                    report.DSSGDTestAccs,
		"worker_model_improvements":                report.Improvements,
		"sharing_contributions":                    report.SharingContributions,
		"credits":                                  report.Credits,
		"standalone_vs_final_corr":                 {f.StandaloneVsFinal},
		"standalone_vs_rrdssgd_corr":               {f.StandaloneVsDSSGD},
		"sharingcontribution_vs_final_corr":        {f.SharingContributionVsFinal},
		"sharingcontribution_vs_improvements_corr": {f.SharingContributionVsImprovements},
		"standalone_best_worker":                   {f.StandaloneBestWorker},
		"CFFL_best_worker":                         {f.CFFLBestWorker},
		"rr_dssgd_best":                            {f.DSSGDBestWorker},
		"rr_dssgd_avg":                             {f.DSSGDAverage},
		"federated_final_performance":              {f.FederatedFinal},
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	return nil
}
