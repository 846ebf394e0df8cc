// Package results persists what an experiment leaves behind in its log
// directory: the completion marker and the metrics aggregated over repeats.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat"
)

const (
	CompleteFile  = "complete.txt"
	AggregateFile = "aggregate_dict.txt"

	completeMarker = "complete"
	meanSuffix     = "_mean"
	stdSuffix      = "_std"
)

var (
	ErrNoRuns         = errors.New("no runs to aggregate")
	ErrLengthMismatch = errors.New("metric length differs between runs")
)

// Metrics maps a metric name to its values in one run. Scalars are stored
// as single-element vectors.
type Metrics map[string][]float64

// Summary holds every run's metrics with their elementwise mean and
// population standard deviation across runs.
type Summary struct {
	Runs map[string][][]float64
	Mean map[string][]float64
	Std  map[string][]float64
}

// Summarize aggregates metrics that every run reports. Metrics missing from
// some runs are dropped.
func Summarize(runs []Metrics) (Summary, error) {
	if len(runs) == 0 {
		return Summary{}, ErrNoRuns
	}

	s := Summary{
		Runs: map[string][][]float64{},
		Mean: map[string][]float64{},
		Std:  map[string][]float64{},
	}

	for name, first := range runs[0] {
		series := make([][]float64, 0, len(runs))
		for i, run := range runs {
			values, ok := run[name]
			if !ok {
				series = nil

				break
			}
			if len(values) != len(first) {
				return Summary{}, fmt.Errorf("%w: %s has %d values in run %d, want %d", ErrLengthMismatch, name, len(values), i, len(first))
			}
			series = append(series, values)
		}
		if series == nil {
			continue
		}

		mean := make([]float64, len(first))
		std := make([]float64, len(first))
		column := make([]float64, len(series))
		for j := range first {
			for i, values := range series {
				column[i] = values[j]
			}
			if len(column) == 1 {
				mean[j] = column[0]

				continue
			}
			mean[j], std[j] = stat.PopMeanStdDev(column, nil)
		}

		s.Runs[name] = series
		s.Mean[name] = mean
		s.Std[name] = std
	}

	return s, nil
}

// MarshalJSON flattens the summary into {name, name_mean, name_std} keys.
func (s Summary) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 3*len(s.Runs))
	for name, series := range s.Runs {
		out[name] = series
		out[name+meanSuffix] = s.Mean[name]
		out[name+stdSuffix] = s.Std[name]
	}

	return json.Marshal(out)
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Runs = map[string][][]float64{}
	s.Mean = map[string][]float64{}
	s.Std = map[string][]float64{}
	for key, value := range raw {
		var err error
		switch {
		case strings.HasSuffix(key, meanSuffix):
			var v []float64
			err = json.Unmarshal(value, &v)
			s.Mean[strings.TrimSuffix(key, meanSuffix)] = v
		case strings.HasSuffix(key, stdSuffix):
			var v []float64
			err = json.Unmarshal(value, &v)
			s.Std[strings.TrimSuffix(key, stdSuffix)] = v
		default:
			var v [][]float64
			err = json.Unmarshal(value, &v)
			s.Runs[key] = v
		}
		if err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
	}

	return nil
}

// Names lists the aggregated metrics in alphabetical order.
func (s Summary) Names() []string {
	names := make([]string, 0, len(s.Runs))
	for name := range s.Runs {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// IsComplete reports whether dir holds a finished experiment.
func IsComplete(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, CompleteFile))
	if err != nil {
		return false
	}

	return strings.TrimSpace(string(data)) == completeMarker
}

func MarkComplete(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, CompleteFile), []byte(completeMarker), 0o644); err != nil {
		return fmt.Errorf("failed to mark experiment complete: %w", err)
	}

	return nil
}

func Save(dir string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, AggregateFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}

func Load(dir string) (Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, AggregateFile))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read summary: %w", err)
	}

	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("failed to unmarshal summary: %w", err)
	}

	return s, nil
}
