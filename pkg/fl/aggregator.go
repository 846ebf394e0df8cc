package fl

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

type Mode string

const (
	ModeMean Mode = "mean"
	ModeSum  Mode = "sum"
)

type Aggregator interface {
	Aggregate(updates []GradientUpdate) (GradientUpdate, error)
}

type elementwiseAggregator struct {
	mode Mode
}

func NewAggregator(mode Mode) (Aggregator, error) {
	switch mode {
	case "":
		mode = ModeMean
	case ModeMean, ModeSum:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	return &elementwiseAggregator{mode: mode}, nil
}

func (a *elementwiseAggregator) Aggregate(updates []GradientUpdate) (GradientUpdate, error) {
	return Aggregate(updates, a.mode)
}

// Aggregate reduces same-shaped updates parameter by parameter.
func Aggregate(updates []GradientUpdate, mode Mode) (GradientUpdate, error) {
	if len(updates) == 0 {
		return nil, ErrEmptyInput
	}

	for i, u := range updates[1:] {
		if !u.SameShape(updates[0]) {
			return nil, fmt.Errorf("%w: update %d differs from update 0", ErrShapeMismatch, i+1)
		}
	}

	out := updates[0].Clone()
	for _, u := range updates[1:] {
		for j := range out {
			floats.Add(out[j].Data, u[j].Data)
		}
	}

	switch mode {
	case ModeMean, "":
		scale := 1 / float64(len(updates))
		for j := range out {
			floats.Scale(scale, out[j].Data)
		}
	case ModeSum:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	return out, nil
}

// ApplyUpdate performs param += scale * update in place. It is the only
// function in the module that writes model parameters.
func ApplyUpdate(m Model, u GradientUpdate, scale float64) error {
	params := m.Parameters()
	if !GradientUpdate(params).SameShape(u) {
		return fmt.Errorf("%w: model %v, update %v", ErrShapeMismatch, GradientUpdate(params).Shapes(), u.Shapes())
	}

	for i, p := range params {
		floats.AddScaled(p.Data, scale, u[i].Data)
	}

	return nil
}

// ComputeDelta returns after - before, parameter by parameter.
func ComputeDelta(before, after Model) (GradientUpdate, error) {
	return DeltaOf(before.Parameters(), after.Parameters())
}

// DeltaOf is ComputeDelta over raw parameter states.
func DeltaOf(before, after []Tensor) (GradientUpdate, error) {
	if !GradientUpdate(before).SameShape(after) {
		return nil, fmt.Errorf("%w: before %v, after %v", ErrShapeMismatch, GradientUpdate(before).Shapes(), GradientUpdate(after).Shapes())
	}

	delta := ZeroUpdate(before)
	for i := range delta {
		floats.SubTo(delta[i].Data, after[i].Data, before[i].Data)
	}

	return delta, nil
}

// AverageModels overwrites dst's parameters with the mean of models' parameters.
func AverageModels(dst Model, models []Model) error {
	states := make([]GradientUpdate, len(models))
	for i, m := range models {
		states[i] = m.SaveState()
	}

	mean, err := Aggregate(states, ModeMean)
	if err != nil {
		return err
	}

	return dst.LoadState(mean)
}
