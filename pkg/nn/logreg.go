package nn

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/absmach/cffl/pkg/fl"
)

var _ fl.Model = (*LogisticRegression)(nil)

var errStateMismatch = errors.New("state does not match model parameters")

// LogisticRegression is a single linear layer followed by softmax and
// trained with cross-entropy. Parameters are [weight (out x in), bias (out)].
type LogisticRegression struct {
	in, out int
	w, b    fl.Tensor
	gw, gb  fl.Tensor
}

// NewLogisticRegression initialises weights uniformly in ±1/sqrt(in).
func NewLogisticRegression(in, out int, rng *rand.Rand) *LogisticRegression {
	m := &LogisticRegression{
		in:  in,
		out: out,
		w:   fl.NewTensor(out, in),
		b:   fl.NewTensor(out),
		gw:  fl.NewTensor(out, in),
		gb:  fl.NewTensor(out),
	}

	bound := 1 / math.Sqrt(float64(in))
	for i := range m.w.Data {
		m.w.Data[i] = (rng.Float64()*2 - 1) * bound
	}
	for i := range m.b.Data {
		m.b.Data[i] = (rng.Float64()*2 - 1) * bound
	}

	return m
}

func (m *LogisticRegression) Forward(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for n, row := range x {
		out[n] = m.probs(row)
	}

	return out
}

func (m *LogisticRegression) Backward(batch fl.Batch) float64 {
	if batch.Len() == 0 {
		return 0
	}

	scale := 1 / float64(batch.Len())
	loss := 0.0
	for n, row := range batch.X {
		p := m.probs(row)
		y := batch.Y[n]
		loss -= math.Log(max(p[y], 1e-12)) * scale
		for k := 0; k < m.out; k++ {
			dz := p[k]
			if k == y {
				dz -= 1
			}
			dz *= scale
			m.gb.Data[k] += dz
			wrow := m.gw.Data[k*m.in : (k+1)*m.in]
			for j, v := range row {
				wrow[j] += dz * v
			}
		}
	}

	return loss
}

func (m *LogisticRegression) Parameters() []fl.Tensor {
	return []fl.Tensor{m.w, m.b}
}

func (m *LogisticRegression) Gradients() []fl.Tensor {
	return []fl.Tensor{m.gw, m.gb}
}

func (m *LogisticRegression) SaveState() []fl.Tensor {
	return []fl.Tensor{m.w.Clone(), m.b.Clone()}
}

func (m *LogisticRegression) LoadState(state []fl.Tensor) error {
	if !fl.GradientUpdate(m.Parameters()).SameShape(state) {
		return errStateMismatch
	}
	copy(m.w.Data, state[0].Data)
	copy(m.b.Data, state[1].Data)

	return nil
}

func (m *LogisticRegression) Clone() fl.Model {
	return &LogisticRegression{
		in:  m.in,
		out: m.out,
		w:   m.w.Clone(),
		b:   m.b.Clone(),
		gw:  fl.NewTensor(m.out, m.in),
		gb:  fl.NewTensor(m.out),
	}
}

func (m *LogisticRegression) probs(row []float64) []float64 {
	logits := make([]float64, m.out)
	maxLogit := math.Inf(-1)
	for k := range logits {
		z := m.b.Data[k]
		wrow := m.w.Data[k*m.in : (k+1)*m.in]
		for j, v := range row {
			z += wrow[j] * v
		}
		logits[k] = z
		maxLogit = max(maxLogit, z)
	}

	sum := 0.0
	for k, z := range logits {
		logits[k] = math.Exp(z - maxLogit)
		sum += logits[k]
	}
	for k := range logits {
		logits[k] /= sum
	}

	return logits
}
