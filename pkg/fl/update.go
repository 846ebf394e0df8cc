package fl

import "slices"

// Tensor is a dense parameter (or parameter delta) stored row-major.
type Tensor struct {
	Shape []int     `json:"shape" cbor:"1,keyasint"`
	Data  []float64 `json:"data"  cbor:"2,keyasint"`
}

func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return Tensor{
		Shape: slices.Clone(shape),
		Data:  make([]float64, n),
	}
}

func (t Tensor) Len() int {
	return len(t.Data)
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

func (t Tensor) SameShape(o Tensor) bool {
	return slices.Equal(t.Shape, o.Shape) && len(t.Data) == len(o.Data)
}

// GradientUpdate is a delta in parameter space, one tensor per model
// parameter in the model's parameter order. A zero entry means "no change".
type GradientUpdate []Tensor

// ZeroUpdate returns an all-zero update shaped like params.
func ZeroUpdate(params []Tensor) GradientUpdate {
	u := make(GradientUpdate, len(params))
	for i, p := range params {
		u[i] = NewTensor(p.Shape...)
	}

	return u
}

func (u GradientUpdate) Clone() GradientUpdate {
	c := make(GradientUpdate, len(u))
	for i, t := range u {
		c[i] = t.Clone()
	}

	return c
}

// NumParams is the total number of scalar entries across all tensors.
func (u GradientUpdate) NumParams() int {
	n := 0
	for _, t := range u {
		n += t.Len()
	}

	return n
}

func (u GradientUpdate) NonZero() int {
	n := 0
	for _, t := range u {
		for _, v := range t.Data {
			if v != 0 {
				n++
			}
		}
	}

	return n
}

func (u GradientUpdate) IsZero() bool {
	return u.NonZero() == 0
}

// Flatten concatenates all entries in parameter order.
func (u GradientUpdate) Flatten() []float64 {
	flat := make([]float64, 0, u.NumParams())
	for _, t := range u {
		flat = append(flat, t.Data...)
	}

	return flat
}

func (u GradientUpdate) SameShape(o GradientUpdate) bool {
	if len(u) != len(o) {
		return false
	}
	for i := range u {
		if !u[i].SameShape(o[i]) {
			return false
		}
	}

	return true
}

// Shapes returns a copy of every tensor's shape.
func (u GradientUpdate) Shapes() [][]int {
	shapes := make([][]int, len(u))
	for i, t := range u {
		shapes[i] = slices.Clone(t.Shape)
	}

	return shapes
}
