package nn

import (
	"github.com/absmach/cffl/pkg/fl"
	"gonum.org/v1/gonum/floats"
)

var (
	_ fl.Optimizer   = (*SGD)(nil)
	_ fl.LRScheduler = (*ExponentialLR)(nil)
)

// SGD is plain stochastic gradient descent over a model's live parameters.
type SGD struct {
	model fl.Model
	lr    float64
}

func NewSGD(m fl.Model, lr float64) fl.Optimizer {
	return &SGD{model: m, lr: lr}
}

func (o *SGD) Step() {
	grads := o.model.Gradients()
	for i, p := range o.model.Parameters() {
		floats.AddScaled(p.Data, -o.lr, grads[i].Data)
	}
}

func (o *SGD) ZeroGrad() {
	for _, g := range o.model.Gradients() {
		clear(g.Data)
	}
}

func (o *SGD) SetLearningRate(lr float64) {
	o.lr = lr
}

func (o *SGD) LearningRate() float64 {
	return o.lr
}

// ExponentialLR multiplies the optimizer's learning rate by gamma on every Step.
type ExponentialLR struct {
	opt   fl.Optimizer
	gamma float64
}

func NewExponentialLR(gamma float64) fl.SchedulerFunc {
	return func(opt fl.Optimizer) fl.LRScheduler {
		return &ExponentialLR{opt: opt, gamma: gamma}
	}
}

func (s *ExponentialLR) Step() {
	s.opt.SetLearningRate(s.opt.LearningRate() * s.gamma)
}
