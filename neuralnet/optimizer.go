package neuralnet

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Optimizer applies the gradients held in params.
type Optimizer interface {
	Name() string
	Apply(params []*Param) error
}

// OptimizerByName returns a freshly initialised optimizer with its default
// hyperparameters and the given learning rate.
func OptimizerByName(name string, lr float64) (Optimizer, error) {
	switch name {
	case "rmsprop", "":
		return NewRMSprop(lr), nil
	case "sgd":
		return &SGD{Lr: lr}, nil
	}
	return nil, errors.Errorf("unknown optimizer %q", name)
}

// SGD implements plain stochastic gradient descent.
type SGD struct {
	Lr float64
}

func (o *SGD) Name() string { return "sgd" }

// Apply performs w -= lr * grad.
func (o *SGD) Apply(params []*Param) error {
	if o.Lr <= 0 {
		return errors.New("invalid learning rate")
	}
	for _, p := range params {
		p.Value.Apply(func(i, j int, v float64) float64 {
			return v - o.Lr*p.Grad.At(i, j)
		}, p.Value)
	}
	return nil
}

// RMSprop divides the gradient by a running root-mean-square of its recent magnitudes.
type RMSprop struct {
	Lr      float64
	Rho     float64
	Epsilon float64

	accumulators map[*Param]*mat.Dense
}

// NewRMSprop returns RMSprop with rho 0.9 and epsilon 1e-8.
func NewRMSprop(lr float64) *RMSprop {
	return &RMSprop{Lr: lr, Rho: 0.9, Epsilon: 1e-8}
}

func (o *RMSprop) Name() string { return "rmsprop" }

// Apply performs
//
//	a = rho*a + (1-rho)*g²
//	w -= lr * g / (sqrt(a) + epsilon)
func (o *RMSprop) Apply(params []*Param) error {
	if o.Lr <= 0 {
		return errors.New("invalid learning rate")
	}
	if o.Rho < 0 || o.Rho >= 1 {
		return errors.Errorf("invalid rho %v", o.Rho)
	}
	if o.accumulators == nil {
		o.accumulators = make(map[*Param]*mat.Dense)
	}
	for _, p := range params {
		acc, ok := o.accumulators[p]
		if !ok {
			r, c := p.Value.Dims()
			acc = mat.NewDense(r, c, nil)
			o.accumulators[p] = acc
		}
		w, g, a := p.Value.RawMatrix(), p.Grad.RawMatrix(), acc.RawMatrix()
		for i := 0; i < w.Rows; i++ {
			wr := w.Data[i*w.Stride : i*w.Stride+w.Cols]
			gr := g.Data[i*g.Stride : i*g.Stride+g.Cols]
			ar := a.Data[i*a.Stride : i*a.Stride+a.Cols]
			for j, gv := range gr {
				ar[j] = o.Rho*ar[j] + (1-o.Rho)*gv*gv
				wr[j] -= o.Lr * gv / (math.Sqrt(ar[j]) + o.Epsilon)
			}
		}
	}
	return nil
}
