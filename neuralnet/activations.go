package neuralnet

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ActivationFunction is applied row-wise to the output of a Dense layer.
type ActivationFunction interface {
	Name() string
	// Activate transforms z in place.
	Activate(z *mat.Dense)
	// Backward scales grad in place from d/d(out) to d/d(z), where out is
	// the value Activate produced.
	Backward(out, grad *mat.Dense)
}

// ActivationByName returns the activation stored under name in a topology file.
func ActivationByName(name string) (ActivationFunction, error) {
	switch name {
	case "relu":
		return ReLU{}, nil
	case "softmax":
		return Softmax{}, nil
	case "linear", "":
		return Linear{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "tanh":
		return Tanh{}, nil
	}
	return nil, errors.Errorf("unknown activation %q", name)
}

type ReLU struct{}

func (r ReLU) Name() string { return "relu" }

func (r ReLU) Activate(z *mat.Dense) {
	raw := z.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j, v := range row {
			if v < 0 {
				row[j] = 0
			}
		}
	}
}

func (r ReLU) Backward(out, grad *mat.Dense) {
	o, g := out.RawMatrix(), grad.RawMatrix()
	for i := 0; i < g.Rows; i++ {
		for j := 0; j < g.Cols; j++ {
			if o.Data[i*o.Stride+j] <= 0 {
				g.Data[i*g.Stride+j] = 0
			}
		}
	}
}

// Softmax turns each row into a probability distribution.
// Its Backward is the identity since CrossEntropy.Gradient is already taken
// with respect to the logits. FromTopology only allows it on the output
// layer and Fit only pairs CrossEntropy with a softmax output.
type Softmax struct{}

func (s Softmax) Name() string { return "softmax" }

func (s Softmax) Activate(z *mat.Dense) {
	raw := z.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		softmaxRow(raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols])
	}
}

func (s Softmax) Backward(out, grad *mat.Dense) {}

func softmaxRow(row []float64) {
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for j, v := range row {
		row[j] = math.Exp(v - max)
		sum += row[j]
	}
	for j := range row {
		row[j] /= sum
	}
}

type Sigmoid struct{}

func (s Sigmoid) Name() string { return "sigmoid" }

func (s Sigmoid) Activate(z *mat.Dense) {
	z.Apply(func(_, _ int, v float64) float64 {
		return 1 / (1 + math.Exp(-v))
	}, z)
}

func (s Sigmoid) Backward(out, grad *mat.Dense) {
	grad.Apply(func(i, j int, g float64) float64 {
		o := out.At(i, j)
		return g * o * (1 - o)
	}, grad)
}

type Tanh struct{}

func (t Tanh) Name() string { return "tanh" }

func (t Tanh) Activate(z *mat.Dense) {
	z.Apply(func(_, _ int, v float64) float64 {
		return math.Tanh(v)
	}, z)
}

func (t Tanh) Backward(out, grad *mat.Dense) {
	grad.Apply(func(i, j int, g float64) float64 {
		o := out.At(i, j)
		return g * (1 - o*o)
	}, grad)
}

type Linear struct{}

func (l Linear) Name() string { return "linear" }

func (l Linear) Activate(z *mat.Dense) {}

func (l Linear) Backward(out, grad *mat.Dense) {}
