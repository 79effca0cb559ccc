package neuralnet

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	ClassDense   = "Dense"
	ClassDropout = "Dropout"
)

// Param is a learned tensor together with the gradient of the last backward pass.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// Layer is one stage of a Sequential network.
type Layer interface {
	Name() string
	Spec() LayerSpec
	OutputSize() int
	// Forward computes the layer output for a batch. training enables
	// behaviour that only applies while fitting (dropout).
	Forward(x *mat.Dense, training bool) *mat.Dense
	// Backward consumes ∂L/∂output of the last Forward call, fills the
	// gradients of the layer's params and returns ∂L/∂input.
	Backward(grad *mat.Dense) *mat.Dense
	Params() []*Param
}

// Dense is a fully-connected layer: out = activation(x·kernel + bias).
type Dense struct {
	name       string
	kernel     *Param
	bias       *Param
	activation ActivationFunction

	input  *mat.Dense
	output *mat.Dense
}

func newDense(name string, in, out int, activation ActivationFunction, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = 2*rng.Float64()*limit - limit
	}
	return &Dense{
		name:       name,
		kernel:     &Param{Name: name + "/kernel", Value: mat.NewDense(in, out, w), Grad: mat.NewDense(in, out, nil)},
		bias:       &Param{Name: name + "/bias", Value: mat.NewDense(1, out, nil), Grad: mat.NewDense(1, out, nil)},
		activation: activation,
	}
}

func (d *Dense) Name() string { return d.name }

func (d *Dense) InputSize() int {
	r, _ := d.kernel.Value.Dims()
	return r
}

func (d *Dense) OutputSize() int {
	_, c := d.kernel.Value.Dims()
	return c
}

func (d *Dense) Spec() LayerSpec {
	return LayerSpec{Class: ClassDense, Name: d.name, Units: d.OutputSize(), Activation: d.activation.Name()}
}

func (d *Dense) Params() []*Param { return []*Param{d.kernel, d.bias} }

func (d *Dense) Forward(x *mat.Dense, training bool) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, d.OutputSize(), nil)
	out.Mul(x, d.kernel.Value)
	b := d.bias.Value.RawRowView(0)
	raw := out.RawMatrix()
	for i := 0; i < rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] += b[j]
		}
	}
	d.activation.Activate(out)
	d.input, d.output = x, out
	return out
}

func (d *Dense) Backward(grad *mat.Dense) *mat.Dense {
	d.activation.Backward(d.output, grad)

	d.kernel.Grad.Mul(d.input.T(), grad)

	rows, cols := grad.Dims()
	db := d.bias.Grad.RawRowView(0)
	for j := range db {
		db[j] = 0
	}
	for i := 0; i < rows; i++ {
		for j, v := range grad.RawRowView(i)[:cols] {
			db[j] += v
		}
	}

	dx := mat.NewDense(rows, d.InputSize(), nil)
	dx.Mul(grad, d.kernel.Value.T())
	return dx
}

// Dropout zeroes a fraction rate of its inputs while training and scales
// the survivors by 1/(1-rate). Outside training it is the identity.
type Dropout struct {
	name string
	rate float64
	size int
	rng  *rand.Rand

	mask *mat.Dense
}

func newDropout(name string, rate float64, size int, rng *rand.Rand) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, errors.Errorf("%s: dropout rate %v not in [0, 1)", name, rate)
	}
	return &Dropout{name: name, rate: rate, size: size, rng: rng}, nil
}

func (d *Dropout) Name() string { return d.name }

func (d *Dropout) OutputSize() int { return d.size }

func (d *Dropout) Spec() LayerSpec {
	return LayerSpec{Class: ClassDropout, Name: d.name, Rate: d.rate}
}

func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.rate == 0 {
		d.mask = nil
		return x
	}
	rows, cols := x.Dims()
	keep := 1 - d.rate
	mask := make([]float64, rows*cols)
	for i := range mask {
		if d.rng.Float64() >= d.rate {
			mask[i] = 1 / keep
		}
	}
	d.mask = mat.NewDense(rows, cols, mask)
	out := mat.NewDense(rows, cols, nil)
	out.MulElem(x, d.mask)
	return out
}

func (d *Dropout) Backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	grad.MulElem(grad, d.mask)
	return grad
}
