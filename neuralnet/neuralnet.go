package neuralnet

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	MNISTInputSize  = 28 * 28
	MNISTHiddenSize = 512
	MNISTClasses    = 10
	MNISTDropout    = 0.2
)

var (
	// ErrNotNormalized is returned when an input vector holds values outside [0, 1].
	ErrNotNormalized = errors.New("input is not normalized to [0, 1]")
	// ErrShapeMismatch is returned when a tensor does not fit the topology.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// LayerSpec describes one layer independently of its learned values.
// Units and Activation apply to Dense, Rate to Dropout.
type LayerSpec struct {
	Class      string
	Name       string
	Units      int
	Activation string
	Rate       float64
}

// DenseSpec describes a fully-connected layer.
func DenseSpec(units int, activation string) LayerSpec {
	return LayerSpec{Class: ClassDense, Units: units, Activation: activation}
}

// DropoutSpec describes a dropout layer.
func DropoutSpec(rate float64) LayerSpec {
	return LayerSpec{Class: ClassDropout, Rate: rate}
}

// Topology is the ordered layer description of a network.
type Topology struct {
	InputSize int
	Layers    []LayerSpec
}

// NeuralNetwork is a Sequential stack of layers.
type NeuralNetwork struct {
	inputSize int
	layers    []Layer
}

// NewMNISTNetwork builds the 784-512-512-10 digit classifier with dropout 0.2
// after each hidden layer.
func NewMNISTNetwork(rng *rand.Rand) *NeuralNetwork {
	nn, err := New(MNISTInputSize, rng,
		DenseSpec(MNISTHiddenSize, "relu"),
		DropoutSpec(MNISTDropout),
		DenseSpec(MNISTHiddenSize, "relu"),
		DropoutSpec(MNISTDropout),
		DenseSpec(MNISTClasses, "softmax"),
	)
	if err != nil {
		panic(err)
	}
	return nn
}

// New builds a network from layer specs. Empty names are assigned as
// <class>_<n>, numbering each class separately.
func New(inputSize int, rng *rand.Rand, specs ...LayerSpec) (*NeuralNetwork, error) {
	return FromTopology(Topology{InputSize: inputSize, Layers: specs}, rng)
}

// FromTopology rebuilds the layer stack described by t with freshly
// initialised weights.
func FromTopology(t Topology, rng *rand.Rand) (*NeuralNetwork, error) {
	if t.InputSize <= 0 {
		return nil, errors.Errorf("invalid input size %d", t.InputSize)
	}
	if len(t.Layers) == 0 {
		return nil, errors.New("topology has no layers")
	}
	nn := &NeuralNetwork{inputSize: t.InputSize}
	counts := make(map[string]int)
	seen := make(map[string]bool)
	width := t.InputSize
	for i, spec := range t.Layers {
		counts[spec.Class]++
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", strings.ToLower(spec.Class), counts[spec.Class])
		}
		if seen[name] {
			return nil, errors.Errorf("layer %d: duplicate name %q", i, name)
		}
		seen[name] = true

		switch spec.Class {
		case ClassDense:
			if spec.Units <= 0 {
				return nil, errors.Errorf("layer %s: invalid units %d", name, spec.Units)
			}
			act, err := ActivationByName(spec.Activation)
			if err != nil {
				return nil, errors.Wrapf(err, "layer %s", name)
			}
			// Softmax backpropagates as the identity, which only holds at the output.
			if _, ok := act.(Softmax); ok && i != len(t.Layers)-1 {
				return nil, errors.Errorf("layer %s: softmax is only supported on the output layer", name)
			}
			nn.layers = append(nn.layers, newDense(name, width, spec.Units, act, rng))
			width = spec.Units
		case ClassDropout:
			d, err := newDropout(name, spec.Rate, width, rng)
			if err != nil {
				return nil, err
			}
			nn.layers = append(nn.layers, d)
		default:
			return nil, errors.Errorf("layer %d: unknown class %q", i, spec.Class)
		}
	}
	return nn, nil
}

func (nn *NeuralNetwork) InputSize() int { return nn.inputSize }

func (nn *NeuralNetwork) OutputSize() int {
	return nn.layers[len(nn.layers)-1].OutputSize()
}

func (nn *NeuralNetwork) Layers() []Layer { return nn.layers }

func (nn *NeuralNetwork) softmaxOutput() bool {
	d, ok := nn.layers[len(nn.layers)-1].(*Dense)
	if !ok {
		return false
	}
	_, ok = d.activation.(Softmax)
	return ok
}

// Topology returns the layer description of nn, with names resolved.
func (nn *NeuralNetwork) Topology() Topology {
	t := Topology{InputSize: nn.inputSize, Layers: make([]LayerSpec, len(nn.layers))}
	for i, l := range nn.layers {
		t.Layers[i] = l.Spec()
	}
	return t
}

// Params returns every learned tensor in layer order.
func (nn *NeuralNetwork) Params() []*Param {
	var params []*Param
	for _, l := range nn.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// Param returns the tensor called name, or nil.
func (nn *NeuralNetwork) Param(name string) *Param {
	for _, p := range nn.Params() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// SetParam overwrites the values of the named tensor. data is row-major.
func (nn *NeuralNetwork) SetParam(name string, rows, cols int, data []float64) error {
	p := nn.Param(name)
	if p == nil {
		return errors.Errorf("no parameter %q", name)
	}
	r, c := p.Value.Dims()
	if r != rows || c != cols || len(data) != rows*cols {
		return errors.Wrapf(ErrShapeMismatch, "%s: have (%d, %d), got (%d, %d) with %d values", name, r, c, rows, cols, len(data))
	}
	for i := 0; i < r; i++ {
		p.Value.SetRow(i, data[i*c:(i+1)*c])
	}
	return nil
}

// Forward runs x through every layer.
func (nn *NeuralNetwork) Forward(x *mat.Dense, training bool) *mat.Dense {
	out := x
	for _, l := range nn.layers {
		out = l.Forward(out, training)
	}
	return out
}

// Backward propagates the loss gradient from the output back to the input.
func (nn *NeuralNetwork) Backward(grad *mat.Dense) {
	for i := len(nn.layers) - 1; i >= 0; i-- {
		grad = nn.layers[i].Backward(grad)
	}
}

// Predict returns the output distribution for each row of x.
func (nn *NeuralNetwork) Predict(x *mat.Dense) (*mat.Dense, error) {
	_, cols := x.Dims()
	if cols != nn.inputSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "input width %d, network expects %d", cols, nn.inputSize)
	}
	return nn.Forward(x, false), nil
}

// PredictVector classifies a single normalized input and returns the
// winning class together with the full distribution.
func (nn *NeuralNetwork) PredictVector(v []float64) (int, []float64, error) {
	if len(v) != nn.inputSize {
		return 0, nil, errors.Wrapf(ErrShapeMismatch, "input length %d, network expects %d", len(v), nn.inputSize)
	}
	for i, x := range v {
		if x < 0 || x > 1 {
			return 0, nil, errors.Wrapf(ErrNotNormalized, "value %v at %d", x, i)
		}
	}
	in := make([]float64, len(v))
	copy(in, v)
	out, err := nn.Predict(mat.NewDense(1, len(in), in))
	if err != nil {
		return 0, nil, err
	}
	probs := mat.Row(nil, 0, out)
	return floats.MaxIdx(probs), probs, nil
}

// Summary writes a per-layer table with output shapes and parameter counts.
func (nn *NeuralNetwork) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 3, ' ', 0)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #")
	total := 0
	for _, l := range nn.layers {
		n := 0
		for _, p := range l.Params() {
			r, c := p.Value.Dims()
			n += r * c
		}
		total += n
		fmt.Fprintf(tw, "%s (%s)\t(None, %d)\t%d\n", l.Name(), l.Spec().Class, l.OutputSize(), n)
	}
	fmt.Fprintf(tw, "Total params: %d\t\t\n", total)
	return tw.Flush()
}
