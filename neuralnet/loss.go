package neuralnet

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// probFloor keeps log() finite for probabilities that underflow to zero.
const probFloor = 1e-7

// LossFunction defines the interface for computing loss and its gradient.
type LossFunction interface {
	// Compute returns the mean loss over the rows of output (softmax probabilities) and one-hot target.
	Compute(output, target *mat.Dense) float64
	// Gradient returns ∂L/∂logits averaged over the batch.
	Gradient(output, target *mat.Dense) *mat.Dense
}

// CrossEntropy implements categorical cross-entropy loss.
type CrossEntropy struct{}

// Compute returns the mean cross-entropy loss.
func (ce *CrossEntropy) Compute(output, target *mat.Dense) float64 {
	rows, cols := output.Dims()
	if rows == 0 {
		return 0
	}
	var loss float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			t := target.At(i, j)
			if t == 0 {
				continue
			}
			p := output.At(i, j)
			if p < probFloor {
				p = probFloor
			}
			loss -= t * math.Log(p)
		}
	}
	return loss / float64(rows)
}

// Gradient returns the derivative of softmax + cross-entropy wrt logits: (output - target) / rows.
func (ce *CrossEntropy) Gradient(output, target *mat.Dense) *mat.Dense {
	rows, cols := output.Dims()
	grad := mat.NewDense(rows, cols, nil)
	grad.Sub(output, target)
	grad.Scale(1/float64(rows), grad)
	return grad
}
