package neuralnet

import (
	"log"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// evalChunk bounds the number of rows pushed through the network at once
// by Evaluate.
const evalChunk = 1000

// Dataset is a labelled set of samples addressable by row index.
type Dataset interface {
	Len() int
	// Batch returns the inputs and one-hot targets of the given rows.
	Batch(idx []int) (x, y *mat.Dense)
}

// FitOptions controls a training run.
type FitOptions struct {
	BatchSize  int
	Epochs     int
	Optimizer  Optimizer
	Loss       LossFunction
	Validation Dataset
	Rand       *rand.Rand
	// Logf receives one line per epoch. Defaults to log.Printf.
	Logf func(format string, args ...interface{})
}

// EpochStats holds the metrics logged after one epoch.
type EpochStats struct {
	Epoch   int
	Loss    float64
	Acc     float64
	ValLoss float64
	ValAcc  float64
}

// History is the per-epoch record of a Fit call.
type History []EpochStats

// Fit trains nn on train for a fixed number of epochs. The validation set,
// when given, is only evaluated for logging.
func (nn *NeuralNetwork) Fit(train Dataset, opts FitOptions) (History, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", opts.BatchSize)
	}
	if opts.Epochs <= 0 {
		return nil, errors.Errorf("invalid epoch count %d", opts.Epochs)
	}
	if opts.Optimizer == nil {
		return nil, errors.New("no optimizer")
	}
	if opts.Loss == nil {
		opts.Loss = &CrossEntropy{}
	}
	if _, ok := opts.Loss.(*CrossEntropy); ok && !nn.softmaxOutput() {
		return nil, errors.New("cross-entropy requires a softmax output layer")
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	n := train.Len()
	if n == 0 {
		return nil, errors.New("empty training set")
	}

	params := nn.Params()
	history := make(History, 0, opts.Epochs)
	for e := 1; e <= opts.Epochs; e++ {
		order := opts.Rand.Perm(n)
		var lossSum float64
		var correct int
		for start := 0; start < n; start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > n {
				end = n
			}
			x, y := train.Batch(order[start:end])
			out := nn.Forward(x, true)
			rows := end - start
			lossSum += opts.Loss.Compute(out, y) * float64(rows)
			correct += countCorrect(out, y)

			nn.Backward(opts.Loss.Gradient(out, y))
			if err := opts.Optimizer.Apply(params); err != nil {
				return history, errors.Wrapf(err, "epoch %d", e)
			}
		}
		stats := EpochStats{Epoch: e, Loss: lossSum / float64(n), Acc: float64(correct) / float64(n)}
		if math.IsNaN(stats.Loss) {
			return history, errors.Errorf("epoch %d: loss is NaN", e)
		}
		if opts.Validation != nil {
			var err error
			stats.ValLoss, stats.ValAcc, err = nn.Evaluate(opts.Validation, opts.Loss)
			if err != nil {
				return history, errors.Wrapf(err, "epoch %d validation", e)
			}
			opts.Logf("epoch=%d/%d loss=%.4f acc=%.4f val_loss=%.4f val_acc=%.4f",
				e, opts.Epochs, stats.Loss, stats.Acc, stats.ValLoss, stats.ValAcc)
		} else {
			opts.Logf("epoch=%d/%d loss=%.4f acc=%.4f", e, opts.Epochs, stats.Loss, stats.Acc)
		}
		history = append(history, stats)
	}
	return history, nil
}

// Evaluate returns the mean loss and top-1 accuracy of nn on ds. Dropout is
// disabled and no parameter is touched.
func (nn *NeuralNetwork) Evaluate(ds Dataset, loss LossFunction) (float64, float64, error) {
	if loss == nil {
		loss = &CrossEntropy{}
	}
	n := ds.Len()
	if n == 0 {
		return 0, 0, errors.New("empty evaluation set")
	}
	var lossSum float64
	var correct int
	idx := make([]int, 0, evalChunk)
	for start := 0; start < n; start += evalChunk {
		idx = idx[:0]
		for i := start; i < n && i < start+evalChunk; i++ {
			idx = append(idx, i)
		}
		x, y := ds.Batch(idx)
		out, err := nn.Predict(x)
		if err != nil {
			return 0, 0, err
		}
		lossSum += loss.Compute(out, y) * float64(len(idx))
		correct += countCorrect(out, y)
	}
	return lossSum / float64(n), float64(correct) / float64(n), nil
}

func countCorrect(out, target *mat.Dense) int {
	rows, _ := out.Dims()
	correct := 0
	for i := 0; i < rows; i++ {
		if floats.MaxIdx(out.RawRowView(i)) == floats.MaxIdx(target.RawRowView(i)) {
			correct++
		}
	}
	return correct
}
