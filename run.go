package main

import (
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"gondigits/imageprep"
	"gondigits/mnist"
	"gondigits/neuralnet"
	"gondigits/persist"
)

var loadDataset = func(dir string) (train, test neuralnet.Dataset, err error) {
	tr, te, err := mnist.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	return tr, te, nil
}

// Result is what a run produced.
type Result struct {
	// ModelName is the saved run name, set only when a model was trained.
	ModelName     string
	TestLoss      float64
	TestAccuracy  float64
	Prediction    int
	Probabilities []float64
}

// Run trains and saves a model or reloads a saved one, then classifies the
// image at cfg.ImagePath.
func Run(cfg Config) (Result, error) {
	var res Result
	if err := cfg.Validate(); err != nil {
		return res, errors.Wrap(err, "invalid config")
	}

	var nn *neuralnet.NeuralNetwork
	switch m := cfg.Mode.(type) {
	case TrainNew:
		var err error
		nn, err = trainAndSave(cfg, &res)
		if err != nil {
			return res, err
		}
	case ReloadExisting:
		var err error
		nn, err = persist.Load(cfg.ModelsDir, m.Name)
		if err != nil {
			return res, errors.Wrapf(err, "load model %s", m.Name)
		}
		fmt.Fprintln(cfg.Stdout, "Model loaded from disk")
	}

	if err := predictImage(cfg, nn, &res); err != nil {
		return res, err
	}
	return res, nil
}

func trainAndSave(cfg Config, res *Result) (*neuralnet.NeuralNetwork, error) {
	train, test, err := loadDataset(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "load dataset")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	nn := neuralnet.NewMNISTNetwork(rng)
	if err := nn.Summary(cfg.Stdout); err != nil {
		return nil, err
	}

	opt, err := neuralnet.OptimizerByName(cfg.Optimizer, cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	log.Printf("training epochs=%d batch_size=%d optimizer=%s lr=%v", cfg.Epochs, cfg.BatchSize, opt.Name(), cfg.LearningRate)
	_, err = nn.Fit(train, neuralnet.FitOptions{
		BatchSize:  cfg.BatchSize,
		Epochs:     cfg.Epochs,
		Optimizer:  opt,
		Validation: test,
		Rand:       rng,
	})
	if err != nil {
		return nil, errors.Wrap(err, "train")
	}

	res.TestLoss, res.TestAccuracy, err = nn.Evaluate(test, nil)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	fmt.Fprintln(cfg.Stdout, "Test loss:", res.TestLoss)
	fmt.Fprintln(cfg.Stdout, "Test accuracy:", res.TestAccuracy)

	res.ModelName, err = persist.Save(cfg.ModelsDir, nn, res.TestLoss, res.TestAccuracy, cfg.Now())
	if err != nil {
		return nil, errors.Wrap(err, "save model")
	}
	fmt.Fprintf(cfg.Stdout, "Saved model to disk as %s\n", res.ModelName)
	return nn, nil
}

func predictImage(cfg Config, nn *neuralnet.NeuralNetwork, res *Result) error {
	v, err := imageprep.Load(cfg.ImagePath)
	if err != nil {
		return err
	}
	res.Prediction, res.Probabilities, err = nn.PredictVector(v)
	if err != nil {
		return errors.Wrap(err, "predict")
	}
	fmt.Fprintf(cfg.Stdout, "NN predicted [%d]\n", res.Prediction)
	log.Printf("probabilities=%s", formatProbs(res.Probabilities))

	if err := imageprep.Render(cfg.Stdout, v); err != nil {
		return err
	}
	if cfg.Preview {
		path := strings.TrimSuffix(cfg.ImagePath, ".png") + ".preview.png"
		if err := imageprep.SavePNG(path, v); err != nil {
			return err
		}
		log.Printf("preview written to %s", path)
	}
	return nil
}

func formatProbs(p []float64) string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = fmt.Sprintf("%d:%.4f", i, v)
	}
	return strings.Join(parts, " ")
}
