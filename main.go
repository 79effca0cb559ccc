package main

import (
	"flag"
	"log"
)

// modelName selects the default run: empty trains a new model, anything
// else reloads models/<modelName>.{json,h5}.
const modelName = ""

func main() {
	cfg := Defaults()

	name := flag.String("model", modelName, "Saved model to reload; empty trains a new one")
	flag.StringVar(&cfg.ModelsDir, "models-dir", cfg.ModelsDir, "Directory holding saved models")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory caching the MNIST files")
	flag.StringVar(&cfg.ImagePath, "image", cfg.ImagePath, "Image to classify")
	flag.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "Number of training epochs")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Mini-batch size")
	flag.Float64Var(&cfg.LearningRate, "lr", cfg.LearningRate, "Learning rate")
	flag.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "Optimizer: rmsprop or sgd")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "PRNG seed")
	flag.BoolVar(&cfg.Preview, "preview", false, "Write the preprocessed image as <image>.preview.png")
	flag.Parse()

	cfg.Mode = ModeFor(*name)

	if _, err := Run(cfg); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}
