package main

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Mode selects the first branch of a run.
type Mode interface {
	mode()
}

// TrainNew trains a fresh model and saves it.
type TrainNew struct{}

// ReloadExisting loads the saved run Name from the models directory.
type ReloadExisting struct {
	Name string
}

func (TrainNew) mode()       {}
func (ReloadExisting) mode() {}

// ModeFor maps a saved model name to a Mode; an empty name means TrainNew.
func ModeFor(name string) Mode {
	if name == "" {
		return TrainNew{}
	}
	return ReloadExisting{Name: name}
}

// Config captures everything a run needs.
type Config struct {
	Mode      Mode
	ModelsDir string
	DataDir   string
	ImagePath string

	Epochs       int
	BatchSize    int
	LearningRate float64
	Optimizer    string
	Seed         int64

	// Preview writes the preprocessed image next to ImagePath.
	Preview bool

	Stdout io.Writer
	Now    func() time.Time
}

// Defaults returns the configuration of the reference training run.
func Defaults() Config {
	return Config{
		Mode:         TrainNew{},
		ModelsDir:    "models",
		DataDir:      "data/mnist",
		ImagePath:    "test.png",
		Epochs:       20,
		BatchSize:    128,
		LearningRate: 0.001,
		Optimizer:    "rmsprop",
		Seed:         1,
		Stdout:       os.Stdout,
		Now:          time.Now,
	}
}

// Validate verifies the config is runnable and fills unset writers and clocks.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch m := c.Mode.(type) {
	case TrainNew:
		if c.Epochs <= 0 {
			return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
		}
		if c.BatchSize <= 0 {
			return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
		}
		if c.LearningRate <= 0 {
			return errors.Errorf("learning rate must be > 0 (got %v)", c.LearningRate)
		}
	case ReloadExisting:
		if m.Name == "" {
			return errors.New("reload requires a model name")
		}
	case nil:
		return errors.New("mode is not set")
	default:
		return errors.Errorf("unknown mode %T", m)
	}
	if c.ModelsDir == "" {
		return errors.New("models dir must be set")
	}
	if c.ImagePath == "" {
		return errors.New("image path must be set")
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}
