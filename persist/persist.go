// Package persist stores a trained network as a pair of files sharing one
// base name: <name>.json holds the layer topology and <name>.h5 the weights.
package persist

import (
	"bufio"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gondigits/neuralnet"
)

const (
	TopologyExt = ".json"
	WeightsExt  = ".h5"
)

// Save writes nn under dir with a name derived from its evaluation metrics
// and ts, and returns that name. Each save gets a fresh run ID, recorded in
// the topology file and logged.
func Save(dir string, nn *neuralnet.NeuralNetwork, loss, accuracy float64, ts time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create models dir")
	}
	name := RunName(loss, accuracy, ts)
	base := filepath.Join(dir, name)
	runID := uuid.New()

	err := writeFile(base+TopologyExt, func(w *bufio.Writer) error {
		return WriteTopology(w, nn.Topology(), runID)
	})
	if err != nil {
		return "", err
	}
	err = writeFile(base+WeightsExt, func(w *bufio.Writer) error {
		return WriteWeights(w, Records(nn))
	})
	if err != nil {
		return "", err
	}
	log.Printf("saved model=%s run_id=%s", name, runID)
	return name, nil
}

// Load rebuilds the network saved under dir/name.
func Load(dir, name string) (*neuralnet.NeuralNetwork, error) {
	base := filepath.Join(dir, name)

	tf, err := os.Open(base + TopologyExt)
	if err != nil {
		return nil, errors.Wrap(err, "open topology")
	}
	topology, runID, err := ReadTopology(bufio.NewReader(tf))
	tf.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "%s%s", name, TopologyExt)
	}

	// Weights are overwritten below; the source only seeds dropout masks.
	nn, err := neuralnet.FromTopology(topology, rand.New(rand.NewSource(1)))
	if err != nil {
		return nil, errors.Wrapf(err, "%s%s", name, TopologyExt)
	}

	wf, err := os.Open(base + WeightsExt)
	if err != nil {
		return nil, errors.Wrap(err, "open weights")
	}
	defer wf.Close()
	records, err := ReadWeights(bufio.NewReader(wf))
	if err != nil {
		return nil, errors.Wrapf(err, "%s%s", name, WeightsExt)
	}
	if err := ApplyWeights(nn, records); err != nil {
		return nil, errors.Wrapf(err, "%s%s", name, WeightsExt)
	}
	log.Printf("loaded model=%s run_id=%s", name, runID)
	return nn, nil
}

func writeFile(path string, fn func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create")
	}
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flush %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
