package persist

import (
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gondigits/neuralnet"
)

const (
	sequentialClass = "Sequential"
	backendName     = "gonum"
)

type modelJSON struct {
	ClassName string      `json:"class_name"`
	Config    []layerJSON `json:"config"`
	Backend   string      `json:"backend"`
	RunID     string      `json:"run_id,omitempty"`
}

type layerJSON struct {
	ClassName string      `json:"class_name"`
	Config    layerConfig `json:"config"`
}

type layerConfig struct {
	Name            string  `json:"name"`
	Trainable       bool    `json:"trainable"`
	BatchInputShape []*int  `json:"batch_input_shape,omitempty"`
	Units           int     `json:"units,omitempty"`
	Activation      string  `json:"activation,omitempty"`
	UseBias         bool    `json:"use_bias,omitempty"`
	Rate            float64 `json:"rate,omitempty"`
}

// WriteTopology writes the layer description of t as indented JSON, tagged
// with runID.
func WriteTopology(w io.Writer, t neuralnet.Topology, runID uuid.UUID) error {
	m := modelJSON{
		ClassName: sequentialClass,
		Config:    make([]layerJSON, len(t.Layers)),
		Backend:   backendName,
		RunID:     runID.String(),
	}
	for i, l := range t.Layers {
		cfg := layerConfig{Name: l.Name, Trainable: true}
		switch l.Class {
		case neuralnet.ClassDense:
			cfg.Units = l.Units
			cfg.Activation = l.Activation
			cfg.UseBias = true
		case neuralnet.ClassDropout:
			cfg.Rate = l.Rate
		default:
			return errors.Errorf("layer %s: cannot serialize class %q", l.Name, l.Class)
		}
		if i == 0 {
			in := t.InputSize
			cfg.BatchInputShape = []*int{nil, &in}
		}
		m.Config[i] = layerJSON{ClassName: l.Class, Config: cfg}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(m), "encode topology")
}

// ReadTopology parses a file written by WriteTopology. Files without a
// run_id yield uuid.Nil.
func ReadTopology(r io.Reader) (neuralnet.Topology, uuid.UUID, error) {
	var m modelJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return neuralnet.Topology{}, uuid.Nil, errors.Wrap(err, "decode topology")
	}
	if m.ClassName != sequentialClass {
		return neuralnet.Topology{}, uuid.Nil, errors.Errorf("unsupported model class %q", m.ClassName)
	}
	runID := uuid.Nil
	if m.RunID != "" {
		var err error
		if runID, err = uuid.Parse(m.RunID); err != nil {
			return neuralnet.Topology{}, uuid.Nil, errors.Wrapf(err, "run_id %q", m.RunID)
		}
	}
	if len(m.Config) == 0 {
		return neuralnet.Topology{}, uuid.Nil, errors.New("topology has no layers")
	}
	shape := m.Config[0].Config.BatchInputShape
	if len(shape) != 2 || shape[1] == nil {
		return neuralnet.Topology{}, uuid.Nil, errors.Errorf("first layer has batch_input_shape %v, want [null, n]", shape)
	}

	t := neuralnet.Topology{InputSize: *shape[1], Layers: make([]neuralnet.LayerSpec, len(m.Config))}
	for i, l := range m.Config {
		if l.Config.Name == "" {
			return neuralnet.Topology{}, uuid.Nil, errors.Errorf("layer %d has no name", i)
		}
		t.Layers[i] = neuralnet.LayerSpec{
			Class:      l.ClassName,
			Name:       l.Config.Name,
			Units:      l.Config.Units,
			Activation: l.Config.Activation,
			Rate:       l.Config.Rate,
		}
	}
	return t, runID, nil
}
