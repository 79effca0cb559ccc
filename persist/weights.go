package persist

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"gorgonia.org/tensor"

	"gondigits/neuralnet"
)

// The weight file is a protobuf message:
//
//	message Weights { repeated TensorRecord tensors = 1; }
//	message TensorRecord { string layer = 1; string name = 2; bytes npy = 3; }
//
// npy holds the tensor in NumPy .npy format.
const (
	fieldTensor protowire.Number = 1

	fieldLayer protowire.Number = 1
	fieldName  protowire.Number = 2
	fieldNpy   protowire.Number = 3
)

// ErrWeightsMismatch is returned when a weight file does not fit the topology it is loaded into.
var ErrWeightsMismatch = errors.New("weights do not match topology")

// TensorRecord is one named parameter tensor of a layer.
type TensorRecord struct {
	Layer  string
	Name   string
	Tensor *tensor.Dense
}

// Records snapshots every parameter of nn.
func Records(nn *neuralnet.NeuralNetwork) []TensorRecord {
	var records []TensorRecord
	for _, l := range nn.Layers() {
		for _, p := range l.Params() {
			r, c := p.Value.Dims()
			data := make([]float64, 0, r*c)
			for i := 0; i < r; i++ {
				data = append(data, p.Value.RawRowView(i)...)
			}
			records = append(records, TensorRecord{
				Layer:  l.Name(),
				Name:   p.Name,
				Tensor: tensor.New(tensor.WithShape(r, c), tensor.WithBacking(data)),
			})
		}
	}
	return records
}

// WriteWeights encodes records to w.
func WriteWeights(w io.Writer, records []TensorRecord) error {
	var out []byte
	var npy bytes.Buffer
	for _, rec := range records {
		npy.Reset()
		if err := rec.Tensor.WriteNpy(&npy); err != nil {
			return errors.Wrapf(err, "encode %s", rec.Name)
		}
		var msg []byte
		msg = protowire.AppendTag(msg, fieldLayer, protowire.BytesType)
		msg = protowire.AppendString(msg, rec.Layer)
		msg = protowire.AppendTag(msg, fieldName, protowire.BytesType)
		msg = protowire.AppendString(msg, rec.Name)
		msg = protowire.AppendTag(msg, fieldNpy, protowire.BytesType)
		msg = protowire.AppendBytes(msg, npy.Bytes())

		out = protowire.AppendTag(out, fieldTensor, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	_, err := w.Write(out)
	return errors.Wrap(err, "write weights")
}

// ReadWeights decodes a file written by WriteWeights.
func ReadWeights(r io.Reader) ([]TensorRecord, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read weights")
	}
	var records []TensorRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "weights")
		}
		b = b[n:]
		if num != fieldTensor || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "weights")
			}
			b = b[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "weights")
		}
		b = b[n:]
		rec, err := decodeRecord(msg)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %d", len(records))
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(b []byte) (TensorRecord, error) {
	var rec TensorRecord
	var npy []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rec, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rec, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return rec, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldLayer:
			rec.Layer = string(v)
		case fieldName:
			rec.Name = string(v)
		case fieldNpy:
			npy = v
		}
	}
	if rec.Name == "" {
		return rec, errors.New("record has no name")
	}
	if npy == nil {
		return rec, errors.Errorf("%s: record has no data", rec.Name)
	}
	t := new(tensor.Dense)
	if err := t.ReadNpy(bytes.NewReader(npy)); err != nil {
		return rec, errors.Wrapf(err, "%s: decode npy", rec.Name)
	}
	if t.Dtype() != tensor.Float64 {
		return rec, errors.Errorf("%s: dtype %v, want float64", rec.Name, t.Dtype())
	}
	if len(t.Shape()) != 2 {
		return rec, errors.Errorf("%s: shape %v is not 2-D", rec.Name, t.Shape())
	}
	rec.Tensor = t
	return rec, nil
}

// ApplyWeights copies records into the matching parameters of nn. Every
// parameter must be covered exactly once and every record must belong to a
// parameter of the named layer.
func ApplyWeights(nn *neuralnet.NeuralNetwork, records []TensorRecord) error {
	owner := make(map[string]string)
	for _, l := range nn.Layers() {
		for _, p := range l.Params() {
			owner[p.Name] = l.Name()
		}
	}
	loaded := make(map[string]bool)
	for _, rec := range records {
		layer, ok := owner[rec.Name]
		if !ok || layer != rec.Layer {
			return errors.Wrapf(ErrWeightsMismatch, "unexpected tensor %s in layer %s", rec.Name, rec.Layer)
		}
		if loaded[rec.Name] {
			return errors.Wrapf(ErrWeightsMismatch, "duplicate tensor %s", rec.Name)
		}
		shape := rec.Tensor.Shape()
		if err := nn.SetParam(rec.Name, shape[0], shape[1], rec.Tensor.Data().([]float64)); err != nil {
			return errors.Wrap(ErrWeightsMismatch, err.Error())
		}
		loaded[rec.Name] = true
	}
	for name := range owner {
		if !loaded[name] {
			return errors.Wrapf(ErrWeightsMismatch, "missing tensor %s", name)
		}
	}
	return nil
}
