// Package mnist fetches the MNIST handwritten digit dataset and turns it into
// normalized, one-hot labelled splits.
package mnist

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

const (
	ImgSize    = 28
	ImageSize  = ImgSize * ImgSize
	NumClasses = 10

	TrainSamples = 60000
	TestSamples  = 10000

	imageMagic = 2051
	labelMagic = 2049
)

// BaseURL is the mirror the dataset files are downloaded from.
var BaseURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

const (
	trainSetImg = "train-images-idx3-ubyte.gz"
	trainSetVal = "train-labels-idx1-ubyte.gz"
	inferSetImg = "t10k-images-idx3-ubyte.gz"
	inferSetVal = "t10k-labels-idx1-ubyte.gz"
)

var digests = map[string]string{
	trainSetImg: "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	trainSetVal: "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
	inferSetImg: "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	inferSetVal: "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
}

// Split is one partition of the dataset.
type Split struct {
	// Images has shape (N, 784), float32 in [0, 1].
	Images *tensor.Dense
	Labels []int
	// OneHot has shape (N, 10).
	OneHot *tensor.Dense
}

// NewSplit normalizes raw images and one-hot encodes labels.
func NewSplit(raw [][]byte, labels []int) (*Split, error) {
	if len(raw) != len(labels) {
		return nil, errors.Errorf("%d images but %d labels", len(raw), len(labels))
	}
	if len(raw) == 0 {
		return nil, errors.New("empty split")
	}
	norm := make([]float32, 0, len(raw)*ImageSize)
	for i, img := range raw {
		if len(img) != ImageSize {
			return nil, errors.Errorf("image %d has %d pixels, want %d", i, len(img), ImageSize)
		}
		norm = append(norm, Normalize(img)...)
	}
	oneHot, err := OneHot(labels, NumClasses)
	if err != nil {
		return nil, err
	}
	return &Split{
		Images: tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(len(raw), ImageSize), tensor.WithBacking(norm)),
		Labels: labels,
		OneHot: oneHot,
	}, nil
}

// Normalize converts raw intensities in [0, 255] to [0, 1]. It is the only
// place pixel values are scaled.
func Normalize(raw []byte) []float32 {
	norm := make([]float32, len(raw))
	for i, b := range raw {
		norm[i] = float32(b) / 255.0
	}
	return norm
}

// OneHot expands labels into a (len(labels), numClasses) matrix.
func OneHot(labels []int, numClasses int) (*tensor.Dense, error) {
	numLabels := len(labels)
	norm := make([]float32, numLabels*numClasses)

	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, errors.Errorf("label %d at %d out of range [0, %d)", label, i, numClasses)
		}
		norm[i*numClasses+label] = 1.0
	}

	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(numLabels, numClasses), tensor.WithBacking(norm)), nil
}

// Len implements neuralnet.Dataset.
func (s *Split) Len() int { return len(s.Labels) }

// Batch copies the given rows into float64 matrices.
func (s *Split) Batch(idx []int) (*mat.Dense, *mat.Dense) {
	images := s.Images.Data().([]float32)
	oneHot := s.OneHot.Data().([]float32)
	classes := s.OneHot.Shape()[1]

	x := mat.NewDense(len(idx), ImageSize, nil)
	y := mat.NewDense(len(idx), classes, nil)
	for i, row := range idx {
		xr := x.RawRowView(i)
		for j, v := range images[row*ImageSize : (row+1)*ImageSize] {
			xr[j] = float64(v)
		}
		yr := y.RawRowView(i)
		for j, v := range oneHot[row*classes : (row+1)*classes] {
			yr[j] = float64(v)
		}
	}
	return x, y
}

// Load fetches the dataset into dir when missing and returns the train and test splits.
func Load(dir string) (train, test *Split, err error) {
	if err := Fetch(dir); err != nil {
		return nil, nil, err
	}
	train, err = loadSplit(filepath.Join(dir, trainSetImg), filepath.Join(dir, trainSetVal))
	if err != nil {
		return nil, nil, errors.Wrap(err, "train split")
	}
	test, err = loadSplit(filepath.Join(dir, inferSetImg), filepath.Join(dir, inferSetVal))
	if err != nil {
		return nil, nil, errors.Wrap(err, "test split")
	}
	if train.Len() != TrainSamples || test.Len() != TestSamples {
		return nil, nil, errors.Errorf("got %d/%d samples, want %d/%d", train.Len(), test.Len(), TrainSamples, TestSamples)
	}
	log.Printf("%d train samples", train.Len())
	log.Printf("%d test samples", test.Len())
	return train, test, nil
}

func loadSplit(imagePath, labelPath string) (*Split, error) {
	var images [][]byte
	err := withGzip(imagePath, func(r io.Reader) (err error) {
		images, err = ReadImages(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	var labels []int
	err = withGzip(labelPath, func(r io.Reader) (err error) {
		labels, err = ReadLabels(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewSplit(images, labels)
}

func withGzip(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip %s", path)
	}
	defer gz.Close()

	return errors.Wrapf(fn(gz), "parse %s", path)
}

// ReadImages parses an uncompressed IDX3 image stream.
func ReadImages(r io.Reader) ([][]byte, error) {
	var header struct {
		Magic, Count, Rows, Cols int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read image header")
	}
	if header.Magic != imageMagic {
		return nil, errors.Errorf("bad image magic %d", header.Magic)
	}
	if header.Rows != ImgSize || header.Cols != ImgSize {
		return nil, errors.Errorf("images are %dx%d, want %dx%d", header.Rows, header.Cols, ImgSize, ImgSize)
	}
	if header.Count < 0 {
		return nil, errors.Errorf("negative image count %d", header.Count)
	}
	images := make([][]byte, header.Count)
	for i := range images {
		images[i] = make([]byte, ImageSize)
		if _, err := io.ReadFull(r, images[i]); err != nil {
			return nil, errors.Wrapf(err, "read image %d", i)
		}
	}
	return images, nil
}

// ReadLabels parses an uncompressed IDX1 label stream.
func ReadLabels(r io.Reader) ([]int, error) {
	var header struct {
		Magic, Count int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read label header")
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("bad label magic %d", header.Magic)
	}
	if header.Count < 0 {
		return nil, errors.Errorf("negative label count %d", header.Count)
	}
	raw := make([]byte, header.Count)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}

// Fetch downloads any of the four dataset files missing from dir and checks
// every file against its known digest.
func Fetch(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create dataset dir")
	}
	for _, name := range []string{trainSetImg, trainSetVal, inferSetImg, inferSetVal} {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			log.Printf("downloading %s", name)
			if err := download(BaseURL+name, dest); err != nil {
				return errors.Wrapf(err, "download %s", name)
			}
		} else if err != nil {
			return errors.Wrapf(err, "stat %s", dest)
		}
		if err := verify(dest, digests[name]); err != nil {
			return err
		}
	}
	return nil
}

func download(url, dest string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download failed with status %d", resp.StatusCode)
	}
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

func verify(path, digest string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return errors.Wrapf(err, "hash %s", path)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != digest {
		return errors.Errorf("file hash for %s is %s, want %s", path, got, digest)
	}
	return nil
}
