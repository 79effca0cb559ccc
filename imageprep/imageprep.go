// Package imageprep turns an arbitrary raster image into the normalized
// 784-value vector the digit classifier expects.
package imageprep

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"

	"gondigits/mnist"
)

// BinarizeThreshold splits inverted gray levels into ink (255) and background (0).
const BinarizeThreshold = 128

// Luma weights scaled by 65536.
const (
	lumaR = 19595
	lumaG = 38470
	lumaB = 7471
)

// Raw is a flattened 28×28 image of intensities in [0, 255].
type Raw []byte

// Normalize scales r to [0, 1] for the network. Raw and the returned slice
// are distinct types, so a vector cannot be normalized twice.
func (r Raw) Normalize() []float64 {
	norm := mnist.Normalize(r)
	v := make([]float64, len(norm))
	for i, x := range norm {
		v[i] = float64(x)
	}
	return v
}

// Load decodes the image at path and preprocesses it.
func Load(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	raw, err := Prepare(img)
	if err != nil {
		return nil, errors.Wrapf(err, "%s image %s", format, path)
	}
	return raw.Normalize(), nil
}

// Prepare converts img to grayscale, inverts it so ink is bright, binarizes
// it and flattens it row by row. img must be 28×28.
func Prepare(img image.Image) (Raw, error) {
	b := img.Bounds()
	if b.Dx() != mnist.ImgSize || b.Dy() != mnist.ImgSize {
		return nil, errors.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), mnist.ImgSize, mnist.ImgSize)
	}
	g := Binarize(Invert(Grayscale(img)), BinarizeThreshold)
	raw := make(Raw, 0, mnist.ImageSize)
	for y := 0; y < mnist.ImgSize; y++ {
		raw = append(raw, g.Pix[y*g.Stride:y*g.Stride+mnist.ImgSize]...)
	}
	return raw, nil
}

// Grayscale converts img with the ITU-R 601-2 luma transform
// L = R*299/1000 + G*587/1000 + B*114/1000, rounded to the nearest level in
// 16-bit fixed point.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			l := (uint32(c.R)*lumaR + uint32(c.G)*lumaG + uint32(c.B)*lumaB + 0x8000) >> 16
			g.SetGray(x, y, color.Gray{Y: uint8(l)})
		}
	}
	return g
}

// Invert maps every level v to 255-v in place and returns g.
func Invert(g *image.Gray) *image.Gray {
	for i, v := range g.Pix {
		g.Pix[i] = 255 - v
	}
	return g
}

// Binarize sets levels >= threshold to 255 and the rest to 0 in place.
func Binarize(g *image.Gray, threshold uint8) *image.Gray {
	for i, v := range g.Pix {
		if v >= threshold {
			g.Pix[i] = 255
		} else {
			g.Pix[i] = 0
		}
	}
	return g
}
